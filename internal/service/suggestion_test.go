package service_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store/memory"
)

type countingValidator struct {
	calls int
	inner service.SuggestionValidator
}

func (v *countingValidator) Validate(ctx context.Context, stores service.StoreProvider, s *model.Suggestion) (bool, string, error) {
	v.calls++
	return v.inner.Validate(ctx, stores, s)
}

func editPayload(entityID, stateName string, version int) json.RawMessage {
	raw, err := json.Marshal(map[string]any{
		"entity_id":             entityID,
		"entity_version_number": version,
		"change_list": map[string]any{
			"cmd":           "edit_state_property",
			"state_name":    stateName,
			"property_name": "content",
			"new_value":     "new content",
		},
	})
	Expect(err).NotTo(HaveOccurred())
	return raw
}

var _ = Describe("SuggestionService", func() {
	var (
		ctx       context.Context
		mem       *memory.Store
		tasks     *recordingQueue
		validator *countingValidator
		svc       service.SuggestionService
		feedback  service.FeedbackService
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		tasks = &recordingQueue{}
		validator = &countingValidator{inner: service.StateValidator{}}
		svc = service.NewSuggestionService(mem, mem, tasks, feedbackConfig(), validator)
		feedback = service.NewFeedbackService(mem, mem, tasks, feedbackConfig())

		seedUser(mem, "author", true)
		seedUser(mem, "reviewer", true)
		seedEntity(mem, "exploration", "exp1", "Fractions", []string{"reviewer"}, "Intro", "End")
	})

	create := func(stateName string) *model.Suggestion {
		sg, err := svc.Create(ctx, service.CreateSuggestionParams{
			SuggestionType:     model.SuggestionTypeEdit,
			EntityType:         "exploration",
			SubType:            model.SubTypeEditStateContent,
			CustomizationArgs:  model.CustomizationArgs{ContributionType: "content", ContributionCategory: "Algebra"},
			AuthorID:           "author",
			Payload:            editPayload("exp1", stateName, 1),
			Description:        "Fix the intro",
			AssignedReviewerID: strPtr("reviewer"),
		})
		Expect(err).NotTo(HaveOccurred())
		return sg
	}

	messages := func(threadID string) []model.Message {
		msgs, err := feedback.GetMessages(ctx, threadID)
		Expect(err).NotTo(HaveOccurred())
		return msgs
	}

	Describe("Create", func() {
		It("creates the suggestion with its backing thread", func() {
			sg := create("Intro")

			Expect(sg.Status).To(Equal(model.SuggestionStatusInReview))
			Expect(sg.ID).To(Equal("edit.exploration." + sg.ThreadID + ".exp1"))
			Expect(sg.ScoreCategory).To(Equal("content.Algebra"))
			Expect(sg.TargetID).To(Equal("exp1"))
			Expect(*sg.TargetVersion).To(Equal(1))

			thread, err := feedback.GetThread(ctx, sg.ThreadID)
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.HasSuggestion).To(BeTrue())
			Expect(thread.Subject).To(Equal(model.DefaultSuggestionSubject))
			Expect(*thread.OriginalAuthorID).To(Equal("author"))

			msgs := messages(sg.ThreadID)
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Text).To(Equal("Fix the intro"))

			byThread, err := svc.GetByThreadID(ctx, sg.ThreadID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byThread.ID).To(Equal(sg.ID))
		})

		It("rejects payloads missing required keys without creating a thread", func() {
			_, err := svc.Create(ctx, service.CreateSuggestionParams{
				SuggestionType: model.SuggestionTypeEdit,
				EntityType:     "exploration",
				AuthorID:       "author",
				Payload:        json.RawMessage(`{"entity_id": "exp1"}`),
			})
			Expect(err).To(MatchError(service.ErrInvalidSuggestion))
			Expect(err).To(MatchError(model.ErrInvalidPayload))

			threads, err := feedback.GetThreads(ctx, "exploration", "exp1")
			Expect(err).NotTo(HaveOccurred())
			Expect(threads).To(BeEmpty())
		})

		It("rejects add suggestions whose entity_data is not an object", func() {
			_, err := svc.Create(ctx, service.CreateSuggestionParams{
				SuggestionType: model.SuggestionTypeAdd,
				EntityType:     "exploration",
				AuthorID:       "author",
				Payload:        json.RawMessage(`{"entity_type": "exploration", "entity_data": "Decimals"}`),
			})
			Expect(err).To(MatchError(service.ErrInvalidSuggestion))
			Expect(err).To(MatchError(model.ErrInvalidPayload))

			sgs, err := svc.ListByAuthor(ctx, "author")
			Expect(err).NotTo(HaveOccurred())
			Expect(sgs).To(BeEmpty())
		})

		It("attaches add suggestions to the new-entity placeholder", func() {
			sg, err := svc.Create(ctx, service.CreateSuggestionParams{
				SuggestionType:    model.SuggestionTypeAdd,
				EntityType:        "exploration",
				CustomizationArgs: model.CustomizationArgs{ContributionType: "translation", LanguageCode: "hi"},
				AuthorID:          "author",
				Payload:           json.RawMessage(`{"entity_type": "exploration", "entity_data": {"title": "Decimals", "states": {"Start": {"content": "hi"}}}}`),
				Description:       "A new lesson",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(sg.ID).To(Equal("add.exploration." + sg.ThreadID))
			Expect(sg.ThreadID).To(HavePrefix("exploration.new."))
			Expect(sg.ScoreCategory).To(Equal("translation.hi"))

			accepted, err := svc.Accept(ctx, sg.ID, "reviewer", "Add decimals")
			Expect(err).NotTo(HaveOccurred())
			Expect(accepted.TargetID).NotTo(BeEmpty())

			entity, err := mem.Entities().GetByID(ctx, "exploration", accepted.TargetID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entity.Title).To(Equal("Decimals"))
			Expect(entity.OwnerIDs).To(ConsistOf("author"))
			Expect(entity.HasState("Start")).To(BeTrue())
		})
	})

	Describe("Accept", func() {
		It("applies the change and records the review", func() {
			sg := create("Intro")

			accepted, err := svc.Accept(ctx, sg.ID, "reviewer", "Improve intro")
			Expect(err).NotTo(HaveOccurred())
			Expect(accepted.Status).To(Equal(model.SuggestionStatusAccepted))
			Expect(*accepted.FinalReviewerID).To(Equal("reviewer"))
			Expect(accepted.AssignedReviewerID).To(BeNil())
			Expect(validator.calls).To(Equal(1))

			entity, err := mem.Entities().GetByID(ctx, "exploration", "exp1")
			Expect(err).NotTo(HaveOccurred())
			Expect(entity.Version).To(Equal(2))
			Expect(string(entity.States["Intro"].Content)).To(Equal(`"new content"`))

			commits, err := mem.Entities().ListCommits(ctx, "exploration", "exp1")
			Expect(err).NotTo(HaveOccurred())
			Expect(commits).To(HaveLen(1))
			Expect(commits[0].IsSuggestion).To(BeTrue())
			Expect(commits[0].CommitMessage).To(Equal("Improve intro"))

			msgs := messages(sg.ThreadID)
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Text).To(Equal("Accepted by reviewer_name"))
			Expect(*msgs[1].UpdatedStatus).To(Equal(model.ThreadStatusFixed))
		})

		It("is single use", func() {
			sg := create("Intro")
			_, err := svc.Accept(ctx, sg.ID, "reviewer", "ok")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Accept(ctx, sg.ID, "reviewer", "again")
			Expect(err).To(MatchError(service.ErrSuggestionResolved))
			_, err = svc.Reject(ctx, sg.ID, "reviewer")
			Expect(err).To(MatchError(service.ErrSuggestionResolved))

			got, err := svc.Get(ctx, sg.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.SuggestionStatusAccepted))
			Expect(messages(sg.ThreadID)).To(HaveLen(2))
		})

		It("requires a commit message before touching anything", func() {
			sg := create("Intro")

			_, err := svc.Accept(ctx, sg.ID, "reviewer", "   ")
			Expect(err).To(MatchError(service.ErrEmptyCommitMessage))
			Expect(validator.calls).To(BeZero())

			got, err := svc.Get(ctx, sg.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.SuggestionStatusInReview))
		})

		It("marks the suggestion invalid when its state is gone", func() {
			sg := create("Missing")

			_, err := svc.Accept(ctx, sg.ID, "reviewer", "try")
			Expect(err).To(MatchError(service.ErrSuggestionNotValid))
			Expect(validator.calls).To(Equal(1))

			got, err := svc.Get(ctx, sg.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.SuggestionStatusInvalid))

			msgs := messages(sg.ThreadID)
			Expect(msgs).To(HaveLen(2))
			Expect(*msgs[1].UpdatedStatus).To(Equal(model.ThreadStatusIgnored))

			entity, err := mem.Entities().GetByID(ctx, "exploration", "exp1")
			Expect(err).NotTo(HaveOccurred())
			Expect(entity.Version).To(Equal(1))
		})

		It("fails for an unknown suggestion", func() {
			_, err := svc.Accept(ctx, "edit.exploration.x.exp1", "reviewer", "msg")
			Expect(err).To(MatchError(service.ErrSuggestionNotFound))
		})
	})

	Describe("IsValid", func() {
		It("returns true and leaves a valid suggestion alone", func() {
			sg := create("Intro")

			valid, err := svc.IsValid(ctx, sg.ID, "reviewer")
			Expect(err).NotTo(HaveOccurred())
			Expect(valid).To(BeTrue())

			got, err := svc.Get(ctx, sg.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.SuggestionStatusInReview))
			Expect(messages(sg.ThreadID)).To(HaveLen(1))
		})

		It("returns false, marks invalid and posts exactly one message", func() {
			sg := create("Missing")

			valid, err := svc.IsValid(ctx, sg.ID, "reviewer")
			Expect(err).NotTo(HaveOccurred())
			Expect(valid).To(BeFalse())

			got, err := svc.Get(ctx, sg.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.SuggestionStatusInvalid))

			msgs := messages(sg.ThreadID)
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Text).To(ContainSubstring(`state "Missing" no longer exists`))
		})
	})

	Describe("Reject", func() {
		It("rejects and posts the reviewer's name", func() {
			sg := create("Intro")

			rejected, err := svc.Reject(ctx, sg.ID, "reviewer")
			Expect(err).NotTo(HaveOccurred())
			Expect(rejected.Status).To(Equal(model.SuggestionStatusRejected))
			Expect(*rejected.FinalReviewerID).To(Equal("reviewer"))
			Expect(validator.calls).To(BeZero())

			msgs := messages(sg.ThreadID)
			Expect(msgs[len(msgs)-1].Text).To(Equal("Rejected by reviewer_name"))

			_, err = svc.Accept(ctx, sg.ID, "reviewer", "late")
			Expect(err).To(MatchError(service.ErrSuggestionResolved))
		})
	})

	Describe("queries", func() {
		It("filters by author, reviewer, target, status and type", func() {
			first := create("Intro")
			second := create("End")
			_, err := svc.Reject(ctx, second.ID, "reviewer")
			Expect(err).NotTo(HaveOccurred())

			byAuthor, err := svc.ListByAuthor(ctx, "author")
			Expect(err).NotTo(HaveOccurred())
			Expect(byAuthor).To(HaveLen(2))

			byReviewer, err := svc.ListByReviewer(ctx, "reviewer")
			Expect(err).NotTo(HaveOccurred())
			Expect(byReviewer).To(HaveLen(1))
			Expect(byReviewer[0].ID).To(Equal(second.ID))

			assigned, err := svc.ListByAssignedReviewer(ctx, "reviewer")
			Expect(err).NotTo(HaveOccurred())
			Expect(assigned).To(HaveLen(2))

			byTarget, err := svc.ListByTargetID(ctx, "exp1")
			Expect(err).NotTo(HaveOccurred())
			Expect(byTarget).To(HaveLen(2))

			inReview, err := svc.ListByStatus(ctx, model.SuggestionStatusInReview)
			Expect(err).NotTo(HaveOccurred())
			Expect(inReview).To(HaveLen(1))
			Expect(inReview[0].ID).To(Equal(first.ID))

			adds, err := svc.ListByType(ctx, model.SuggestionTypeAdd)
			Expect(err).NotTo(HaveOccurred())
			Expect(adds).To(BeEmpty())
		})
	})
})
