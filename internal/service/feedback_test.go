package service_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/common"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store/memory"
)

var _ = Describe("FeedbackService", func() {
	var (
		ctx   context.Context
		mem   *memory.Store
		tasks *recordingQueue
		svc   service.FeedbackService
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		tasks = &recordingQueue{}
		svc = service.NewFeedbackService(mem, mem, tasks, feedbackConfig())

		seedUser(mem, "owner", true)
		seedUser(mem, "learner", true)
		seedEntity(mem, "exploration", "exp1", "Fractions", []string{"owner"}, "Intro")
	})

	createThread := func(author *string, text string) *model.Thread {
		thread, err := svc.CreateThread(ctx, service.CreateThreadParams{
			EntityType: "exploration",
			EntityID:   "exp1",
			AuthorID:   author,
			Subject:    "A subject",
			Text:       text,
		})
		Expect(err).NotTo(HaveOccurred())
		return thread
	}

	messageIDs := func(threadID string) []int {
		msgs, err := svc.GetMessages(ctx, threadID)
		Expect(err).NotTo(HaveOccurred())
		ids := make([]int, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.MessageID)
		}
		return ids
	}

	Describe("CreateThread", func() {
		It("creates the thread with exactly one message numbered 0", func() {
			thread := createThread(strPtr("learner"), "first")

			Expect(thread.ID).To(HavePrefix("exploration.exp1."))
			Expect(thread.Status).To(Equal(model.ThreadStatusOpen))
			Expect(thread.Subject).To(Equal("A subject"))
			Expect(*thread.MessageCount).To(Equal(1))
			Expect(messageIDs(thread.ID)).To(Equal([]int{0}))

			msg, err := svc.GetMessage(ctx, thread.ID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Text).To(Equal("first"))
			Expect(*msg.UpdatedStatus).To(Equal(model.ThreadStatusOpen))
		})

		It("falls back to the default subject when none is given", func() {
			thread, err := svc.CreateThread(ctx, service.CreateThreadParams{
				EntityType: "exploration",
				EntityID:   "exp1",
				Text:       "hi",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Subject).To(Equal(common.DefaultFeedbackSubject))
		})

		It("publishes thread_created only for the primary entity type", func() {
			createThread(nil, "x")
			Expect(tasks.ofType(queue.TaskTypeThreadCreated)).To(HaveLen(1))

			_, err := svc.CreateThread(ctx, service.CreateThreadParams{
				EntityType: "skill",
				EntityID:   "s1",
				Text:       "x",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks.ofType(queue.TaskTypeThreadCreated)).To(HaveLen(1))
		})

		It("publishes later lifecycle events for every entity type", func() {
			thread, err := svc.CreateThread(ctx, service.CreateThreadParams{
				EntityType: "skill",
				EntityID:   "s1",
				Text:       "x",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks.ofType(queue.TaskTypeThreadCreated)).To(BeEmpty())

			fixed := model.ThreadStatusFixed
			_, err = svc.CreateMessage(ctx, service.CreateMessageParams{
				ThreadID:       thread.ID,
				UpdatedStatus:  &fixed,
				UpdatedSubject: strPtr("Renamed"),
			})
			Expect(err).NotTo(HaveOccurred())

			for _, typ := range []queue.TaskType{queue.TaskTypeThreadStatusChanged, queue.TaskTypeThreadSubjectChanged} {
				events := tasks.ofType(typ)
				Expect(events).To(HaveLen(1))
				Expect(events[0].EntityType).To(Equal("skill"))
				Expect(events[0].EntityID).To(Equal("s1"))
			}
		})

		It("does not publish a status change for the opening message", func() {
			createThread(strPtr("learner"), "x")
			Expect(tasks.ofType(queue.TaskTypeThreadStatusChanged)).To(BeEmpty())
		})

		It("subscribes the author and marks their message as read", func() {
			thread := createThread(strPtr("learner"), "x")

			subs, err := mem.Subscriptions().ListSubscribers(ctx, thread.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(subs).To(ConsistOf("learner"))

			tu, err := mem.ThreadUsers().Get(ctx, "learner", thread.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tu.MessageIDsRead).To(Equal([]int{0}))
		})

		It("rejects a thread without a target", func() {
			_, err := svc.CreateThread(ctx, service.CreateThreadParams{EntityType: "exploration"})
			Expect(err).To(MatchError(service.ErrInvalidThread))
		})

		It("leaves nothing behind when the transaction fails", func() {
			mem.FailNextTx = context.Canceled
			_, err := svc.CreateThread(ctx, service.CreateThreadParams{
				EntityType: "exploration", EntityID: "exp1", Text: "x",
			})
			Expect(err).To(MatchError(context.Canceled))

			threads, err := svc.GetThreads(ctx, "exploration", "exp1")
			Expect(err).NotTo(HaveOccurred())
			Expect(threads).To(BeEmpty())
			Expect(tasks.ofType(queue.TaskTypeThreadCreated)).To(BeEmpty())
		})
	})

	Describe("CreateMessage", func() {
		It("numbers N replies 1..N after the opening message", func() {
			thread := createThread(strPtr("learner"), "x")
			for i := 0; i < 4; i++ {
				_, err := svc.CreateMessage(ctx, service.CreateMessageParams{
					ThreadID: thread.ID,
					AuthorID: strPtr("owner"),
					Text:     "reply",
				})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(messageIDs(thread.ID)).To(Equal([]int{0, 1, 2, 3, 4}))
		})

		It("keeps the sequence going after a deletion", func() {
			thread := createThread(strPtr("learner"), "x")
			_, err := svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: thread.ID, Text: "one"})
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.DeleteMessage(ctx, thread.ID, 1)).To(Succeed())
			Expect(messageIDs(thread.ID)).To(Equal([]int{0}))

			msg, err := svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: thread.ID, Text: "two"})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.MessageID).To(Equal(2))
			Expect(messageIDs(thread.ID)).To(Equal([]int{0, 2}))
		})

		It("derives the next id from stored messages when the counter is missing", func() {
			legacy := &model.Thread{
				ID:         "exploration.exp1.legacy",
				EntityType: "exploration",
				EntityID:   "exp1",
				Status:     model.ThreadStatusOpen,
				Subject:    "old",
			}
			Expect(mem.Threads().Create(ctx, legacy)).To(Succeed())
			for _, mid := range []int{0, 1, 3} {
				Expect(mem.Messages().Create(ctx, &model.Message{ThreadID: legacy.ID, MessageID: mid})).To(Succeed())
			}

			msg, err := svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: legacy.ID, Text: "new"})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.MessageID).To(Equal(4))

			thread, err := svc.GetThread(ctx, legacy.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*thread.MessageCount).To(Equal(5))
		})

		It("fails for an unknown thread", func() {
			_, err := svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: "exploration.exp1.nope", Text: "x"})
			Expect(err).To(MatchError(service.ErrThreadNotFound))
		})

		It("publishes a status change event only when the status changes", func() {
			thread := createThread(strPtr("learner"), "x")

			_, err := svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: thread.ID, Text: "plain reply"})
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks.ofType(queue.TaskTypeThreadStatusChanged)).To(BeEmpty())

			fixed := model.ThreadStatusFixed
			_, err = svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: thread.ID, UpdatedStatus: &fixed})
			Expect(err).NotTo(HaveOccurred())

			events := tasks.ofType(queue.TaskTypeThreadStatusChanged)
			Expect(events).To(HaveLen(1))
			Expect(events[0].OldStatus).To(Equal("open"))
			Expect(events[0].NewStatus).To(Equal("fixed"))

			got, err := svc.GetThread(ctx, thread.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.ThreadStatusFixed))
		})

		It("publishes a subject change event when the subject changes", func() {
			thread := createThread(strPtr("learner"), "x")
			_, err := svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: thread.ID, UpdatedSubject: strPtr("Renamed")})
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks.ofType(queue.TaskTypeThreadSubjectChanged)).To(HaveLen(1))
		})

		It("rejects an unknown status", func() {
			thread := createThread(strPtr("learner"), "x")
			bogus := model.ThreadStatus("bogus")
			_, err := svc.CreateMessage(ctx, service.CreateMessageParams{ThreadID: thread.ID, UpdatedStatus: &bogus})
			Expect(err).To(MatchError(service.ErrInvalidThread))
			Expect(messageIDs(thread.ID)).To(Equal([]int{0}))
		})
	})

	Describe("GetThreads", func() {
		It("filters threads by suggestion flag", func() {
			createThread(nil, "plain")
			_, err := svc.CreateThread(ctx, service.CreateThreadParams{
				EntityType: "exploration", EntityID: "exp1", Text: "s", HasSuggestion: true,
			})
			Expect(err).NotTo(HaveOccurred())

			all, err := svc.GetThreads(ctx, "exploration", "exp1")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			withSuggestion, err := svc.GetAllThreads(ctx, "exploration", "exp1", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(withSuggestion).To(HaveLen(1))
			Expect(withSuggestion[0].HasSuggestion).To(BeTrue())
		})
	})

	Describe("GetThreadSummaries", func() {
		It("reports read state and authors of the last two messages", func() {
			thread := createThread(strPtr("learner"), "question")
			_, err := svc.CreateMessage(ctx, service.CreateMessageParams{
				ThreadID: thread.ID, AuthorID: strPtr("owner"), Text: "answer",
			})
			Expect(err).NotTo(HaveOccurred())

			summaries, unread, err := svc.GetThreadSummaries(ctx, "learner", []string{thread.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(unread).To(Equal(1))

			s := summaries[0]
			Expect(s.TotalMessageCount).To(Equal(2))
			Expect(*s.LastMessageText).To(Equal("answer"))
			Expect(s.LastMessageRead).To(BeFalse())
			Expect(*s.SecondLastMessageRead).To(BeTrue())
			Expect(*s.AuthorLastMessage).To(Equal("owner_name"))
			Expect(*s.AuthorSecondLastMessage).To(Equal("learner_name"))
			Expect(s.EntityTitle).To(Equal("Fractions"))

			Expect(svc.UpdateMessagesReadByUser(ctx, "learner", thread.ID, []int{1})).To(Succeed())
			_, unread, err = svc.GetThreadSummaries(ctx, "learner", []string{thread.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(unread).To(BeZero())
		})

		It("tolerates a thread with no stored messages", func() {
			empty := &model.Thread{
				ID: "exploration.exp1.empty", EntityType: "exploration", EntityID: "exp1",
				Status: model.ThreadStatusOpen, Subject: "s",
			}
			Expect(mem.Threads().Create(ctx, empty)).To(Succeed())

			summaries, unread, err := svc.GetThreadSummaries(ctx, "learner", []string{empty.ID, "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(unread).To(BeZero())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].TotalMessageCount).To(BeZero())
			Expect(summaries[0].LastMessageText).To(BeNil())
			Expect(summaries[0].SecondLastMessageRead).To(BeNil())
		})

		It("leaves second-last fields empty for a single message", func() {
			thread := createThread(nil, "anon")
			summaries, _, err := svc.GetThreadSummaries(ctx, "owner", []string{thread.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries[0].SecondLastMessageRead).To(BeNil())
			Expect(summaries[0].AuthorLastMessage).To(BeNil())
		})
	})

	Describe("UpdateMessagesReadByUser", func() {
		It("unions ids idempotently", func() {
			thread := createThread(nil, "x")
			Expect(svc.UpdateMessagesReadByUser(ctx, "owner", thread.ID, []int{0})).To(Succeed())
			Expect(svc.UpdateMessagesReadByUser(ctx, "owner", thread.ID, []int{0, 0})).To(Succeed())

			tu, err := mem.ThreadUsers().Get(ctx, "owner", thread.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tu.MessageIDsRead).To(Equal([]int{0}))
		})

		It("removes read messages from the pending batch email", func() {
			thread := createThread(strPtr("learner"), "x")
			acc, err := mem.UnsentEmails().Get(ctx, "owner")
			Expect(err).NotTo(HaveOccurred())
			Expect(acc.References).To(HaveLen(1))

			Expect(svc.UpdateMessagesReadByUser(ctx, "owner", thread.ID, []int{0})).To(Succeed())
			_, err = mem.UnsentEmails().Get(ctx, "owner")
			Expect(err).To(HaveOccurred())
		})

		It("fails for an unknown thread", func() {
			err := svc.UpdateMessagesReadByUser(ctx, "owner", "exploration.exp1.none", []int{0})
			Expect(err).To(MatchError(service.ErrThreadNotFound))
		})
	})

	Describe("analytics", func() {
		It("returns zero for entities without computed analytics", func() {
			Expect(mem.Analytics().Upsert(ctx, &model.ThreadAnalytics{
				EntityType: "exploration", EntityID: "exp1", NumOpenThreads: 2, NumTotalThreads: 5,
			})).To(Succeed())

			rows, err := svc.GetThreadAnalyticsMulti(ctx, "exploration", []string{"exp1", "exp2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].NumTotalThreads).To(Equal(5))
			Expect(rows[1].EntityID).To(Equal("exp2"))
			Expect(rows[1].NumOpenThreads).To(BeZero())

			total, err := svc.GetTotalOpenThreads(ctx, "exploration", []string{"exp1", "exp2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(2))
		})
	})
})
