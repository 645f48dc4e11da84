package jobs_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/common"
	"threadline.app/feedback/internal/jobs"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/store"
	"threadline.app/feedback/internal/store/memory"
)

type sweepRecorder struct {
	mu      sync.Mutex
	sent    []string
	failFor string
}

func (r *sweepRecorder) SendBatchEmail(_ context.Context, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if recipientID == r.failFor {
		return errors.New("store unavailable")
	}
	r.sent = append(r.sent, recipientID)
	return nil
}

func (r *sweepRecorder) SendInstantEmail(context.Context, queue.Task) error {
	return nil
}

var _ = Describe("Jobs", func() {
	var (
		ctx         context.Context
		mem         *memory.Store
		checkpoints jobs.Checkpoints
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		checkpoints = jobs.NewMemoryCheckpoints()
	})

	Describe("message count", func() {
		It("rewrites counters from stored messages and reports gaps", func() {
			seedThread(mem, model.Thread{ID: "exploration.e1.a", EntityType: "exploration", EntityID: "e1"}, "one")
			seedThread(mem, model.Thread{ID: "exploration.e1.b", EntityType: "exploration", EntityID: "e1", MessageCount: intPtr(2)}, "one", "two")
			seedThread(mem, model.Thread{ID: "exploration.e2.c", EntityType: "exploration", EntityID: "e2", MessageCount: intPtr(2)}, "one", "two")
			Expect(mem.Messages().Delete(ctx, "exploration.e2.c", 0)).To(Succeed())

			var reports []jobs.CountFix
			job := jobs.NewMessageCountJob(mem, checkpoints, 2, func(fix jobs.CountFix) {
				reports = append(reports, fix)
			})
			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			legacy, err := mem.Threads().GetByID(ctx, "exploration.e1.a")
			Expect(err).NotTo(HaveOccurred())
			Expect(legacy.MessageCount).To(Equal(intPtr(1)))

			Expect(reports).To(HaveLen(1))
			Expect(reports[0].ThreadID).To(Equal("exploration.e2.c"))
			Expect(reports[0].MessageCount).To(Equal(1))
			Expect(reports[0].NextMessageID).To(Equal(2))
		})

		It("never moves a counter backwards", func() {
			seedThread(mem, model.Thread{ID: "exploration.e1.a", EntityType: "exploration", EntityID: "e1", MessageCount: intPtr(3)}, "one", "two", "three")
			Expect(mem.Messages().Delete(ctx, "exploration.e1.a", 2)).To(Succeed())

			_, err := jobs.NewMessageCountJob(mem, checkpoints, 10, nil).Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			thread, err := mem.Threads().GetByID(ctx, "exploration.e1.a")
			Expect(err).NotTo(HaveOccurred())
			Expect(*thread.MessageCount).To(Equal(3))
		})
	})

	Describe("subject", func() {
		It("derives subjects for default-subject threads only", func() {
			long := "It has to convert to a substring as it exceeds the character limit."
			seedThread(mem, model.Thread{ID: "exploration.e1.a", EntityType: "exploration", EntityID: "e1", Subject: common.DefaultFeedbackSubject}, "a small summary")
			seedThread(mem, model.Thread{ID: "exploration.e1.b", EntityType: "exploration", EntityID: "e1", Subject: "Some subject"}, "a small text")
			seedThread(mem, model.Thread{ID: "exploration.e1.c", EntityType: "exploration", EntityID: "e1", Subject: common.DefaultFeedbackSubject}, long)
			seedThread(mem, model.Thread{ID: "exploration.e1.d", EntityType: "exploration", EntityID: "e1", Subject: common.DefaultFeedbackSubject}, "")

			before, err := mem.Threads().GetByID(ctx, "exploration.e1.c")
			Expect(err).NotTo(HaveOccurred())

			_, err = jobs.NewSubjectJob(mem, checkpoints, 1).Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			subjects := map[string]string{}
			for _, id := range []string{"exploration.e1.a", "exploration.e1.b", "exploration.e1.c", "exploration.e1.d"} {
				t, err := mem.Threads().GetByID(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				subjects[id] = t.Subject
			}
			Expect(subjects["exploration.e1.a"]).To(Equal("a small summary"))
			Expect(subjects["exploration.e1.b"]).To(Equal("Some subject"))
			Expect(subjects["exploration.e1.c"]).To(Equal("It has to convert to a substring as it exceeds..."))
			Expect(subjects["exploration.e1.d"]).To(Equal(common.DefaultFeedbackSubject))

			after, err := mem.Threads().GetByID(ctx, "exploration.e1.c")
			Expect(err).NotTo(HaveOccurred())
			Expect(after.LastUpdated).To(Equal(before.LastUpdated))
		})

		It("is idempotent", func() {
			seedThread(mem, model.Thread{ID: "exploration.e1.a", EntityType: "exploration", EntityID: "e1", Subject: common.DefaultFeedbackSubject},
				strings.Repeat("word ", 20))

			_, err := jobs.NewSubjectJob(mem, checkpoints, 10).Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			first, err := mem.Threads().GetByID(ctx, "exploration.e1.a")
			Expect(err).NotTo(HaveOccurred())

			_, err = jobs.NewSubjectJob(mem, checkpoints, 10).Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := mem.Threads().GetByID(ctx, "exploration.e1.a")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Subject).To(Equal(first.Subject))
		})
	})

	Describe("scoring", func() {
		It("counts accepted suggestions per author and category", func() {
			seedSuggestion(mem, "s1", "alice", "content.Algebra", model.SuggestionStatusAccepted)
			seedSuggestion(mem, "s2", "alice", "content.Algebra", model.SuggestionStatusAccepted)
			seedSuggestion(mem, "s3", "alice", "translation.hi", model.SuggestionStatusAccepted)
			seedSuggestion(mem, "s4", "alice", "content.Algebra", model.SuggestionStatusRejected)
			seedSuggestion(mem, "s5", "bob", "content.Algebra", model.SuggestionStatusInReview)
			seedSuggestion(mem, "s6", "carol", "content.Algebra", model.SuggestionStatusAccepted)

			run := func() {
				_, err := jobs.NewScoringJob(mem, checkpoints, 1).Run(ctx)
				Expect(err).NotTo(HaveOccurred())
			}
			run()
			run()

			alice, err := mem.Scores().ListByUser(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(alice).To(HaveLen(2))
			Expect(alice[0].ScoreCategory).To(Equal("content.Algebra"))
			Expect(alice[0].Score).To(Equal(2))
			Expect(alice[1].ScoreCategory).To(Equal("translation.hi"))
			Expect(alice[1].Score).To(Equal(1))

			bob, err := mem.Scores().ListByUser(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(bob).To(BeEmpty())

			carol, err := mem.Scores().ListByUser(ctx, "carol")
			Expect(err).NotTo(HaveOccurred())
			Expect(carol).To(HaveLen(1))
			Expect(carol[0].Score).To(Equal(1))
		})
	})

	Describe("thread analytics", func() {
		BeforeEach(func() {
			seedThread(mem, model.Thread{ID: "exploration.e1.a", EntityType: "exploration", EntityID: "e1"})
			seedThread(mem, model.Thread{ID: "exploration.e1.b", EntityType: "exploration", EntityID: "e1", Status: model.ThreadStatusFixed})
			seedThread(mem, model.Thread{ID: "exploration.e2.c", EntityType: "exploration", EntityID: "e2"})
			seedThread(mem, model.Thread{ID: "skill.e1.d", EntityType: "skill", EntityID: "e1"})
		})

		It("recomputes every entity in a full run", func() {
			_, err := jobs.NewThreadAnalyticsJob(mem, checkpoints, 1).Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			rows, err := mem.Analytics().GetMulti(ctx, "exploration", []string{"e1", "e2", "e3"})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].NumOpenThreads).To(Equal(1))
			Expect(rows[0].NumTotalThreads).To(Equal(2))
			Expect(rows[1].NumOpenThreads).To(Equal(1))
			Expect(rows[1].NumTotalThreads).To(Equal(1))

			skills, err := mem.Analytics().GetMulti(ctx, "skill", []string{"e1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(skills).To(HaveLen(1))
		})

		It("recomputes only dirty entities in an incremental run", func() {
			dirty := jobs.NewDirtyTracker(newRedis(), "dirty")
			Expect(dirty.MarkDirty(ctx, "exploration", "e1")).To(Succeed())
			Expect(dirty.MarkDirty(ctx, "exploration", "e1")).To(Succeed())

			stats, err := jobs.NewDirtyAnalyticsJob(mem, dirty, 10).Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Outputs).To(Equal(1))

			rows, err := mem.Analytics().GetMulti(ctx, "exploration", []string{"e1", "e2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].EntityID).To(Equal("e1"))
			Expect(rows[0].NumTotalThreads).To(Equal(2))

			remaining, err := dirty.Pop(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(remaining).To(BeEmpty())
		})

		It("keeps entity ids containing the separator intact", func() {
			dirty := jobs.NewDirtyTracker(newRedis(), "dirty")
			Expect(dirty.MarkDirty(ctx, "exploration", "a|b")).To(Succeed())

			keys, err := dirty.Pop(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(ConsistOf(store.EntityKey{Type: "exploration", ID: "a|b"}))
		})
	})

	Describe("email sweep", func() {
		seedUnsent := func(userID string) {
			Expect(mem.UnsentEmails().Upsert(ctx, &model.UnsentFeedbackEmail{
				UserID:     userID,
				References: []model.MessageReference{{EntityType: "exploration", EntityID: "e1", ThreadID: "exploration.e1.a", MessageID: 0}},
			})).To(Succeed())
		}

		It("dispatches every pending accumulator", func() {
			seedUnsent("u1")
			seedUnsent("u2")
			seedUnsent("u3")
			recorder := &sweepRecorder{}

			stats, err := jobs.NewEmailSweepJob(mem, recorder, checkpoints, 2).Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.sent).To(Equal([]string{"u1", "u2", "u3"}))
			Expect(stats.Pages).To(Equal(2))
		})

		It("resumes after a failed dispatch", func() {
			seedUnsent("u1")
			seedUnsent("u2")
			seedUnsent("u3")
			recorder := &sweepRecorder{failFor: "u3"}

			_, err := jobs.NewEmailSweepJob(mem, recorder, checkpoints, 2).Run(ctx)
			Expect(err).To(HaveOccurred())

			recorder.failFor = ""
			_, err = jobs.NewEmailSweepJob(mem, recorder, checkpoints, 2).Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.sent).To(Equal([]string{"u1", "u2", "u3"}))
		})
	})

	Describe("Lookup", func() {
		It("knows every listed job", func() {
			for _, name := range jobs.Names {
				job, ok := jobs.Lookup(name, true, jobs.Deps{Stores: mem, Checkpoints: checkpoints, PageSize: 10})
				Expect(ok).To(BeTrue())
				Expect(job.Name()).To(Equal(name))
			}
			_, ok := jobs.Lookup("nope", false, jobs.Deps{})
			Expect(ok).To(BeFalse())
		})
	})
})
