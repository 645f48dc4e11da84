package worker_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/worker"
)

type fakeNotifications struct {
	batch   []string
	instant []queue.Task
}

func (f *fakeNotifications) SendBatchEmail(_ context.Context, recipientID string) error {
	f.batch = append(f.batch, recipientID)
	return nil
}

func (f *fakeNotifications) SendInstantEmail(_ context.Context, task queue.Task) error {
	f.instant = append(f.instant, task)
	return nil
}

type fakeDirty struct{ marked []string }

func (f *fakeDirty) MarkDirty(_ context.Context, entityType, entityID string) error {
	f.marked = append(f.marked, entityType+"/"+entityID)
	return nil
}

var _ = Describe("Dispatcher", func() {
	var (
		ctx           context.Context
		notifications *fakeNotifications
		dirty         *fakeDirty
		dispatcher    *worker.Dispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		notifications = &fakeNotifications{}
		dirty = &fakeDirty{}
		dispatcher = worker.NewDispatcher(notifications, dirty)
	})

	It("marks analytics dirty for thread lifecycle events", func() {
		Expect(dispatcher.Handle(ctx, queue.Task{
			TaskType: queue.TaskTypeThreadCreated, EntityType: "exploration", EntityID: "e1", ThreadID: "t",
		})).To(Succeed())
		Expect(dispatcher.Handle(ctx, queue.Task{
			TaskType: queue.TaskTypeThreadStatusChanged, EntityType: "exploration", EntityID: "e2", ThreadID: "t",
		})).To(Succeed())
		Expect(dispatcher.Handle(ctx, queue.Task{
			TaskType: queue.TaskTypeThreadSubjectChanged, EntityType: "exploration", EntityID: "e3", ThreadID: "t",
		})).To(Succeed())

		Expect(dirty.marked).To(Equal([]string{"exploration/e1", "exploration/e2", "exploration/e3"}))
	})

	It("routes email tasks to the notification service", func() {
		mid := 2
		Expect(dispatcher.Handle(ctx, queue.Task{TaskType: queue.TaskTypeBatchEmail, RecipientID: "u1"})).To(Succeed())
		Expect(dispatcher.Handle(ctx, queue.Task{
			TaskType: queue.TaskTypeInstantEmail, RecipientID: "u2", ThreadID: "t", MessageID: &mid,
		})).To(Succeed())

		Expect(notifications.batch).To(Equal([]string{"u1"}))
		Expect(notifications.instant).To(HaveLen(1))
		Expect(notifications.instant[0].RecipientID).To(Equal("u2"))
	})

	It("rejects unknown task types", func() {
		Expect(dispatcher.Handle(ctx, queue.Task{TaskType: "nope"})).To(MatchError(ContainSubstring("unknown task type")))
	})
})
