package service

import (
	"context"
	"log/slog"
	"time"

	"threadline.app/feedback/common/logger"
	"threadline.app/feedback/internal/queue"
)

// TaskQueue is the part of the queue producer services publish through.
type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
	Schedule(ctx context.Context, task queue.Task, at time.Time) error
}

type scheduledTask struct {
	task queue.Task
	at   time.Time
}

// outbox collects the tasks produced inside a transaction. They are only
// published once the transaction has committed.
type outbox struct {
	now       []queue.Task
	scheduled []scheduledTask
}

func (o *outbox) enqueue(task queue.Task) {
	o.now = append(o.now, task)
}

func (o *outbox) schedule(task queue.Task, at time.Time) {
	o.scheduled = append(o.scheduled, scheduledTask{task: task, at: at})
}

func (o *outbox) len() int {
	return len(o.now) + len(o.scheduled)
}

// flush publishes every collected task. The writes they describe are
// already committed, so publish failures are logged and not returned.
func (o *outbox) flush(ctx context.Context, tasks TaskQueue) {
	if tasks == nil || o.len() == 0 {
		return
	}
	traceID := logger.TraceID(ctx)

	for _, task := range o.now {
		task.TraceID = traceID
		if err := tasks.Enqueue(ctx, task); err != nil {
			slog.ErrorContext(ctx, "failed to enqueue task",
				"error", err,
				"task_type", task.TaskType,
				"thread_id", task.ThreadID,
				"recipient_id", task.RecipientID)
		}
	}
	for _, st := range o.scheduled {
		st.task.TraceID = traceID
		if err := tasks.Schedule(ctx, st.task, st.at); err != nil {
			slog.ErrorContext(ctx, "failed to schedule task",
				"error", err,
				"task_type", st.task.TaskType,
				"recipient_id", st.task.RecipientID,
				"at", st.at)
		}
	}
}
