package worker

import (
	"context"
	"fmt"
	"log/slog"

	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/service"
)

// DirtyMarker records entities whose thread analytics need recomputing.
type DirtyMarker interface {
	MarkDirty(ctx context.Context, entityType, entityID string) error
}

// Dispatcher routes tasks from both queues to the code that handles them.
type Dispatcher struct {
	notifications service.NotificationService
	dirty         DirtyMarker
}

func NewDispatcher(notifications service.NotificationService, dirty DirtyMarker) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		dirty:         dirty,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, task queue.Task) error {
	switch task.TaskType {
	case queue.TaskTypeThreadCreated, queue.TaskTypeThreadStatusChanged, queue.TaskTypeThreadSubjectChanged:
		if err := d.dirty.MarkDirty(ctx, task.EntityType, task.EntityID); err != nil {
			return fmt.Errorf("marking analytics dirty: %w", err)
		}
		slog.DebugContext(ctx, "thread analytics marked dirty",
			"task_type", task.TaskType,
			"thread_id", task.ThreadID,
			"entity_type", task.EntityType,
			"entity_id", task.EntityID)
		return nil
	case queue.TaskTypeBatchEmail:
		return d.notifications.SendBatchEmail(ctx, task.RecipientID)
	case queue.TaskTypeInstantEmail:
		return d.notifications.SendInstantEmail(ctx, task)
	default:
		return fmt.Errorf("unknown task type %q", task.TaskType)
	}
}
