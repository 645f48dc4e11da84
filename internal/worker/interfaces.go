package worker

import (
	"context"

	"threadline.app/feedback/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// TaskHandler performs the work a task describes.
type TaskHandler interface {
	Handle(ctx context.Context, task queue.Task) error
}

// MessageProcessor processes one delivered stream message, acking it on success.
type MessageProcessor func(ctx context.Context, msg queue.Message) error
