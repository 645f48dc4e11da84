package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Streams maps each named queue to its Redis stream, plus the sorted set
// holding tasks scheduled for later.
type Streams struct {
	Events    string
	Emails    string
	Scheduled string
}

func (s Streams) For(name Name) string {
	if name == QueueEmails {
		return s.Emails
	}
	return s.Events
}

type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	// Schedule holds task until at, then the Scheduler moves it onto its queue.
	// Scheduling an identical task twice keeps a single entry; trace id and
	// attempt are not part of its identity.
	Schedule(ctx context.Context, task Task, at time.Time) error
	Close() error
}

type redisProducer struct {
	client  *redis.Client
	streams Streams
	logger  *slog.Logger
}

func NewRedisProducer(client *redis.Client, streams Streams, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client:  client,
		streams: streams,
		logger:  logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) error {
	if task.Attempt <= 0 {
		task.Attempt = 1
	}

	stream := p.streams.For(task.TaskType.Queue())
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: taskValues(task),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.TaskType, err)
	}

	p.logger.InfoContext(ctx, "enqueued task",
		"task_type", task.TaskType,
		"stream", stream,
		"thread_id", task.ThreadID,
		"recipient_id", task.RecipientID,
		"attempt", task.Attempt)
	return nil
}

func (p *redisProducer) Schedule(ctx context.Context, task Task, at time.Time) error {
	member, err := scheduledMember(task)
	if err != nil {
		return fmt.Errorf("encoding scheduled task: %w", err)
	}

	if err := p.client.ZAddNX(ctx, p.streams.Scheduled, redis.Z{
		Score:  float64(at.Unix()),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("schedule %s task: %w", task.TaskType, err)
	}

	p.logger.InfoContext(ctx, "scheduled task",
		"task_type", task.TaskType,
		"recipient_id", task.RecipientID,
		"trace_id", task.TraceID,
		"due_at", at)
	return nil
}

func scheduledMember(task Task) (string, error) {
	task.TraceID = ""
	task.Attempt = 0
	b, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
