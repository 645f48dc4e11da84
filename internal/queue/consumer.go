package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"threadline.app/feedback/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

type Message struct {
	ID   string
	Task Task
	Raw  redis.XMessage
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) Config() ConsumerConfig {
	return c.cfg
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so a recreated group still sees entries already in the stream.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "feedback.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" reads entries never delivered; stuck pending entries belong to the reclaimer.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Requeue acks msg and appends a copy with the next attempt number.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	task := msg.Task
	task.Attempt = max(task.Attempt, 1) + 1
	values := taskValues(task)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", task.Attempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := taskValues(msg.Task)
	values["error"] = errMsg
	values["source_stream"] = c.cfg.Stream

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// ParseMessage decodes a stream entry and checks the fields its task type needs.
func ParseMessage(msg redis.XMessage) (Message, error) {
	v := msg.Values
	task := Task{
		TaskType:    TaskType(parseOptionalString(v, "task_type")),
		EntityType:  parseOptionalString(v, "entity_type"),
		EntityID:    parseOptionalString(v, "entity_id"),
		ThreadID:    parseOptionalString(v, "thread_id"),
		RecipientID: parseOptionalString(v, "recipient_id"),
		OldStatus:   parseOptionalString(v, "old_status"),
		NewStatus:   parseOptionalString(v, "new_status"),
		TraceID:     parseOptionalString(v, "trace_id"),
	}

	messageID, err := parseOptionalInt(v, "message_id")
	if err != nil {
		return Message{}, err
	}
	task.MessageID = messageID

	attempt, err := parseOptionalInt(v, "attempt")
	if err != nil {
		return Message{}, err
	}
	task.Attempt = 1
	if attempt != nil && *attempt > 0 {
		task.Attempt = *attempt
	}

	switch task.TaskType {
	case TaskTypeThreadCreated, TaskTypeThreadStatusChanged, TaskTypeThreadSubjectChanged:
		if task.EntityType == "" || task.EntityID == "" || task.ThreadID == "" {
			return Message{}, fmt.Errorf("missing entity_type, entity_id or thread_id")
		}
	case TaskTypeBatchEmail:
		if task.RecipientID == "" {
			return Message{}, fmt.Errorf("missing recipient_id")
		}
	case TaskTypeInstantEmail:
		if task.RecipientID == "" || task.ThreadID == "" {
			return Message{}, fmt.Errorf("missing recipient_id or thread_id")
		}
		if task.MessageID == nil && !task.IsStatusChange() {
			return Message{}, fmt.Errorf("missing message_id")
		}
	case "":
		return Message{}, fmt.Errorf("missing task_type")
	default:
		return Message{}, fmt.Errorf("unknown task_type %q", task.TaskType)
	}

	return Message{ID: msg.ID, Task: task, Raw: msg}, nil
}

func parseOptionalInt(values map[string]any, key string) (*int, error) {
	raw, ok := values[key]
	if !ok {
		return nil, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func taskValues(task Task) map[string]any {
	values := map[string]any{
		"task_type": string(task.TaskType),
		"attempt":   max(task.Attempt, 1),
	}

	optional := map[string]string{
		"entity_type":  task.EntityType,
		"entity_id":    task.EntityID,
		"thread_id":    task.ThreadID,
		"recipient_id": task.RecipientID,
		"old_status":   task.OldStatus,
		"new_status":   task.NewStatus,
		"trace_id":     task.TraceID,
	}
	for k, val := range optional {
		if val != "" {
			values[k] = val
		}
	}
	if task.MessageID != nil {
		values["message_id"] = *task.MessageID
	}

	return values
}
