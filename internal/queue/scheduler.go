package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"threadline.app/feedback/common/logger"
)

// Scheduler moves due tasks from the scheduled set onto their queues.
// Several schedulers may run at once: ZREM decides which one publishes.
type Scheduler struct {
	client   *redis.Client
	producer Producer
	set      string
	interval time.Duration
	now      func() time.Time
}

func NewScheduler(client *redis.Client, producer Producer, set string, interval time.Duration) *Scheduler {
	return &Scheduler{
		client:   client,
		producer: producer,
		set:      set,
		interval: interval,
		now:      time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "feedback.queue.scheduler"})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "scheduler started", "set", s.set, "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			if n, err := s.PublishDue(ctx); err != nil {
				slog.ErrorContext(ctx, "publishing scheduled tasks failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "published scheduled tasks", "count", n)
			}
		}
	}
}

// PublishDue publishes every task whose due time has passed and returns how
// many this scheduler claimed.
func (s *Scheduler) PublishDue(ctx context.Context) (int, error) {
	due, err := s.client.ZRangeByScore(ctx, s.set, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(s.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("reading scheduled tasks: %w", err)
	}

	published := 0
	for _, member := range due {
		removed, err := s.client.ZRem(ctx, s.set, member).Result()
		if err != nil {
			return published, fmt.Errorf("claiming scheduled task: %w", err)
		}
		if removed == 0 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			slog.ErrorContext(ctx, "dropping malformed scheduled task", "error", err, "member", logger.Truncate(member, 200))
			continue
		}

		if err := s.producer.Enqueue(ctx, task); err != nil {
			// Put it back so the next tick retries.
			if zerr := s.client.ZAdd(ctx, s.set, redis.Z{Score: float64(s.now().Unix()), Member: member}).Err(); zerr != nil {
				slog.ErrorContext(ctx, "re-scheduling task failed, task lost",
					"error", zerr,
					"task_type", task.TaskType,
					"member", logger.Truncate(member, 200))
				return published, errors.Join(err, fmt.Errorf("re-scheduling %s task: %w", task.TaskType, zerr))
			}
			return published, err
		}
		published++
	}
	return published, nil
}
