package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Checkpoints persists the cursor of each job between pages.
type Checkpoints interface {
	Load(ctx context.Context, job string) (string, error)
	Save(ctx context.Context, job, cursor string) error
	Clear(ctx context.Context, job string) error
}

// RedisCheckpoints keeps one hash field per job.
type RedisCheckpoints struct {
	client *redis.Client
	key    string
}

func NewRedisCheckpoints(client *redis.Client, key string) *RedisCheckpoints {
	return &RedisCheckpoints{client: client, key: key}
}

func (c *RedisCheckpoints) Load(ctx context.Context, job string) (string, error) {
	cursor, err := c.client.HGet(ctx, c.key, job).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("hget %s: %w", c.key, err)
	}
	return cursor, nil
}

func (c *RedisCheckpoints) Save(ctx context.Context, job, cursor string) error {
	if err := c.client.HSet(ctx, c.key, job, cursor).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", c.key, err)
	}
	return nil
}

func (c *RedisCheckpoints) Clear(ctx context.Context, job string) error {
	if err := c.client.HDel(ctx, c.key, job).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", c.key, err)
	}
	return nil
}

// MemoryCheckpoints keeps cursors in process, for tests and dry runs.
type MemoryCheckpoints struct {
	mu      sync.Mutex
	cursors map[string]string
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{cursors: map[string]string{}}
}

func (c *MemoryCheckpoints) Load(_ context.Context, job string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[job], nil
}

func (c *MemoryCheckpoints) Save(_ context.Context, job, cursor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[job] = cursor
	return nil
}

func (c *MemoryCheckpoints) Clear(_ context.Context, job string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, job)
	return nil
}

// entityCursor encodes an entity key as a checkpoint cursor. Entity types
// never contain the separator; ids may.
const entityCursorSep = "|"

func entityCursor(entityType, entityID string) string {
	return entityType + entityCursorSep + entityID
}

func parseEntityCursor(cursor string) (entityType, entityID string) {
	entityType, entityID, _ = strings.Cut(cursor, entityCursorSep)
	return entityType, entityID
}
