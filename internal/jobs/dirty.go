package jobs

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"threadline.app/feedback/internal/store"
)

// DirtyTracker is a Redis set of entities whose threads changed since the
// last analytics run.
type DirtyTracker struct {
	client *redis.Client
	key    string
}

func NewDirtyTracker(client *redis.Client, key string) *DirtyTracker {
	return &DirtyTracker{client: client, key: key}
}

func (d *DirtyTracker) MarkDirty(ctx context.Context, entityType, entityID string) error {
	if err := d.client.SAdd(ctx, d.key, entityCursor(entityType, entityID)).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", d.key, err)
	}
	return nil
}

// Pop removes and returns up to n dirty entities.
func (d *DirtyTracker) Pop(ctx context.Context, n int) ([]store.EntityKey, error) {
	members, err := d.client.SPopN(ctx, d.key, int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("spop %s: %w", d.key, err)
	}
	keys := make([]store.EntityKey, 0, len(members))
	for _, m := range members {
		t, id := parseEntityCursor(m)
		keys = append(keys, store.EntityKey{Type: t, ID: id})
	}
	return keys, nil
}

// Restore puts keys back after a failed recompute.
func (d *DirtyTracker) Restore(ctx context.Context, keys []store.EntityKey) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, 0, len(keys))
	for _, k := range keys {
		members = append(members, entityCursor(k.Type, k.ID))
	}
	if err := d.client.SAdd(ctx, d.key, members...).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", d.key, err)
	}
	return nil
}
