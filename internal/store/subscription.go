package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"threadline.app/feedback/core/db"
)

type subscriptionStore struct {
	db db.DBTX
}

func newSubscriptionStore(conn db.DBTX) SubscriptionStore {
	return &subscriptionStore{db: conn}
}

func (s *subscriptionStore) Subscribe(ctx context.Context, userID, threadID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO thread_subscriptions (user_id, thread_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		userID, threadID,
	)
	return mapErr(err)
}

func (s *subscriptionStore) ListSubscribers(ctx context.Context, threadID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id FROM thread_subscriptions WHERE thread_id = $1 ORDER BY created_at, user_id`,
		threadID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
