package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/model"
)

type analyticsStore struct {
	db db.DBTX
}

func newAnalyticsStore(conn db.DBTX) AnalyticsStore {
	return &analyticsStore{db: conn}
}

func (s *analyticsStore) GetMulti(ctx context.Context, entityType string, entityIDs []string) ([]model.ThreadAnalytics, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entity_type, entity_id, num_open_threads, num_total_threads, computed_at
		FROM feedback_analytics WHERE entity_type = $1 AND entity_id = ANY($2)`,
		entityType, entityIDs,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ThreadAnalytics, error) {
		var (
			a           model.ThreadAnalytics
			open, total int32
		)
		err := row.Scan(&a.EntityType, &a.EntityID, &open, &total, &a.ComputedAt)
		a.NumOpenThreads, a.NumTotalThreads = int(open), int(total)
		return a, err
	})
}

func (s *analyticsStore) Upsert(ctx context.Context, a *model.ThreadAnalytics) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback_analytics (entity_type, entity_id, num_open_threads, num_total_threads, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			num_open_threads = EXCLUDED.num_open_threads,
			num_total_threads = EXCLUDED.num_total_threads,
			computed_at = EXCLUDED.computed_at`,
		a.EntityType, a.EntityID, a.NumOpenThreads, a.NumTotalThreads, a.ComputedAt,
	)
	return mapErr(err)
}
