package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/model"
)

type scoreStore struct {
	db db.DBTX
}

func newScoreStore(conn db.DBTX) ScoreStore {
	return &scoreStore{db: conn}
}

func (s *scoreStore) Upsert(ctx context.Context, sc *model.ContributionScore) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_contribution_scores (user_id, score_category, score, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, score_category) DO UPDATE SET
			score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
		sc.UserID, sc.ScoreCategory, sc.Score, sc.UpdatedAt,
	)
	return mapErr(err)
}

func (s *scoreStore) ListByUser(ctx context.Context, userID string) ([]model.ContributionScore, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, score_category, score, updated_at
		FROM user_contribution_scores WHERE user_id = $1 ORDER BY score_category`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ContributionScore, error) {
		var (
			sc    model.ContributionScore
			score int32
		)
		err := row.Scan(&sc.UserID, &sc.ScoreCategory, &score, &sc.UpdatedAt)
		sc.Score = int(score)
		return sc, err
	})
}
