package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/model"
)

type unsentEmailStore struct {
	db db.DBTX
}

func newUnsentEmailStore(conn db.DBTX) UnsentEmailStore {
	return &unsentEmailStore{db: conn}
}

func (s *unsentEmailStore) Get(ctx context.Context, userID string) (*model.UnsentFeedbackEmail, error) {
	return s.get(ctx, `
		SELECT message_references, retries, created_at, updated_at
		FROM unsent_feedback_emails WHERE user_id = $1`, userID)
}

func (s *unsentEmailStore) GetForUpdate(ctx context.Context, userID string) (*model.UnsentFeedbackEmail, error) {
	return s.get(ctx, `
		SELECT message_references, retries, created_at, updated_at
		FROM unsent_feedback_emails WHERE user_id = $1
		FOR UPDATE`, userID)
}

func (s *unsentEmailStore) get(ctx context.Context, query, userID string) (*model.UnsentFeedbackEmail, error) {
	var (
		e    = &model.UnsentFeedbackEmail{UserID: userID}
		refs []byte
	)
	if err := s.db.QueryRow(ctx, query, userID).Scan(&refs, &e.Retries, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(refs, &e.References); err != nil {
		return nil, fmt.Errorf("decoding references for %s: %w", userID, err)
	}
	return e, nil
}

// AppendReference concatenates in SQL so appends racing with a dispatch
// never overwrite each other. xmax is zero only on a freshly inserted row.
func (s *unsentEmailStore) AppendReference(ctx context.Context, userID string, ref model.MessageReference, at time.Time) (bool, error) {
	refs, err := json.Marshal([]model.MessageReference{ref})
	if err != nil {
		return false, fmt.Errorf("encoding reference: %w", err)
	}
	var created bool
	err = s.db.QueryRow(ctx, `
		INSERT INTO unsent_feedback_emails (user_id, message_references, retries, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			message_references = unsent_feedback_emails.message_references || EXCLUDED.message_references,
			updated_at = EXCLUDED.updated_at
		RETURNING xmax = 0`,
		userID, refs, at,
	).Scan(&created)
	if err != nil {
		return false, mapErr(err)
	}
	return created, nil
}

func (s *unsentEmailStore) Upsert(ctx context.Context, e *model.UnsentFeedbackEmail) error {
	refs, err := json.Marshal(orEmpty(e.References))
	if err != nil {
		return fmt.Errorf("encoding references: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO unsent_feedback_emails (user_id, message_references, retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			message_references = EXCLUDED.message_references,
			retries = EXCLUDED.retries,
			updated_at = EXCLUDED.updated_at`,
		e.UserID, refs, e.Retries, e.CreatedAt, e.UpdatedAt,
	)
	return mapErr(err)
}

func (s *unsentEmailStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM unsent_feedback_emails WHERE user_id = $1`, userID)
	return mapErr(err)
}

func (s *unsentEmailStore) ListUserIDsAfter(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id FROM unsent_feedback_emails WHERE user_id > $1 ORDER BY user_id LIMIT $2`,
		afterUserID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
