package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/model"
)

type threadRow struct {
	ID               string    `db:"id"`
	EntityType       string    `db:"entity_type"`
	EntityID         string    `db:"entity_id"`
	OriginalAuthorID *string   `db:"original_author_id"`
	Status           string    `db:"status"`
	Subject          string    `db:"subject"`
	Summary          *string   `db:"summary"`
	HasSuggestion    bool      `db:"has_suggestion"`
	MessageCount     *int32    `db:"message_count"`
	CreatedOn        time.Time `db:"created_on"`
	LastUpdated      time.Time `db:"last_updated"`
}

const threadColumns = `id, entity_type, entity_id, original_author_id, status, subject, summary,
	has_suggestion, message_count, created_on, last_updated`

type threadStore struct {
	db db.DBTX
}

func newThreadStore(conn db.DBTX) ThreadStore {
	return &threadStore{db: conn}
}

func (s *threadStore) Create(ctx context.Context, t *model.Thread) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback_threads (`+threadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.EntityType, t.EntityID, t.OriginalAuthorID, string(t.Status), t.Subject, t.Summary,
		t.HasSuggestion, toNullInt32(t.MessageCount), t.CreatedOn, t.LastUpdated,
	)
	return mapErr(err)
}

func (s *threadStore) GetByID(ctx context.Context, id string) (*model.Thread, error) {
	return s.one(ctx, `SELECT `+threadColumns+` FROM feedback_threads WHERE id = $1`, id)
}

func (s *threadStore) GetForUpdate(ctx context.Context, id string) (*model.Thread, error) {
	return s.one(ctx, `SELECT `+threadColumns+` FROM feedback_threads WHERE id = $1 FOR UPDATE`, id)
}

func (s *threadStore) GetByIDs(ctx context.Context, ids []string) ([]model.Thread, error) {
	return s.many(ctx, `SELECT `+threadColumns+` FROM feedback_threads WHERE id = ANY($1)`, ids)
}

func (s *threadStore) ListByEntity(ctx context.Context, entityType, entityID string, hasSuggestion *bool) ([]model.Thread, error) {
	return s.many(ctx, `
		SELECT `+threadColumns+` FROM feedback_threads
		WHERE entity_type = $1 AND entity_id = $2 AND ($3::boolean IS NULL OR has_suggestion = $3)
		ORDER BY last_updated DESC, id`,
		entityType, entityID, hasSuggestion,
	)
}

func (s *threadStore) ListByEntities(ctx context.Context, keys []EntityKey) ([]model.Thread, error) {
	types := make([]string, len(keys))
	ids := make([]string, len(keys))
	for i, k := range keys {
		types[i], ids[i] = k.Type, k.ID
	}
	return s.many(ctx, `
		SELECT `+threadColumns+` FROM feedback_threads t
		JOIN unnest($1::text[], $2::text[]) AS k(entity_type, entity_id)
		  ON t.entity_type = k.entity_type AND t.entity_id = k.entity_id
		ORDER BY t.entity_type, t.entity_id, t.id`,
		types, ids,
	)
}

func (s *threadStore) Update(ctx context.Context, t *model.Thread) error {
	return expectOne(s.db.Exec(ctx, `
		UPDATE feedback_threads
		SET status = $2, subject = $3, summary = $4, has_suggestion = $5,
		    message_count = $6, last_updated = $7
		WHERE id = $1`,
		t.ID, string(t.Status), t.Subject, t.Summary, t.HasSuggestion,
		toNullInt32(t.MessageCount), t.LastUpdated,
	))
}

func (s *threadStore) UpdateSubject(ctx context.Context, id, subject string) error {
	return expectOne(s.db.Exec(ctx, `UPDATE feedback_threads SET subject = $2 WHERE id = $1`, id, subject))
}

func (s *threadStore) UpdateMessageCount(ctx context.Context, id string, count int) error {
	return expectOne(s.db.Exec(ctx, `UPDATE feedback_threads SET message_count = $2 WHERE id = $1`, id, count))
}

func (s *threadStore) ListAfter(ctx context.Context, afterID string, limit int) ([]model.Thread, error) {
	return s.many(ctx, `
		SELECT `+threadColumns+` FROM feedback_threads
		WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
}

func (s *threadStore) ListBySubjectAfter(ctx context.Context, subject, afterID string, limit int) ([]model.Thread, error) {
	return s.many(ctx, `
		SELECT `+threadColumns+` FROM feedback_threads
		WHERE subject = $1 AND id > $2 ORDER BY id LIMIT $3`,
		subject, afterID, limit,
	)
}

func (s *threadStore) ListEntityKeysAfter(ctx context.Context, after EntityKey, limit int) ([]EntityKey, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT entity_type, entity_id FROM feedback_threads
		WHERE (entity_type, entity_id) > ($1, $2)
		ORDER BY entity_type, entity_id LIMIT $3`,
		after.Type, after.ID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (EntityKey, error) {
		var k EntityKey
		err := row.Scan(&k.Type, &k.ID)
		return k, err
	})
}

func (s *threadStore) one(ctx context.Context, sql string, args ...any) (*model.Thread, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[threadRow])
	if err != nil {
		return nil, mapErr(err)
	}
	return toThreadModel(row), nil
}

func (s *threadStore) many(ctx context.Context, sql string, args ...any) ([]model.Thread, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[threadRow])
	if err != nil {
		return nil, err
	}
	return toThreadModels(list), nil
}

func toThreadModel(row threadRow) *model.Thread {
	t := &model.Thread{
		ID:               row.ID,
		EntityType:       row.EntityType,
		EntityID:         row.EntityID,
		OriginalAuthorID: row.OriginalAuthorID,
		Status:           model.ThreadStatus(row.Status),
		Subject:          row.Subject,
		Summary:          row.Summary,
		HasSuggestion:    row.HasSuggestion,
		CreatedOn:        row.CreatedOn,
		LastUpdated:      row.LastUpdated,
	}
	if row.MessageCount != nil {
		n := int(*row.MessageCount)
		t.MessageCount = &n
	}
	return t
}

func toThreadModels(rows []threadRow) []model.Thread {
	out := make([]model.Thread, len(rows))
	for i, row := range rows {
		out[i] = *toThreadModel(row)
	}
	return out
}

func toNullInt32(n *int) *int32 {
	if n == nil {
		return nil
	}
	v := int32(*n)
	return &v
}
