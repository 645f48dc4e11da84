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

type suggestionRow struct {
	ID                 string    `db:"id"`
	SuggestionType     string    `db:"suggestion_type"`
	SubType            string    `db:"sub_type"`
	EntityType         string    `db:"entity_type"`
	Status             string    `db:"status"`
	AuthorID           string    `db:"author_id"`
	FinalReviewerID    *string   `db:"final_reviewer_id"`
	AssignedReviewerID *string   `db:"assigned_reviewer_id"`
	ThreadID           string    `db:"thread_id"`
	TargetID           string    `db:"target_id"`
	TargetVersion      *int32    `db:"target_version"`
	Payload            []byte    `db:"payload"`
	CustomizationArgs  []byte    `db:"customization_args"`
	ScoreCategory      string    `db:"score_category"`
	CreatedOn          time.Time `db:"created_on"`
	LastUpdated        time.Time `db:"last_updated"`
}

const suggestionColumns = `id, suggestion_type, sub_type, entity_type, status, author_id, final_reviewer_id,
	assigned_reviewer_id, thread_id, target_id, target_version, payload, customization_args, score_category,
	created_on, last_updated`

type suggestionStore struct {
	db db.DBTX
}

func newSuggestionStore(conn db.DBTX) SuggestionStore {
	return &suggestionStore{db: conn}
}

func (s *suggestionStore) Create(ctx context.Context, sg *model.Suggestion) error {
	payload, args, err := encodeSuggestion(sg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO suggestions (`+suggestionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sg.ID, string(sg.SuggestionType), string(sg.SubType), sg.EntityType, string(sg.Status), sg.AuthorID,
		sg.FinalReviewerID, sg.AssignedReviewerID, sg.ThreadID, sg.TargetID, toNullInt32(sg.TargetVersion),
		payload, args, sg.ScoreCategory, sg.CreatedOn, sg.LastUpdated,
	)
	return mapErr(err)
}

func (s *suggestionStore) GetByID(ctx context.Context, id string) (*model.Suggestion, error) {
	return s.one(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id)
}

func (s *suggestionStore) GetByThreadID(ctx context.Context, threadID string) (*model.Suggestion, error) {
	return s.one(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE thread_id = $1`, threadID)
}

func (s *suggestionStore) Update(ctx context.Context, sg *model.Suggestion) error {
	payload, args, err := encodeSuggestion(sg)
	if err != nil {
		return err
	}
	return expectOne(s.db.Exec(ctx, `
		UPDATE suggestions SET
			status = $2, final_reviewer_id = $3, assigned_reviewer_id = $4,
			target_id = $5, payload = $6, customization_args = $7, score_category = $8, last_updated = $9
		WHERE id = $1`,
		sg.ID, string(sg.Status), sg.FinalReviewerID, sg.AssignedReviewerID,
		sg.TargetID, payload, args, sg.ScoreCategory, sg.LastUpdated,
	))
}

func (s *suggestionStore) List(ctx context.Context, f SuggestionFilter) ([]model.Suggestion, error) {
	var status, typ *string
	if f.Status != nil {
		v := string(*f.Status)
		status = &v
	}
	if f.Type != nil {
		v := string(*f.Type)
		typ = &v
	}
	return s.many(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE ($1::text IS NULL OR author_id = $1)
		  AND ($2::text IS NULL OR final_reviewer_id = $2)
		  AND ($3::text IS NULL OR assigned_reviewer_id = $3)
		  AND ($4::text IS NULL OR target_id = $4)
		  AND ($5::text IS NULL OR status = $5)
		  AND ($6::text IS NULL OR suggestion_type = $6)`,
		f.AuthorID, f.FinalReviewerID, f.AssignedReviewerID, f.TargetID, status, typ,
	)
}

func (s *suggestionStore) ListAuthorsAfter(ctx context.Context, afterAuthorID string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT author_id FROM suggestions
		WHERE author_id > $1 ORDER BY author_id LIMIT $2`,
		afterAuthorID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *suggestionStore) ListByAuthors(ctx context.Context, authorIDs []string) ([]model.Suggestion, error) {
	return s.many(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE author_id = ANY($1) ORDER BY author_id, id`,
		authorIDs,
	)
}

func (s *suggestionStore) one(ctx context.Context, sql string, args ...any) (*model.Suggestion, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[suggestionRow])
	if err != nil {
		return nil, mapErr(err)
	}
	return toSuggestionModel(row)
}

func (s *suggestionStore) many(ctx context.Context, sql string, args ...any) ([]model.Suggestion, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[suggestionRow])
	if err != nil {
		return nil, err
	}
	out := make([]model.Suggestion, 0, len(list))
	for _, row := range list {
		sg, err := toSuggestionModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *sg)
	}
	return out, nil
}

func encodeSuggestion(sg *model.Suggestion) (payload, args []byte, err error) {
	if payload, err = json.Marshal(sg.Payload); err != nil {
		return nil, nil, fmt.Errorf("encoding payload: %w", err)
	}
	if args, err = json.Marshal(sg.CustomizationArgs); err != nil {
		return nil, nil, fmt.Errorf("encoding customization args: %w", err)
	}
	return payload, args, nil
}

func toSuggestionModel(row suggestionRow) (*model.Suggestion, error) {
	payload, err := model.DecodePayload(model.SuggestionType(row.SuggestionType), row.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding payload of %s: %w", row.ID, err)
	}
	sg := &model.Suggestion{
		ID:                 row.ID,
		SuggestionType:     model.SuggestionType(row.SuggestionType),
		SubType:            model.SuggestionSubType(row.SubType),
		EntityType:         row.EntityType,
		Status:             model.SuggestionStatus(row.Status),
		AuthorID:           row.AuthorID,
		FinalReviewerID:    row.FinalReviewerID,
		AssignedReviewerID: row.AssignedReviewerID,
		ThreadID:           row.ThreadID,
		TargetID:           row.TargetID,
		Payload:            payload,
		ScoreCategory:      row.ScoreCategory,
		CreatedOn:          row.CreatedOn,
		LastUpdated:        row.LastUpdated,
	}
	if row.TargetVersion != nil {
		v := int(*row.TargetVersion)
		sg.TargetVersion = &v
	}
	if err := json.Unmarshal(row.CustomizationArgs, &sg.CustomizationArgs); err != nil {
		return nil, fmt.Errorf("decoding customization args of %s: %w", row.ID, err)
	}
	return sg, nil
}
