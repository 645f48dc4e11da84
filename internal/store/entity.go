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

type entityRow struct {
	EntityType string    `db:"entity_type"`
	ID         string    `db:"id"`
	Title      string    `db:"title"`
	Version    int32     `db:"version"`
	OwnerIDs   []string  `db:"owner_ids"`
	States     []byte    `db:"states"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const entityColumns = `entity_type, id, title, version, owner_ids, states, created_at, updated_at`

type entityStore struct {
	db db.DBTX
}

func newEntityStore(conn db.DBTX) EntityStore {
	return &entityStore{db: conn}
}

func (s *entityStore) GetByID(ctx context.Context, entityType, id string) (*model.Entity, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_type = $1 AND id = $2`, entityType, id)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[entityRow])
	if err != nil {
		return nil, mapErr(err)
	}
	return toEntityModel(row)
}

func (s *entityStore) GetByIDs(ctx context.Context, entityType string, ids []string) (map[string]*model.Entity, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_type = $1 AND id = ANY($2)`, entityType, ids)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[entityRow])
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Entity, len(list))
	for _, row := range list {
		e, err := toEntityModel(row)
		if err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	return out, nil
}

func (s *entityStore) Create(ctx context.Context, e *model.Entity) error {
	states, err := encodeStates(e.States)
	if err != nil {
		return fmt.Errorf("encoding states: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO entities (entity_type, id, title, version, owner_ids, states, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Type, e.ID, e.Title, e.Version, orEmpty(e.OwnerIDs), states, e.CreatedAt, e.UpdatedAt,
	)
	return mapErr(err)
}

func (s *entityStore) Update(ctx context.Context, e *model.Entity) error {
	states, err := encodeStates(e.States)
	if err != nil {
		return fmt.Errorf("encoding states: %w", err)
	}
	return expectOne(s.db.Exec(ctx, `
		UPDATE entities SET title = $3, version = $4, owner_ids = $5, states = $6, updated_at = $7
		WHERE entity_type = $1 AND id = $2`,
		e.Type, e.ID, e.Title, e.Version, orEmpty(e.OwnerIDs), states, e.UpdatedAt,
	))
}

func (s *entityStore) CreateCommit(ctx context.Context, c *model.EntityCommit) error {
	return mapErr(s.db.QueryRow(ctx, `
		INSERT INTO entity_commits (entity_type, entity_id, version, user_id, commit_message, change, is_suggestion, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		c.EntityType, c.EntityID, c.Version, c.UserID, c.CommitMessage, []byte(c.Change), c.IsSuggestion, c.CreatedAt,
	).Scan(&c.ID))
}

func (s *entityStore) ListCommits(ctx context.Context, entityType, id string) ([]model.EntityCommit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, entity_type, entity_id, version, user_id, commit_message, change, is_suggestion, created_at
		FROM entity_commits WHERE entity_type = $1 AND entity_id = $2 ORDER BY version, id`,
		entityType, id,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EntityCommit, error) {
		var (
			c       model.EntityCommit
			version int32
			change  []byte
		)
		err := row.Scan(&c.ID, &c.EntityType, &c.EntityID, &version, &c.UserID, &c.CommitMessage, &change, &c.IsSuggestion, &c.CreatedAt)
		c.Version, c.Change = int(version), change
		return c, err
	})
}

func encodeStates(states map[string]model.State) ([]byte, error) {
	if states == nil {
		states = map[string]model.State{}
	}
	return json.Marshal(states)
}

func toEntityModel(row entityRow) (*model.Entity, error) {
	e := &model.Entity{
		Type:      row.EntityType,
		ID:        row.ID,
		Title:     row.Title,
		Version:   int(row.Version),
		OwnerIDs:  orEmpty(row.OwnerIDs),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal(row.States, &e.States); err != nil {
		return nil, fmt.Errorf("decoding states of %s %s: %w", row.EntityType, row.ID, err)
	}
	return e, nil
}
