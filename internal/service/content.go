package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"threadline.app/feedback/common/id"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store"
)

// ContentService is the versioning collaborator suggestions are applied
// through.
type ContentService interface {
	GetEntity(ctx context.Context, entityType, entityID string) (*model.Entity, error)
	CreateEntity(ctx context.Context, entity *model.Entity) error
	// UpdateEntity applies change, bumps the entity version and records a commit.
	UpdateEntity(ctx context.Context, userID, entityType, entityID string, change model.ChangeCmd, commitMessage string, isSuggestion bool) (*model.Entity, error)
}

type contentService struct {
	stores  StoreProvider
	tx      TxRunner
	updater *contentUpdater
}

func NewContentService(stores StoreProvider, tx TxRunner) ContentService {
	return &contentService{
		stores:  stores,
		tx:      tx,
		updater: &contentUpdater{now: func() time.Time { return time.Now().UTC() }},
	}
}

func (s *contentService) GetEntity(ctx context.Context, entityType, entityID string) (*model.Entity, error) {
	return getEntity(ctx, s.stores, entityType, entityID)
}

func (s *contentService) CreateEntity(ctx context.Context, entity *model.Entity) error {
	return s.tx.WithTx(ctx, func(stores StoreProvider) error {
		return s.updater.create(ctx, stores, entity)
	})
}

func (s *contentService) UpdateEntity(ctx context.Context, userID, entityType, entityID string, change model.ChangeCmd, commitMessage string, isSuggestion bool) (*model.Entity, error) {
	var entity *model.Entity
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		entity, err = getEntity(ctx, stores, entityType, entityID)
		if err != nil {
			return err
		}
		return s.updater.apply(ctx, stores, userID, entity, change, commitMessage, isSuggestion)
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func getEntity(ctx context.Context, stores StoreProvider, entityType, entityID string) (*model.Entity, error) {
	entity, err := stores.Entities().GetByID(ctx, entityType, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, entityType, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	return entity, nil
}

// contentUpdater writes entity versions inside a caller's transaction.
type contentUpdater struct {
	now func() time.Time
}

func (u *contentUpdater) create(ctx context.Context, stores StoreProvider, entity *model.Entity) error {
	if entity.Type == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidSuggestion)
	}
	if entity.ID == "" {
		entity.ID = id.NewSuffix()
	}
	now := u.now()
	if entity.Version == 0 {
		entity.Version = 1
	}
	if entity.States == nil {
		entity.States = map[string]model.State{}
	}
	entity.CreatedAt = now
	entity.UpdatedAt = now
	if err := stores.Entities().Create(ctx, entity); err != nil {
		return fmt.Errorf("creating entity: %w", err)
	}
	return nil
}

// apply edits one state property of entity. Only state content edits are
// supported.
func (u *contentUpdater) apply(ctx context.Context, stores StoreProvider, userID string, entity *model.Entity, change model.ChangeCmd, commitMessage string, isSuggestion bool) error {
	if change.Cmd != model.CmdEditStateProperty || change.PropertyName != model.StatePropertyContent {
		return fmt.Errorf("%w: %s/%s", ErrUnsupportedChange, change.Cmd, change.PropertyName)
	}
	if !entity.HasState(change.StateName) {
		return fmt.Errorf("%w: state %q does not exist", ErrUnsupportedChange, change.StateName)
	}

	states := maps.Clone(entity.States)
	states[change.StateName] = model.State{Content: change.NewValue}
	entity.States = states
	entity.Version++
	entity.UpdatedAt = u.now()
	if err := stores.Entities().Update(ctx, entity); err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}

	raw, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	commit := &model.EntityCommit{
		EntityType:    entity.Type,
		EntityID:      entity.ID,
		Version:       entity.Version,
		UserID:        userID,
		CommitMessage: commitMessage,
		Change:        raw,
		IsSuggestion:  isSuggestion,
		CreatedAt:     entity.UpdatedAt,
	}
	if err := stores.Entities().CreateCommit(ctx, commit); err != nil {
		return fmt.Errorf("recording commit: %w", err)
	}

	slog.InfoContext(ctx, "entity updated",
		"entity_type", entity.Type,
		"entity_id", entity.ID,
		"version", entity.Version,
		"is_suggestion", isSuggestion)
	return nil
}

func (u *contentUpdater) createFromSuggestion(ctx context.Context, stores StoreProvider, authorID string, payload model.AddPayload) (*model.Entity, error) {
	data, err := payload.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSuggestion, err)
	}
	entity := &model.Entity{
		Type:     payload.EntityType,
		Title:    data.Title,
		OwnerIDs: []string{authorID},
		States:   data.States,
	}
	if err := u.create(ctx, stores, entity); err != nil {
		return nil, err
	}
	return entity, nil
}
