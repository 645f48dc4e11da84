package service

import (
	"context"
	"errors"
	"fmt"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store"
)

// SuggestionValidator decides whether a suggestion can still be applied to
// the current version of its target. A false result carries the reason.
type SuggestionValidator interface {
	Validate(ctx context.Context, stores StoreProvider, s *model.Suggestion) (bool, string, error)
}

// StateValidator checks that the state an edit-state-content suggestion
// targets still exists on the entity.
type StateValidator struct{}

func (StateValidator) Validate(ctx context.Context, stores StoreProvider, s *model.Suggestion) (bool, string, error) {
	if s.SuggestionType != model.SuggestionTypeEdit || s.SubType != model.SubTypeEditStateContent {
		return true, "", nil
	}
	edit, ok := s.Payload.(model.EditPayload)
	if !ok {
		return false, "suggestion payload is not an edit", nil
	}

	entity, err := stores.Entities().GetByID(ctx, s.EntityType, edit.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		return false, fmt.Sprintf("%s %s no longer exists", s.EntityType, edit.EntityID), nil
	}
	if err != nil {
		return false, "", fmt.Errorf("getting target entity: %w", err)
	}
	if !entity.HasState(edit.ChangeList.StateName) {
		return false, fmt.Sprintf("state %q no longer exists", edit.ChangeList.StateName), nil
	}
	return true, "", nil
}
