package dto

import "threadline.app/feedback/internal/model"

type CreateEntityRequest struct {
	EntityType string                 `json:"entity_type" binding:"required,max=100"`
	ID         string                 `json:"id" binding:"required,max=255"`
	Title      string                 `json:"title" binding:"required,max=255"`
	OwnerIDs   []string               `json:"owner_ids"`
	States     map[string]model.State `json:"states"`
}

func (r CreateEntityRequest) ToEntity() *model.Entity {
	states := r.States
	if states == nil {
		states = map[string]model.State{}
	}
	owners := r.OwnerIDs
	if owners == nil {
		owners = []string{}
	}
	return &model.Entity{
		Type:     r.EntityType,
		ID:       r.ID,
		Title:    r.Title,
		OwnerIDs: owners,
		States:   states,
	}
}
