package model

import (
	"encoding/json"
	"time"
)

// Entity is a versioned content item that threads and suggestions target.
type Entity struct {
	Type      string           `json:"entity_type"`
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Version   int              `json:"version"`
	OwnerIDs  []string         `json:"owner_ids"`
	States    map[string]State `json:"states"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type State struct {
	Content json.RawMessage `json:"content"`
}

func (e *Entity) HasState(name string) bool {
	_, ok := e.States[name]
	return ok
}

func (e *Entity) IsOwner(userID string) bool {
	for _, id := range e.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type EntityCommit struct {
	ID            int64           `json:"id"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Version       int             `json:"version"`
	UserID        string          `json:"user_id"`
	CommitMessage string          `json:"commit_message"`
	Change        json.RawMessage `json:"change"`
	IsSuggestion  bool            `json:"is_suggestion"`
	CreatedAt     time.Time       `json:"created_at"`
}
