package model

import (
	"fmt"
	"strings"
	"time"
)

type ThreadStatus string

const (
	ThreadStatusOpen          ThreadStatus = "open"
	ThreadStatusFixed         ThreadStatus = "fixed"
	ThreadStatusIgnored       ThreadStatus = "ignored"
	ThreadStatusCompliment    ThreadStatus = "compliment"
	ThreadStatusNotActionable ThreadStatus = "not_actionable"
)

func (s ThreadStatus) IsValid() bool {
	switch s {
	case ThreadStatusOpen, ThreadStatusFixed, ThreadStatusIgnored,
		ThreadStatusCompliment, ThreadStatusNotActionable:
		return true
	}
	return false
}

// Thread is a discussion attached to one content entity.
// MessageCount is the next message id to hand out; nil on legacy rows.
type Thread struct {
	ID               string       `json:"id"`
	EntityType       string       `json:"entity_type"`
	EntityID         string       `json:"entity_id"`
	OriginalAuthorID *string      `json:"original_author_id,omitempty"`
	Status           ThreadStatus `json:"status"`
	Subject          string       `json:"subject"`
	Summary          *string      `json:"summary,omitempty"`
	HasSuggestion    bool         `json:"has_suggestion"`
	MessageCount     *int         `json:"message_count,omitempty"`
	CreatedOn        time.Time    `json:"created_on"`
	LastUpdated      time.Time    `json:"last_updated"`
}

// NewThreadID joins the target entity and a unique suffix into a thread id.
func NewThreadID(entityType, entityID, suffix string) string {
	return entityType + "." + entityID + "." + suffix
}

// ParseThreadID splits a thread id into entity type, entity id and suffix.
// Entity ids may themselves contain dots, so the first and last separators delimit.
func ParseThreadID(threadID string) (entityType, entityID, suffix string, err error) {
	first := strings.Index(threadID, ".")
	last := strings.LastIndex(threadID, ".")
	if first <= 0 || last == first || last == len(threadID)-1 {
		return "", "", "", fmt.Errorf("malformed thread id %q", threadID)
	}
	return threadID[:first], threadID[first+1 : last], threadID[last+1:], nil
}

// ThreadSummary is the per-thread digest shown in a user's inbox.
type ThreadSummary struct {
	ThreadID                string       `json:"thread_id"`
	Status                  ThreadStatus `json:"status"`
	OriginalAuthorID        *string      `json:"original_author_id,omitempty"`
	LastUpdated             time.Time    `json:"last_updated"`
	LastMessageText         *string      `json:"last_message_text,omitempty"`
	TotalMessageCount       int          `json:"total_message_count"`
	LastMessageRead         bool         `json:"last_message_read"`
	SecondLastMessageRead   *bool        `json:"second_last_message_read,omitempty"`
	AuthorLastMessage       *string      `json:"author_last_message,omitempty"`
	AuthorSecondLastMessage *string      `json:"author_second_last_message,omitempty"`
	EntityTitle             string       `json:"entity_title"`
}
