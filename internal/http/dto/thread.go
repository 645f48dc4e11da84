package dto

import (
	"time"

	"threadline.app/feedback/internal/model"
)

type CreateThreadRequest struct {
	EntityType string `json:"entity_type" binding:"required,max=100"`
	EntityID   string `json:"entity_id" binding:"required,max=255"`
	Subject    string `json:"subject" binding:"max=255"`
	Text       string `json:"text"`
}

type CreateMessageRequest struct {
	UpdatedStatus  *model.ThreadStatus `json:"updated_status,omitempty"`
	UpdatedSubject *string             `json:"updated_subject,omitempty" binding:"omitempty,max=255"`
	Text           string              `json:"text"`
}

type MarkReadRequest struct {
	MessageIDs []int `json:"message_ids" binding:"required,min=1,dive,min=0"`
}

type ThreadSummariesRequest struct {
	ThreadIDs []string `json:"thread_ids" binding:"required"`
}

type ThreadResponse struct {
	ID               string             `json:"id"`
	EntityType       string             `json:"entity_type"`
	EntityID         string             `json:"entity_id"`
	OriginalAuthorID *string            `json:"original_author_id,omitempty"`
	Status           model.ThreadStatus `json:"status"`
	Subject          string             `json:"subject"`
	Summary          *string            `json:"summary,omitempty"`
	HasSuggestion    bool               `json:"has_suggestion"`
	MessageCount     int                `json:"message_count"`
	CreatedOn        time.Time          `json:"created_on"`
	LastUpdated      time.Time          `json:"last_updated"`
}

func ToThreadResponse(t *model.Thread) ThreadResponse {
	resp := ThreadResponse{
		ID:               t.ID,
		EntityType:       t.EntityType,
		EntityID:         t.EntityID,
		OriginalAuthorID: t.OriginalAuthorID,
		Status:           t.Status,
		Subject:          t.Subject,
		Summary:          t.Summary,
		HasSuggestion:    t.HasSuggestion,
		CreatedOn:        t.CreatedOn,
		LastUpdated:      t.LastUpdated,
	}
	if t.MessageCount != nil {
		resp.MessageCount = *t.MessageCount
	}
	return resp
}

func ToThreadResponses(threads []model.Thread) []ThreadResponse {
	out := make([]ThreadResponse, len(threads))
	for i := range threads {
		out[i] = ToThreadResponse(&threads[i])
	}
	return out
}

type ThreadSummariesResponse struct {
	Summaries             []model.ThreadSummary `json:"summaries"`
	NumberOfUnreadThreads int                   `json:"number_of_unread_threads"`
}

type AnalyticsResponse struct {
	Analytics        []model.ThreadAnalytics `json:"analytics"`
	TotalOpenThreads int                     `json:"total_open_threads"`
}
