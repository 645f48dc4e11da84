package model

import (
	"strconv"
	"time"
)

type Message struct {
	ThreadID       string        `json:"thread_id"`
	MessageID      int           `json:"message_id"`
	AuthorID       *string       `json:"author_id,omitempty"`
	UpdatedStatus  *ThreadStatus `json:"updated_status,omitempty"`
	UpdatedSubject *string       `json:"updated_subject,omitempty"`
	Text           string        `json:"text"`
	CreatedOn      time.Time     `json:"created_on"`
}

// FullID is the datastore key of the message: "<thread_id>.<message_id>".
func (m *Message) FullID() string {
	return m.ThreadID + "." + strconv.Itoa(m.MessageID)
}

// MessageReference points at one message awaiting a batch email.
type MessageReference struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ThreadID   string `json:"thread_id"`
	MessageID  int    `json:"message_id"`
}

// ThreadUser is the per-user read state of one thread.
type ThreadUser struct {
	UserID         string `json:"user_id"`
	ThreadID       string `json:"thread_id"`
	MessageIDsRead []int  `json:"message_ids_read"`
}

func (t *ThreadUser) HasRead(messageID int) bool {
	if t == nil {
		return false
	}
	for _, id := range t.MessageIDsRead {
		if id == messageID {
			return true
		}
	}
	return false
}

// MarkRead unions ids into the read set, keeping first-seen order.
func (t *ThreadUser) MarkRead(ids ...int) {
	for _, id := range ids {
		if !t.HasRead(id) {
			t.MessageIDsRead = append(t.MessageIDsRead, id)
		}
	}
}
