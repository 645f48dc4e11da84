package model

import "time"

type User struct {
	ID                             string    `json:"id"`
	Username                       string    `json:"username"`
	Email                          string    `json:"email"`
	CanReceiveFeedbackMessageEmail bool      `json:"can_receive_feedback_message_email"`
	CreatedAt                      time.Time `json:"created_at"`
}

// EntityPreference holds a user's per-entity notification settings.
type EntityPreference struct {
	UserID                    string `json:"user_id"`
	EntityType                string `json:"entity_type"`
	EntityID                  string `json:"entity_id"`
	MuteFeedbackNotifications bool   `json:"mute_feedback_notifications"`
}
