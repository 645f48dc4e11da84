package model

import "time"

// UnsentFeedbackEmail accumulates message references for one recipient's
// next batch email.
type UnsentFeedbackEmail struct {
	UserID     string             `json:"user_id"`
	References []MessageReference `json:"references"`
	Retries    int                `json:"retries"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (u *UnsentFeedbackEmail) IsEmpty() bool {
	return u == nil || len(u.References) == 0
}
