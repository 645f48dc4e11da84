package model

import "time"

type ThreadAnalytics struct {
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	NumOpenThreads  int       `json:"num_open_threads"`
	NumTotalThreads int       `json:"num_total_threads"`
	ComputedAt      time.Time `json:"computed_at"`
}

type ContributionScore struct {
	UserID        string    `json:"user_id"`
	ScoreCategory string    `json:"score_category"`
	Score         int       `json:"score"`
	UpdatedAt     time.Time `json:"updated_at"`
}
