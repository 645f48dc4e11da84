package store

import (
	"threadline.app/feedback/core/db"
)

// Stores hands out Postgres-backed stores bound to one connection or transaction.
type Stores struct {
	db db.DBTX
}

func NewStores(conn db.DBTX) *Stores {
	return &Stores{db: conn}
}

func (s *Stores) Threads() ThreadStore {
	return newThreadStore(s.db)
}

func (s *Stores) Messages() MessageStore {
	return newMessageStore(s.db)
}

func (s *Stores) ThreadUsers() ThreadUserStore {
	return newThreadUserStore(s.db)
}

func (s *Stores) Subscriptions() SubscriptionStore {
	return newSubscriptionStore(s.db)
}

func (s *Stores) Users() UserStore {
	return newUserStore(s.db)
}

func (s *Stores) Entities() EntityStore {
	return newEntityStore(s.db)
}

func (s *Stores) UnsentEmails() UnsentEmailStore {
	return newUnsentEmailStore(s.db)
}

func (s *Stores) Analytics() AnalyticsStore {
	return newAnalyticsStore(s.db)
}

func (s *Stores) Suggestions() SuggestionStore {
	return newSuggestionStore(s.db)
}

func (s *Stores) Scores() ScoreStore {
	return newScoreStore(s.db)
}
