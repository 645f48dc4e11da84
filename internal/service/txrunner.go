package service

import (
	"context"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/store"
)

// StoreProvider exposes the stores used by services and jobs, bound either to
// the pool or to one transaction.
type StoreProvider interface {
	Threads() store.ThreadStore
	Messages() store.MessageStore
	ThreadUsers() store.ThreadUserStore
	Subscriptions() store.SubscriptionStore
	Users() store.UserStore
	Entities() store.EntityStore
	UnsentEmails() store.UnsentEmailStore
	Analytics() store.AnalyticsStore
	Suggestions() store.SuggestionStore
	Scores() store.ScoreStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(tx db.DBTX) error {
		return fn(store.NewStores(tx))
	})
}
