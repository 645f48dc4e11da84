// Package memory is an in-process implementation of every store interface,
// with snapshot transactions. It backs service and job tests.
package memory

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
)

type userThreadKey struct{ userID, threadID string }

type prefKey struct{ userID, entityType, entityID string }

type scoreKey struct{ userID, category string }

type state struct {
	threads       map[string]model.Thread
	messages      map[string]map[int]model.Message
	threadUsers   map[userThreadKey]model.ThreadUser
	subscriptions map[string][]string
	users         map[string]model.User
	prefs         map[prefKey]model.EntityPreference
	entities      map[store.EntityKey]model.Entity
	commits       []model.EntityCommit
	unsent        map[string]model.UnsentFeedbackEmail
	analytics     map[store.EntityKey]model.ThreadAnalytics
	suggestions   map[string]model.Suggestion
	scores        map[scoreKey]model.ContributionScore
}

func newState() *state {
	return &state{
		threads:       map[string]model.Thread{},
		messages:      map[string]map[int]model.Message{},
		threadUsers:   map[userThreadKey]model.ThreadUser{},
		subscriptions: map[string][]string{},
		users:         map[string]model.User{},
		prefs:         map[prefKey]model.EntityPreference{},
		entities:      map[store.EntityKey]model.Entity{},
		unsent:        map[string]model.UnsentFeedbackEmail{},
		analytics:     map[store.EntityKey]model.ThreadAnalytics{},
		suggestions:   map[string]model.Suggestion{},
		scores:        map[scoreKey]model.ContributionScore{},
	}
}

// clone copies every table. Records are stored by value and their slices
// are copied on write, so a shallow copy per table is enough.
func (s *state) clone() *state {
	c := &state{
		threads:       maps.Clone(s.threads),
		messages:      make(map[string]map[int]model.Message, len(s.messages)),
		threadUsers:   maps.Clone(s.threadUsers),
		subscriptions: make(map[string][]string, len(s.subscriptions)),
		users:         maps.Clone(s.users),
		prefs:         maps.Clone(s.prefs),
		entities:      maps.Clone(s.entities),
		commits:       slices.Clone(s.commits),
		unsent:        maps.Clone(s.unsent),
		analytics:     maps.Clone(s.analytics),
		suggestions:   maps.Clone(s.suggestions),
		scores:        maps.Clone(s.scores),
	}
	for k, v := range s.messages {
		c.messages[k] = maps.Clone(v)
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = slices.Clone(v)
	}
	return c
}

// Store is safe for concurrent use. Transactions are serialised and applied
// atomically on success.
type Store struct {
	mu sync.Mutex
	st *state

	// FailNextTx makes the next WithTx call fail after fn succeeds, without
	// applying its writes.
	FailNextTx error
}

func New() *Store {
	return &Store{st: newState()}
}

var _ service.TxRunner = (*Store)(nil)
var _ service.StoreProvider = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(stores service.StoreProvider) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&view{st: snapshot, lock: noLock}); err != nil {
		return err
	}
	if err := s.FailNextTx; err != nil {
		s.FailNextTx = nil
		return err
	}
	s.st = snapshot
	return nil
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func noLock() func() { return func() {} }

func (s *Store) view() *view {
	return &view{st: nil, store: s, lock: s.lock}
}

func (s *Store) Threads() store.ThreadStore             { return &threadStore{s.view()} }
func (s *Store) Messages() store.MessageStore           { return &messageStore{s.view()} }
func (s *Store) ThreadUsers() store.ThreadUserStore     { return &threadUserStore{s.view()} }
func (s *Store) Subscriptions() store.SubscriptionStore { return &subscriptionStore{s.view()} }
func (s *Store) Users() store.UserStore                 { return &userStore{s.view()} }
func (s *Store) Entities() store.EntityStore            { return &entityStore{s.view()} }
func (s *Store) UnsentEmails() store.UnsentEmailStore   { return &unsentEmailStore{s.view()} }
func (s *Store) Analytics() store.AnalyticsStore        { return &analyticsStore{s.view()} }
func (s *Store) Suggestions() store.SuggestionStore     { return &suggestionStore{s.view()} }
func (s *Store) Scores() store.ScoreStore               { return &scoreStore{s.view()} }

// view resolves the state to operate on: the fixed snapshot inside a
// transaction, or the store's current state outside one.
type view struct {
	st    *state
	store *Store
	lock  func() func()
}

func (v *view) state() *state {
	if v.st != nil {
		return v.st
	}
	return v.store.st
}

func (v *view) Threads() store.ThreadStore             { return &threadStore{v} }
func (v *view) Messages() store.MessageStore           { return &messageStore{v} }
func (v *view) ThreadUsers() store.ThreadUserStore     { return &threadUserStore{v} }
func (v *view) Subscriptions() store.SubscriptionStore { return &subscriptionStore{v} }
func (v *view) Users() store.UserStore                 { return &userStore{v} }
func (v *view) Entities() store.EntityStore            { return &entityStore{v} }
func (v *view) UnsentEmails() store.UnsentEmailStore   { return &unsentEmailStore{v} }
func (v *view) Analytics() store.AnalyticsStore        { return &analyticsStore{v} }
func (v *view) Suggestions() store.SuggestionStore     { return &suggestionStore{v} }
func (v *view) Scores() store.ScoreStore               { return &scoreStore{v} }

func copyEntity(e model.Entity) model.Entity {
	e.OwnerIDs = slices.Clone(e.OwnerIDs)
	e.States = maps.Clone(e.States)
	return e
}

func copyRaw(r json.RawMessage) json.RawMessage {
	return slices.Clone(r)
}
