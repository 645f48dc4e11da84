package store

import (
	"context"
	"errors"
	"time"

	"threadline.app/feedback/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a create collides with an existing key
var ErrConflict = errors.New("already exists")

// EntityKey identifies a content entity across types.
type EntityKey struct {
	Type string
	ID   string
}

// MessageStat summarises the stored messages of one thread.
type MessageStat struct {
	ThreadID     string
	Count        int
	MaxMessageID int // -1 when the thread has no messages
}

// ThreadStore defines the contract for feedback thread data access
type ThreadStore interface {
	Create(ctx context.Context, thread *model.Thread) error
	GetByID(ctx context.Context, id string) (*model.Thread, error)
	// GetForUpdate reads the thread and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*model.Thread, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Thread, error)
	// ListByEntity returns threads newest-updated first. A nil hasSuggestion matches all.
	ListByEntity(ctx context.Context, entityType, entityID string, hasSuggestion *bool) ([]model.Thread, error)
	ListByEntities(ctx context.Context, keys []EntityKey) ([]model.Thread, error)
	Update(ctx context.Context, thread *model.Thread) error
	// UpdateSubject rewrites the subject only; last_updated is left as is.
	UpdateSubject(ctx context.Context, id, subject string) error
	UpdateMessageCount(ctx context.Context, id string, count int) error
	ListAfter(ctx context.Context, afterID string, limit int) ([]model.Thread, error)
	ListBySubjectAfter(ctx context.Context, subject, afterID string, limit int) ([]model.Thread, error)
	ListEntityKeysAfter(ctx context.Context, after EntityKey, limit int) ([]EntityKey, error)
}

// MessageStore defines the contract for feedback message data access
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, threadID string, messageID int) (*model.Message, error)
	ListByThread(ctx context.Context, threadID string) ([]model.Message, error)
	// GetMulti returns the messages that exist among refs, keyed by full message id.
	GetMulti(ctx context.Context, refs []model.MessageReference) (map[string]model.Message, error)
	Stats(ctx context.Context, threadIDs []string) (map[string]MessageStat, error)
	Delete(ctx context.Context, threadID string, messageID int) error
}

// ThreadUserStore defines the contract for per-user read state
type ThreadUserStore interface {
	Get(ctx context.Context, userID, threadID string) (*model.ThreadUser, error)
	GetMulti(ctx context.Context, userID string, threadIDs []string) (map[string]*model.ThreadUser, error)
	Upsert(ctx context.Context, tu *model.ThreadUser) error
	// MarkRead unions messageIDs into the stored read set in one statement,
	// creating the row when missing.
	MarkRead(ctx context.Context, userID, threadID string, messageIDs []int) error
}

// SubscriptionStore defines the contract for thread participation
type SubscriptionStore interface {
	Subscribe(ctx context.Context, userID, threadID string) error
	ListSubscribers(ctx context.Context, threadID string) ([]string, error)
}

// UserStore defines the contract for user and notification preference data access
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
	Upsert(ctx context.Context, user *model.User) error
	GetEntityPreference(ctx context.Context, userID, entityType, entityID string) (*model.EntityPreference, error)
	SetEntityPreference(ctx context.Context, pref *model.EntityPreference) error
}

// EntityStore defines the contract for versioned content entities
type EntityStore interface {
	GetByID(ctx context.Context, entityType, id string) (*model.Entity, error)
	GetByIDs(ctx context.Context, entityType string, ids []string) (map[string]*model.Entity, error)
	Create(ctx context.Context, entity *model.Entity) error
	Update(ctx context.Context, entity *model.Entity) error
	CreateCommit(ctx context.Context, commit *model.EntityCommit) error
	ListCommits(ctx context.Context, entityType, id string) ([]model.EntityCommit, error)
}

// UnsentEmailStore defines the contract for pending batch email accumulators
type UnsentEmailStore interface {
	Get(ctx context.Context, userID string) (*model.UnsentFeedbackEmail, error)
	// GetForUpdate reads the accumulator and locks its row until the
	// transaction ends.
	GetForUpdate(ctx context.Context, userID string) (*model.UnsentFeedbackEmail, error)
	// AppendReference adds ref to the end of the user's references in one
	// statement. created reports whether the accumulator did not exist before.
	AppendReference(ctx context.Context, userID string, ref model.MessageReference, at time.Time) (created bool, err error)
	Upsert(ctx context.Context, email *model.UnsentFeedbackEmail) error
	Delete(ctx context.Context, userID string) error
	ListUserIDsAfter(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

// AnalyticsStore defines the contract for precomputed thread analytics
type AnalyticsStore interface {
	// GetMulti returns rows for the ids that have been computed; others are absent.
	GetMulti(ctx context.Context, entityType string, entityIDs []string) ([]model.ThreadAnalytics, error)
	Upsert(ctx context.Context, a *model.ThreadAnalytics) error
}

// SuggestionFilter narrows a suggestion query; nil fields match everything.
type SuggestionFilter struct {
	AuthorID           *string
	FinalReviewerID    *string
	AssignedReviewerID *string
	TargetID           *string
	Status             *model.SuggestionStatus
	Type               *model.SuggestionType
}

// SuggestionStore defines the contract for suggestion data access
type SuggestionStore interface {
	Create(ctx context.Context, s *model.Suggestion) error
	GetByID(ctx context.Context, id string) (*model.Suggestion, error)
	GetByThreadID(ctx context.Context, threadID string) (*model.Suggestion, error)
	Update(ctx context.Context, s *model.Suggestion) error
	List(ctx context.Context, filter SuggestionFilter) ([]model.Suggestion, error)
	ListAuthorsAfter(ctx context.Context, afterAuthorID string, limit int) ([]string, error)
	ListByAuthors(ctx context.Context, authorIDs []string) ([]model.Suggestion, error)
}

// ScoreStore defines the contract for contribution scores
type ScoreStore interface {
	// Upsert replaces the score for the (user, category) pair.
	Upsert(ctx context.Context, score *model.ContributionScore) error
	ListByUser(ctx context.Context, userID string) ([]model.ContributionScore, error)
}
