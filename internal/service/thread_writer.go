package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"threadline.app/feedback/common"
	"threadline.app/feedback/common/id"
	"threadline.app/feedback/core/config"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/store"
)

type CreateThreadParams struct {
	EntityType    string
	EntityID      string
	AuthorID      *string
	Subject       string
	Text          string
	HasSuggestion bool
}

type CreateMessageParams struct {
	ThreadID       string
	AuthorID       *string
	UpdatedStatus  *model.ThreadStatus
	UpdatedSubject *string
	Text           string
}

// threadWriter creates threads and messages inside a caller's transaction.
// Both the feedback and the suggestion service write through it.
type threadWriter struct {
	cfg config.FeedbackConfig
	now func() time.Time
}

func (w *threadWriter) createThread(ctx context.Context, stores StoreProvider, ob *outbox, p CreateThreadParams) (*model.Thread, *model.Message, error) {
	if p.EntityType == "" || p.EntityID == "" {
		return nil, nil, fmt.Errorf("%w: entity type and id are required", ErrInvalidThread)
	}
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		subject = common.DefaultFeedbackSubject
	}

	now := w.now()
	thread := &model.Thread{
		ID:               model.NewThreadID(p.EntityType, p.EntityID, id.NewSuffix()),
		EntityType:       p.EntityType,
		EntityID:         p.EntityID,
		OriginalAuthorID: p.AuthorID,
		Status:           model.ThreadStatusOpen,
		Subject:          subject,
		HasSuggestion:    p.HasSuggestion,
		MessageCount:     intPtr(0),
		CreatedOn:        now,
		LastUpdated:      now,
	}
	if err := stores.Threads().Create(ctx, thread); err != nil {
		return nil, nil, fmt.Errorf("creating thread: %w", err)
	}

	if p.EntityType == w.cfg.PrimaryEntityType {
		ob.enqueue(queue.Task{
			TaskType:   queue.TaskTypeThreadCreated,
			EntityType: thread.EntityType,
			EntityID:   thread.EntityID,
			ThreadID:   thread.ID,
		})
	}

	status := model.ThreadStatusOpen
	msg, err := w.createMessage(ctx, stores, ob, thread, CreateMessageParams{
		ThreadID:       thread.ID,
		AuthorID:       p.AuthorID,
		UpdatedStatus:  &status,
		UpdatedSubject: &subject,
		Text:           p.Text,
	})
	if err != nil {
		return nil, nil, err
	}
	return thread, msg, nil
}

// createMessage appends a message to thread and applies its status and
// subject updates. thread must have been read with lockThread in the same
// transaction; it is updated in place.
func (w *threadWriter) createMessage(ctx context.Context, stores StoreProvider, ob *outbox, thread *model.Thread, p CreateMessageParams) (*model.Message, error) {
	if p.UpdatedStatus != nil && !p.UpdatedStatus.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidThread, *p.UpdatedStatus)
	}

	messageID, err := w.nextMessageID(ctx, stores, thread)
	if err != nil {
		return nil, err
	}

	now := w.now()
	msg := &model.Message{
		ThreadID:       thread.ID,
		MessageID:      messageID,
		AuthorID:       p.AuthorID,
		UpdatedStatus:  p.UpdatedStatus,
		UpdatedSubject: p.UpdatedSubject,
		Text:           p.Text,
		CreatedOn:      now,
	}
	if err := stores.Messages().Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	oldStatus := thread.Status
	statusChanged := p.UpdatedStatus != nil && *p.UpdatedStatus != thread.Status
	subjectChanged := p.UpdatedSubject != nil && *p.UpdatedSubject != thread.Subject
	if statusChanged {
		thread.Status = *p.UpdatedStatus
	}
	if subjectChanged {
		thread.Subject = *p.UpdatedSubject
	}
	thread.MessageCount = intPtr(messageID + 1)
	thread.LastUpdated = now
	if err := stores.Threads().Update(ctx, thread); err != nil {
		return nil, fmt.Errorf("updating thread: %w", err)
	}

	if p.AuthorID != nil {
		if err := w.recordAuthorActivity(ctx, stores, *p.AuthorID, msg); err != nil {
			return nil, err
		}
	}

	if statusChanged {
		ob.enqueue(queue.Task{
			TaskType:   queue.TaskTypeThreadStatusChanged,
			EntityType: thread.EntityType,
			EntityID:   thread.EntityID,
			ThreadID:   thread.ID,
			OldStatus:  string(oldStatus),
			NewStatus:  string(thread.Status),
		})
	}
	if subjectChanged {
		ob.enqueue(queue.Task{
			TaskType:   queue.TaskTypeThreadSubjectChanged,
			EntityType: thread.EntityType,
			EntityID:   thread.EntityID,
			ThreadID:   thread.ID,
		})
	}

	var change *statusChange
	if statusChanged {
		change = &statusChange{old: oldStatus, new: thread.Status}
	}
	if err := w.enqueueEmails(ctx, stores, ob, thread, msg, change); err != nil {
		return nil, err
	}
	return msg, nil
}

// nextMessageID reads the thread's stored counter, falling back to one past
// the highest stored message id for threads that predate the counter.
func (w *threadWriter) nextMessageID(ctx context.Context, stores StoreProvider, thread *model.Thread) (int, error) {
	if thread.MessageCount != nil {
		return *thread.MessageCount, nil
	}
	stats, err := stores.Messages().Stats(ctx, []string{thread.ID})
	if err != nil {
		return 0, fmt.Errorf("reading message stats: %w", err)
	}
	return stats[thread.ID].MaxMessageID + 1, nil
}

func (w *threadWriter) recordAuthorActivity(ctx context.Context, stores StoreProvider, authorID string, msg *model.Message) error {
	if err := stores.Subscriptions().Subscribe(ctx, authorID, msg.ThreadID); err != nil {
		return fmt.Errorf("subscribing author: %w", err)
	}
	if err := stores.ThreadUsers().MarkRead(ctx, authorID, msg.ThreadID, []int{msg.MessageID}); err != nil {
		return fmt.Errorf("saving read state: %w", err)
	}
	return nil
}

type statusChange struct {
	old model.ThreadStatus
	new model.ThreadStatus
}

// enqueueEmails routes a new message to its recipients. Entity owners get
// the message added to their batch email; other subscribers get an instant
// email. Anonymous messages notify nobody.
func (w *threadWriter) enqueueEmails(ctx context.Context, stores StoreProvider, ob *outbox, thread *model.Thread, msg *model.Message, change *statusChange) error {
	if !w.cfg.FeedbackEmailsEnabled() || msg.AuthorID == nil {
		return nil
	}
	authorID := *msg.AuthorID

	batch, instant, err := w.recipients(ctx, stores, thread, authorID)
	if err != nil {
		return err
	}

	if msg.Text != "" {
		ref := model.MessageReference{
			EntityType: thread.EntityType,
			EntityID:   thread.EntityID,
			ThreadID:   thread.ID,
			MessageID:  msg.MessageID,
		}
		for _, userID := range batch {
			if err := w.addToBatch(ctx, stores, ob, userID, ref); err != nil {
				return err
			}
		}
		for _, userID := range instant {
			ob.enqueue(queue.Task{
				TaskType:    queue.TaskTypeInstantEmail,
				RecipientID: userID,
				EntityType:  thread.EntityType,
				EntityID:    thread.EntityID,
				ThreadID:    thread.ID,
				MessageID:   intPtr(msg.MessageID),
			})
		}
	}

	if change != nil {
		for _, userID := range instant {
			ob.enqueue(queue.Task{
				TaskType:    queue.TaskTypeInstantEmail,
				RecipientID: userID,
				EntityType:  thread.EntityType,
				EntityID:    thread.EntityID,
				ThreadID:    thread.ID,
				MessageID:   intPtr(msg.MessageID),
				OldStatus:   string(change.old),
				NewStatus:   string(change.new),
			})
		}
	}
	return nil
}

// recipients splits the audience of a message into batch recipients (the
// entity owners) and instant recipients (every other subscriber), dropping
// the author and anyone whose preferences mute the entity.
func (w *threadWriter) recipients(ctx context.Context, stores StoreProvider, thread *model.Thread, authorID string) (batch, instant []string, err error) {
	var owners []string
	entity, err := stores.Entities().GetByID(ctx, thread.EntityType, thread.EntityID)
	switch {
	case err == nil:
		owners = entity.OwnerIDs
	case !errors.Is(err, store.ErrNotFound):
		return nil, nil, fmt.Errorf("getting entity: %w", err)
	}

	subscribers, err := stores.Subscriptions().ListSubscribers(ctx, thread.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing subscribers: %w", err)
	}

	isBatch := map[string]bool{}
	for _, uid := range owners {
		if uid != authorID && !isBatch[uid] {
			isBatch[uid] = true
			batch = append(batch, uid)
		}
	}
	seen := map[string]bool{}
	for _, uid := range subscribers {
		if uid != authorID && !isBatch[uid] && !seen[uid] {
			seen[uid] = true
			instant = append(instant, uid)
		}
	}

	if batch, err = w.filterMuted(ctx, stores, thread, batch); err != nil {
		return nil, nil, err
	}
	if instant, err = w.filterMuted(ctx, stores, thread, instant); err != nil {
		return nil, nil, err
	}
	return batch, instant, nil
}

func (w *threadWriter) filterMuted(ctx context.Context, stores StoreProvider, thread *model.Thread, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	users, err := stores.Users().GetByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("getting recipients: %w", err)
	}

	var out []string
	for _, uid := range userIDs {
		u, ok := users[uid]
		if !ok || !u.CanReceiveFeedbackMessageEmail {
			continue
		}
		muted, err := isMuted(ctx, stores, uid, thread.EntityType, thread.EntityID)
		if err != nil {
			return nil, err
		}
		if !muted {
			out = append(out, uid)
		}
	}
	return out, nil
}

func isMuted(ctx context.Context, stores StoreProvider, userID, entityType, entityID string) (bool, error) {
	pref, err := stores.Users().GetEntityPreference(ctx, userID, entityType, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting entity preference: %w", err)
	}
	return pref.MuteFeedbackNotifications, nil
}

// addToBatch appends ref to the recipient's pending batch. Creating the
// accumulator schedules its batch email; later references ride along.
func (w *threadWriter) addToBatch(ctx context.Context, stores StoreProvider, ob *outbox, userID string, ref model.MessageReference) error {
	now := w.now()
	created, err := stores.UnsentEmails().AppendReference(ctx, userID, ref, now)
	if err != nil {
		return fmt.Errorf("saving unsent email: %w", err)
	}
	if created {
		ob.schedule(queue.Task{
			TaskType:    queue.TaskTypeBatchEmail,
			RecipientID: userID,
		}, now.Add(w.cfg.BatchEmailCountdown))
	}
	return nil
}

func intPtr(v int) *int {
	return &v
}
