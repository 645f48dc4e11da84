package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"threadline.app/feedback/common/logger"
	"threadline.app/feedback/core/config"
	"threadline.app/feedback/internal/email"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/store"
)

// NotificationService composes and sends feedback emails for queued tasks.
type NotificationService interface {
	// SendBatchEmail sends the recipient's pending digest. Send failures are
	// recorded on the accumulator and retried by a rescheduled task, so they
	// are not returned.
	SendBatchEmail(ctx context.Context, recipientID string) error
	// SendInstantEmail sends one single-message email. Failures are returned
	// so the task is retried.
	SendInstantEmail(ctx context.Context, task queue.Task) error
}

type notificationService struct {
	stores   StoreProvider
	tx       TxRunner
	tasks    TaskQueue
	sender   email.Sender
	renderer *email.Renderer
	cfg      config.FeedbackConfig
	now      func() time.Time
}

func NewNotificationService(stores StoreProvider, tx TxRunner, tasks TaskQueue, sender email.Sender, renderer *email.Renderer, cfg config.FeedbackConfig) NotificationService {
	return &notificationService{
		stores:   stores,
		tx:       tx,
		tasks:    tasks,
		sender:   sender,
		renderer: renderer,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *notificationService) SendBatchEmail(ctx context.Context, recipientID string) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{RecipientID: &recipientID})

	acc, err := s.stores.UnsentEmails().Get(ctx, recipientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting unsent email: %w", err)
	}
	if !s.cfg.FeedbackEmailsEnabled() {
		slog.InfoContext(ctx, "feedback emails disabled, keeping pending batch")
		return nil
	}

	user, err := s.stores.Users().GetByID(ctx, recipientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("getting recipient: %w", err)
	}
	if user == nil || !user.CanReceiveFeedbackMessageEmail || user.Email == "" {
		slog.InfoContext(ctx, "recipient cannot receive feedback emails, discarding pending batch",
			"references", len(acc.References))
		return s.tx.WithTx(ctx, func(stores StoreProvider) error {
			return stores.UnsentEmails().Delete(ctx, recipientID)
		})
	}

	digest, err := s.buildDigest(ctx, user, acc.References)
	if err != nil {
		return err
	}

	if digest.MessageCount() > 0 {
		msg, err := s.renderer.Digest(user.Email, user.Username, digest)
		if err != nil {
			return fmt.Errorf("rendering digest: %w", err)
		}
		if err := s.sender.Send(ctx, msg); err != nil {
			return s.recordBatchFailure(ctx, recipientID, err)
		}
		slog.InfoContext(ctx, "batch feedback email sent", "messages", digest.MessageCount())
	}

	return s.popReferences(ctx, recipientID, acc.References)
}

// buildDigest groups the unread, still existing messages among refs by
// entity title, keeping reference order.
func (s *notificationService) buildDigest(ctx context.Context, user *model.User, refs []model.MessageReference) (email.DigestData, error) {
	digest := email.DigestData{RecipientName: user.Username}

	messages, err := s.stores.Messages().GetMulti(ctx, refs)
	if err != nil {
		return digest, fmt.Errorf("getting messages: %w", err)
	}

	threadIDs := make([]string, 0, len(refs))
	idsByType := map[string][]string{}
	for _, ref := range refs {
		threadIDs = append(threadIDs, ref.ThreadID)
		idsByType[ref.EntityType] = append(idsByType[ref.EntityType], ref.EntityID)
	}
	readStates, err := s.stores.ThreadUsers().GetMulti(ctx, user.ID, threadIDs)
	if err != nil {
		return digest, fmt.Errorf("getting read state: %w", err)
	}
	titles, err := entityTitles(ctx, s.stores, idsByType)
	if err != nil {
		return digest, err
	}

	groupIdx := map[string]int{}
	for _, ref := range refs {
		m, ok := messages[fullMessageID(ref.ThreadID, ref.MessageID)]
		if !ok || readStates[ref.ThreadID].HasRead(ref.MessageID) {
			continue
		}
		title := titles[store.EntityKey{Type: ref.EntityType, ID: ref.EntityID}]
		i, ok := groupIdx[title]
		if !ok {
			i = len(digest.Groups)
			groupIdx[title] = i
			digest.Groups = append(digest.Groups, email.DigestGroup{EntityTitle: title})
		}
		digest.Groups[i].Messages = append(digest.Groups[i].Messages, m.Text)
	}
	return digest, nil
}

// popReferences removes the handled references from the accumulator and
// resets its retries. References that arrived meanwhile stay and get a new
// batch task.
func (s *notificationService) popReferences(ctx context.Context, recipientID string, handled []model.MessageReference) error {
	done := make(map[model.MessageReference]bool, len(handled))
	for _, ref := range handled {
		done[ref] = true
	}

	ob := &outbox{}
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		acc, err := stores.UnsentEmails().GetForUpdate(ctx, recipientID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting unsent email: %w", err)
		}

		remaining := acc.References[:0]
		for _, ref := range acc.References {
			if !done[ref] {
				remaining = append(remaining, ref)
			}
		}
		if len(remaining) == 0 {
			return stores.UnsentEmails().Delete(ctx, recipientID)
		}

		acc.References = remaining
		acc.Retries = 0
		acc.UpdatedAt = s.now()
		if err := stores.UnsentEmails().Upsert(ctx, acc); err != nil {
			return fmt.Errorf("saving unsent email: %w", err)
		}
		ob.schedule(queue.Task{TaskType: queue.TaskTypeBatchEmail, RecipientID: recipientID},
			acc.UpdatedAt.Add(s.cfg.BatchEmailCountdown))
		return nil
	})
	if err != nil {
		return err
	}
	ob.flush(ctx, s.tasks)
	return nil
}

func (s *notificationService) recordBatchFailure(ctx context.Context, recipientID string, sendErr error) error {
	ob := &outbox{}
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		acc, err := stores.UnsentEmails().GetForUpdate(ctx, recipientID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting unsent email: %w", err)
		}

		acc.Retries++
		if acc.Retries >= s.cfg.MaxBatchEmailRetries {
			slog.ErrorContext(ctx, "batch feedback email failed too many times, discarding",
				"error", sendErr,
				"retries", acc.Retries,
				"references", len(acc.References))
			return stores.UnsentEmails().Delete(ctx, recipientID)
		}

		acc.UpdatedAt = s.now()
		if err := stores.UnsentEmails().Upsert(ctx, acc); err != nil {
			return fmt.Errorf("saving unsent email: %w", err)
		}
		slog.WarnContext(ctx, "batch feedback email failed, will retry",
			"error", sendErr,
			"retries", acc.Retries)
		ob.schedule(queue.Task{TaskType: queue.TaskTypeBatchEmail, RecipientID: recipientID},
			acc.UpdatedAt.Add(s.cfg.BatchEmailCountdown))
		return nil
	})
	if err != nil {
		return err
	}
	ob.flush(ctx, s.tasks)
	return nil
}

func (s *notificationService) SendInstantEmail(ctx context.Context, task queue.Task) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RecipientID: &task.RecipientID,
		ThreadID:    &task.ThreadID,
	})
	if !s.cfg.FeedbackEmailsEnabled() {
		return nil
	}

	user, err := s.stores.Users().GetByID(ctx, task.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "instant email recipient not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting recipient: %w", err)
	}
	if !user.CanReceiveFeedbackMessageEmail || user.Email == "" {
		return nil
	}
	muted, err := isMuted(ctx, s.stores, user.ID, task.EntityType, task.EntityID)
	if err != nil {
		return err
	}
	if muted {
		return nil
	}

	thread, err := s.stores.Threads().GetByID(ctx, task.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "instant email thread not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting thread: %w", err)
	}

	data := email.InstantData{
		RecipientName: user.Username,
		ThreadSubject: thread.Subject,
		OldStatus:     task.OldStatus,
		NewStatus:     task.NewStatus,
	}

	titles, err := entityTitles(ctx, s.stores, map[string][]string{thread.EntityType: {thread.EntityID}})
	if err != nil {
		return err
	}
	data.EntityTitle = titles[store.EntityKey{Type: thread.EntityType, ID: thread.EntityID}]

	if task.MessageID != nil {
		msg, err := s.stores.Messages().Get(ctx, task.ThreadID, *task.MessageID)
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "instant email message was deleted", "message_id", *task.MessageID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting message: %w", err)
		}
		if !task.IsStatusChange() {
			data.MessageText = msg.Text
		}
		data.AuthorName = usernameOf(ctx, s.stores, msg.AuthorID)
	}

	out, err := s.renderer.Instant(user.Email, user.Username, data)
	if err != nil {
		return fmt.Errorf("rendering instant email: %w", err)
	}
	if err := s.sender.Send(ctx, out); err != nil {
		return fmt.Errorf("sending instant email: %w", err)
	}
	slog.InfoContext(ctx, "instant feedback email sent", "status_change", task.IsStatusChange())
	return nil
}

// entityTitles looks up display titles. Entities that cannot be found fall
// back to their id.
func entityTitles(ctx context.Context, stores StoreProvider, idsByType map[string][]string) (map[store.EntityKey]string, error) {
	out := map[store.EntityKey]string{}
	for entityType, ids := range idsByType {
		entities, err := stores.Entities().GetByIDs(ctx, entityType, ids)
		if err != nil {
			return nil, fmt.Errorf("getting entities: %w", err)
		}
		for _, entityID := range ids {
			key := store.EntityKey{Type: entityType, ID: entityID}
			if e, ok := entities[entityID]; ok && e.Title != "" {
				out[key] = e.Title
			} else {
				out[key] = entityID
			}
		}
	}
	return out, nil
}

func usernameOf(ctx context.Context, stores StoreProvider, userID *string) string {
	if userID == nil {
		return "Anonymous"
	}
	u, err := stores.Users().GetByID(ctx, *userID)
	if err != nil || u.Username == "" {
		return *userID
	}
	return u.Username
}
