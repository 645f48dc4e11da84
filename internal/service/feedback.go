package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"threadline.app/feedback/common/logger"
	"threadline.app/feedback/core/config"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store"
)

type FeedbackService interface {
	CreateThread(ctx context.Context, params CreateThreadParams) (*model.Thread, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (*model.Message, error)
	GetThread(ctx context.Context, threadID string) (*model.Thread, error)
	// GetThreads returns the threads of an entity, most recently updated first.
	GetThreads(ctx context.Context, entityType, entityID string) ([]model.Thread, error)
	GetAllThreads(ctx context.Context, entityType, entityID string, hasSuggestion bool) ([]model.Thread, error)
	GetMessages(ctx context.Context, threadID string) ([]model.Message, error)
	GetMessage(ctx context.Context, threadID string, messageID int) (*model.Message, error)
	// DeleteMessage removes one message. Later messages keep their ids and
	// the thread's next id is unchanged.
	DeleteMessage(ctx context.Context, threadID string, messageID int) error
	// GetThreadSummaries returns one summary per existing thread, in the order
	// requested, and how many of them end with a message userID has not read.
	GetThreadSummaries(ctx context.Context, userID string, threadIDs []string) ([]model.ThreadSummary, int, error)
	UpdateMessagesReadByUser(ctx context.Context, userID, threadID string, messageIDs []int) error
	GetThreadAnalyticsMulti(ctx context.Context, entityType string, entityIDs []string) ([]model.ThreadAnalytics, error)
	GetTotalOpenThreads(ctx context.Context, entityType string, entityIDs []string) (int, error)
}

type feedbackService struct {
	stores StoreProvider
	tx     TxRunner
	tasks  TaskQueue
	writer *threadWriter
}

func NewFeedbackService(stores StoreProvider, tx TxRunner, tasks TaskQueue, cfg config.FeedbackConfig) FeedbackService {
	return &feedbackService{
		stores: stores,
		tx:     tx,
		tasks:  tasks,
		writer: &threadWriter{cfg: cfg, now: func() time.Time { return time.Now().UTC() }},
	}
}

func (s *feedbackService) CreateThread(ctx context.Context, params CreateThreadParams) (*model.Thread, error) {
	var thread *model.Thread
	ob := &outbox{}
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		thread, _, err = s.writer.createThread(ctx, stores, ob, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, s.tasks)

	slog.InfoContext(logger.WithLogFields(ctx, logger.LogFields{ThreadID: &thread.ID}), "feedback thread created",
		"entity_type", thread.EntityType,
		"entity_id", thread.EntityID,
		"anonymous", thread.OriginalAuthorID == nil)
	return thread, nil
}

func (s *feedbackService) CreateMessage(ctx context.Context, params CreateMessageParams) (*model.Message, error) {
	var msg *model.Message
	ob := &outbox{}
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		thread, err := lockThread(ctx, stores, params.ThreadID)
		if err != nil {
			return err
		}
		msg, err = s.writer.createMessage(ctx, stores, ob, thread, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, s.tasks)
	return msg, nil
}

func getThread(ctx context.Context, stores StoreProvider, threadID string) (*model.Thread, error) {
	thread, err := stores.Threads().GetByID(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread: %w", err)
	}
	return thread, nil
}

// lockThread reads the thread and holds its row until the transaction ends,
// so concurrent messages take distinct ids.
func lockThread(ctx context.Context, stores StoreProvider, threadID string) (*model.Thread, error) {
	thread, err := stores.Threads().GetForUpdate(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("locking thread: %w", err)
	}
	return thread, nil
}

func (s *feedbackService) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	return getThread(ctx, s.stores, threadID)
}

func (s *feedbackService) GetThreads(ctx context.Context, entityType, entityID string) ([]model.Thread, error) {
	threads, err := s.stores.Threads().ListByEntity(ctx, entityType, entityID, nil)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return threads, nil
}

func (s *feedbackService) GetAllThreads(ctx context.Context, entityType, entityID string, hasSuggestion bool) ([]model.Thread, error) {
	threads, err := s.stores.Threads().ListByEntity(ctx, entityType, entityID, &hasSuggestion)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return threads, nil
}

func (s *feedbackService) GetMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	if _, err := getThread(ctx, s.stores, threadID); err != nil {
		return nil, err
	}
	msgs, err := s.stores.Messages().ListByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

func (s *feedbackService) GetMessage(ctx context.Context, threadID string, messageID int) (*model.Message, error) {
	msg, err := s.stores.Messages().Get(ctx, threadID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s.%d", ErrMessageNotFound, threadID, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return msg, nil
}

func (s *feedbackService) DeleteMessage(ctx context.Context, threadID string, messageID int) error {
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		err := stores.Messages().Delete(ctx, threadID, messageID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s.%d", ErrMessageNotFound, threadID, messageID)
		}
		return err
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "feedback message deleted", "thread_id", threadID, "message_id", messageID)
	return nil
}

func (s *feedbackService) GetThreadSummaries(ctx context.Context, userID string, threadIDs []string) ([]model.ThreadSummary, int, error) {
	threads, err := s.stores.Threads().GetByIDs(ctx, threadIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("getting threads: %w", err)
	}
	byID := make(map[string]model.Thread, len(threads))
	for _, t := range threads {
		byID[t.ID] = t
	}

	var (
		ordered   []model.Thread
		refs      []model.MessageReference
		found     []string
		idsByType = map[string][]string{}
	)
	for _, tid := range threadIDs {
		t, ok := byID[tid]
		if !ok {
			continue
		}
		ordered = append(ordered, t)
		found = append(found, t.ID)
		idsByType[t.EntityType] = append(idsByType[t.EntityType], t.EntityID)
		total := messageTotal(t)
		for _, mid := range []int{total - 1, total - 2} {
			if mid >= 0 {
				refs = append(refs, model.MessageReference{ThreadID: t.ID, MessageID: mid})
			}
		}
	}

	messages, err := s.stores.Messages().GetMulti(ctx, refs)
	if err != nil {
		return nil, 0, fmt.Errorf("getting messages: %w", err)
	}
	readStates, err := s.stores.ThreadUsers().GetMulti(ctx, userID, found)
	if err != nil {
		return nil, 0, fmt.Errorf("getting read state: %w", err)
	}
	titles, err := entityTitles(ctx, s.stores, idsByType)
	if err != nil {
		return nil, 0, err
	}

	var authorIDs []string
	for _, m := range messages {
		if m.AuthorID != nil {
			authorIDs = append(authorIDs, *m.AuthorID)
		}
	}
	users, err := s.stores.Users().GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("getting authors: %w", err)
	}
	username := func(m model.Message, ok bool) *string {
		if !ok || m.AuthorID == nil {
			return nil
		}
		if u, found := users[*m.AuthorID]; found && u.Username != "" {
			return &u.Username
		}
		return m.AuthorID
	}

	summaries := make([]model.ThreadSummary, 0, len(ordered))
	unread := 0
	for _, t := range ordered {
		total := messageTotal(t)
		tu := readStates[t.ID]
		summary := model.ThreadSummary{
			ThreadID:          t.ID,
			Status:            t.Status,
			OriginalAuthorID:  t.OriginalAuthorID,
			LastUpdated:       t.LastUpdated,
			TotalMessageCount: total,
			EntityTitle:       titles[store.EntityKey{Type: t.EntityType, ID: t.EntityID}],
		}
		if total >= 1 {
			last, ok := messages[fullMessageID(t.ID, total-1)]
			if ok {
				summary.LastMessageText = &last.Text
			}
			summary.AuthorLastMessage = username(last, ok)
			summary.LastMessageRead = tu.HasRead(total - 1)
			if !summary.LastMessageRead {
				unread++
			}
		}
		if total >= 2 {
			second, ok := messages[fullMessageID(t.ID, total-2)]
			summary.AuthorSecondLastMessage = username(second, ok)
			read := tu.HasRead(total - 2)
			summary.SecondLastMessageRead = &read
		}
		summaries = append(summaries, summary)
	}
	return summaries, unread, nil
}

// messageTotal is the thread's message counter, 0 when it was never set.
func messageTotal(t model.Thread) int {
	if t.MessageCount == nil {
		return 0
	}
	return *t.MessageCount
}

func fullMessageID(threadID string, messageID int) string {
	m := model.Message{ThreadID: threadID, MessageID: messageID}
	return m.FullID()
}

func (s *feedbackService) UpdateMessagesReadByUser(ctx context.Context, userID, threadID string, messageIDs []int) error {
	return s.tx.WithTx(ctx, func(stores StoreProvider) error {
		if _, err := getThread(ctx, stores, threadID); err != nil {
			return err
		}

		if err := stores.ThreadUsers().MarkRead(ctx, userID, threadID, messageIDs); err != nil {
			return fmt.Errorf("saving read state: %w", err)
		}

		return dropReadReferences(ctx, stores, userID, threadID, messageIDs)
	})
}

// dropReadReferences removes messages the user has now read from their
// pending batch email.
func dropReadReferences(ctx context.Context, stores StoreProvider, userID, threadID string, messageIDs []int) error {
	acc, err := stores.UnsentEmails().GetForUpdate(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting unsent email: %w", err)
	}

	read := make(map[int]bool, len(messageIDs))
	for _, mid := range messageIDs {
		read[mid] = true
	}
	kept := acc.References[:0]
	for _, ref := range acc.References {
		if ref.ThreadID == threadID && read[ref.MessageID] {
			continue
		}
		kept = append(kept, ref)
	}
	if len(kept) == len(acc.References) {
		return nil
	}
	if len(kept) == 0 {
		return stores.UnsentEmails().Delete(ctx, userID)
	}
	acc.References = kept
	return stores.UnsentEmails().Upsert(ctx, acc)
}

func (s *feedbackService) GetThreadAnalyticsMulti(ctx context.Context, entityType string, entityIDs []string) ([]model.ThreadAnalytics, error) {
	rows, err := s.stores.Analytics().GetMulti(ctx, entityType, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("getting thread analytics: %w", err)
	}
	byID := make(map[string]model.ThreadAnalytics, len(rows))
	for _, r := range rows {
		byID[r.EntityID] = r
	}

	out := make([]model.ThreadAnalytics, 0, len(entityIDs))
	for _, eid := range entityIDs {
		a, ok := byID[eid]
		if !ok {
			a = model.ThreadAnalytics{EntityType: entityType, EntityID: eid}
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *feedbackService) GetTotalOpenThreads(ctx context.Context, entityType string, entityIDs []string) (int, error) {
	analytics, err := s.GetThreadAnalyticsMulti(ctx, entityType, entityIDs)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, a := range analytics {
		total += a.NumOpenThreads
	}
	return total, nil
}
