package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"threadline.app/feedback/common/logger"
	"threadline.app/feedback/core/config"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/store"
)

type CreateSuggestionParams struct {
	SuggestionType     model.SuggestionType
	EntityType         string
	SubType            model.SuggestionSubType
	CustomizationArgs  model.CustomizationArgs
	AuthorID           string
	Payload            json.RawMessage
	Description        string
	FinalReviewerID    *string
	AssignedReviewerID *string
}

type SuggestionService interface {
	// Create stores the suggestion together with the thread that backs it.
	Create(ctx context.Context, params CreateSuggestionParams) (*model.Suggestion, error)
	Get(ctx context.Context, suggestionID string) (*model.Suggestion, error)
	GetByThreadID(ctx context.Context, threadID string) (*model.Suggestion, error)
	// IsValid runs the validator. An invalid in-review suggestion is marked
	// invalid and a note is posted to its thread.
	IsValid(ctx context.Context, suggestionID, reviewerID string) (bool, error)
	Accept(ctx context.Context, suggestionID, reviewerID, commitMessage string) (*model.Suggestion, error)
	Reject(ctx context.Context, suggestionID, reviewerID string) (*model.Suggestion, error)

	List(ctx context.Context, filter store.SuggestionFilter) ([]model.Suggestion, error)
	ListByAuthor(ctx context.Context, authorID string) ([]model.Suggestion, error)
	ListByReviewer(ctx context.Context, reviewerID string) ([]model.Suggestion, error)
	ListByAssignedReviewer(ctx context.Context, reviewerID string) ([]model.Suggestion, error)
	ListByTargetID(ctx context.Context, targetID string) ([]model.Suggestion, error)
	ListByStatus(ctx context.Context, status model.SuggestionStatus) ([]model.Suggestion, error)
	ListByType(ctx context.Context, suggestionType model.SuggestionType) ([]model.Suggestion, error)

	GetUserScores(ctx context.Context, userID string) ([]model.ContributionScore, error)
}

type suggestionService struct {
	stores    StoreProvider
	tx        TxRunner
	tasks     TaskQueue
	writer    *threadWriter
	content   *contentUpdater
	validator SuggestionValidator
	now       func() time.Time
}

func NewSuggestionService(stores StoreProvider, tx TxRunner, tasks TaskQueue, cfg config.FeedbackConfig, validator SuggestionValidator) SuggestionService {
	now := func() time.Time { return time.Now().UTC() }
	if validator == nil {
		validator = StateValidator{}
	}
	return &suggestionService{
		stores:    stores,
		tx:        tx,
		tasks:     tasks,
		writer:    &threadWriter{cfg: cfg, now: now},
		content:   &contentUpdater{now: now},
		validator: validator,
		now:       now,
	}
}

func (s *suggestionService) Create(ctx context.Context, params CreateSuggestionParams) (*model.Suggestion, error) {
	if !params.SuggestionType.IsValid() {
		return nil, fmt.Errorf("%w: unknown suggestion type %q", ErrInvalidSuggestion, params.SuggestionType)
	}
	if params.EntityType == "" || params.AuthorID == "" {
		return nil, fmt.Errorf("%w: entity type and author are required", ErrInvalidSuggestion)
	}
	payload, err := model.DecodePayload(params.SuggestionType, params.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSuggestion, err)
	}

	targetID, targetVersion := model.PayloadTarget(payload)
	threadEntityID := targetID
	if params.SuggestionType == model.SuggestionTypeAdd {
		threadEntityID = model.NewEntityPlaceholderID
	}

	var suggestion *model.Suggestion
	ob := &outbox{}
	err = s.tx.WithTx(ctx, func(stores StoreProvider) error {
		authorID := params.AuthorID
		thread, _, err := s.writer.createThread(ctx, stores, ob, CreateThreadParams{
			EntityType:    params.EntityType,
			EntityID:      threadEntityID,
			AuthorID:      &authorID,
			Subject:       model.DefaultSuggestionSubject,
			Text:          params.Description,
			HasSuggestion: true,
		})
		if err != nil {
			return err
		}

		now := s.now()
		suggestion = &model.Suggestion{
			ID:                 model.NewSuggestionID(params.SuggestionType, params.EntityType, thread.ID, targetID),
			SuggestionType:     params.SuggestionType,
			SubType:            params.SubType,
			EntityType:         params.EntityType,
			Status:             model.SuggestionStatusInReview,
			AuthorID:           params.AuthorID,
			FinalReviewerID:    params.FinalReviewerID,
			AssignedReviewerID: params.AssignedReviewerID,
			ThreadID:           thread.ID,
			TargetID:           targetID,
			TargetVersion:      targetVersion,
			Payload:            payload,
			CustomizationArgs:  params.CustomizationArgs,
			ScoreCategory:      params.CustomizationArgs.ScoreCategory(),
			CreatedOn:          now,
			LastUpdated:        now,
		}
		if err := stores.Suggestions().Create(ctx, suggestion); err != nil {
			return fmt.Errorf("creating suggestion: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, s.tasks)

	slog.InfoContext(logger.WithLogFields(ctx, logger.LogFields{SuggestionID: &suggestion.ID}), "suggestion created",
		"suggestion_type", suggestion.SuggestionType,
		"thread_id", suggestion.ThreadID,
		"score_category", suggestion.ScoreCategory)
	return suggestion, nil
}

func getSuggestion(ctx context.Context, stores StoreProvider, suggestionID string) (*model.Suggestion, error) {
	sg, err := stores.Suggestions().GetByID(ctx, suggestionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSuggestionNotFound, suggestionID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting suggestion: %w", err)
	}
	return sg, nil
}

func (s *suggestionService) Get(ctx context.Context, suggestionID string) (*model.Suggestion, error) {
	return getSuggestion(ctx, s.stores, suggestionID)
}

func (s *suggestionService) GetByThreadID(ctx context.Context, threadID string) (*model.Suggestion, error) {
	sg, err := s.stores.Suggestions().GetByThreadID(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: thread %s", ErrSuggestionNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting suggestion: %w", err)
	}
	return sg, nil
}

func (s *suggestionService) IsValid(ctx context.Context, suggestionID, reviewerID string) (bool, error) {
	valid := true
	ob := &outbox{}
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		sg, err := getSuggestion(ctx, stores, suggestionID)
		if err != nil {
			return err
		}
		if sg.Status != model.SuggestionStatusInReview {
			return nil
		}
		valid, err = s.validate(ctx, stores, ob, sg, reviewerID)
		return err
	})
	if err != nil {
		return false, err
	}
	ob.flush(ctx, s.tasks)
	return valid, nil
}

// validate runs the validator once. When it fails the suggestion is marked
// invalid and the reason is posted to its thread, closing it as ignored.
func (s *suggestionService) validate(ctx context.Context, stores StoreProvider, ob *outbox, sg *model.Suggestion, reviewerID string) (bool, error) {
	ok, reason, err := s.validator.Validate(ctx, stores, sg)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	sg.Status = model.SuggestionStatusInvalid
	sg.FinalReviewerID = &reviewerID
	sg.LastUpdated = s.now()
	if err := stores.Suggestions().Update(ctx, sg); err != nil {
		return false, fmt.Errorf("updating suggestion: %w", err)
	}
	ignored := model.ThreadStatusIgnored
	if err := s.postReviewMessage(ctx, stores, ob, sg, reviewerID, &ignored, "Suggestion is no longer valid: "+reason); err != nil {
		return false, err
	}

	slog.WarnContext(ctx, "suggestion marked invalid",
		"suggestion_id", sg.ID,
		"reason", reason)
	return false, nil
}

func (s *suggestionService) Accept(ctx context.Context, suggestionID, reviewerID, commitMessage string) (*model.Suggestion, error) {
	var (
		out     *model.Suggestion
		invalid bool
	)
	ob := &outbox{}
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		sg, err := getSuggestion(ctx, stores, suggestionID)
		if err != nil {
			return err
		}
		if sg.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrSuggestionResolved, sg.ID, sg.Status)
		}
		if strings.TrimSpace(commitMessage) == "" {
			return ErrEmptyCommitMessage
		}

		valid, err := s.validate(ctx, stores, ob, sg, reviewerID)
		if err != nil {
			return err
		}
		if !valid {
			// the invalid status and its note are committed
			invalid = true
			out = sg
			return nil
		}

		if err := s.applyChange(ctx, stores, sg, reviewerID, commitMessage); err != nil {
			return err
		}

		sg.Status = model.SuggestionStatusAccepted
		sg.FinalReviewerID = &reviewerID
		sg.AssignedReviewerID = nil
		sg.LastUpdated = s.now()
		if err := stores.Suggestions().Update(ctx, sg); err != nil {
			return fmt.Errorf("updating suggestion: %w", err)
		}

		fixed := model.ThreadStatusFixed
		if err := s.postReviewMessage(ctx, stores, ob, sg, reviewerID, &fixed, "Accepted by "+reviewerName(ctx, stores, reviewerID)); err != nil {
			return err
		}
		out = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, s.tasks)

	if invalid {
		return out, fmt.Errorf("%w: %s", ErrSuggestionNotValid, suggestionID)
	}
	slog.InfoContext(ctx, "suggestion accepted",
		"suggestion_id", out.ID,
		"reviewer_id", reviewerID)
	return out, nil
}

// applyChange writes the suggested change to its target through the
// content updater.
func (s *suggestionService) applyChange(ctx context.Context, stores StoreProvider, sg *model.Suggestion, reviewerID, commitMessage string) error {
	switch p := sg.Payload.(type) {
	case model.EditPayload:
		entity, err := getEntity(ctx, stores, sg.EntityType, p.EntityID)
		if err != nil {
			return err
		}
		if entity.Version != p.EntityVersionNumber {
			slog.WarnContext(ctx, "suggestion targets a stale version",
				"suggestion_id", sg.ID,
				"suggested_version", p.EntityVersionNumber,
				"current_version", entity.Version)
		}
		return s.content.apply(ctx, stores, reviewerID, entity, p.ChangeList, commitMessage, true)
	case model.AddPayload:
		entity, err := s.content.createFromSuggestion(ctx, stores, sg.AuthorID, p)
		if err != nil {
			return err
		}
		sg.TargetID = entity.ID
		return nil
	default:
		return fmt.Errorf("%w: payload %T", ErrUnsupportedChange, sg.Payload)
	}
}

func (s *suggestionService) Reject(ctx context.Context, suggestionID, reviewerID string) (*model.Suggestion, error) {
	var out *model.Suggestion
	ob := &outbox{}
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		sg, err := getSuggestion(ctx, stores, suggestionID)
		if err != nil {
			return err
		}
		if sg.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrSuggestionResolved, sg.ID, sg.Status)
		}

		sg.Status = model.SuggestionStatusRejected
		sg.FinalReviewerID = &reviewerID
		sg.LastUpdated = s.now()
		if err := stores.Suggestions().Update(ctx, sg); err != nil {
			return fmt.Errorf("updating suggestion: %w", err)
		}

		ignored := model.ThreadStatusIgnored
		if err := s.postReviewMessage(ctx, stores, ob, sg, reviewerID, &ignored, "Rejected by "+reviewerName(ctx, stores, reviewerID)); err != nil {
			return err
		}
		out = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, s.tasks)

	slog.InfoContext(ctx, "suggestion rejected",
		"suggestion_id", out.ID,
		"reviewer_id", reviewerID)
	return out, nil
}

func (s *suggestionService) postReviewMessage(ctx context.Context, stores StoreProvider, ob *outbox, sg *model.Suggestion, reviewerID string, status *model.ThreadStatus, text string) error {
	thread, err := lockThread(ctx, stores, sg.ThreadID)
	if err != nil {
		return err
	}
	_, err = s.writer.createMessage(ctx, stores, ob, thread, CreateMessageParams{
		ThreadID:      thread.ID,
		AuthorID:      &reviewerID,
		UpdatedStatus: status,
		Text:          text,
	})
	return err
}

func reviewerName(ctx context.Context, stores StoreProvider, reviewerID string) string {
	return usernameOf(ctx, stores, &reviewerID)
}

func (s *suggestionService) List(ctx context.Context, filter store.SuggestionFilter) ([]model.Suggestion, error) {
	list, err := s.stores.Suggestions().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing suggestions: %w", err)
	}
	return list, nil
}

func (s *suggestionService) ListByAuthor(ctx context.Context, authorID string) ([]model.Suggestion, error) {
	return s.List(ctx, store.SuggestionFilter{AuthorID: &authorID})
}

func (s *suggestionService) ListByReviewer(ctx context.Context, reviewerID string) ([]model.Suggestion, error) {
	return s.List(ctx, store.SuggestionFilter{FinalReviewerID: &reviewerID})
}

func (s *suggestionService) ListByAssignedReviewer(ctx context.Context, reviewerID string) ([]model.Suggestion, error) {
	return s.List(ctx, store.SuggestionFilter{AssignedReviewerID: &reviewerID})
}

func (s *suggestionService) ListByTargetID(ctx context.Context, targetID string) ([]model.Suggestion, error) {
	return s.List(ctx, store.SuggestionFilter{TargetID: &targetID})
}

func (s *suggestionService) ListByStatus(ctx context.Context, status model.SuggestionStatus) ([]model.Suggestion, error) {
	return s.List(ctx, store.SuggestionFilter{Status: &status})
}

func (s *suggestionService) ListByType(ctx context.Context, suggestionType model.SuggestionType) ([]model.Suggestion, error) {
	return s.List(ctx, store.SuggestionFilter{Type: &suggestionType})
}

func (s *suggestionService) GetUserScores(ctx context.Context, userID string) ([]model.ContributionScore, error) {
	scores, err := s.stores.Scores().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	return scores, nil
}
