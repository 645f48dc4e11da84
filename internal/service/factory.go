package service

import (
	"threadline.app/feedback/core/config"
	"threadline.app/feedback/internal/email"
)

type Services struct {
	stores   StoreProvider
	txRunner TxRunner
	tasks    TaskQueue
	sender   email.Sender
	renderer *email.Renderer
	cfg      config.FeedbackConfig
}

func NewServices(stores StoreProvider, txRunner TxRunner, tasks TaskQueue, sender email.Sender, renderer *email.Renderer, cfg config.FeedbackConfig) *Services {
	return &Services{
		stores:   stores,
		txRunner: txRunner,
		tasks:    tasks,
		sender:   sender,
		renderer: renderer,
		cfg:      cfg,
	}
}

func (s *Services) Feedback() FeedbackService {
	return NewFeedbackService(s.stores, s.txRunner, s.tasks, s.cfg)
}

func (s *Services) Suggestions() SuggestionService {
	return NewSuggestionService(s.stores, s.txRunner, s.tasks, s.cfg, StateValidator{})
}

func (s *Services) Notifications() NotificationService {
	return NewNotificationService(s.stores, s.txRunner, s.tasks, s.sender, s.renderer, s.cfg)
}

func (s *Services) Content() ContentService {
	return NewContentService(s.stores, s.txRunner)
}
