package jobs

import (
	"log/slog"

	"threadline.app/feedback/internal/service"
)

// Deps are the collaborators shared by all jobs.
type Deps struct {
	Stores        service.StoreProvider
	Notifications service.NotificationService
	Checkpoints   Checkpoints
	Dirty         *DirtyTracker
	PageSize      int
}

// Names lists the runnable jobs.
var Names = []string{
	MessageCountJobName,
	SubjectJobName,
	ScoringJobName,
	ThreadAnalyticsJobName,
	EmailSweepJobName,
}

// Lookup returns the job registered under name. Thread analytics runs over
// the dirty set unless full is set or no dirty tracker is configured.
func Lookup(name string, full bool, deps Deps) (Job, bool) {
	switch name {
	case MessageCountJobName:
		return NewMessageCountJob(deps.Stores, deps.Checkpoints, deps.PageSize, logCountFix), true
	case SubjectJobName:
		return NewSubjectJob(deps.Stores, deps.Checkpoints, deps.PageSize), true
	case ScoringJobName:
		return NewScoringJob(deps.Stores, deps.Checkpoints, deps.PageSize), true
	case ThreadAnalyticsJobName:
		if full || deps.Dirty == nil {
			return NewThreadAnalyticsJob(deps.Stores, deps.Checkpoints, deps.PageSize), true
		}
		return NewDirtyAnalyticsJob(deps.Stores, deps.Dirty, deps.PageSize), true
	case EmailSweepJobName:
		return NewEmailSweepJob(deps.Stores, deps.Notifications, deps.Checkpoints, deps.PageSize), true
	}
	return nil, false
}

func logCountFix(fix CountFix) {
	slog.Info("thread message count differs from next message id",
		"thread_id", fix.ThreadID,
		"message_count", fix.MessageCount,
		"next_message_id", fix.NextMessageID)
}
