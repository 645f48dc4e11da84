package jobs

import (
	"context"
	"errors"
	"fmt"

	"threadline.app/feedback/common"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
)

const SubjectJobName = "subject"

// ThreadOpening is a thread still carrying the default subject and the
// text of its first message.
type ThreadOpening struct {
	ThreadID  string
	FirstText string
}

type SubjectUpdate struct {
	ThreadID string
	Subject  string
}

// NewSubjectJob replaces the default subject of learner threads with one
// abbreviated from their first message. Only the subject is written so
// last_updated is preserved.
func NewSubjectJob(stores service.StoreProvider, checkpoints Checkpoints, pageSize int) *Pipeline[ThreadOpening, SubjectUpdate] {
	p := NewPipeline[ThreadOpening, SubjectUpdate](SubjectJobName, checkpoints)

	p.Next = func(ctx context.Context, cursor string) ([]ThreadOpening, string, error) {
		threads, err := stores.Threads().ListBySubjectAfter(ctx, common.DefaultFeedbackSubject, cursor, pageSize)
		if err != nil {
			return nil, "", err
		}
		if len(threads) == 0 {
			return nil, "", nil
		}
		items := make([]ThreadOpening, 0, len(threads))
		for _, t := range threads {
			first, err := stores.Messages().Get(ctx, t.ID, 0)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, "", fmt.Errorf("loading first message of %s: %w", t.ID, err)
			}
			items = append(items, ThreadOpening{ThreadID: t.ID, FirstText: first.Text})
		}
		return items, threads[len(threads)-1].ID, nil
	}

	p.Reduce = reduceSubjects

	p.Write = func(ctx context.Context, updates []SubjectUpdate) error {
		for _, u := range updates {
			if err := stores.Threads().UpdateSubject(ctx, u.ThreadID, u.Subject); err != nil {
				return fmt.Errorf("updating subject of %s: %w", u.ThreadID, err)
			}
		}
		return nil
	}

	return p
}

func reduceSubjects(items []ThreadOpening) []SubjectUpdate {
	var updates []SubjectUpdate
	for _, it := range items {
		subject := common.AbbreviateSubject(it.FirstText)
		if subject == common.DefaultFeedbackSubject {
			continue
		}
		updates = append(updates, SubjectUpdate{ThreadID: it.ThreadID, Subject: subject})
	}
	return updates
}
