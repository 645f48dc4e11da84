package jobs

import (
	"context"
	"fmt"

	"threadline.app/feedback/internal/service"
)

const EmailSweepJobName = "email-sweep"

// NewEmailSweepJob dispatches the pending digest of every user with an
// accumulator. Dispatch of an already cleared accumulator is a no-op, so
// the sweep may overlap with scheduled batch tasks.
func NewEmailSweepJob(stores service.StoreProvider, notifications service.NotificationService, checkpoints Checkpoints, pageSize int) *Pipeline[string, string] {
	p := NewPipeline[string, string](EmailSweepJobName, checkpoints)

	p.Next = func(ctx context.Context, cursor string) ([]string, string, error) {
		ids, err := stores.UnsentEmails().ListUserIDsAfter(ctx, cursor, pageSize)
		if err != nil {
			return nil, "", err
		}
		if len(ids) == 0 {
			return nil, "", nil
		}
		return ids, ids[len(ids)-1], nil
	}

	p.Reduce = func(ids []string) []string { return ids }

	p.Write = func(ctx context.Context, ids []string) error {
		for _, id := range ids {
			if err := notifications.SendBatchEmail(ctx, id); err != nil {
				return fmt.Errorf("dispatching batch for %s: %w", id, err)
			}
		}
		return nil
	}

	return p
}
