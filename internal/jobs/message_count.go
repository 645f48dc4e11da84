package jobs

import (
	"context"
	"fmt"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
)

const MessageCountJobName = "message-count"

// ThreadMessages pairs a thread with the summary of its stored messages.
type ThreadMessages struct {
	Thread model.Thread
	Stat   store.MessageStat
}

// CountFix describes a thread whose counter is rewritten. MessageCount is
// the number of stored messages, NextMessageID the id the next message gets.
type CountFix struct {
	ThreadID      string `json:"thread_id"`
	MessageCount  int    `json:"message_count"`
	NextMessageID int    `json:"next_message_id"`
	rewrite       bool
	mismatch      bool
}

// NewMessageCountJob recomputes every thread's next message id from its
// stored messages. The counter never moves backwards so ids of deleted
// trailing messages are not handed out again. Threads whose message count
// and next id differ (deleted messages) are passed to report.
func NewMessageCountJob(stores service.StoreProvider, checkpoints Checkpoints, pageSize int, report func(CountFix)) *Pipeline[ThreadMessages, CountFix] {
	p := NewPipeline[ThreadMessages, CountFix](MessageCountJobName, checkpoints)

	p.Next = func(ctx context.Context, cursor string) ([]ThreadMessages, string, error) {
		threads, err := stores.Threads().ListAfter(ctx, cursor, pageSize)
		if err != nil {
			return nil, "", err
		}
		if len(threads) == 0 {
			return nil, "", nil
		}
		ids := make([]string, len(threads))
		for i, t := range threads {
			ids[i] = t.ID
		}
		stats, err := stores.Messages().Stats(ctx, ids)
		if err != nil {
			return nil, "", err
		}
		items := make([]ThreadMessages, len(threads))
		for i, t := range threads {
			stat, ok := stats[t.ID]
			if !ok {
				stat = store.MessageStat{ThreadID: t.ID, MaxMessageID: -1}
			}
			items[i] = ThreadMessages{Thread: t, Stat: stat}
		}
		return items, threads[len(threads)-1].ID, nil
	}

	p.Reduce = reduceMessageCounts

	p.Write = func(ctx context.Context, fixes []CountFix) error {
		for _, fix := range fixes {
			if fix.mismatch && report != nil {
				report(fix)
			}
			if !fix.rewrite {
				continue
			}
			if err := stores.Threads().UpdateMessageCount(ctx, fix.ThreadID, fix.NextMessageID); err != nil {
				return fmt.Errorf("updating counter of %s: %w", fix.ThreadID, err)
			}
		}
		return nil
	}

	return p
}

func reduceMessageCounts(items []ThreadMessages) []CountFix {
	var fixes []CountFix
	for _, it := range items {
		next := it.Stat.MaxMessageID + 1
		if c := it.Thread.MessageCount; c != nil && *c > next {
			next = *c
		}
		fix := CountFix{
			ThreadID:      it.Thread.ID,
			MessageCount:  it.Stat.Count,
			NextMessageID: next,
			rewrite:       it.Thread.MessageCount == nil || *it.Thread.MessageCount != next,
			mismatch:      it.Stat.Count != next,
		}
		if fix.rewrite || fix.mismatch {
			fixes = append(fixes, fix)
		}
	}
	return fixes
}
