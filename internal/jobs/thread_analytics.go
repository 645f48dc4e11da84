package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"threadline.app/feedback/common/logger"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
)

const ThreadAnalyticsJobName = "thread-analytics"

// EntityThreads holds every thread attached to one entity.
type EntityThreads struct {
	Key     store.EntityKey
	Threads []model.Thread
}

// NewThreadAnalyticsJob recomputes the open and total thread counts of
// every entity that has threads.
func NewThreadAnalyticsJob(stores service.StoreProvider, checkpoints Checkpoints, pageSize int) *Pipeline[EntityThreads, model.ThreadAnalytics] {
	p := NewPipeline[EntityThreads, model.ThreadAnalytics](ThreadAnalyticsJobName, checkpoints)

	p.Next = func(ctx context.Context, cursor string) ([]EntityThreads, string, error) {
		var after store.EntityKey
		if cursor != "" {
			after.Type, after.ID = parseEntityCursor(cursor)
		}
		keys, err := stores.Threads().ListEntityKeysAfter(ctx, after, pageSize)
		if err != nil {
			return nil, "", err
		}
		if len(keys) == 0 {
			return nil, "", nil
		}
		items, err := loadEntityThreads(ctx, stores, keys)
		if err != nil {
			return nil, "", err
		}
		last := keys[len(keys)-1]
		return items, entityCursor(last.Type, last.ID), nil
	}

	p.Reduce = reduceAnalytics
	p.Write = analyticsWriter(stores)
	return p
}

// DirtyAnalyticsJob recomputes analytics only for the entities whose
// threads were created, renamed or changed status since the last run.
// Thread creation is only published for the primary entity type, so a new
// thread on any other type is picked up by the next full run, or by its
// first status or subject change, whichever comes first.
type DirtyAnalyticsJob struct {
	stores   service.StoreProvider
	dirty    *DirtyTracker
	pageSize int
}

func NewDirtyAnalyticsJob(stores service.StoreProvider, dirty *DirtyTracker, pageSize int) *DirtyAnalyticsJob {
	return &DirtyAnalyticsJob{stores: stores, dirty: dirty, pageSize: pageSize}
}

func (j *DirtyAnalyticsJob) Name() string {
	return ThreadAnalyticsJobName
}

func (j *DirtyAnalyticsJob) Run(ctx context.Context) (Stats, error) {
	jobName := ThreadAnalyticsJobName
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobName:   &jobName,
		Component: "feedback.jobs",
	})
	span := logger.StartSpan(ctx, "jobs.thread_analytics.dirty")
	defer span.End()
	ctx = span.Context()

	write := analyticsWriter(j.stores)
	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		keys, err := j.dirty.Pop(ctx, j.pageSize)
		if err != nil {
			return stats, err
		}
		if len(keys) == 0 {
			break
		}

		items, err := loadEntityThreads(ctx, j.stores, keys)
		if err == nil {
			outputs := reduceAnalytics(items)
			if err = write(ctx, outputs); err == nil {
				stats.Pages++
				stats.Items += len(items)
				stats.Outputs += len(outputs)
				continue
			}
		}

		span.RecordError(err)
		if rerr := j.dirty.Restore(ctx, keys); rerr != nil {
			slog.ErrorContext(ctx, "failed to restore dirty entities",
				"error", rerr,
				"count", len(keys))
		}
		return stats, fmt.Errorf("recomputing dirty analytics: %w", err)
	}

	span.SetAttributes(attribute.Int("job.outputs", stats.Outputs))
	slog.InfoContext(ctx, "dirty analytics recomputed", "entities", stats.Outputs)
	return stats, nil
}

func loadEntityThreads(ctx context.Context, stores service.StoreProvider, keys []store.EntityKey) ([]EntityThreads, error) {
	threads, err := stores.Threads().ListByEntities(ctx, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[store.EntityKey][]model.Thread, len(keys))
	for _, t := range threads {
		k := store.EntityKey{Type: t.EntityType, ID: t.EntityID}
		byKey[k] = append(byKey[k], t)
	}
	items := make([]EntityThreads, len(keys))
	for i, k := range keys {
		items[i] = EntityThreads{Key: k, Threads: byKey[k]}
	}
	return items, nil
}

func reduceAnalytics(items []EntityThreads) []model.ThreadAnalytics {
	out := make([]model.ThreadAnalytics, 0, len(items))
	for _, it := range items {
		a := model.ThreadAnalytics{
			EntityType:      it.Key.Type,
			EntityID:        it.Key.ID,
			NumTotalThreads: len(it.Threads),
		}
		for _, t := range it.Threads {
			if t.Status == model.ThreadStatusOpen {
				a.NumOpenThreads++
			}
		}
		out = append(out, a)
	}
	return out
}

func analyticsWriter(stores service.StoreProvider) func(context.Context, []model.ThreadAnalytics) error {
	return func(ctx context.Context, rows []model.ThreadAnalytics) error {
		now := time.Now().UTC()
		for i := range rows {
			rows[i].ComputedAt = now
			if err := stores.Analytics().Upsert(ctx, &rows[i]); err != nil {
				return fmt.Errorf("upserting analytics for %s/%s: %w", rows[i].EntityType, rows[i].EntityID, err)
			}
		}
		return nil
	}
}
