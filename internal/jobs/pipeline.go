// Package jobs holds the restartable batch jobs that rebuild derived
// feedback data: message counters, subjects, contribution scores, thread
// analytics and the pending batch email sweep.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"threadline.app/feedback/common/logger"
)

// Job is a named batch job.
type Job interface {
	Name() string
	Run(ctx context.Context) (Stats, error)
}

type Stats struct {
	Pages   int
	Items   int
	Outputs int
}

// Pipeline pages through a keyset-ordered source, reduces every page to
// output records and writes them, replacing what was there. The cursor is
// checkpointed after each written page so an interrupted run resumes where
// it stopped. A page must hold every item its outputs depend on.
type Pipeline[I, R any] struct {
	name        string
	checkpoints Checkpoints

	// Next returns the page after cursor and the cursor of its last source
	// record. A page may be empty after filtering; an empty next cursor
	// ends the run.
	Next   func(ctx context.Context, cursor string) (items []I, next string, err error)
	Reduce func(items []I) []R
	Write  func(ctx context.Context, outputs []R) error
}

func NewPipeline[I, R any](name string, checkpoints Checkpoints) *Pipeline[I, R] {
	return &Pipeline[I, R]{name: name, checkpoints: checkpoints}
}

func (p *Pipeline[I, R]) Name() string {
	return p.name
}

func (p *Pipeline[I, R]) Run(ctx context.Context) (Stats, error) {
	jobName := p.name
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobName:   &jobName,
		Component: "feedback.jobs",
	})
	span := logger.StartSpan(ctx, "jobs."+p.name)
	defer span.End()
	ctx = span.Context()

	var stats Stats
	cursor, err := p.checkpoints.Load(ctx, p.name)
	if err != nil {
		return stats, fmt.Errorf("loading checkpoint: %w", err)
	}
	if cursor != "" {
		slog.InfoContext(ctx, "resuming job from checkpoint", "cursor", cursor)
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		items, next, err := p.Next(ctx, cursor)
		if err != nil {
			span.RecordError(err)
			return stats, fmt.Errorf("reading page after %q: %w", cursor, err)
		}
		if next == "" {
			break
		}

		outputs := p.Reduce(items)
		if len(outputs) > 0 {
			if err := p.Write(ctx, outputs); err != nil {
				span.RecordError(err)
				return stats, fmt.Errorf("writing page after %q: %w", cursor, err)
			}
		}

		stats.Pages++
		stats.Items += len(items)
		stats.Outputs += len(outputs)

		cursor = next
		if err := p.checkpoints.Save(ctx, p.name, cursor); err != nil {
			return stats, fmt.Errorf("saving checkpoint: %w", err)
		}
	}

	if err := p.checkpoints.Clear(ctx, p.name); err != nil {
		return stats, fmt.Errorf("clearing checkpoint: %w", err)
	}

	span.SetAttributes(
		attribute.Int("job.pages", stats.Pages),
		attribute.Int("job.items", stats.Items),
		attribute.Int("job.outputs", stats.Outputs),
	)
	slog.InfoContext(ctx, "job finished",
		"pages", stats.Pages,
		"items", stats.Items,
		"outputs", stats.Outputs,
		"duration_ms", time.Since(start).Milliseconds())
	return stats, nil
}
