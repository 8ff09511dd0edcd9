// Package scrapes runs any source as a registry job and stores what it finds.
package scrapes

import (
	"context"
	"fmt"
	"time"

	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/sources"
)

// Sink stores the records of one query and returns how many count toward
// the run's result.
type Sink[R any] interface {
	Save(ctx context.Context, q sources.Query, records []R) (int, error)
}

// Preparer is implemented by sinks that need work before the first query.
type Preparer interface {
	Prepare(ctx context.Context) error
}

type Job[R any] struct {
	Source sources.Source[R]
	Sink   Sink[R]
	Delay  time.Duration
}

func NewJob[R any](src sources.Source[R], sink Sink[R], delay time.Duration) *Job[R] {
	return &Job[R]{Source: src, Sink: sink, Delay: delay}
}

// Run fetches every query in turn. Failed queries are logged and skipped;
// the run fails only when all of them failed.
func (j *Job[R]) Run(ctx context.Context, run *jobs.Run) error {
	log := run.Logger().With("source", j.Source.Name())

	if p, ok := j.Sink.(Preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			return err
		}
	}

	queries, err := j.Source.Queries(ctx)
	if err != nil {
		return err
	}
	total := len(queries)
	run.SetTotal(total)
	log.Info("Scrape started", "queries", total)

	saved, failed := 0, 0
	var lastErr error
	for i, q := range queries {
		if run.Cancelled() || ctx.Err() != nil {
			log.Info("Scrape cancelled", "processed", i, "saved", saved)
			return ctx.Err()
		}
		run.SetCurrent(q.Label)

		records, err := j.Source.FetchCandidates(ctx, q)
		if err == nil {
			var n int
			n, err = j.Sink.Save(ctx, q, records)
			saved += n
			run.SetResult(saved)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Query failed", "query", q.Label, "error", err)
			failed++
			lastErr = err
		}
		run.Report(i+1, total)

		if j.Delay > 0 && i < total-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(j.Delay):
			}
		}
	}

	if total > 0 && failed == total {
		return fmt.Errorf("all %d queries failed: %w", failed, lastErr)
	}
	log.Info("Scrape finished", "saved", saved, "failed", failed)
	return nil
}
