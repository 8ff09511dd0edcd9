package downloads

import (
	"context"
	"sync"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/logger"
)

// Worker owns the orchestrator's background duties: resuming rows left by
// a previous process and sweeping stale searches.
type Worker struct {
	Orchestrator  *Orchestrator
	SweepInterval time.Duration
	Logger        *logger.Logger
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewWorker(o *Orchestrator, log *logger.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		Orchestrator:  o,
		SweepInterval: constants.SweepInterval,
		Logger:        log.WithComponent("downloads-worker"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (w *Worker) Start() {
	w.Logger.Info("Starting download worker")

	if err := w.Orchestrator.Resume(); err != nil {
		w.Logger.Error("Failed to resume downloads", "error", err)
	}

	w.wg.Add(1)
	go w.sweep()
}

// Stop ends the sweep loop and every in-flight download goroutine.
func (w *Worker) Stop() {
	w.Logger.Info("Stopping download worker")
	w.cancel()
	w.wg.Wait()
	w.Orchestrator.Close()
}

func (w *Worker) sweep() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Orchestrator.SweepStale(w.ctx)
			if err != nil && w.ctx.Err() == nil {
				w.Logger.Error("Stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.Logger.Info("Timed out stale downloads", "count", n)
			}
		}
	}
}
