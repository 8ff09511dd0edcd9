// Package jobs runs the long background operations. At most one run of each
// job kind is in flight at a time; its status is kept in memory for polling
// and mirrored to the job_status table.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/logger"
)

// InterruptedMessage is recorded on runs that were in flight when the
// previous process exited.
const InterruptedMessage = "interrupted by restart"

// Params are the start options of a run.
type Params struct {
	Force bool
}

// Runner does the work of one job kind. It must check run.Cancelled (or
// ctx) between units of work.
type Runner func(ctx context.Context, run *Run) error

// Store persists status snapshots.
type Store interface {
	EnsureJobStatuses(kinds []domain.JobKind) error
	ListJobStatuses() ([]*domain.JobStatus, error)
	SaveJobStatus(status *domain.JobStatus) error
	ResetInterruptedJobs(message string) (int64, error)
}

type entry struct {
	mu          sync.RWMutex
	status      domain.JobStatus
	runner      Runner
	cancel      context.CancelFunc
	done        chan struct{}
	cancelled   bool
	seq         uint64
	lastPersist time.Time

	persistMu sync.Mutex
	persisted uint64
}

type Registry struct {
	store        Store
	logger       *logger.Logger
	entries      map[domain.JobKind]*entry
	base         context.Context
	stop         context.CancelFunc
	wg           sync.WaitGroup
	persistEvery time.Duration
}

// NewRegistry loads the persisted status of every kind, turning runs left
// active by a crash into errors. store may be nil.
func NewRegistry(store Store, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.Default()
	}

	base, stop := context.WithCancel(context.Background())
	r := &Registry{
		store:        store,
		logger:       log.WithComponent("jobs"),
		entries:      make(map[domain.JobKind]*entry, len(domain.JobKinds)),
		base:         base,
		stop:         stop,
		persistEvery: constants.ProgressPersistEvery,
	}

	for _, kind := range domain.JobKinds {
		r.entries[kind] = &entry{status: domain.JobStatus{Kind: kind, State: domain.JobStateIdle}}
	}

	if store == nil {
		return r, nil
	}

	n, err := store.ResetInterruptedJobs(InterruptedMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}
	if n > 0 {
		r.logger.Warn("Reset interrupted jobs", "count", n)
	}
	if err := store.EnsureJobStatuses(domain.JobKinds); err != nil {
		return nil, fmt.Errorf("failed to seed job statuses: %w", err)
	}

	statuses, err := store.ListJobStatuses()
	if err != nil {
		return nil, fmt.Errorf("failed to load job statuses: %w", err)
	}
	for _, s := range statuses {
		if e, ok := r.entries[s.Kind]; ok {
			e.status = *s
		}
	}
	return r, nil
}

// Register sets the runner of a kind. It replaces any earlier runner.
func (r *Registry) Register(kind domain.JobKind, runner Runner) {
	e, ok := r.entries[kind]
	if !ok {
		panic(fmt.Sprintf("jobs: unknown kind %q", kind))
	}
	e.mu.Lock()
	e.runner = runner
	e.mu.Unlock()
}

func (r *Registry) entry(kind domain.JobKind) (*entry, error) {
	e, ok := r.entries[kind]
	if !ok {
		return nil, fmt.Errorf("job kind %q: %w", kind, domain.ErrNotFound)
	}
	return e, nil
}

// Start admits a new run of kind and returns its pending snapshot. A kind
// already pending or running is rejected with ErrAlreadyRunning and the
// current snapshot, leaving it untouched. The run outlives ctx.
func (r *Registry) Start(ctx context.Context, kind domain.JobKind, params Params) (domain.JobStatus, error) {
	e, err := r.entry(kind)
	if err != nil {
		return domain.JobStatus{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.JobStatus{}, err
	}
	if r.base.Err() != nil {
		return domain.JobStatus{}, fmt.Errorf("job registry stopped: %w", domain.ErrUnavailable)
	}

	e.mu.Lock()
	if e.runner == nil {
		e.mu.Unlock()
		return domain.JobStatus{}, fmt.Errorf("no runner registered for %s: %w", kind, domain.ErrInvalidInput)
	}
	if e.status.State.Active() {
		snapshot := e.status
		e.mu.Unlock()
		return snapshot, domain.ErrAlreadyRunning
	}

	now := time.Now().UTC()
	e.status = domain.JobStatus{
		Kind:      kind,
		State:     domain.JobStatePending,
		StartedAt: &now,
	}
	runCtx, cancel := context.WithCancel(r.base)
	e.cancel = cancel
	e.cancelled = false
	e.done = make(chan struct{})
	runner := e.runner
	snapshot, seq := e.snapshotLocked()
	e.mu.Unlock()

	r.persist(e, snapshot, seq)
	r.logger.Info("Job started", "job_kind", kind, "force", params.Force)

	r.wg.Add(1)
	go r.run(runCtx, kind, e, runner, params)

	return snapshot, nil
}

func (r *Registry) run(ctx context.Context, kind domain.JobKind, e *entry, runner Runner, params Params) {
	defer r.wg.Done()

	log := r.logger.WithJob(string(kind))
	run := &Run{Params: params, reg: r, e: e, log: log}

	e.mu.Lock()
	skip := e.cancelled
	if !skip {
		e.status.State = domain.JobStateRunning
	}
	snapshot, seq := e.snapshotLocked()
	e.mu.Unlock()
	r.persist(e, snapshot, seq)

	var err error
	if !skip {
		err = safeRun(ctx, runner, run)
	}

	now := time.Now().UTC()
	e.mu.Lock()
	switch {
	case e.cancelled:
		e.status.State = domain.JobStateCancelled
	case err != nil:
		msg := err.Error()
		e.status.State = domain.JobStateError
		e.status.ErrorMessage = &msg
	default:
		e.status.State = domain.JobStateCompleted
	}
	e.status.CompletedAt = &now
	e.status.CurrentItem = ""
	e.cancel()
	done := e.done
	snapshot, seq = e.snapshotLocked()
	e.mu.Unlock()

	r.persist(e, snapshot, seq)
	close(done)

	switch snapshot.State {
	case domain.JobStateError:
		log.Error("Job failed", "error", err, "processed", snapshot.Processed, "total", snapshot.Total)
	default:
		log.Info("Job finished", "state", snapshot.State, "processed", snapshot.Processed,
			"total", snapshot.Total, "result_count", snapshot.ResultCount)
	}
}

func safeRun(ctx context.Context, runner Runner, run *Run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return runner(ctx, run)
}

// Status returns the current snapshot of kind.
func (r *Registry) Status(kind domain.JobKind) (domain.JobStatus, error) {
	e, err := r.entry(kind)
	if err != nil {
		return domain.JobStatus{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status, nil
}

// All returns the snapshot of every kind in declaration order.
func (r *Registry) All() []domain.JobStatus {
	out := make([]domain.JobStatus, 0, len(domain.JobKinds))
	for _, kind := range domain.JobKinds {
		s, _ := r.Status(kind)
		out = append(out, s)
	}
	return out
}

// Cancel asks the active run of kind to stop. The run reaches cancelled once
// its runner returns. Cancelling an inactive kind does nothing.
func (r *Registry) Cancel(kind domain.JobKind) (domain.JobStatus, error) {
	e, err := r.entry(kind)
	if err != nil {
		return domain.JobStatus{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.State.Active() && !e.cancelled {
		e.cancelled = true
		if e.cancel != nil {
			e.cancel()
		}
		r.logger.Info("Job cancellation requested", "job_kind", kind)
	}
	return e.status, nil
}

// Wait blocks until the current run of kind ends and returns the final
// snapshot. It returns at once when nothing is running.
func (r *Registry) Wait(ctx context.Context, kind domain.JobKind) (domain.JobStatus, error) {
	e, err := r.entry(kind)
	if err != nil {
		return domain.JobStatus{}, err
	}

	e.mu.RLock()
	done := e.done
	active := e.status.State.Active()
	e.mu.RUnlock()

	if active && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return domain.JobStatus{}, ctx.Err()
		}
	}
	return r.Status(kind)
}

// Shutdown cancels every active run and waits for the runners to return.
func (r *Registry) Shutdown(ctx context.Context) error {
	for _, kind := range domain.JobKinds {
		if _, err := r.Cancel(kind); err != nil {
			return err
		}
	}
	r.stop()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("jobs still running at shutdown"), ctx.Err())
	}
}

// snapshotLocked copies the status and bumps the write sequence. e.mu must
// be held for writing.
func (e *entry) snapshotLocked() (domain.JobStatus, uint64) {
	e.seq++
	e.lastPersist = time.Now()
	return e.status, e.seq
}

// persist writes snapshot unless a newer one has been written already.
func (r *Registry) persist(e *entry, snapshot domain.JobStatus, seq uint64) {
	if r.store == nil {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if seq <= e.persisted {
		return
	}
	e.persisted = seq
	if err := r.store.SaveJobStatus(&snapshot); err != nil {
		r.logger.Warn("Failed to persist job status", "job_kind", snapshot.Kind, "error", err)
	}
}
