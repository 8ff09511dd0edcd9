package jobs

import (
	"time"

	"github.com/cesargomez89/audiosource/internal/logger"
)

// Run is the progress sink and cancellation check handed to a Runner.
type Run struct {
	Params Params

	reg *Registry
	e   *entry
	log *logger.Logger
}

// Logger returns a logger tagged with the job kind.
func (r *Run) Logger() *logger.Logger {
	return r.log
}

// Report sets the progress pair. Writes to the store are throttled except
// when the run reaches its total.
func (r *Run) Report(processed, total int) {
	r.update(processed == total, func() {
		r.e.status.Processed = processed
		r.e.status.Total = total
	})
}

// Advance adds one to processed.
func (r *Run) Advance() {
	r.update(false, func() {
		r.e.status.Processed++
	})
}

// SetTotal sets total and persists it at once.
func (r *Run) SetTotal(total int) {
	r.update(true, func() {
		r.e.status.Total = total
	})
}

// SetCurrent names the item being worked on.
func (r *Run) SetCurrent(item string) {
	r.update(false, func() {
		r.e.status.CurrentItem = item
	})
}

// SetResult records the number of results the run produced so far.
func (r *Run) SetResult(n int) {
	r.update(false, func() {
		r.e.status.ResultCount = n
	})
}

// Cancelled reports whether cancellation was requested.
func (r *Run) Cancelled() bool {
	r.e.mu.RLock()
	defer r.e.mu.RUnlock()
	return r.e.cancelled
}

func (r *Run) update(force bool, apply func()) {
	r.e.mu.Lock()
	apply()
	if !force && time.Since(r.e.lastPersist) < r.reg.persistEvery {
		r.e.mu.Unlock()
		return
	}
	snapshot, seq := r.e.snapshotLocked()
	r.e.mu.Unlock()

	r.reg.persist(r.e, snapshot, seq)
}
