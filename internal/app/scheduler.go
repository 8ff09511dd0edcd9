package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/store"
)

const maxScanIntervalHours = 24 * 30

// Settings persists JSON values by key.
type Settings interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
}

// JobStarter starts registry jobs.
type JobStarter interface {
	Start(ctx context.Context, kind domain.JobKind, params jobs.Params) (domain.JobStatus, error)
}

// ScheduleUpdate carries the fields a user may change. Nil fields are kept.
type ScheduleUpdate struct {
	Enabled       *bool
	IntervalHours *int
}

// Scheduler starts a non-forced scan whenever the stored schedule is due.
type Scheduler struct {
	settings      Settings
	jobs          JobStarter
	CheckInterval time.Duration
	logger        *logger.Logger
	now           func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(settings Settings, starter JobStarter, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		settings:      settings,
		jobs:          starter,
		CheckInterval: constants.ScheduleCheckInterval,
		logger:        log.WithComponent("scheduler"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the stored schedule, or the default one: enabled, every
// 24 hours, first run one interval from now.
func (s *Scheduler) Get() (domain.ScanSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Scheduler) load() (domain.ScanSchedule, error) {
	var sched domain.ScanSchedule
	found, err := s.settings.GetJSON(store.SettingScanSchedule, &sched)
	if err != nil {
		return sched, err
	}
	if !found {
		sched = domain.ScanSchedule{Enabled: true, IntervalHours: constants.DefaultScanIntervalHour}
	}
	if sched.IntervalHours <= 0 {
		sched.IntervalHours = constants.DefaultScanIntervalHour
	}
	if sched.NextScanAt == nil {
		next := nextScan(sched, s.now())
		sched.NextScanAt = &next
		// Persisted so the first run does not drift with every load.
		if err := s.settings.SetJSON(store.SettingScanSchedule, sched); err != nil {
			return sched, err
		}
	}
	return sched, nil
}

// Update applies u and recomputes the next scan time from the last scan.
func (s *Scheduler) Update(u ScheduleUpdate) (domain.ScanSchedule, error) {
	if u.IntervalHours != nil && (*u.IntervalHours < 1 || *u.IntervalHours > maxScanIntervalHours) {
		return domain.ScanSchedule{}, fmt.Errorf("interval_hours must be between 1 and %d: %w",
			maxScanIntervalHours, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.load()
	if err != nil {
		return sched, err
	}
	if u.Enabled != nil {
		sched.Enabled = *u.Enabled
	}
	if u.IntervalHours != nil {
		sched.IntervalHours = *u.IntervalHours
	}
	next := nextScan(sched, s.now())
	sched.NextScanAt = &next

	if err := s.settings.SetJSON(store.SettingScanSchedule, sched); err != nil {
		return sched, err
	}
	s.logger.Info("Scan schedule updated", "enabled", sched.Enabled, "interval_hours", sched.IntervalHours,
		"next_scan_at", next)
	return sched, nil
}

// nextScan is one interval after the last scan, never earlier than now.
func nextScan(sched domain.ScanSchedule, now time.Time) time.Time {
	interval := time.Duration(sched.IntervalHours) * time.Hour
	if sched.LastScanAt == nil {
		return now.Add(interval)
	}
	next := sched.LastScanAt.Add(interval)
	if next.Before(now) {
		return now
	}
	return next
}

// Check starts a scan when the schedule is enabled and due. It reports
// whether a scan was started.
func (s *Scheduler) Check(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.load()
	if err != nil {
		return false, err
	}
	now := s.now()
	if !sched.Enabled || sched.NextScanAt.After(now) {
		return false, nil
	}

	started := true
	if _, err := s.jobs.Start(ctx, domain.JobKindScan, jobs.Params{}); err != nil {
		if !errors.Is(err, domain.ErrAlreadyRunning) {
			return false, err
		}
		s.logger.Debug("Scheduled scan skipped, scan already running")
		started = false
	}

	sched.LastScanAt = &now
	next := now.Add(time.Duration(sched.IntervalHours) * time.Hour)
	sched.NextScanAt = &next
	if err := s.settings.SetJSON(store.SettingScanSchedule, sched); err != nil {
		return started, err
	}
	if started {
		s.logger.Info("Scheduled scan started", "next_scan_at", next)
	}
	return started, nil
}

// Start checks the schedule on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Check(ctx); err != nil {
					s.logger.Warn("Schedule check failed", "error", err)
				}
			}
		}
	}()
	s.logger.Info("Scan scheduler started", "check_interval", s.CheckInterval)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
