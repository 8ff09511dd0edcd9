package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/store"
)

type fakeStarter struct {
	mu     sync.Mutex
	starts []domain.JobKind
	err    error
}

func (f *fakeStarter) Start(ctx context.Context, kind domain.JobKind, params jobs.Params) (domain.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.Force {
		return domain.JobStatus{}, errors.New("scheduled scans must not force")
	}
	if f.err != nil {
		return domain.JobStatus{}, f.err
	}
	f.starts = append(f.starts, kind)
	return domain.JobStatus{Kind: kind, State: domain.JobStatePending}, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestScheduler(t *testing.T, starter JobStarter) (*Scheduler, *clock) {
	t.Helper()
	db := setupTestDB(t)
	c := &clock{t: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler(store.NewSettingsRepo(db), starter, logger.Discard())
	s.now = c.now
	return s, c
}

func TestScheduler_DefaultSchedule(t *testing.T) {
	s, c := newTestScheduler(t, &fakeStarter{})

	sched, err := s.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !sched.Enabled || sched.IntervalHours != 24 {
		t.Errorf("Expected enabled every 24h, got %+v", sched)
	}
	want := c.t.Add(24 * time.Hour)
	if sched.NextScanAt == nil || !sched.NextScanAt.Equal(want) {
		t.Errorf("Expected next scan at %v, got %v", want, sched.NextScanAt)
	}

	c.t = c.t.Add(time.Hour)
	again, _ := s.Get()
	if !again.NextScanAt.Equal(want) {
		t.Errorf("Expected next scan to stay at %v, got %v", want, again.NextScanAt)
	}
}

func TestScheduler_CheckStartsWhenDue(t *testing.T) {
	starter := &fakeStarter{}
	s, c := newTestScheduler(t, starter)
	ctx := context.Background()

	if _, err := s.Get(); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	c.t = c.t.Add(23 * time.Hour)
	started, err := s.Check(ctx)
	if err != nil || started {
		t.Fatalf("Expected no scan before due, got started=%v err=%v", started, err)
	}

	c.t = c.t.Add(time.Hour)
	started, err = s.Check(ctx)
	if err != nil || !started {
		t.Fatalf("Expected a scan when due, got started=%v err=%v", started, err)
	}
	if starter.count() != 1 || starter.starts[0] != domain.JobKindScan {
		t.Errorf("Expected one scan start, got %v", starter.starts)
	}

	sched, _ := s.Get()
	if sched.LastScanAt == nil || !sched.LastScanAt.Equal(c.t) {
		t.Errorf("Expected last scan at %v, got %v", c.t, sched.LastScanAt)
	}
	if !sched.NextScanAt.Equal(c.t.Add(24 * time.Hour)) {
		t.Errorf("Expected next scan a day later, got %v", sched.NextScanAt)
	}

	started, _ = s.Check(ctx)
	if started {
		t.Error("Expected no second scan right after the first")
	}
}

func TestScheduler_AlreadyRunningReschedules(t *testing.T) {
	starter := &fakeStarter{err: domain.ErrAlreadyRunning}
	s, c := newTestScheduler(t, starter)
	_, _ = s.Get()

	c.t = c.t.Add(25 * time.Hour)
	started, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("Expected already running to be ignored, got %v", err)
	}
	if started {
		t.Error("Expected started=false")
	}
	sched, _ := s.Get()
	if !sched.NextScanAt.After(c.t) {
		t.Errorf("Expected schedule moved forward, got %v", sched.NextScanAt)
	}
}

func TestScheduler_CheckPropagatesStartErrors(t *testing.T) {
	starter := &fakeStarter{err: errors.New("database locked")}
	s, c := newTestScheduler(t, starter)
	_, _ = s.Get()

	c.t = c.t.Add(25 * time.Hour)
	if _, err := s.Check(context.Background()); err == nil {
		t.Error("Expected start error")
	}
	sched, _ := s.Get()
	if sched.LastScanAt != nil {
		t.Errorf("Expected no last scan recorded, got %v", sched.LastScanAt)
	}
}

func TestScheduler_DisabledNeverStarts(t *testing.T) {
	starter := &fakeStarter{}
	s, c := newTestScheduler(t, starter)

	disabled := false
	if _, err := s.Update(ScheduleUpdate{Enabled: &disabled}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c.t = c.t.Add(48 * time.Hour)
	if started, _ := s.Check(context.Background()); started {
		t.Error("Expected no scan while disabled")
	}
	if starter.count() != 0 {
		t.Errorf("Expected no starts, got %d", starter.count())
	}
}

func TestScheduler_UpdateRecomputesNextScan(t *testing.T) {
	starter := &fakeStarter{}
	s, c := newTestScheduler(t, starter)
	_, _ = s.Get()

	c.t = c.t.Add(24 * time.Hour)
	if _, err := s.Check(context.Background()); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	last := c.t

	tests := []struct {
		name     string
		hours    int
		advance  time.Duration
		wantNext time.Time
		wantErr  bool
	}{
		{name: "shorter interval", hours: 6, advance: time.Hour, wantNext: last.Add(6 * time.Hour)},
		{name: "already overdue", hours: 1, advance: 2 * time.Hour, wantNext: last.Add(3 * time.Hour)},
		{name: "zero", hours: 0, wantErr: true},
		{name: "too long", hours: 24*30 + 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.t = c.t.Add(tt.advance)
			hours := tt.hours
			sched, err := s.Update(ScheduleUpdate{IntervalHours: &hours})
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Errorf("Expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if sched.IntervalHours != tt.hours {
				t.Errorf("Expected interval %d, got %d", tt.hours, sched.IntervalHours)
			}
			if !sched.NextScanAt.Equal(tt.wantNext) {
				t.Errorf("Expected next scan at %v, got %v", tt.wantNext, sched.NextScanAt)
			}
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	starter := &fakeStarter{}
	s, c := newTestScheduler(t, starter)
	_, _ = s.Get()
	c.t = c.t.Add(48 * time.Hour)

	s.CheckInterval = 5 * time.Millisecond
	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for starter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if starter.count() != 1 {
		t.Errorf("Expected exactly one scheduled scan, got %d", starter.count())
	}
}
