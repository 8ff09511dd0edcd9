// Package watcher starts library scans when audio files change on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/storage"
	"github.com/fsnotify/fsnotify"
)

type JobStarter interface {
	Start(ctx context.Context, kind domain.JobKind, params jobs.Params) (domain.JobStatus, error)
}

// Watcher follows the music folder tree and starts a non-forced scan once
// changes have been quiet for Debounce.
type Watcher struct {
	root     string
	jobs     JobStarter
	Debounce time.Duration
	logger   *logger.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(root string, starter JobStarter, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Default()
	}
	return &Watcher{
		root:     root,
		jobs:     starter,
		Debounce: constants.WatcherDebounce,
		logger:   log.WithComponent("watcher"),
	}
}

// Start registers the folder tree and begins processing events.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, fsw.Events, fsw.Errors)
	}()

	w.logger.Info("Watching library", "root", w.root, "debounce", w.Debounce)
	return nil
}

func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	_ = w.fsw.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("failed to watch %s: %w", root, err)
			}
			w.logger.Warn("Skipping unreadable directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if w.relevant(event) {
				timer.Reset(w.Debounce)
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		case <-timer.C:
			w.trigger(ctx)
		}
	}
}

// relevant reports whether event should lead to a scan. New directories are
// added to the watch list on the way.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.fsw != nil {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return true
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if storage.HasExtension(event.Name, constants.AudioExtensions) {
		return true
	}
	// A removed or renamed directory can no longer be stat'ed.
	return (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && filepath.Ext(event.Name) == ""
}

func (w *Watcher) trigger(ctx context.Context) {
	_, err := w.jobs.Start(ctx, domain.JobKindScan, jobs.Params{})
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		w.logger.Debug("Scan already running, skipping watcher scan")
	case err != nil:
		w.logger.Error("Failed to start watcher scan", "error", err)
	default:
		w.logger.Info("Library changed, scan started")
	}
}
