// Package downloads drives release acquisition through slskd: source search,
// transfer polling, completion rules and the move into the library.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/scanner"
	"github.com/cesargomez89/audiosource/internal/slskd"
	"github.com/cesargomez89/audiosource/internal/store"
)

const (
	minSuccessRate = constants.MinMoveSuccessRate

	msgNoSources      = "No suitable sources found"
	msgNoSourceWorked = "Failed to start download from any source"
	msgCancelled      = "Cancelled by user"
	msgInterrupted    = "Interrupted by restart"
	msgReleaseMissing = "Release no longer exists"
)

// errStale marks a row that changed state under a worker.
var errStale = errors.New("download changed state")

type Store interface {
	GetRelease(id int64) (*domain.Release, error)
	SaveRelease(r *domain.Release, replaceTracks bool) error
	CreateDownload(d *domain.Download) error
	GetDownload(id string) (*domain.Download, error)
	GetActiveDownloadForRelease(releaseID int64) (*domain.Download, error)
	ListDownloads(limit int) ([]*domain.Download, error)
	ListDownloadsByStatus(statuses ...domain.DownloadStatus) ([]*domain.Download, error)
	UpdateDownload(d *domain.Download) error
	DeleteDownload(id string) error
}

// Peer is the slice of the slskd API the orchestrator drives.
type Peer interface {
	Available(ctx context.Context) bool
	Search(ctx context.Context, text string) (string, error)
	WaitForSearch(ctx context.Context, id string) ([]slskd.SearchResponse, error)
	Enqueue(ctx context.Context, user string, files []slskd.File) error
	Transfers(ctx context.Context) ([]slskd.Transfer, error)
	CancelUser(ctx context.Context, user string) error
}

// FolderScanner rescans a library folder after a move.
type FolderScanner interface {
	ScanFolder(ctx context.Context, folder string, force bool) (*domain.Release, scanner.Outcome, error)
}

type Options struct {
	Enabled         bool
	DownloadDir     string
	MusicFolder     string
	LibraryTemplate string
	Timeout         time.Duration
	MaxConcurrent   int
	PollInterval    time.Duration
}

type Orchestrator struct {
	store   Store
	peer    Peer
	scanner FolderScanner
	locks   *store.ReleaseLocks
	opts    Options
	log     *logger.Logger
	now     func() time.Time

	sem chan struct{}

	// rowMu serializes read-modify-write of download rows between workers
	// and API calls.
	rowMu sync.Mutex

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	moving map[string]bool
	closed bool
	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

func New(st Store, peer Peer, sc FolderScanner, locks *store.ReleaseLocks, opts Options, log *logger.Logger) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = constants.MaxConcurrentSearch
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.TransferPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultDownloadTimeout
	}
	if locks == nil {
		locks = store.NewReleaseLocks()
	}

	if log == nil {
		log = logger.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   st,
		peer:    peer,
		scanner: sc,
		locks:   locks,
		opts:    opts,
		log:     log.WithComponent("downloads"),
		now:     func() time.Time { return time.Now().UTC() },
		sem:     make(chan struct{}, opts.MaxConcurrent),
		tasks:   make(map[string]context.CancelFunc),
		moving:  make(map[string]bool),
		base:    base,
		stop:    stop,
	}
}

// Enabled reports whether peer downloads are configured.
func (o *Orchestrator) Enabled() bool {
	return o.opts.Enabled && o.peer != nil
}

// Available reports whether slskd answers.
func (o *Orchestrator) Available(ctx context.Context) bool {
	return o.Enabled() && o.peer.Available(ctx)
}

// Start creates a pending download for the release and launches its worker.
// On conflict the active download is returned with the error.
func (o *Orchestrator) Start(ctx context.Context, releaseID int64) (*domain.Download, error) {
	if !o.Enabled() {
		return nil, fmt.Errorf("peer downloads are disabled: %w", domain.ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, err := o.store.GetRelease(releaseID)
	if err != nil {
		return nil, err
	}

	artist := rel.ArtistName
	if artist == "" {
		artist = "Unknown Artist"
	}
	d := &domain.Download{
		ID:         uuid.NewString(),
		ReleaseID:  &releaseID,
		ArtistName: artist,
		AlbumTitle: rel.Title,
		Status:     domain.DownloadPending,
		CreatedAt:  o.now(),
	}
	if err := o.store.CreateDownload(d); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			active, _ := o.store.GetActiveDownloadForRelease(releaseID)
			return active, err
		}
		return nil, err
	}

	o.log.WithDownload(d.ID, d.ArtistName, d.AlbumTitle).Info("Download queued", "release_id", releaseID)
	o.launch(d.ID, func(ctx context.Context) { o.process(ctx, d.ID) })
	return d, nil
}

func (o *Orchestrator) Get(id string) (*domain.Download, error) {
	return o.store.GetDownload(id)
}

func (o *Orchestrator) List(limit int) ([]*domain.Download, error) {
	if limit <= 0 {
		limit = 100
	}
	return o.store.ListDownloads(limit)
}

// Cancel stops an active download. Terminal rows are returned unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*domain.Download, error) {
	var user string
	d, err := o.update(id, func(d *domain.Download) error {
		if d.Status.Terminal() {
			return errStale
		}
		user = d.User()
		now := o.now()
		d.Status = domain.DownloadCancelled
		d.ErrorMessage = message(msgCancelled)
		d.CompletedAt = &now
		return nil
	})
	if errors.Is(err, errStale) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}

	o.stopTask(id)
	if user != "" && o.peer != nil {
		if err := o.peer.CancelUser(ctx, user); err != nil {
			o.log.Warn("Failed to cancel peer transfers", "id", id, "user", user, "error", err)
		}
	}
	o.log.WithDownload(d.ID, d.ArtistName, d.AlbumTitle).Info("Download cancelled")
	return d, nil
}

// Retry requeues a failed or cancelled download. The row's age restarts so
// the stale sweep measures from the retry.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*domain.Download, error) {
	if !o.Enabled() {
		return nil, fmt.Errorf("peer downloads are disabled: %w", domain.ErrUnavailable)
	}

	d, err := o.update(id, func(d *domain.Download) error {
		if d.Status != domain.DownloadFailed && d.Status != domain.DownloadCancelled {
			return fmt.Errorf("cannot retry a %s download: %w", d.Status, domain.ErrInvalidTransition)
		}
		d.Status = domain.DownloadPending
		d.ErrorMessage = nil
		d.Username = nil
		d.Files = nil
		d.TotalFiles, d.CompletedFiles, d.FailedFiles = 0, 0, 0
		d.TotalBytes, d.CompletedBytes = 0, 0
		d.StartedAt, d.CompletedAt = nil, nil
		d.RetryCount++
		d.CreatedAt = o.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.WithDownload(d.ID, d.ArtistName, d.AlbumTitle).Info("Download retried", "retry_count", d.RetryCount)
	o.launch(d.ID, func(ctx context.Context) { o.process(ctx, d.ID) })
	return d, nil
}

// Delete removes a terminal download row.
func (o *Orchestrator) Delete(id string) error {
	o.rowMu.Lock()
	defer o.rowMu.Unlock()

	d, err := o.store.GetDownload(id)
	if err != nil {
		return err
	}
	if d.Status.Active() {
		return fmt.Errorf("cannot delete a %s download: %w", d.Status, domain.ErrInvalidTransition)
	}
	return o.store.DeleteDownload(id)
}

// SweepStale fails pending or searching downloads older than the timeout
// and returns how many it failed.
func (o *Orchestrator) SweepStale(ctx context.Context) (int, error) {
	rows, err := o.store.ListDownloadsByStatus(domain.DownloadPending, domain.DownloadSearching)
	if err != nil {
		return 0, err
	}

	cutoff := o.now().Add(-o.opts.Timeout)
	minutes := int(o.opts.Timeout.Minutes())
	swept := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		if !row.CreatedAt.Before(cutoff) {
			continue
		}
		_, err := o.update(row.ID, func(d *domain.Download) error {
			if d.Status != domain.DownloadPending && d.Status != domain.DownloadSearching {
				return errStale
			}
			o.fail(d, fmt.Sprintf("Timed out after %d minutes", minutes))
			return nil
		})
		if errors.Is(err, errStale) {
			continue
		}
		if err != nil {
			o.log.Error("Failed to time out download", "id", row.ID, "error", err)
			continue
		}
		o.stopTask(row.ID)
		swept++
		o.log.WithDownload(row.ID, row.ArtistName, row.AlbumTitle).Warn("Download timed out")
	}
	return swept, nil
}

// Resume picks up rows left over by a previous process: transfers in
// flight are polled again, unfinished searches are failed.
func (o *Orchestrator) Resume() error {
	rows, err := o.store.ListDownloadsByStatus(domain.DownloadPending, domain.DownloadSearching, domain.DownloadDownloading)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Status == domain.DownloadDownloading && o.Enabled() {
			id, user := row.ID, row.User()
			o.log.WithDownload(row.ID, row.ArtistName, row.AlbumTitle).Info("Resuming transfer polling")
			o.launch(id, func(ctx context.Context) { o.poll(ctx, id, user) })
			continue
		}
		_, err := o.update(row.ID, func(d *domain.Download) error {
			if d.Status.Terminal() {
				return errStale
			}
			o.fail(d, msgInterrupted)
			return nil
		})
		if err != nil && !errors.Is(err, errStale) {
			o.log.Error("Failed to mark download interrupted", "id", row.ID, "error", err)
		}
	}
	return nil
}

// Close stops every worker and waits for them.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.stop()
	o.wg.Wait()
}

// Wait blocks until no worker is running. Used by tests and shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) launch(id string, fn func(ctx context.Context)) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(o.base)
	if prev, ok := o.tasks[id]; ok {
		prev()
	}
	o.tasks[id] = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			if o.tasks[id] != nil && ctx.Err() == nil {
				delete(o.tasks, id)
			}
			o.mu.Unlock()
			cancel()
		}()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("Panic in download worker", "id", id, "panic", r)
				_, _ = o.update(id, func(d *domain.Download) error {
					if d.Status.Terminal() {
						return errStale
					}
					o.fail(d, fmt.Sprintf("Panic: %v", r))
					return nil
				})
			}
		}()
		fn(ctx)
	}()
}

func (o *Orchestrator) stopTask(id string) {
	o.mu.Lock()
	cancel, ok := o.tasks[id]
	delete(o.tasks, id)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// update applies fn to a fresh copy of the row and writes it back. When fn
// returns errStale nothing is written and the current row is returned.
func (o *Orchestrator) update(id string, fn func(d *domain.Download) error) (*domain.Download, error) {
	o.rowMu.Lock()
	defer o.rowMu.Unlock()

	d, err := o.store.GetDownload(id)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return d, err
	}
	if err := o.store.UpdateDownload(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (o *Orchestrator) fail(d *domain.Download, msg string) {
	now := o.now()
	d.Status = domain.DownloadFailed
	d.ErrorMessage = &msg
	d.CompletedAt = &now
}

// process runs search, source selection and transfer polling for one download.
func (o *Orchestrator) process(ctx context.Context, id string) {
	d, err := o.update(id, func(d *domain.Download) error {
		if d.Status != domain.DownloadPending {
			return errStale
		}
		d.Status = domain.DownloadSearching
		return nil
	})
	if err != nil {
		if !errors.Is(err, errStale) {
			o.log.Error("Failed to start search", "id", id, "error", err)
		}
		return
	}
	log := o.log.WithDownload(d.ID, d.ArtistName, d.AlbumTitle)

	expected := 0
	if d.ReleaseID != nil {
		rel, err := o.store.GetRelease(*d.ReleaseID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				o.failIf(id, domain.DownloadSearching, msgReleaseMissing)
				return
			}
			log.Warn("Failed to load release", "error", err)
		} else {
			expected = rel.TrackCount
		}
	}

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	candidates, err := o.findSources(ctx, d.ArtistName, d.AlbumTitle, expected)
	<-o.sem

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Warn("Source search failed", "error", err)
		o.failIf(id, domain.DownloadSearching, err.Error())
		return
	}
	if len(candidates) == 0 {
		log.Info("No sources found")
		o.failIf(id, domain.DownloadSearching, msgNoSources)
		return
	}

	for i, c := range candidates {
		if i >= constants.MaxSourceCandidates {
			break
		}
		if ctx.Err() != nil {
			return
		}
		if err := o.peer.Enqueue(ctx, c.Username, c.files()); err != nil {
			log.Warn("Enqueue failed", "user", c.Username, "score", c.Score, "error", err)
			continue
		}

		user := c.Username
		_, err := o.update(id, func(d *domain.Download) error {
			if d.Status != domain.DownloadSearching {
				return errStale
			}
			now := o.now()
			d.Status = domain.DownloadDownloading
			d.Username = &user
			d.Files = make(domain.StringSlice, len(c.Files))
			for j, f := range c.Files {
				d.Files[j] = f.Filename
			}
			d.TotalFiles = len(c.Files)
			d.TotalBytes = c.totalBytes()
			d.StartedAt = &now
			return nil
		})
		if err != nil {
			// Cancelled or timed out while enqueueing.
			if cerr := o.peer.CancelUser(context.WithoutCancel(ctx), user); cerr != nil {
				log.Warn("Failed to withdraw transfers", "user", user, "error", cerr)
			}
			if !errors.Is(err, errStale) {
				log.Error("Failed to record source", "error", err)
			}
			return
		}

		log.Info("Transfer started", "user", user, "files", len(c.Files), "score", c.Score)
		o.poll(ctx, id, user)
		return
	}

	o.failIf(id, domain.DownloadSearching, msgNoSourceWorked)
}

// failIf fails the row only if it is still in status.
func (o *Orchestrator) failIf(id string, status domain.DownloadStatus, msg string) {
	_, err := o.update(id, func(d *domain.Download) error {
		if d.Status != status {
			return errStale
		}
		o.fail(d, msg)
		return nil
	})
	if err != nil && !errors.Is(err, errStale) {
		o.log.Error("Failed to record failure", "id", id, "error", err)
	}
}

// poll follows the transfers of user until the download settles.
func (o *Orchestrator) poll(ctx context.Context, id, user string) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		transfers, err := o.peer.Transfers(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Debug("Transfer poll failed", "id", id, "error", err)
			continue
		}

		var autoMove bool
		d, err := o.update(id, func(d *domain.Download) error {
			if d.Status != domain.DownloadDownloading {
				return errStale
			}
			p, found := aggregate(transfers, user, d.Files)
			if !found {
				return errStale
			}
			_, autoMove = applyProgress(d, p, o.now())
			return nil
		})
		if errors.Is(err, errStale) {
			if d != nil && d.Status != domain.DownloadDownloading {
				return
			}
			continue
		}
		if err != nil {
			o.log.Error("Failed to record progress", "id", id, "error", err)
			continue
		}
		if d.Status == domain.DownloadDownloading {
			continue
		}

		log := o.log.WithDownload(d.ID, d.ArtistName, d.AlbumTitle)
		log.Info("Transfer finished", "status", d.Status, "completed", d.CompletedFiles, "failed", d.FailedFiles)
		if autoMove {
			if _, err := o.Move(ctx, id); err != nil {
				log.Warn("Auto-move failed", "error", err)
			}
		}
		return
	}
}
