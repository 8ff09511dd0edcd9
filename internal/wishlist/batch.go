// Package wishlist feeds wishlisted releases into the download orchestrator
// one at a time with a fixed delay between submissions.
package wishlist

import (
	"context"
	"errors"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
)

type Store interface {
	ListWishlistQueue(today string) ([]*domain.Release, error)
	GetActiveDownloadForRelease(releaseID int64) (*domain.Download, error)
}

// Downloader starts a download for a release.
type Downloader interface {
	Start(ctx context.Context, releaseID int64) (*domain.Download, error)
}

type Batch struct {
	store      Store
	downloader Downloader
	delay      time.Duration
	now        func() time.Time
}

func NewBatch(st Store, d Downloader, delay time.Duration) *Batch {
	if delay < 0 {
		delay = constants.DefaultWishlistDelay
	}
	return &Batch{
		store:      st,
		downloader: d,
		delay:      delay,
		now:        time.Now,
	}
}

// Run is the wishlist-batch runner. Cancelling it stops dequeuing but leaves
// downloads that were already started alone.
func (b *Batch) Run(ctx context.Context, run *jobs.Run) error {
	log := run.Logger()

	queue, err := b.store.ListWishlistQueue(b.now().Format(time.DateOnly))
	if err != nil {
		return err
	}
	run.SetTotal(len(queue))
	log.Info("Wishlist batch started", "queued", len(queue))

	started, failed := 0, 0
	for i, rel := range queue {
		if run.Cancelled() || ctx.Err() != nil {
			log.Info("Wishlist batch cancelled", "processed", i, "started", started)
			return ctx.Err()
		}

		run.SetCurrent(displayName(rel))
		run.Advance()

		active, err := b.store.GetActiveDownloadForRelease(rel.ID)
		switch {
		case err != nil:
			log.Warn("Failed to check active download", "release_id", rel.ID, "error", err)
			failed++
			continue
		case active != nil:
			log.Debug("Release already downloading", "release_id", rel.ID, "download_id", active.ID)
			continue
		}

		d, err := b.downloader.Start(ctx, rel.ID)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				log.Debug("Release already downloading", "release_id", rel.ID)
			} else {
				log.Warn("Failed to start download", "release_id", rel.ID, "error", err)
				failed++
			}
		} else {
			started++
			run.SetResult(started)
			log.Info("Download started", "release_id", rel.ID, "download_id", d.ID)
		}

		if i == len(queue)-1 || b.delay == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("Wishlist batch cancelled", "processed", i+1, "started", started)
			return ctx.Err()
		case <-time.After(b.delay):
		}
	}

	log.Info("Wishlist batch finished", "started", started, "failed", failed)
	return nil
}

func displayName(r *domain.Release) string {
	artist := r.ArtistName
	if artist == "" {
		artist = "Unknown Artist"
	}
	return artist + " - " + r.Title
}
