package main

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/cesargomez89/audiosource/internal/app"
	"github.com/cesargomez89/audiosource/internal/config"
	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/downloads"
	"github.com/cesargomez89/audiosource/internal/httpclient"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/musicbrainz"
	"github.com/cesargomez89/audiosource/internal/scanner"
	"github.com/cesargomez89/audiosource/internal/scrapes"
	"github.com/cesargomez89/audiosource/internal/slskd"
	"github.com/cesargomez89/audiosource/internal/sources"
	"github.com/cesargomez89/audiosource/internal/store"
	"github.com/cesargomez89/audiosource/internal/tagging"
	"github.com/cesargomez89/audiosource/internal/wishlist"
)

// services is the wired object graph shared by serve and scan.
type services struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *store.DB
	registry  *jobs.Registry
	downloads *downloads.Orchestrator
	library   *app.Library
	covers    *app.Covers
	scheduler *app.Scheduler
}

func buildServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry, err := jobs.NewRegistry(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	locks := store.NewReleaseLocks()
	catalog := musicbrainz.NewCachedClient(
		musicbrainz.NewClient(cfg.MusicBrainzURL, cfg.MusicBrainzUserAgent),
		db,
		constants.DefaultCacheTTL,
	)
	tags := tagging.NewReader()
	sc := scanner.New(db, catalog, tags, locks, cfg.MusicFolder, cfg.MatchThreshold, log)

	var peer downloads.Peer
	if cfg.SlskdConfigured() {
		peer = slskd.NewClient(cfg.SlskdURL, cfg.SlskdAPIKey)
	}
	orch := downloads.New(db, peer, sc, locks, downloads.Options{
		Enabled:         cfg.SlskdConfigured(),
		DownloadDir:     cfg.SlskdDownloadDir,
		MusicFolder:     cfg.MusicFolder,
		LibraryTemplate: cfg.LibraryTemplate,
		Timeout:         cfg.DownloadTimeout,
	}, log)

	web := httpclient.NewClient(nil, 0,
		httpclient.WithUserAgent(constants.ScraperUserAgent),
		httpclient.WithTimeout(constants.ScrapeHTTPTimeout),
	)

	registry.Register(domain.JobKindScan, sc.Run)
	registry.Register(domain.JobKindWishlistBatch, wishlist.NewBatch(db, orch, cfg.WishlistDelay).Run)
	registry.Register(domain.JobKindNewReleases, scrapes.NewJob[*domain.NewRelease](
		sources.NewAOTY(web, ""), &scrapes.NewReleaseSink{Store: db}, 0).Run)
	registry.Register(domain.JobKindVinyl, scrapes.NewJob[*domain.VinylRelease](
		sources.NewReddit(web, db, "", 0), &scrapes.VinylSink{Store: db}, 0).Run)
	registry.Register(domain.JobKindConcerts, scrapes.NewJob[*domain.Concert](
		sources.NewSongkick(web, db, ""), &scrapes.ConcertSink{Store: db}, constants.SongkickDelay).Run)
	registry.Register(domain.JobKindUpcomingCheck, scrapes.NewJob[musicbrainz.ReleaseGroup](
		sources.NewUpcoming(catalog, db), &scrapes.UpcomingSink{Store: db, Locks: locks}, 0).Run)

	images := httpclient.NewClient(nil, 0, httpclient.WithUserAgent(cfg.MusicBrainzUserAgent))

	return &services{
		cfg:       cfg,
		log:       log,
		db:        db,
		registry:  registry,
		downloads: orch,
		library:   app.NewLibrary(db, catalog, locks, log),
		covers:    app.NewCovers(db, tags, images),
		scheduler: app.NewScheduler(store.NewSettingsRepo(db), registry, log),
	}, nil
}

// acquireLock takes the single-instance lock in the data directory.
func acquireLock(cfg *config.Config) (*flock.Flock, error) {
	path := filepath.Join(cfg.DataDir, constants.LockFileName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another audiosource instance holds %s", path)
	}
	return lock, nil
}
