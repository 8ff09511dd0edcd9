package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/matcher"
	"github.com/cesargomez89/audiosource/internal/musicbrainz"
	"github.com/cesargomez89/audiosource/internal/store"
)

// LibraryStore is the part of the store the library service reads and
// writes.
type LibraryStore interface {
	ListReleases(filter store.ReleaseFilter) ([]*domain.Release, error)
	GetRelease(id int64) (*domain.Release, error)
	GetReleaseWithTracks(id int64) (*domain.Release, error)
	FindReleaseByMBID(mbid string) (*domain.Release, error)
	SaveRelease(r *domain.Release, replaceTracks bool) error
	SetWishlisted(id int64, wishlisted bool) error
	DeleteRelease(id int64) error
	GetStats() (*domain.Stats, error)

	ListArtists() ([]*domain.Artist, error)
	GetArtist(id int64) (*domain.Artist, error)
	FindArtistByMBID(mbid string) (*domain.Artist, error)
	FindArtistByName(normalized string) (*domain.Artist, error)
	CreateArtist(artist *domain.Artist) error
	DeleteArtist(id int64) error
}

// Catalog is the release lookup the library service needs.
type Catalog interface {
	SearchReleases(ctx context.Context, title, artist string, limit int) ([]domain.MatchCandidate, error)
	SearchReleasesQuery(ctx context.Context, q string, limit int) ([]domain.MatchCandidate, error)
	GetRelease(ctx context.Context, mbid string) (*domain.MatchCandidate, error)
}

// SearchResult is a catalog hit annotated with the library's view of it.
type SearchResult struct {
	domain.MatchCandidate
	ExistingAlbumID *int64 `json:"existing_album_id"`
	IsOwned         bool   `json:"is_owned"`
	IsWishlisted    bool   `json:"is_wishlisted"`
}

// WishlistRequest names a release by library id or by catalog id.
type WishlistRequest struct {
	AlbumID       *int64
	MusicBrainzID string
}

type Library struct {
	store   LibraryStore
	catalog Catalog
	locks   *store.ReleaseLocks
	logger  *logger.Logger
}

// NewLibrary returns the library service. catalog may be nil, in which case
// catalog operations fail with ErrUnavailable.
func NewLibrary(st LibraryStore, catalog Catalog, locks *store.ReleaseLocks, log *logger.Logger) *Library {
	if log == nil {
		log = logger.Default()
	}
	if locks == nil {
		locks = store.NewReleaseLocks()
	}
	return &Library{
		store:   st,
		catalog: catalog,
		locks:   locks,
		logger:  log.WithComponent("library"),
	}
}

func (l *Library) ListAlbums(filter store.ReleaseFilter) ([]*domain.Release, error) {
	return l.store.ListReleases(filter)
}

func (l *Library) GetAlbum(id int64) (*domain.Release, error) {
	return l.store.GetReleaseWithTracks(id)
}

func (l *Library) ListArtists() ([]*domain.Artist, error) {
	return l.store.ListArtists()
}

func (l *Library) GetArtist(id int64) (*domain.Artist, error) {
	return l.store.GetArtist(id)
}

func (l *Library) ListArtistAlbums(id int64) ([]*domain.Release, error) {
	if _, err := l.store.GetArtist(id); err != nil {
		return nil, err
	}
	return l.store.ListReleases(store.ReleaseFilter{ArtistID: &id})
}

// DeleteArtist fails with ErrConflict while the artist still has releases.
func (l *Library) DeleteArtist(id int64) error {
	if err := l.store.DeleteArtist(id); err != nil {
		return err
	}
	l.logger.Info("Artist deleted", "artist_id", id)
	return nil
}

func (l *Library) Stats() (*domain.Stats, error) {
	return l.store.GetStats()
}

func (l *Library) Wishlist() ([]*domain.Release, error) {
	wishlisted := true
	return l.store.ListReleases(store.ReleaseFilter{Wishlisted: &wishlisted})
}

// AddToWishlist flags an existing release, or creates the release from the
// catalog when only a catalog id is given and the library does not know it.
func (l *Library) AddToWishlist(ctx context.Context, req WishlistRequest) (*domain.Release, error) {
	if req.AlbumID != nil {
		return l.wishlistExisting(*req.AlbumID)
	}

	mbid := strings.TrimSpace(req.MusicBrainzID)
	if mbid == "" {
		return nil, fmt.Errorf("album_id or musicbrainz_id is required: %w", domain.ErrInvalidInput)
	}

	existing, err := l.store.FindReleaseByMBID(mbid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return l.wishlistExisting(existing.ID)
	}

	if l.catalog == nil {
		return nil, fmt.Errorf("catalog: %w", domain.ErrUnavailable)
	}
	c, err := l.catalog.GetRelease(ctx, mbid)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("catalog release %s: %w", mbid, domain.ErrNotFound)
	}

	artist, err := l.resolveArtist(c)
	if err != nil {
		return nil, err
	}

	rel := &domain.Release{IsWishlisted: true, IsScanned: true}
	applyCandidate(rel, mbid, c)
	if rel.Title == "" {
		rel.Title = "Unknown Album"
		rel.TitleNormalized = matcher.Normalize(rel.Title)
	}
	if artist != nil {
		rel.ArtistID = &artist.ID
	}
	if err := l.store.SaveRelease(rel, false); err != nil {
		return nil, fmt.Errorf("failed to create release %s: %w", mbid, err)
	}
	l.logger.WithRelease(rel.ID, rel.Title).Info("Release added to wishlist from catalog", "mbid", mbid)
	return l.store.GetRelease(rel.ID)
}

func (l *Library) wishlistExisting(id int64) (*domain.Release, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	rel, err := l.store.GetRelease(id)
	if err != nil {
		return nil, err
	}
	if rel.IsOwned {
		return nil, fmt.Errorf("release %d is already owned: %w", id, domain.ErrConflict)
	}
	if !rel.IsWishlisted {
		if err := l.store.SetWishlisted(id, true); err != nil {
			return nil, err
		}
		rel.IsWishlisted = true
		l.logger.WithRelease(rel.ID, rel.Title).Info("Release added to wishlist")
	}
	return rel, nil
}

func (l *Library) RemoveFromWishlist(id int64) error {
	unlock := l.locks.Lock(id)
	defer unlock()

	if _, err := l.store.GetRelease(id); err != nil {
		return err
	}
	return l.store.SetWishlisted(id, false)
}

func (l *Library) resolveArtist(c *domain.MatchCandidate) (*domain.Artist, error) {
	if c.ArtistMBID != "" {
		a, err := l.store.FindArtistByMBID(c.ArtistMBID)
		if err != nil || a != nil {
			return a, err
		}
	}
	if c.Artist == "" {
		return nil, nil
	}

	normalized := matcher.Normalize(c.Artist)
	a, err := l.store.FindArtistByName(normalized)
	if err != nil || a != nil {
		return a, err
	}

	a = &domain.Artist{Name: c.Artist, NameNormalized: normalized}
	if c.ArtistMBID != "" {
		mbid := c.ArtistMBID
		a.MusicBrainzID = &mbid
	}
	if err := l.store.CreateArtist(a); err != nil {
		return nil, fmt.Errorf("failed to create artist %s: %w", c.Artist, err)
	}
	return a, nil
}

// SearchCatalog searches the catalog for q. Queries shorter than two
// characters return nothing without calling out.
func (l *Library) SearchCatalog(ctx context.Context, q string) ([]SearchResult, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < constants.MinQueryLength {
		return []SearchResult{}, nil
	}
	if l.catalog == nil {
		return nil, fmt.Errorf("catalog: %w", domain.ErrUnavailable)
	}

	candidates, err := l.catalog.SearchReleasesQuery(ctx, q, constants.CatalogSearchLimit)
	if err != nil {
		return nil, err
	}
	ranked := matcher.RankQuery(q, candidates, constants.CatalogSearchLimit)

	results := make([]SearchResult, 0, len(ranked))
	for _, c := range ranked {
		res := SearchResult{MatchCandidate: c}
		if c.MusicBrainzID != "" {
			existing, err := l.store.FindReleaseByMBID(c.MusicBrainzID)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				res.ExistingAlbumID = &existing.ID
				res.IsOwned = existing.IsOwned
				res.IsWishlisted = existing.IsWishlisted
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// MetadataMatches ranks catalog candidates for a release, best first.
func (l *Library) MetadataMatches(ctx context.Context, id int64) ([]domain.MatchCandidate, error) {
	rel, err := l.store.GetReleaseWithTracks(id)
	if err != nil {
		return nil, err
	}
	if l.catalog == nil {
		return nil, fmt.Errorf("catalog: %w", domain.ErrUnavailable)
	}

	candidates, err := l.catalog.SearchReleases(ctx, rel.Title, rel.ArtistName, constants.CatalogSearchLimit)
	if err != nil {
		return nil, err
	}

	local := matcher.Local{
		Title:      rel.Title,
		Artist:     rel.ArtistName,
		Year:       matcher.Year(rel.ReleaseDate),
		TrackCount: len(rel.Tracks),
	}
	if local.TrackCount == 0 {
		local.TrackCount = rel.TrackCount
	}
	return matcher.Rank(local, candidates, constants.MatchCandidateLimit), nil
}

// ApplyMetadata points a release at a catalog entry. Tracks and folder are
// kept. A release that already holds the catalog id is merged into this one
// unless it is owned.
func (l *Library) ApplyMetadata(ctx context.Context, id int64, mbid string) (*domain.Release, error) {
	mbid = strings.TrimSpace(mbid)
	if mbid == "" {
		return nil, fmt.Errorf("catalog_id is required: %w", domain.ErrInvalidInput)
	}
	if _, err := l.store.GetRelease(id); err != nil {
		return nil, err
	}
	if l.catalog == nil {
		return nil, fmt.Errorf("catalog: %w", domain.ErrUnavailable)
	}

	c, err := l.catalog.GetRelease(ctx, mbid)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("catalog release %s: %w", mbid, domain.ErrNotFound)
	}

	holder, unlock, err := l.lockForMerge(id, mbid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rel, err := l.store.GetRelease(id)
	if err != nil {
		return nil, err
	}

	if holder != nil && holder.ID != rel.ID {
		if holder.IsOwned {
			return nil, fmt.Errorf("catalog id %s belongs to owned release %d: %w", mbid, holder.ID, domain.ErrConflict)
		}
		if holder.IsWishlisted && !rel.IsOwned {
			rel.IsWishlisted = true
		}
		if err := l.store.DeleteRelease(holder.ID); err != nil {
			return nil, fmt.Errorf("failed to merge release %d: %w", holder.ID, err)
		}
		l.logger.Info("Merged duplicate release", "kept", rel.ID, "removed", holder.ID)
	}

	applyCandidate(rel, mbid, c)
	rel.IsScanned = true
	if err := l.store.SaveRelease(rel, false); err != nil {
		return nil, err
	}
	l.logger.WithRelease(rel.ID, rel.Title).Info("Metadata applied", "mbid", mbid, "match_score", c.MatchScore)
	return l.store.GetReleaseWithTracks(rel.ID)
}

const mergeLockAttempts = 3

// lockForMerge locks id together with the release holding mbid. The holder
// is looked up again under the locks; when it changed hands in between the
// locks are dropped and the lookup repeated.
func (l *Library) lockForMerge(id int64, mbid string) (*domain.Release, func(), error) {
	for attempt := 0; attempt < mergeLockAttempts; attempt++ {
		holder, err := l.store.FindReleaseByMBID(mbid)
		if err != nil {
			return nil, nil, err
		}

		var unlock func()
		if holder != nil && holder.ID != id {
			unlock = l.lockPair(id, holder.ID)
		} else {
			unlock = l.locks.Lock(id)
		}

		current, err := l.store.FindReleaseByMBID(mbid)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		if current == nil || current.ID == id || (holder != nil && current.ID == holder.ID) {
			return current, unlock, nil
		}
		unlock()
		l.logger.Debug("Catalog id changed hands, retrying", "mbid", mbid, "attempt", attempt+1)
	}
	return nil, nil, fmt.Errorf("catalog id %s keeps changing hands: %w", mbid, domain.ErrConflict)
}

// lockPair takes two release locks in id order.
func (l *Library) lockPair(a, b int64) func() {
	if a > b {
		a, b = b, a
	}
	unlockA := l.locks.Lock(a)
	unlockB := l.locks.Lock(b)
	return func() {
		unlockB()
		unlockA()
	}
}

func applyCandidate(rel *domain.Release, mbid string, c *domain.MatchCandidate) {
	rel.MusicBrainzID = &mbid
	if c.Title != "" {
		rel.Title = c.Title
		rel.TitleNormalized = matcher.Normalize(c.Title)
	}
	rel.ReleaseDate = c.ReleaseDate
	rel.ReleaseType = c.ReleaseType
	rel.CoverArtURL = c.CoverArtURL
	if rel.CoverArtURL == "" {
		rel.CoverArtURL = musicbrainz.CoverArtURL(mbid)
	}
	if c.TrackCount > 0 {
		rel.TrackCount = c.TrackCount
	}
}
