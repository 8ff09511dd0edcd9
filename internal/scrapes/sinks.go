package scrapes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/matcher"
	"github.com/cesargomez89/audiosource/internal/musicbrainz"
	"github.com/cesargomez89/audiosource/internal/sources"
	"github.com/cesargomez89/audiosource/internal/store"
)

type NewReleaseStore interface {
	FindReleaseByArtistTitle(artistNormalized, titleNormalized string) (*domain.Release, error)
	UpsertNewRelease(n *domain.NewRelease) error
}

// NewReleaseSink stores weekly releases, linking those already in the library.
type NewReleaseSink struct {
	Store NewReleaseStore
}

func (s *NewReleaseSink) Save(ctx context.Context, q sources.Query, records []*domain.NewRelease) (int, error) {
	saved := 0
	for _, r := range records {
		match, err := s.Store.FindReleaseByArtistTitle(matcher.Normalize(r.Artist), matcher.Normalize(r.Title))
		if err != nil {
			return saved, err
		}
		if match != nil {
			r.MatchedReleaseID = &match.ID
		}
		if err := s.Store.UpsertNewRelease(r); err != nil {
			return saved, fmt.Errorf("failed to store %s: %w", r.AOTYURL, err)
		}
		saved++
	}
	return saved, nil
}

type VinylStore interface {
	UpsertVinylRelease(v *domain.VinylRelease) (bool, error)
}

// VinylSink stores matched posts and counts the new ones.
type VinylSink struct {
	Store VinylStore
}

func (s *VinylSink) Save(ctx context.Context, q sources.Query, records []*domain.VinylRelease) (int, error) {
	added := 0
	for _, v := range records {
		created, err := s.Store.UpsertVinylRelease(v)
		if err != nil {
			return added, fmt.Errorf("failed to store post %s: %w", v.RedditID, err)
		}
		if created {
			added++
		}
	}
	return added, nil
}

type ConcertStore interface {
	UpsertConcert(c *domain.Concert) error
	DeletePastConcerts(cutoff time.Time) (int64, error)
}

// ConcertSink stores events and drops past ones before each run.
type ConcertSink struct {
	Store ConcertStore
	Now   func() time.Time
}

func (s *ConcertSink) Prepare(ctx context.Context) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err := s.Store.DeletePastConcerts(now())
	return err
}

func (s *ConcertSink) Save(ctx context.Context, q sources.Query, records []*domain.Concert) (int, error) {
	saved := 0
	for _, c := range records {
		if err := s.Store.UpsertConcert(c); err != nil {
			return saved, fmt.Errorf("failed to store event %s: %w", c.EventID, err)
		}
		saved++
	}
	return saved, nil
}

type UpcomingStore interface {
	FindReleaseByMBID(mbid string) (*domain.Release, error)
	GetRelease(id int64) (*domain.Release, error)
	SaveRelease(r *domain.Release, replaceTracks bool) error
}

// UpcomingSink wishlists upcoming release groups, creating releases the
// library does not know yet.
type UpcomingSink struct {
	Store UpcomingStore
	Locks *store.ReleaseLocks
}

func (s *UpcomingSink) Save(ctx context.Context, q sources.Query, groups []musicbrainz.ReleaseGroup) (int, error) {
	wishlisted := 0
	for _, g := range groups {
		added, err := s.wishlist(q.Artist, g)
		if err != nil {
			return wishlisted, fmt.Errorf("failed to wishlist %s: %w", g.ID, err)
		}
		if added {
			wishlisted++
		}
	}
	return wishlisted, nil
}

func (s *UpcomingSink) wishlist(artist *domain.Artist, g musicbrainz.ReleaseGroup) (bool, error) {
	existing, err := s.Store.FindReleaseByMBID(g.ID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		unlock := s.Locks.Lock(existing.ID)
		defer unlock()

		rel, err := s.Store.GetRelease(existing.ID)
		if err != nil {
			return false, err
		}
		if rel.IsOwned || rel.IsWishlisted {
			return false, nil
		}
		rel.IsWishlisted = true
		return true, s.Store.SaveRelease(rel, false)
	}

	mbid := g.ID
	rel := &domain.Release{
		Title:           g.Title,
		TitleNormalized: matcher.Normalize(g.Title),
		MusicBrainzID:   &mbid,
		ReleaseDate:     g.FirstReleaseDate,
		ReleaseType:     g.PrimaryType,
		CoverArtURL:     fmt.Sprintf(constants.CoverArtGroupURLFormat, g.ID),
		IsWishlisted:    true,
		IsScanned:       true,
	}
	if rel.Title == "" {
		rel.Title = "Unknown Album"
	}
	if artist != nil {
		rel.ArtistID = &artist.ID
	}
	if err := s.Store.SaveRelease(rel, false); err != nil {
		// Another writer created it first.
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
