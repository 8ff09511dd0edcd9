package sources

import (
	"context"
	"strings"
	"time"

	"github.com/cesargomez89/audiosource/internal/musicbrainz"
)

// ReleaseGroupBrowser lists an artist's release groups in the catalog.
type ReleaseGroupBrowser interface {
	BrowseReleaseGroups(ctx context.Context, artistMBID string) ([]musicbrainz.ReleaseGroup, error)
}

// Upcoming finds albums and EPs of library artists dated after today.
type Upcoming struct {
	catalog ReleaseGroupBrowser
	artists ArtistLister
	now     func() time.Time
}

func NewUpcoming(catalog ReleaseGroupBrowser, artists ArtistLister) *Upcoming {
	return &Upcoming{catalog: catalog, artists: artists, now: time.Now}
}

func (u *Upcoming) Name() string { return "upcoming" }

func (u *Upcoming) Queries(ctx context.Context) ([]Query, error) {
	artists, err := u.artists.ListOwningArtists(true)
	if err != nil {
		return nil, err
	}
	return artistQueries(artists), nil
}

func (u *Upcoming) FetchCandidates(ctx context.Context, q Query) ([]musicbrainz.ReleaseGroup, error) {
	if q.Artist == nil || q.Artist.MusicBrainzID == nil || *q.Artist.MusicBrainzID == "" {
		return nil, nil
	}
	groups, err := u.catalog.BrowseReleaseGroups(ctx, *q.Artist.MusicBrainzID)
	if err != nil {
		return nil, err
	}
	return FilterUpcoming(groups, u.now().Format(time.DateOnly)), nil
}

// FilterUpcoming keeps albums and EPs whose first release date is after
// today (YYYY-MM-DD).
func FilterUpcoming(groups []musicbrainz.ReleaseGroup, today string) []musicbrainz.ReleaseGroup {
	var out []musicbrainz.ReleaseGroup
	for _, g := range groups {
		switch strings.ToLower(g.PrimaryType) {
		case "album", "ep":
		default:
			continue
		}
		if g.FirstReleaseDate == "" || g.FirstReleaseDate <= today {
			continue
		}
		out = append(out, g)
	}
	return out
}
