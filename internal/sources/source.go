// Package sources adapts external sites and catalogs into records the
// scrape jobs store: AOTY weekly releases, r/VinylReleases posts, Songkick
// concerts and upcoming MusicBrainz release groups.
package sources

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/cesargomez89/audiosource/internal/domain"
)

// Query is one unit of work of a scrape: a page, a week or an artist.
type Query struct {
	Label  string
	URL    string
	Week   string
	Artist *domain.Artist
}

// Source produces the queries of a run and fetches the records of each.
type Source[R any] interface {
	Name() string
	Queries(ctx context.Context) ([]Query, error)
	FetchCandidates(ctx context.Context, q Query) ([]R, error)
}

// Fetcher returns the body of a successful GET.
type Fetcher interface {
	GetBody(ctx context.Context, url string) ([]byte, error)
}

// ArtistLister lists artists that own at least one release.
type ArtistLister interface {
	ListOwningArtists(requireMBID bool) ([]*domain.Artist, error)
}

func fetchDocument(ctx context.Context, f Fetcher, url string) (*goquery.Document, error) {
	body, err := f.GetBody(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return doc, nil
}

// absoluteURL prefixes site-relative links with base.
func absoluteURL(base, href string) string {
	if href == "" || len(href) >= 4 && href[:4] == "http" {
		return href
	}
	if href[0] != '/' {
		href = "/" + href
	}
	return base + href
}

func artistQueries(artists []*domain.Artist) []Query {
	queries := make([]Query, 0, len(artists))
	for _, a := range artists {
		queries = append(queries, Query{Label: a.Name, Artist: a})
	}
	return queries
}
