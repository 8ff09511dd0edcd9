package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/matcher"
)

const redditPageSize = 100

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Permalink   string  `json:"permalink"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Flair       string  `json:"link_flair_text"`
	Thumbnail   string  `json:"thumbnail"`
	CreatedUTC  float64 `json:"created_utc"`
}

type artistPattern struct {
	artist *domain.Artist
	re     *regexp.Regexp
}

// Reddit pages through r/VinylReleases and keeps posts whose title names a
// library artist. A Reddit value carries the paging cursor of one run.
type Reddit struct {
	fetch   Fetcher
	artists ArtistLister
	feedURL string
	limit   int

	patterns []artistPattern
	after    string
	seen     int
	done     bool
}

func NewReddit(f Fetcher, artists ArtistLister, feedURL string, limit int) *Reddit {
	if feedURL == "" {
		feedURL = constants.RedditVinylURL
	}
	if limit <= 0 {
		limit = constants.RedditPostLimit
	}
	return &Reddit{fetch: f, artists: artists, feedURL: feedURL, limit: limit}
}

func (r *Reddit) Name() string { return "vinyl-releases" }

// Queries loads the artist patterns and returns one query per page.
func (r *Reddit) Queries(ctx context.Context) ([]Query, error) {
	artists, err := r.artists.ListOwningArtists(false)
	if err != nil {
		return nil, err
	}
	r.patterns = buildArtistPatterns(artists)
	r.after, r.seen, r.done = "", 0, false

	pages := (r.limit + redditPageSize - 1) / redditPageSize
	queries := make([]Query, pages)
	for i := range queries {
		queries[i] = Query{Label: fmt.Sprintf("Page %d", i+1)}
	}
	return queries, nil
}

func (r *Reddit) FetchCandidates(ctx context.Context, q Query) ([]*domain.VinylRelease, error) {
	if r.done {
		return nil, nil
	}

	params := url.Values{}
	params.Set("limit", fmt.Sprint(min(redditPageSize, r.limit-r.seen)))
	if r.after != "" {
		params.Set("after", r.after)
	}
	body, err := r.fetch.GetBody(ctx, r.feedURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}

	r.seen += len(listing.Data.Children)
	r.after = listing.Data.After
	if r.after == "" || len(listing.Data.Children) == 0 || r.seen >= r.limit {
		r.done = true
	}

	var out []*domain.VinylRelease
	for _, child := range listing.Data.Children {
		if v := r.match(child.Data); v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Reddit) match(p redditPost) *domain.VinylRelease {
	if p.ID == "" {
		return nil
	}
	artist := findArtistInTitle(p.Title, r.patterns)
	if artist == nil {
		return nil
	}

	v := &domain.VinylRelease{
		RedditID:          p.ID,
		Title:             p.Title,
		URL:               "https://reddit.com" + p.Permalink,
		Author:            p.Author,
		Score:             p.Score,
		NumComments:       p.NumComments,
		Flair:             p.Flair,
		MatchedArtistID:   artist.ID,
		MatchedArtistName: artist.Name,
	}
	if strings.HasPrefix(p.Thumbnail, "http") {
		v.Thumbnail = p.Thumbnail
	}
	if p.CreatedUTC > 0 {
		t := time.Unix(int64(p.CreatedUTC), 0).UTC()
		v.PostedAt = &t
	}
	return v
}

// buildArtistPatterns compiles a word-bounded pattern per normalized artist
// name, longest names first.
func buildArtistPatterns(artists []*domain.Artist) []artistPattern {
	var patterns []artistPattern
	seen := make(map[string]bool)
	for _, a := range artists {
		name := matcher.Normalize(a.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		patterns = append(patterns, artistPattern{
			artist: a,
			re:     regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`),
		})
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		return len(patterns[i].re.String()) > len(patterns[j].re.String())
	})
	return patterns
}

func findArtistInTitle(title string, patterns []artistPattern) *domain.Artist {
	normalized := matcher.Normalize(title)
	for _, p := range patterns {
		if p.re.MatchString(normalized) {
			return p.artist
		}
	}
	return nil
}
