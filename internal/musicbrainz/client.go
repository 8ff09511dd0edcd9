package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/httpclient"
)

const requestTimeout = 15 * time.Second

type Client struct {
	http    *httpclient.Client
	baseURL string
}

// NewClient creates a rate-limited catalog client. The user agent is
// mandatory for the public MusicBrainz service.
func NewClient(baseURL, userAgent string) *Client {
	if userAgent == "" {
		userAgent = constants.DefaultUserAgent
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: httpclient.NewClient(
			&http.Client{Timeout: requestTimeout},
			constants.MusicBrainzInterval,
			httpclient.WithUserAgent(userAgent),
		),
	}
}

// newClientWithInterval is used by tests to avoid the public rate limit.
func newClientWithInterval(baseURL string, interval time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.NewClient(nil, interval, httpclient.WithUserAgent(constants.DefaultUserAgent)),
	}
}

// SearchReleases searches by album title and artist name.
func (c *Client) SearchReleases(ctx context.Context, title, artist string, limit int) ([]domain.MatchCandidate, error) {
	q := fmt.Sprintf(`release:"%s"`, escapePhrase(title))
	if strings.TrimSpace(artist) != "" {
		q += fmt.Sprintf(` AND artist:"%s"`, escapePhrase(artist))
	}
	return c.SearchReleasesQuery(ctx, q, limit)
}

// SearchReleasesQuery runs a raw Lucene query against the release index.
func (c *Client) SearchReleasesQuery(ctx context.Context, q string, limit int) ([]domain.MatchCandidate, error) {
	if limit <= 0 {
		limit = constants.CatalogSearchLimit
	}
	u := fmt.Sprintf("%s/release?query=%s&limit=%d&fmt=json", c.baseURL, url.QueryEscape(q), limit)

	var result releaseSearchResponse
	if err := c.http.GetJSON(ctx, u, &result); err != nil {
		return nil, fmt.Errorf("musicbrainz search: %w", err)
	}

	candidates := make([]domain.MatchCandidate, 0, len(result.Releases))
	for i := range result.Releases {
		candidates = append(candidates, result.Releases[i].toCandidate())
	}
	return candidates, nil
}

// GetRelease returns nil, nil when the catalog has no such release.
func (c *Client) GetRelease(ctx context.Context, mbid string) (*domain.MatchCandidate, error) {
	if mbid == "" {
		return nil, nil
	}
	u := fmt.Sprintf("%s/release/%s?inc=artist-credits+media+release-groups&fmt=json", c.baseURL, url.PathEscape(mbid))

	var rel release
	if err := c.http.GetJSON(ctx, u, &rel); err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) || httpclient.IsStatus(err, http.StatusBadRequest) {
			return nil, nil
		}
		return nil, fmt.Errorf("musicbrainz release %s: %w", mbid, err)
	}

	candidate := rel.toCandidate()
	return &candidate, nil
}

// BrowseReleaseGroups lists the album and EP release groups of an artist.
func (c *Client) BrowseReleaseGroups(ctx context.Context, artistMBID string) ([]ReleaseGroup, error) {
	u := fmt.Sprintf("%s/release-group?artist=%s&type=album|ep&limit=100&fmt=json", c.baseURL, url.QueryEscape(artistMBID))

	var result releaseGroupBrowseResponse
	if err := c.http.GetJSON(ctx, u, &result); err != nil {
		return nil, fmt.Errorf("musicbrainz release groups of %s: %w", artistMBID, err)
	}
	return result.ReleaseGroups, nil
}

// CoverArtURL is the Cover Art Archive front thumbnail of a release.
func CoverArtURL(mbid string) string {
	if mbid == "" {
		return ""
	}
	return fmt.Sprintf(constants.CoverArtURLFormat, mbid)
}

func escapePhrase(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

type releaseSearchResponse struct {
	Releases []release `json:"releases"`
}

type releaseGroupBrowseResponse struct {
	ReleaseGroups []ReleaseGroup `json:"release-groups"`
	Count         int            `json:"release-group-count"`
}

// ReleaseGroup is a browse result used by the upcoming check.
type ReleaseGroup struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	PrimaryType      string `json:"primary-type"`
	FirstReleaseDate string `json:"first-release-date"`
}

type release struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Status       string         `json:"status"`
	Date         string         `json:"date"`
	Country      string         `json:"country"`
	ReleaseGroup releaseGroup   `json:"release-group"`
	Media        []media        `json:"media"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	TrackCount   int            `json:"track-count"`
	Score        int            `json:"score"`
}

type artistCredit struct {
	Name       string `json:"name"`
	Artist     artist `json:"artist"`
	JoinPhrase string `json:"joinphrase"`
}

type releaseGroup struct {
	ID          string `json:"id"`
	PrimaryType string `json:"primary-type"`
}

type media struct {
	TrackCount int `json:"track-count"`
}

type artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r *release) toCandidate() domain.MatchCandidate {
	c := domain.MatchCandidate{
		MusicBrainzID: r.ID,
		Title:         r.Title,
		ReleaseDate:   r.Date,
		ReleaseType:   r.ReleaseGroup.PrimaryType,
		Country:       r.Country,
		CoverArtURL:   CoverArtURL(r.ID),
		TrackCount:    r.TrackCount,
		ExtScore:      r.Score,
	}

	if c.TrackCount == 0 {
		for _, m := range r.Media {
			c.TrackCount += m.TrackCount
		}
	}

	var name strings.Builder
	for i, ac := range r.ArtistCredit {
		n := ac.Name
		if n == "" {
			n = ac.Artist.Name
		}
		name.WriteString(n)
		name.WriteString(ac.JoinPhrase)
		if i == 0 {
			c.ArtistMBID = ac.Artist.ID
		}
	}
	c.Artist = name.String()

	return c
}
