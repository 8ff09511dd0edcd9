package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
)

var songkickEventRe = regexp.MustCompile(`/(?:concerts|festivals)/(\d+)`)

// Songkick finds each library artist on songkick.com and reads the future
// events of their calendar.
type Songkick struct {
	fetch     Fetcher
	artists   ArtistLister
	baseURL   string
	maxEvents int
	now       func() time.Time
}

func NewSongkick(f Fetcher, artists ArtistLister, baseURL string) *Songkick {
	if baseURL == "" {
		baseURL = constants.SongkickBaseURL
	}
	return &Songkick{
		fetch:     f,
		artists:   artists,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxEvents: constants.MaxEventsPerArtist,
		now:       time.Now,
	}
}

func (s *Songkick) Name() string { return "concerts" }

func (s *Songkick) Queries(ctx context.Context) ([]Query, error) {
	artists, err := s.artists.ListOwningArtists(false)
	if err != nil {
		return nil, err
	}
	return artistQueries(artists), nil
}

// FetchCandidates returns no events, and no error, for artists Songkick
// does not know.
func (s *Songkick) FetchCandidates(ctx context.Context, q Query) ([]*domain.Concert, error) {
	if q.Artist == nil {
		return nil, nil
	}

	searchURL := fmt.Sprintf("%s/search?query=%s&type=artists", s.baseURL, url.QueryEscape(q.Artist.Name))
	doc, err := fetchDocument(ctx, s.fetch, searchURL)
	if err != nil {
		return nil, err
	}
	artistURL := findSongkickArtist(doc, s.baseURL)
	if artistURL == "" {
		return nil, nil
	}

	doc, err = fetchDocument(ctx, s.fetch, artistURL+"/calendar")
	if err != nil {
		return nil, err
	}
	return parseSongkickCalendar(doc, s.baseURL, q.Artist, s.now().UTC(), s.maxEvents), nil
}

func findSongkickArtist(doc *goquery.Document, baseURL string) string {
	scope := doc.Find(".component.search")
	if scope.Length() == 0 {
		return ""
	}
	href, _ := scope.Find(`a[href*="/artists/"]`).First().Attr("href")
	return strings.TrimRight(absoluteURL(baseURL, href), "/")
}

func parseSongkickCalendar(doc *goquery.Document, baseURL string, artist *domain.Artist, now time.Time, limit int) []*domain.Concert {
	var concerts []*domain.Concert
	doc.Find(".event-listings li.event-listing").EachWithBreak(func(i int, el *goquery.Selection) bool {
		if i >= limit {
			return false
		}

		link := el.Find(`a[href*="/concerts/"]`).First()
		if link.Length() == 0 {
			link = el.Find(`a[href*="/festivals/"]`).First()
		}
		href, _ := link.Attr("href")
		eventURL := absoluteURL(baseURL, href)
		m := songkickEventRe.FindStringSubmatch(eventURL)
		if m == nil {
			return true
		}

		stamp, _ := el.Find("time[datetime]").First().Attr("datetime")
		date, ok := parseEventTime(stamp)
		if !ok || date.Before(now) {
			return true
		}

		c := &domain.Concert{
			EventID:    "sk-" + m[1],
			ArtistID:   artist.ID,
			ArtistName: artist.Name,
			EventDate:  date,
			EventURL:   eventURL,
			VenueName:  strings.TrimSpace(el.Find(".secondary-detail").First().Text()),
		}
		location := strings.TrimSpace(el.Find(".primary-detail").First().Text())
		if city, country, found := strings.Cut(location, ","); found {
			c.VenueCity = strings.TrimSpace(city)
			c.VenueCountry = strings.TrimSpace(country)
		} else {
			c.VenueCity = location
		}
		concerts = append(concerts, c)
		return true
	})
	return concerts
}

// parseEventTime accepts full RFC 3339 stamps and bare dates.
func parseEventTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
