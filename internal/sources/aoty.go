package sources

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
)

var reviewCountRe = regexp.MustCompile(`\((\d+)\)`)

// AOTY scrapes the critic-sorted weekly release pages of albumoftheyear.org.
type AOTY struct {
	fetch   Fetcher
	baseURL string
	now     func() time.Time
}

func NewAOTY(f Fetcher, baseURL string) *AOTY {
	if baseURL == "" {
		baseURL = constants.AOTYBaseURL
	}
	return &AOTY{fetch: f, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

func (a *AOTY) Name() string { return "new-releases" }

// Queries covers the current ISO week and the one before.
func (a *AOTY) Queries(ctx context.Context) ([]Query, error) {
	now := a.now().UTC()
	var queries []Query
	for _, t := range []time.Time{now, now.AddDate(0, 0, -7)} {
		year, week := t.ISOWeek()
		queries = append(queries, Query{
			Label: fmt.Sprintf("Week %d, %d", week, year),
			URL:   fmt.Sprintf("%s/week/%d/%d/releases/?sort=critic", a.baseURL, year, week),
			Week:  fmt.Sprintf("%d-W%02d", year, week),
		})
	}
	return queries, nil
}

func (a *AOTY) FetchCandidates(ctx context.Context, q Query) ([]*domain.NewRelease, error) {
	doc, err := fetchDocument(ctx, a.fetch, q.URL)
	if err != nil {
		return nil, err
	}
	return parseAOTYWeek(doc, a.baseURL, q.Week), nil
}

func parseAOTYWeek(doc *goquery.Document, baseURL, week string) []*domain.NewRelease {
	var releases []*domain.NewRelease
	doc.Find(".albumBlock").Each(func(_ int, block *goquery.Selection) {
		if r := parseAlbumBlock(block, baseURL); r != nil {
			r.Week = week
			releases = append(releases, r)
		}
	})
	return releases
}

func parseAlbumBlock(block *goquery.Selection, baseURL string) *domain.NewRelease {
	titleEl := block.Find(".albumTitle").First()
	title := strings.TrimSpace(titleEl.Text())
	if title == "" {
		return nil
	}

	link := ""
	if parent := titleEl.Parent(); parent.Is("a") {
		link, _ = parent.Attr("href")
	}
	if link == "" {
		link, _ = block.Find(".image a").First().Attr("href")
	}
	if link == "" {
		link, _ = block.Find(`a[href*="/album/"]`).First().Attr("href")
	}
	if link == "" {
		return nil
	}

	r := &domain.NewRelease{
		AOTYURL:     absoluteURL(baseURL, link),
		Title:       title,
		Artist:      strings.TrimSpace(block.Find(".artistTitle").First().Text()),
		ReleaseType: "LP",
	}
	if r.Artist == "" {
		r.Artist = "Unknown Artist"
	}

	img := block.Find(".image img").First()
	if srcset, ok := img.Attr("srcset"); ok && strings.TrimSpace(srcset) != "" {
		r.CoverURL = strings.Fields(srcset)[0]
	} else {
		r.CoverURL, _ = img.Attr("src")
	}

	if typeText := strings.TrimSpace(block.Find(".type").First().Text()); typeText != "" {
		date, kind, found := strings.Cut(typeText, "•")
		r.ReleaseDate = strings.TrimSpace(date)
		if found && strings.TrimSpace(kind) != "" {
			r.ReleaseType = strings.TrimSpace(kind)
		}
	}

	if n, err := strconv.Atoi(strings.TrimSpace(block.Find(".rating").First().Text())); err == nil {
		r.CriticScore = &n
	}

	block.Find(".ratingText").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := reviewCountRe.FindStringSubmatch(s.Text()); m != nil {
			r.ReviewCount, _ = strconv.Atoi(m[1])
			return false
		}
		return true
	})

	return r
}
