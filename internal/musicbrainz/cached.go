package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
)

type ClientInterface interface {
	SearchReleases(ctx context.Context, title, artist string, limit int) ([]domain.MatchCandidate, error)
	SearchReleasesQuery(ctx context.Context, q string, limit int) ([]domain.MatchCandidate, error)
	GetRelease(ctx context.Context, mbid string) (*domain.MatchCandidate, error)
	BrowseReleaseGroups(ctx context.Context, artistMBID string) ([]ReleaseGroup, error)
}

var _ ClientInterface = (*Client)(nil)
var _ ClientInterface = (*CachedClient)(nil)

type Cache interface {
	GetCache(key string) ([]byte, error)
	SetCache(key string, data []byte, ttl time.Duration) error
}

type CachedClient struct {
	client ClientInterface
	cache  Cache
	ttl    time.Duration
}

func NewCachedClient(client ClientInterface, cache Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{
		client: client,
		cache:  cache,
		ttl:    ttl,
	}
}

type cachedRelease struct {
	Release  *domain.MatchCandidate `json:"release"`
	NotFound bool                   `json:"not_found"`
}

func (c *CachedClient) GetRelease(ctx context.Context, mbid string) (*domain.MatchCandidate, error) {
	if mbid == "" {
		return nil, nil
	}
	cacheKey := "mb:release:" + mbid

	data, err := c.cache.GetCache(cacheKey)
	if err != nil {
		return nil, err
	}

	if data != nil {
		var cached cachedRelease
		if unmarshalErr := json.Unmarshal(data, &cached); unmarshalErr == nil {
			return cached.Release, nil
		}
	}

	rel, err := c.client.GetRelease(ctx, mbid)
	if err != nil {
		return nil, err
	}

	cached := cachedRelease{Release: rel, NotFound: rel == nil}
	if data, marshalErr := json.Marshal(cached); marshalErr == nil {
		_ = c.cache.SetCache(cacheKey, data, c.ttl)
	}

	return rel, nil
}

func (c *CachedClient) SearchReleases(ctx context.Context, title, artist string, limit int) ([]domain.MatchCandidate, error) {
	key := fmt.Sprintf("mb:search:%s|%s|%d", strings.ToLower(title), strings.ToLower(artist), limit)
	return c.search(key, func() ([]domain.MatchCandidate, error) {
		return c.client.SearchReleases(ctx, title, artist, limit)
	})
}

func (c *CachedClient) SearchReleasesQuery(ctx context.Context, q string, limit int) ([]domain.MatchCandidate, error) {
	key := fmt.Sprintf("mb:query:%s|%d", strings.ToLower(q), limit)
	return c.search(key, func() ([]domain.MatchCandidate, error) {
		return c.client.SearchReleasesQuery(ctx, q, limit)
	})
}

func (c *CachedClient) search(key string, fetch func() ([]domain.MatchCandidate, error)) ([]domain.MatchCandidate, error) {
	data, err := c.cache.GetCache(key)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var cached []domain.MatchCandidate
		if unmarshalErr := json.Unmarshal(data, &cached); unmarshalErr == nil {
			return cached, nil
		}
	}

	results, err := fetch()
	if err != nil {
		return nil, err
	}

	if data, marshalErr := json.Marshal(results); marshalErr == nil {
		_ = c.cache.SetCache(key, data, c.ttl)
	}
	return results, nil
}

// BrowseReleaseGroups is not cached; upcoming dates change week to week.
func (c *CachedClient) BrowseReleaseGroups(ctx context.Context, artistMBID string) ([]ReleaseGroup, error) {
	return c.client.BrowseReleaseGroups(ctx, artistMBID)
}
