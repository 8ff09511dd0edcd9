package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/scanner"
	"github.com/cesargomez89/audiosource/internal/tagging"
)

// CoverReader extracts embedded pictures from audio files.
type CoverReader interface {
	Cover(path string) ([]byte, string, error)
}

// ImageFetcher downloads remote images.
type ImageFetcher interface {
	GetBody(ctx context.Context, url string) ([]byte, error)
}

type CoverStore interface {
	GetRelease(id int64) (*domain.Release, error)
}

// Covers serves album art: the picture embedded in a release's files, or
// the remote cover art when the release has no local one.
type Covers struct {
	store CoverStore
	tags  CoverReader
	fetch ImageFetcher
}

// NewCovers returns the cover service. fetch may be nil to serve embedded
// covers only.
func NewCovers(st CoverStore, tags CoverReader, fetch ImageFetcher) *Covers {
	return &Covers{store: st, tags: tags, fetch: fetch}
}

// Cover returns the image bytes and MIME type of a release's cover.
func (c *Covers) Cover(ctx context.Context, id int64) ([]byte, string, error) {
	rel, err := c.store.GetRelease(id)
	if err != nil {
		return nil, "", err
	}

	if name, ok := strings.CutPrefix(rel.CoverArtURL, scanner.EmbeddedCoverPrefix); ok {
		if rel.Folder() == "" {
			return nil, "", fmt.Errorf("cover of release %d: %w", id, domain.ErrNotFound)
		}
		data, mime, err := c.tags.Cover(filepath.Join(rel.Folder(), filepath.Base(name)))
		if errors.Is(err, tagging.ErrNoCover) {
			return nil, "", fmt.Errorf("cover of release %d: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to read embedded cover: %w", err)
		}
		return data, mime, nil
	}

	if rel.CoverArtURL == "" || c.fetch == nil {
		return nil, "", fmt.Errorf("cover of release %d: %w", id, domain.ErrNotFound)
	}
	data, err := c.downloadImage(ctx, rel.CoverArtURL)
	if err != nil {
		return nil, "", err
	}
	return data, http.DetectContentType(data), nil
}

func (c *Covers) downloadImage(ctx context.Context, urlStr string) ([]byte, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme: %s (only http/https allowed): %w", parsedURL.Scheme, domain.ErrInvalidInput)
	}

	data, err := c.fetch.GetBody(ctx, urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image at %s: %w", urlStr, domain.ErrNotFound)
	}
	return data, nil
}
