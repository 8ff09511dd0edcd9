package app

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/cesargomez89/audiosource/internal/domain"
)

// WritePlaylist writes an extended M3U playlist of an owned release. Paths
// are relative to the release folder so the file can live beside the audio.
func WritePlaylist(w io.Writer, rel *domain.Release) error {
	if rel.Folder() == "" || len(rel.Tracks) == 0 {
		return fmt.Errorf("release %d has no local tracks: %w", rel.ID, domain.ErrNotFound)
	}

	tracks := make([]domain.Track, len(rel.Tracks))
	copy(tracks, rel.Tracks)
	sort.SliceStable(tracks, func(i, j int) bool {
		if tracks[i].DiscNumber != tracks[j].DiscNumber {
			return tracks[i].DiscNumber < tracks[j].DiscNumber
		}
		return tracks[i].TrackNumber < tracks[j].TrackNumber
	})

	if _, err := io.WriteString(w, "#EXTM3U\n"); err != nil {
		return fmt.Errorf("failed to write playlist header: %w", err)
	}

	artist := rel.ArtistName
	if artist == "" {
		artist = "Unknown Artist"
	}
	for _, t := range tracks {
		relPath, err := filepath.Rel(rel.Folder(), t.FilePath)
		if err != nil {
			relPath = filepath.Base(t.FilePath)
		}
		line := fmt.Sprintf("#EXTINF:%d,%s - %s\n%s\n", t.Duration, artist, t.Title, filepath.ToSlash(relPath))
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("failed to write track to playlist: %w", err)
		}
	}
	return nil
}
