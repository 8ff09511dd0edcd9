package downloads

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/slskd"
	"github.com/cesargomez89/audiosource/internal/storage"
)

// sourceFile is a peer file that names the artist or the album.
type sourceFile struct {
	slskd.File
	ArtistMatch bool
	TitleMatch  bool
}

// source is one peer offering a usable file set.
type source struct {
	Username string
	Files    []sourceFile
	Score    int
}

func (s source) files() []slskd.File {
	out := make([]slskd.File, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.File
	}
	return out
}

func (s source) totalBytes() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.Size
	}
	return n
}

// searchQueries lists the query variants tried in order.
func searchQueries(artist, album string) []string {
	return []string{
		fmt.Sprintf(`"%s" "%s"`, artist, album),
		artist + " " + album,
		artist + " - " + album,
	}
}

// keywords returns the lowercase words of s longer than two characters.
func keywords(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if len([]rune(w)) > 2 {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// matchFiles keeps the audio files whose name mentions the artist or the album.
func matchFiles(files []slskd.File, artistWords, titleWords []string) []sourceFile {
	var out []sourceFile
	for _, f := range files {
		if !storage.HasExtension(peerBase(f.Filename), constants.PeerAudioExtensions) {
			continue
		}
		name := strings.ToLower(f.Filename)
		sf := sourceFile{
			File:        f,
			ArtistMatch: containsAny(name, artistWords),
			TitleMatch:  containsAny(name, titleWords),
		}
		if sf.ArtistMatch || sf.TitleMatch {
			out = append(out, sf)
		}
	}
	return out
}

// peerBase returns the last segment of a peer path, which may use either separator.
func peerBase(name string) string {
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// scoreSource rates a file set against the expected track count. Zero means unusable.
func scoreSource(files []sourceFile, expectedTracks int) int {
	n := len(files)
	score := 0

	if expectedTracks > 0 {
		diff := n - expectedTracks
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff == 0:
			score += 50
		case diff <= 1:
			score += 35
		case diff <= 2:
			score += 25
		case diff <= 5:
			score += 10
		default:
			score -= 10
		}
	} else {
		score += min(n, 20)
	}

	mp3s := 0
	goodSize := n > 0
	for _, f := range files {
		switch {
		case f.ArtistMatch && f.TitleMatch:
			score += 5
		case f.ArtistMatch:
			score += 3
		}
		if strings.EqualFold(filepath.Ext(peerBase(f.Filename)), constants.ExtMP3) {
			mp3s++
		}
		if f.Size < constants.GoodFileSizeMin || f.Size > constants.GoodFileSizeMax {
			goodSize = false
		}
	}

	if n > 0 && float64(mp3s)/float64(n) > 0.8 {
		score += 10
	}
	if goodSize {
		score += 8
	}

	switch {
	case n < 3:
		score -= 15
	case n < 5:
		score -= 5
	}

	return max(score, 0)
}

// findSources runs the query variants until enough candidates exist and
// returns them best first. An error is returned only when no search could run.
func (o *Orchestrator) findSources(ctx context.Context, artist, album string, expectedTracks int) ([]source, error) {
	artistWords := keywords(artist)
	titleWords := keywords(album)

	byUser := make(map[string]int)
	var candidates []source
	var lastErr error
	searched := 0

	for _, q := range searchQueries(artist, album) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, err := o.peer.Search(ctx, q)
		if err != nil {
			o.log.Warn("Search failed", "query", q, "error", err)
			lastErr = err
			continue
		}
		responses, err := o.peer.WaitForSearch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.log.Warn("Search results unavailable", "query", q, "error", err)
			lastErr = err
			continue
		}
		searched++

		for _, r := range responses {
			files := matchFiles(r.Files, artistWords, titleWords)
			if len(files) == 0 {
				continue
			}
			score := scoreSource(files, expectedTracks)
			if score <= 0 {
				continue
			}
			s := source{Username: r.Username, Files: files, Score: score}
			if i, ok := byUser[r.Username]; ok {
				if score > candidates[i].Score {
					candidates[i] = s
				}
				continue
			}
			byUser[r.Username] = len(candidates)
			candidates = append(candidates, s)
		}

		o.log.Debug("Search finished", "query", q, "responses", len(responses), "candidates", len(candidates))
		if len(candidates) >= constants.MaxSourceCandidates {
			break
		}
	}

	if searched == 0 && lastErr != nil {
		return nil, fmt.Errorf("search failed: %w", lastErr)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}
