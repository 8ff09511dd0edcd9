package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/storage"
)

// FindAlbumFolders returns every directory under root that directly holds
// at least one audio file, sorted. Hidden directories are skipped.
func FindAlbumFolders(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("music folder %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("music folder %s is not a directory", root)
	}

	seen := make(map[string]struct{})
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if storage.HasExtension(d.Name(), constants.AudioExtensions) {
			seen[filepath.Dir(path)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	folders := make([]string, 0, len(seen))
	for f := range seen {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, nil
}

// audioFile is one audio file of a folder as seen by the fingerprint.
type audioFile struct {
	name    string
	path    string
	size    int64
	modNano int64
}

func listAudioFiles(folder string) ([]audioFile, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	var files []audioFile
	for _, e := range entries {
		if e.IsDir() || !storage.HasExtension(e.Name(), constants.AudioExtensions) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, audioFile{
			name:    e.Name(),
			path:    filepath.Join(folder, e.Name()),
			size:    info.Size(),
			modNano: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// fingerprint identifies the file set of a folder by name, size and mtime.
func fingerprint(files []audioFile) string {
	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = fmt.Sprintf("%s|%d|%d", f.name, f.size, f.modNano)
	}
	sort.Strings(lines)
	return storage.HashLines(lines)
}

// mostCommon returns the most frequent non-empty value, preferring the one
// seen first on ties.
func mostCommon(values []string) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, v := range values {
		if v == "" {
			continue
		}
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func mostCommonInt(values []int) int {
	counts := make(map[int]int)
	best, bestCount := 0, 0
	for _, v := range values {
		if v == 0 {
			continue
		}
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}
