package downloads

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/storage"
)

// Move files a completed download into the library, marks its release
// owned and rescans the folder. Failures keep the download completed with
// the reason in its error message.
func (o *Orchestrator) Move(ctx context.Context, id string) (*domain.Download, error) {
	d, err := o.store.GetDownload(id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DownloadCompleted {
		return d, fmt.Errorf("cannot move a %s download: %w", d.Status, domain.ErrInvalidTransition)
	}
	if d.TotalFiles > 0 && float64(d.CompletedFiles)/float64(d.TotalFiles) < minSuccessRate {
		return d, fmt.Errorf("only %d of %d files downloaded: %w", d.CompletedFiles, d.TotalFiles, domain.ErrInvalidTransition)
	}

	if !o.beginMove(id) {
		return d, fmt.Errorf("download is already being moved: %w", domain.ErrConflict)
	}
	defer o.endMove(id)

	log := o.log.WithDownload(d.ID, d.ArtistName, d.AlbumTitle)

	var rel *domain.Release
	if d.ReleaseID != nil {
		rel, err = o.store.GetRelease(*d.ReleaseID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return d, err
		}
	}

	target, moved, err := o.moveFiles(d, rel)
	if err != nil {
		log.Warn("Move failed", "error", err)
		return o.recordMoveError(id, err)
	}
	log.Info("Files moved", "target", target, "files", moved)

	if rel != nil {
		if err := o.claimRelease(rel.ID, target); err != nil {
			log.Warn("Failed to mark release owned", "error", err)
			return o.recordMoveError(id, err)
		}
		if o.scanner != nil {
			if _, _, err := o.scanner.ScanFolder(ctx, target, true); err != nil {
				log.Warn("Rescan after move failed", "folder", target, "error", err)
			}
		}
	}

	return o.update(id, func(d *domain.Download) error {
		if d.Status != domain.DownloadCompleted {
			return errStale
		}
		d.Status = domain.DownloadMoved
		return nil
	})
}

func (o *Orchestrator) beginMove(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.moving[id] {
		return false
	}
	o.moving[id] = true
	return true
}

func (o *Orchestrator) endMove(id string) {
	o.mu.Lock()
	delete(o.moving, id)
	o.mu.Unlock()
}

func (o *Orchestrator) recordMoveError(id string, cause error) (*domain.Download, error) {
	d, err := o.update(id, func(d *domain.Download) error {
		if d.Status != domain.DownloadCompleted {
			return errStale
		}
		d.ErrorMessage = message("Move failed: %v", cause)
		return nil
	})
	if err != nil && !errors.Is(err, errStale) {
		o.log.Error("Failed to record move error", "id", id, "error", err)
	}
	return d, cause
}

// moveFiles copies the matching audio files into the library folder and
// returns that folder with the number of files moved.
func (o *Orchestrator) moveFiles(d *domain.Download, rel *domain.Release) (string, int, error) {
	releaseDate := ""
	if rel != nil {
		releaseDate = rel.ReleaseDate
	}
	target, err := storage.BuildLibraryDir(o.opts.MusicFolder, o.opts.LibraryTemplate,
		storage.BuildPathTemplateData(d.ArtistName, d.AlbumTitle, releaseDate))
	if err != nil {
		return "", 0, err
	}

	files, err := o.collectFiles(d)
	if err != nil {
		return "", 0, err
	}
	if len(files) == 0 {
		return "", 0, errors.New("no downloaded files found for this album")
	}

	if err := storage.EnsureDir(target); err != nil {
		return "", 0, err
	}

	dirs := make(map[string]struct{})
	for _, src := range files {
		dst := filepath.Join(target, filepath.Base(src))
		if storage.Exists(dst) {
			dst = filepath.Join(target, storage.Sanitize(filepath.Base(filepath.Dir(src)))+" - "+filepath.Base(src))
		}
		if err := storage.MoveFile(src, dst); err != nil {
			return "", 0, err
		}
		dirs[filepath.Dir(src)] = struct{}{}
	}

	for dir := range dirs {
		if err := storage.DeleteFolderIfEmpty(dir); err != nil {
			o.log.Debug("Failed to remove download folder", "dir", dir, "error", err)
		}
	}
	return target, len(files), nil
}

// collectFiles walks the peer's download folder, or the whole download root
// when it is missing, for audio files whose path names the artist or album.
func (o *Orchestrator) collectFiles(d *domain.Download) ([]string, error) {
	root := o.opts.DownloadDir
	if user := d.User(); user != "" {
		if dir := filepath.Join(root, user); storage.Exists(dir) {
			root = dir
		}
	}
	if !storage.Exists(root) {
		return nil, fmt.Errorf("download folder %s: %w", root, os.ErrNotExist)
	}

	words := append(keywords(d.ArtistName), keywords(d.AlbumTitle)...)

	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() || !storage.HasExtension(entry.Name(), constants.PeerAudioExtensions) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if containsAny(strings.ToLower(rel), words) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// claimRelease marks the release owned at folder under its release lock.
func (o *Orchestrator) claimRelease(releaseID int64, folder string) error {
	unlock := o.locks.Lock(releaseID)
	defer unlock()

	rel, err := o.store.GetRelease(releaseID)
	if err != nil {
		return err
	}
	rel.IsOwned = true
	rel.IsWishlisted = false
	rel.FolderPath = &folder
	return o.store.SaveRelease(rel, false)
}
