package downloads

import (
	"fmt"
	"strings"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/slskd"
)

var failedStates = []string{"errored", "timedout", "cancelled", "rejected"}

// progress aggregates the transfer state of one download.
type progress struct {
	Total      int
	Done       int
	Failed     int
	TotalBytes int64
	DoneBytes  int64
}

type fileState int

const (
	fileActive fileState = iota
	fileDone
	fileFailed
)

// classify reads an slskd transfer state such as "Completed, Errored".
// Finished transfers all start with "Completed"; the outcome follows the
// comma.
func classify(state string) fileState {
	s := strings.ToLower(state)
	for _, failed := range failedStates {
		if strings.Contains(s, failed) {
			return fileFailed
		}
	}
	if strings.Contains(s, "succeeded") || strings.TrimSpace(s) == "completed" {
		return fileDone
	}
	return fileActive
}

// aggregate sums the transfers of user. When requested is non-empty only
// those filenames count, so older transfers from the same peer are ignored.
func aggregate(transfers []slskd.Transfer, user string, requested []string) (progress, bool) {
	want := make(map[string]struct{}, len(requested))
	for _, f := range requested {
		want[f] = struct{}{}
	}

	var p progress
	found := false
	for _, t := range transfers {
		if t.Username != user {
			continue
		}
		for _, dir := range t.Directories {
			for _, f := range dir.Files {
				if len(want) > 0 {
					if _, ok := want[f.Filename]; !ok {
						continue
					}
				}
				found = true
				p.Total++
				p.TotalBytes += f.Size
				switch classify(f.State) {
				case fileDone:
					p.Done++
					p.DoneBytes += f.Size
				case fileFailed:
					p.Failed++
				default:
					p.DoneBytes += f.BytesTransferred
				}
			}
		}
	}
	return p, found
}

// applyProgress copies p onto d and settles the download once every file
// has finished. It reports whether d reached a terminal state and whether
// the files should be moved into the library.
func applyProgress(d *domain.Download, p progress, now time.Time) (finished, autoMove bool) {
	if p.Total > 0 {
		d.TotalFiles = p.Total
		d.TotalBytes = p.TotalBytes
	}
	d.CompletedFiles = min(p.Done, d.TotalFiles)
	d.FailedFiles = min(p.Failed, d.TotalFiles-d.CompletedFiles)
	d.CompletedBytes = min(p.DoneBytes, d.TotalBytes)

	total := d.TotalFiles
	if total == 0 || d.CompletedFiles+d.FailedFiles < total {
		return false, false
	}

	done, failed := d.CompletedFiles, d.FailedFiles
	rate := float64(done) / float64(total)
	d.CompletedAt = &now

	switch {
	case done == 0:
		d.Status = domain.DownloadFailed
		d.ErrorMessage = message("All %d files failed to download", total)
	case rate < minSuccessRate:
		d.Status = domain.DownloadFailed
		d.ErrorMessage = message("Only %d of %d files downloaded (%d%%)", done, total, int(rate*100))
	case failed > 0:
		d.Status = domain.DownloadCompleted
		d.ErrorMessage = message("%d of %d files failed", failed, total)
	default:
		d.Status = domain.DownloadCompleted
		d.ErrorMessage = nil
		return true, true
	}
	return true, false
}

func message(format string, args ...any) *string {
	s := fmt.Sprintf(format, args...)
	return &s
}
