package downloads

import (
	"testing"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/slskd"
)

func transferOf(user string, files ...slskd.TransferFile) slskd.Transfer {
	return slskd.Transfer{
		Username:    user,
		Directories: []slskd.TransferDirectory{{Directory: "Album", Files: files}},
	}
}

func TestAggregate(t *testing.T) {
	transfers := []slskd.Transfer{
		transferOf("alice",
			slskd.TransferFile{Filename: "a1", State: "Completed, Succeeded", Size: 100, BytesTransferred: 100},
			slskd.TransferFile{Filename: "a2", State: "Completed, Errored", Size: 100},
			slskd.TransferFile{Filename: "a3", State: "InProgress", Size: 100, BytesTransferred: 40},
			slskd.TransferFile{Filename: "old", State: "Completed, Succeeded", Size: 999},
		),
		transferOf("bob", slskd.TransferFile{Filename: "b1", State: "Completed, Succeeded", Size: 50}),
	}

	p, found := aggregate(transfers, "alice", []string{"a1", "a2", "a3"})
	if !found {
		t.Fatal("Expected transfers for alice")
	}
	if p.Total != 3 || p.Done != 1 || p.Failed != 1 {
		t.Errorf("Expected 3 total, 1 done, 1 failed, got %+v", p)
	}
	if p.TotalBytes != 300 || p.DoneBytes != 140 {
		t.Errorf("Expected 140 of 300 bytes, got %d of %d", p.DoneBytes, p.TotalBytes)
	}

	all, _ := aggregate(transfers, "alice", nil)
	if all.Total != 4 {
		t.Errorf("Expected every alice file without a filter, got %d", all.Total)
	}

	if _, found := aggregate(transfers, "carol", nil); found {
		t.Error("Expected no transfers for carol")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		state string
		want  fileState
	}{
		{"Completed, Succeeded", fileDone},
		{"Completed", fileDone},
		{"Completed, Errored", fileFailed},
		{"Completed, Cancelled", fileFailed},
		{"Completed, TimedOut", fileFailed},
		{"Completed, Rejected", fileFailed},
		{"InProgress", fileActive},
		{"Queued, Remotely", fileActive},
		{"Initializing", fileActive},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := classify(tt.state); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestErroredTransfersFailTheDownload(t *testing.T) {
	transfers := []slskd.Transfer{transferOf("alice",
		slskd.TransferFile{Filename: "a1", State: "Completed, Errored", Size: 100},
		slskd.TransferFile{Filename: "a2", State: "Completed, Errored", Size: 100},
	)}

	p, _ := aggregate(transfers, "alice", nil)
	if p.Done != 0 || p.Failed != 2 || p.DoneBytes != 0 {
		t.Fatalf("Expected 2 failed files and no bytes, got %+v", p)
	}

	d := &domain.Download{Status: domain.DownloadDownloading}
	finished, autoMove := applyProgress(d, p, time.Now())
	if !finished || autoMove {
		t.Errorf("Expected a finished download without a move, got finished=%v autoMove=%v", finished, autoMove)
	}
	if d.Status != domain.DownloadFailed {
		t.Errorf("Expected status failed, got %s", d.Status)
	}
	if d.CompletedBytes != 0 {
		t.Errorf("Expected 0 completed bytes, got %d", d.CompletedBytes)
	}
}

func TestApplyProgress_CompletionRules(t *testing.T) {
	tests := []struct {
		name     string
		p        progress
		status   domain.DownloadStatus
		message  string
		finished bool
		autoMove bool
	}{
		{"in flight", progress{Total: 10, Done: 4, Failed: 1}, domain.DownloadDownloading, "", false, false},
		{"all done", progress{Total: 10, Done: 10}, domain.DownloadCompleted, "", true, true},
		{"some failed", progress{Total: 10, Done: 8, Failed: 2}, domain.DownloadCompleted, "2 of 10 files failed", true, false},
		{"half done", progress{Total: 10, Done: 5, Failed: 5}, domain.DownloadCompleted, "5 of 10 files failed", true, false},
		{"mostly failed", progress{Total: 10, Done: 3, Failed: 7}, domain.DownloadFailed, "Only 3 of 10 files downloaded (30%)", true, false},
		{"all failed", progress{Total: 4, Failed: 4}, domain.DownloadFailed, "All 4 files failed to download", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &domain.Download{Status: domain.DownloadDownloading, TotalFiles: tt.p.Total}
			finished, autoMove := applyProgress(d, tt.p, time.Now())
			if finished != tt.finished || autoMove != tt.autoMove {
				t.Errorf("Expected finished=%v autoMove=%v, got %v %v", tt.finished, tt.autoMove, finished, autoMove)
			}
			if d.Status != tt.status {
				t.Errorf("Expected %s, got %s", tt.status, d.Status)
			}
			got := ""
			if d.ErrorMessage != nil {
				got = *d.ErrorMessage
			}
			if got != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, got)
			}
			if tt.finished && d.CompletedAt == nil {
				t.Error("Expected completion time")
			}
		})
	}
}

func TestApplyProgress_ClampsCounters(t *testing.T) {
	d := &domain.Download{Status: domain.DownloadDownloading, TotalFiles: 3, TotalBytes: 300}

	// The peer lists fewer files than were requested.
	applyProgress(d, progress{Total: 0, Done: 5, Failed: 2, DoneBytes: 900}, time.Now())
	if d.CompletedFiles != 3 || d.FailedFiles != 0 {
		t.Errorf("Expected completed clamped to 3 and no room for failures, got %d/%d", d.CompletedFiles, d.FailedFiles)
	}
	if d.CompletedBytes != 300 {
		t.Errorf("Expected bytes clamped to 300, got %d", d.CompletedBytes)
	}
}
