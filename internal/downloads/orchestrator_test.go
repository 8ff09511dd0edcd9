package downloads

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/scanner"
	"github.com/cesargomez89/audiosource/internal/slskd"
	"github.com/cesargomez89/audiosource/internal/store"
)

type fakePeer struct {
	mu         sync.Mutex
	responses  []slskd.SearchResponse
	searchGate chan struct{}
	enqueueErr map[string]error
	enqueued   []string
	transfers  []slskd.Transfer
	cancelled  []string
	searches   []string
}

func (p *fakePeer) Available(ctx context.Context) bool { return true }

func (p *fakePeer) Search(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	p.searches = append(p.searches, text)
	n := len(p.searches)
	p.mu.Unlock()
	return fmt.Sprintf("search-%d", n), nil
}

func (p *fakePeer) WaitForSearch(ctx context.Context, id string) ([]slskd.SearchResponse, error) {
	if p.searchGate != nil {
		select {
		case <-p.searchGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responses, nil
}

func (p *fakePeer) Enqueue(ctx context.Context, user string, files []slskd.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enqueueErr[user]; err != nil {
		return err
	}
	p.enqueued = append(p.enqueued, user)
	return nil
}

func (p *fakePeer) Transfers(ctx context.Context) ([]slskd.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transfers, nil
}

func (p *fakePeer) CancelUser(ctx context.Context, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, user)
	return nil
}

func (p *fakePeer) setTransfers(t []slskd.Transfer) {
	p.mu.Lock()
	p.transfers = t
	p.mu.Unlock()
}

type fakeScanner struct {
	mu      sync.Mutex
	folders []string
}

func (s *fakeScanner) ScanFolder(ctx context.Context, folder string, force bool) (*domain.Release, scanner.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = append(s.folders, folder)
	return nil, scanner.OutcomeUpdated, nil
}

type fixture struct {
	db          *store.DB
	peer        *fakePeer
	scanner     *fakeScanner
	orch        *Orchestrator
	downloadDir string
	musicDir    string
	release     *domain.Release
}

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)

	artist := &domain.Artist{Name: "Radiohead", NameNormalized: "radiohead"}
	if err := db.CreateArtist(artist); err != nil {
		t.Fatalf("CreateArtist failed: %v", err)
	}
	rel := &domain.Release{Title: "OK Computer", TitleNormalized: "ok computer", ArtistID: &artist.ID, TrackCount: 3, IsWishlisted: true}
	if err := db.SaveRelease(rel, false); err != nil {
		t.Fatalf("SaveRelease failed: %v", err)
	}

	f := &fixture{
		db:          db,
		peer:        &fakePeer{enqueueErr: map[string]error{}},
		scanner:     &fakeScanner{},
		downloadDir: t.TempDir(),
		musicDir:    t.TempDir(),
		release:     rel,
	}
	f.orch = New(db, f.peer, f.scanner, store.NewReleaseLocks(), Options{
		Enabled:         true,
		DownloadDir:     f.downloadDir,
		MusicFolder:     f.musicDir,
		LibraryTemplate: "{{.Artist}}/{{.Album}}",
		Timeout:         5 * time.Minute,
		PollInterval:    10 * time.Millisecond,
	}, logger.Discard())
	t.Cleanup(f.orch.Close)
	return f
}

func albumFiles() []slskd.File {
	files := make([]slskd.File, 3)
	for i := range files {
		files[i] = slskd.File{
			Filename: fmt.Sprintf(`@@music\Radiohead\OK Computer\%02d - Track.mp3`, i+1),
			Size:     8_000_000,
		}
	}
	return files
}

func waitStatus(t *testing.T, o *Orchestrator, id string, want domain.DownloadStatus) *domain.Download {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		d, err := o.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if d.Status == want {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected status %s, got %s", want, d.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStart_ConflictWhileActive(t *testing.T) {
	f := newFixture(t)
	f.peer.searchGate = make(chan struct{})

	first, err := f.orch.Start(context.Background(), f.release.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, f.orch, first.ID, domain.DownloadSearching)

	active, err := f.orch.Start(context.Background(), f.release.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Errorf("Expected the active download with the conflict, got %+v", active)
	}

	n, err := f.db.CountDownloadsForRelease(f.release.ID)
	if err != nil {
		t.Fatalf("CountDownloadsForRelease failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exactly one download row, got %d", n)
	}

	if _, err := f.orch.Cancel(context.Background(), first.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	f.orch.Wait()
}

func TestNew_NilLogger(t *testing.T) {
	o := New(setupTestDB(t), nil, nil, nil, Options{}, nil)
	defer o.Close()
	if o.log == nil {
		t.Fatal("Expected a default logger")
	}
	if o.Enabled() {
		t.Error("Expected downloads disabled without options")
	}
}

func TestStart_Rejections(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.Start(context.Background(), 9999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown release, got %v", err)
	}

	disabled := New(f.db, f.peer, nil, nil, Options{}, logger.Discard())
	defer disabled.Close()
	if _, err := disabled.Start(context.Background(), f.release.ID); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable when disabled, got %v", err)
	}
}

func TestDownload_CompletesAndMovesIntoLibrary(t *testing.T) {
	f := newFixture(t)
	f.peer.responses = []slskd.SearchResponse{
		{Username: "weak", Files: albumFiles()[:1]},
		{Username: "alice", Files: albumFiles()},
	}

	d, err := f.orch.Start(context.Background(), f.release.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	d = waitStatus(t, f.orch, d.ID, domain.DownloadDownloading)
	if d.User() != "alice" || d.TotalFiles != 3 || d.TotalBytes != 24_000_000 {
		t.Errorf("Expected alice with 3 files, got %q %d %d", d.User(), d.TotalFiles, d.TotalBytes)
	}
	if d.StartedAt == nil {
		t.Error("Expected started_at")
	}

	// slskd writes into <download dir>/<user>/<album folder>.
	dir := filepath.Join(f.downloadDir, "alice", "OK Computer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	var files []slskd.TransferFile
	for i, pf := range albumFiles() {
		name := fmt.Sprintf("%02d - Track.mp3", i+1)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		files = append(files, slskd.TransferFile{Filename: pf.Filename, State: "Completed, Succeeded", Size: pf.Size})
	}
	f.peer.setTransfers([]slskd.Transfer{transferOf("alice", files...)})

	d = waitStatus(t, f.orch, d.ID, domain.DownloadMoved)
	if d.CompletedFiles != 3 || d.CompletedBytes != d.TotalBytes {
		t.Errorf("Expected all files done, got %d files %d bytes", d.CompletedFiles, d.CompletedBytes)
	}

	target := filepath.Join(f.musicDir, "Radiohead", "OK Computer")
	for i := 1; i <= 3; i++ {
		if _, err := os.Stat(filepath.Join(target, fmt.Sprintf("%02d - Track.mp3", i))); err != nil {
			t.Errorf("Expected track %d in the library: %v", i, err)
		}
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Expected emptied download folder to be removed, got %v", err)
	}

	rel, err := f.db.GetRelease(f.release.ID)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if !rel.IsOwned || rel.IsWishlisted || rel.Folder() != target {
		t.Errorf("Expected owned release at %s, got owned=%v wishlisted=%v folder=%q", target, rel.IsOwned, rel.IsWishlisted, rel.Folder())
	}

	f.scanner.mu.Lock()
	defer f.scanner.mu.Unlock()
	if len(f.scanner.folders) != 1 || f.scanner.folders[0] != target {
		t.Errorf("Expected one rescan of %s, got %v", target, f.scanner.folders)
	}
}

func TestDownload_PartialFailureKeepsFiles(t *testing.T) {
	f := newFixture(t)
	f.peer.responses = []slskd.SearchResponse{{Username: "alice", Files: albumFiles()}}

	d, err := f.orch.Start(context.Background(), f.release.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, f.orch, d.ID, domain.DownloadDownloading)

	files := albumFiles()
	f.peer.setTransfers([]slskd.Transfer{transferOf("alice",
		slskd.TransferFile{Filename: files[0].Filename, State: "Completed, Succeeded", Size: files[0].Size},
		slskd.TransferFile{Filename: files[1].Filename, State: "Completed, Succeeded", Size: files[1].Size},
		slskd.TransferFile{Filename: files[2].Filename, State: "Completed, TimedOut", Size: files[2].Size},
	)})

	d = waitStatus(t, f.orch, d.ID, domain.DownloadCompleted)
	if d.ErrorMessage == nil || *d.ErrorMessage != "1 of 3 files failed" {
		t.Errorf("Expected partial failure message, got %v", d.ErrorMessage)
	}
	f.orch.Wait()
	if len(f.scanner.folders) != 0 {
		t.Errorf("Expected no auto-move after partial failure, got %v", f.scanner.folders)
	}
}

func TestDownload_NoSources(t *testing.T) {
	f := newFixture(t)
	f.peer.responses = []slskd.SearchResponse{
		{Username: "noise", Files: []slskd.File{{Filename: `Other\Thing\01.mp3`, Size: 1}}},
	}

	d, err := f.orch.Start(context.Background(), f.release.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	d = waitStatus(t, f.orch, d.ID, domain.DownloadFailed)
	if d.ErrorMessage == nil || *d.ErrorMessage != msgNoSources {
		t.Errorf("Expected %q, got %v", msgNoSources, d.ErrorMessage)
	}
	f.peer.mu.Lock()
	defer f.peer.mu.Unlock()
	if len(f.peer.searches) != 3 {
		t.Errorf("Expected all three query variants, got %v", f.peer.searches)
	}
}

func TestDownload_EverySourceRefuses(t *testing.T) {
	f := newFixture(t)
	f.peer.responses = []slskd.SearchResponse{
		{Username: "alice", Files: albumFiles()},
		{Username: "bob", Files: albumFiles()},
	}
	f.peer.enqueueErr["alice"] = errors.New("queue full")
	f.peer.enqueueErr["bob"] = errors.New("offline")

	d, err := f.orch.Start(context.Background(), f.release.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	d = waitStatus(t, f.orch, d.ID, domain.DownloadFailed)
	if d.ErrorMessage == nil || *d.ErrorMessage != msgNoSourceWorked {
		t.Errorf("Expected %q, got %v", msgNoSourceWorked, d.ErrorMessage)
	}
}

func TestCancelRetryDelete(t *testing.T) {
	f := newFixture(t)
	f.peer.responses = []slskd.SearchResponse{{Username: "alice", Files: albumFiles()}}

	d, err := f.orch.Start(context.Background(), f.release.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, f.orch, d.ID, domain.DownloadDownloading)

	if _, err := f.orch.Retry(context.Background(), d.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition retrying a downloading row, got %v", err)
	}
	if err := f.orch.Delete(d.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition deleting an active row, got %v", err)
	}

	cancelled, err := f.orch.Cancel(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != domain.DownloadCancelled || cancelled.ErrorMessage == nil || *cancelled.ErrorMessage != msgCancelled {
		t.Errorf("Expected cancelled by user, got %s %v", cancelled.Status, cancelled.ErrorMessage)
	}
	f.orch.Wait()
	if len(f.peer.cancelled) != 1 || f.peer.cancelled[0] != "alice" {
		t.Errorf("Expected peer transfers withdrawn for alice, got %v", f.peer.cancelled)
	}

	again, err := f.orch.Cancel(context.Background(), d.ID)
	if err != nil || again.Status != domain.DownloadCancelled {
		t.Errorf("Expected idempotent cancel, got %s %v", again.Status, err)
	}

	f.peer.searchGate = make(chan struct{})
	retried, err := f.orch.Retry(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.RetryCount != 1 || retried.Username != nil || retried.TotalFiles != 0 || retried.ErrorMessage != nil {
		t.Errorf("Expected reset row with retry_count 1, got %+v", retried)
	}
	waitStatus(t, f.orch, d.ID, domain.DownloadSearching)

	if _, err := f.orch.Cancel(context.Background(), d.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	f.orch.Wait()

	if err := f.orch.Delete(d.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.orch.Get(d.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t)

	old := &domain.Download{ID: "old", ArtistName: "A", AlbumTitle: "B", Status: domain.DownloadSearching, CreatedAt: time.Now().UTC().Add(-10 * time.Minute)}
	fresh := &domain.Download{ID: "fresh", ArtistName: "A", AlbumTitle: "C", Status: domain.DownloadPending, CreatedAt: time.Now().UTC()}
	busy := &domain.Download{ID: "busy", ArtistName: "A", AlbumTitle: "D", Status: domain.DownloadDownloading, CreatedAt: time.Now().UTC().Add(-time.Hour)}
	for _, d := range []*domain.Download{old, fresh, busy} {
		if err := f.db.CreateDownload(d); err != nil {
			t.Fatalf("CreateDownload failed: %v", err)
		}
	}

	n, err := f.orch.SweepStale(context.Background())
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 swept, got %d", n)
	}

	got, _ := f.orch.Get("old")
	if got.Status != domain.DownloadFailed || got.ErrorMessage == nil || *got.ErrorMessage != "Timed out after 5 minutes" {
		t.Errorf("Expected timed out failure, got %s %v", got.Status, got.ErrorMessage)
	}
	if got, _ := f.orch.Get("fresh"); got.Status != domain.DownloadPending {
		t.Errorf("Expected fresh row untouched, got %s", got.Status)
	}
	if got, _ := f.orch.Get("busy"); got.Status != domain.DownloadDownloading {
		t.Errorf("Expected downloading row untouched, got %s", got.Status)
	}
}

func TestResume(t *testing.T) {
	f := newFixture(t)

	user := "alice"
	files := albumFiles()
	inFlight := &domain.Download{
		ID: "flight", ReleaseID: &f.release.ID, ArtistName: "Radiohead", AlbumTitle: "OK Computer",
		Username: &user, Status: domain.DownloadDownloading, TotalFiles: 3, CreatedAt: time.Now().UTC(),
		Files: domain.StringSlice{files[0].Filename, files[1].Filename, files[2].Filename},
	}
	stuck := &domain.Download{ID: "stuck", ArtistName: "X", AlbumTitle: "Y", Status: domain.DownloadSearching, CreatedAt: time.Now().UTC()}
	for _, d := range []*domain.Download{inFlight, stuck} {
		if err := f.db.CreateDownload(d); err != nil {
			t.Fatalf("CreateDownload failed: %v", err)
		}
	}

	var transfers []slskd.TransferFile
	for _, pf := range files {
		transfers = append(transfers, slskd.TransferFile{Filename: pf.Filename, State: "Completed, Errored", Size: pf.Size})
	}
	f.peer.setTransfers([]slskd.Transfer{transferOf(user, transfers...)})

	if err := f.orch.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	got, _ := f.orch.Get("stuck")
	if got.Status != domain.DownloadFailed || *got.ErrorMessage != msgInterrupted {
		t.Errorf("Expected interrupted failure, got %s %v", got.Status, got.ErrorMessage)
	}

	d := waitStatus(t, f.orch, "flight", domain.DownloadFailed)
	if *d.ErrorMessage != "All 3 files failed to download" {
		t.Errorf("Expected all failed message, got %q", *d.ErrorMessage)
	}
}

func TestMove_RefusesLowSuccessRate(t *testing.T) {
	f := newFixture(t)

	d := &domain.Download{
		ID: "low", ArtistName: "Radiohead", AlbumTitle: "OK Computer", Status: domain.DownloadCompleted,
		TotalFiles: 10, CompletedFiles: 4, FailedFiles: 6, CreatedAt: time.Now().UTC(),
	}
	if err := f.db.CreateDownload(d); err != nil {
		t.Fatalf("CreateDownload failed: %v", err)
	}

	if _, err := f.orch.Move(context.Background(), "low"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected refusal, got %v", err)
	}
	if got, _ := f.orch.Get("low"); got.Status != domain.DownloadCompleted {
		t.Errorf("Expected row to stay completed, got %s", got.Status)
	}
}

func TestMove_NoFilesKeepsCompleted(t *testing.T) {
	f := newFixture(t)

	user := "alice"
	d := &domain.Download{
		ID: "empty", ArtistName: "Radiohead", AlbumTitle: "OK Computer", Username: &user,
		Status: domain.DownloadCompleted, TotalFiles: 3, CompletedFiles: 3, CreatedAt: time.Now().UTC(),
	}
	if err := f.db.CreateDownload(d); err != nil {
		t.Fatalf("CreateDownload failed: %v", err)
	}

	if _, err := f.orch.Move(context.Background(), "empty"); err == nil {
		t.Fatal("Expected move error without files")
	}
	got, _ := f.orch.Get("empty")
	if got.Status != domain.DownloadCompleted || got.ErrorMessage == nil {
		t.Errorf("Expected completed with error message, got %s %v", got.Status, got.ErrorMessage)
	}
}
