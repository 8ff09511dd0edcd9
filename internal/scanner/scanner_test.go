package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/store"
	"github.com/cesargomez89/audiosource/internal/tagging"
)

// fakeReader derives tags from file names like "03 - Title.mp3".
type fakeReader struct {
	album, artist string
	year          int
	reads         int32
	onRead        func(path string)
	broken        map[string]bool
	covers        map[string]bool
}

func (f *fakeReader) Read(path string) (*tagging.FileTags, error) {
	atomic.AddInt32(&f.reads, 1)
	if f.onRead != nil {
		f.onRead(path)
	}
	name := filepath.Base(path)
	if f.broken[name] {
		return nil, errors.New("corrupt header")
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	num, title, _ := strings.Cut(stem, " - ")
	n, _ := strconv.Atoi(num)
	return &tagging.FileTags{
		Title:       title,
		Album:       f.album,
		AlbumArtist: f.artist,
		Year:        f.year,
		Track:       n,
		Disc:        1,
		Duration:    200,
		Format:      strings.TrimPrefix(filepath.Ext(name), "."),
	}, nil
}

func (f *fakeReader) Cover(path string) ([]byte, string, error) {
	if f.covers[filepath.Base(path)] {
		return []byte{1}, "image/jpeg", nil
	}
	return nil, "", tagging.ErrNoCover
}

type fakeCatalog struct {
	mu         sync.Mutex
	candidates []domain.MatchCandidate
	err        error
	calls      int
}

func (c *fakeCatalog) SearchReleases(ctx context.Context, title, artist string, limit int) ([]domain.MatchCandidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.candidates, c.err
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

func writeAlbum(t *testing.T, dir string, tracks int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	// Written in reverse so directory order does not give track order.
	for i := tracks; i >= 1; i-- {
		name := fmt.Sprintf("%02d - Song %d.mp3", i, i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
}

func runScan(t *testing.T, s *Scanner, db *store.DB, force bool) domain.JobStatus {
	t.Helper()
	reg, err := jobs.NewRegistry(db, logger.Discard())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	reg.Register(domain.JobKindScan, s.Run)
	if _, err := reg.Start(context.Background(), domain.JobKindScan, jobs.Params{Force: force}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := reg.Wait(ctx, domain.JobKindScan)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return status
}

func TestScanner_SingleAlbumWithoutCatalogMatch(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Artist", "Album")
	writeAlbum(t, folder, 10)

	reader := &fakeReader{album: "Album", artist: "Artist"}
	catalog := &fakeCatalog{err: errors.New("catalog unreachable")}
	s := New(db, catalog, reader, nil, root, 80, logger.Discard())

	status := runScan(t, s, db, false)
	if status.State != domain.JobStateCompleted {
		t.Fatalf("Expected completed, got %s (%v)", status.State, status.ErrorMessage)
	}
	if status.Processed != 1 || status.Total != 1 {
		t.Errorf("Expected processed=total=1, got %d/%d", status.Processed, status.Total)
	}

	rel, err := db.FindReleaseByFolder(folder)
	if err != nil || rel == nil {
		t.Fatalf("Expected release for folder, got %v %v", rel, err)
	}
	if !rel.IsOwned || !rel.IsScanned || rel.IsWishlisted {
		t.Errorf("Expected owned scanned release, got %+v", rel)
	}
	if rel.MusicBrainzID != nil {
		t.Errorf("Expected no catalog id, got %q", *rel.MusicBrainzID)
	}
	if rel.Title != "Album" || rel.ArtistName != "Artist" || rel.TrackCount != 10 {
		t.Errorf("Expected Artist - Album with 10 tracks, got %s - %s (%d)", rel.ArtistName, rel.Title, rel.TrackCount)
	}

	tracks, err := db.ListTracks(rel.ID)
	if err != nil {
		t.Fatalf("ListTracks failed: %v", err)
	}
	if len(tracks) != 10 {
		t.Fatalf("Expected 10 tracks, got %d", len(tracks))
	}
	for i, tr := range tracks {
		if tr.TrackNumber != i+1 {
			t.Errorf("Expected track %d at position %d, got %d", i+1, i, tr.TrackNumber)
		}
	}
}

func TestScanner_RescanUnchangedAndForced(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Artist", "Album")
	writeAlbum(t, folder, 4)

	reader := &fakeReader{album: "Album", artist: "Artist"}
	s := New(db, nil, reader, nil, root, 80, logger.Discard())
	ctx := context.Background()

	first, outcome, err := s.ScanFolder(ctx, folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("Expected created, got %s", outcome)
	}
	readsAfterFirst := atomic.LoadInt32(&reader.reads)

	second, outcome, err := s.ScanFolder(ctx, folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("Expected skipped, got %s", outcome)
	}
	if got := atomic.LoadInt32(&reader.reads); got != readsAfterFirst {
		t.Errorf("Expected no tag reads on unchanged folder, got %d more", got-readsAfterFirst)
	}

	stored, err := db.GetRelease(first.ID)
	if err != nil {
		t.Fatalf("GetRelease failed: %v", err)
	}
	if !stored.UpdatedAt.Equal(first.UpdatedAt) || stored.Fingerprint != first.Fingerprint {
		t.Errorf("Expected untouched release on skip")
	}
	if second.ID != first.ID {
		t.Errorf("Expected same release, got %d and %d", first.ID, second.ID)
	}

	_, outcome, err = s.ScanFolder(ctx, folder, true)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("Expected forced rescan to update, got %s", outcome)
	}
	if got := atomic.LoadInt32(&reader.reads); got != 2*readsAfterFirst {
		t.Errorf("Expected tags re-read on forced rescan, got %d reads", got)
	}

	if n, _ := db.CountTracks(first.ID); n != 4 {
		t.Errorf("Expected 4 tracks without duplicates, got %d", n)
	}
	all, _ := db.ListReleases(store.ReleaseFilter{})
	if len(all) != 1 {
		t.Errorf("Expected one release, got %d", len(all))
	}
}

func TestScanner_ChangedFolderIsRescanned(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Album")
	writeAlbum(t, folder, 2)

	reader := &fakeReader{album: "Album", artist: "Artist"}
	s := New(db, nil, reader, nil, root, 80, logger.Discard())
	ctx := context.Background()

	rel, _, err := s.ScanFolder(ctx, folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(folder, "03 - Song 3.mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	_, outcome, err := s.ScanFolder(ctx, folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("Expected updated, got %s", outcome)
	}
	if n, _ := db.CountTracks(rel.ID); n != 3 {
		t.Errorf("Expected 3 tracks, got %d", n)
	}
}

func TestScanner_AppliesConfidentMatch(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Radiohead", "In Rainbows")
	writeAlbum(t, folder, 10)

	reader := &fakeReader{album: "In Rainbows", artist: "Radiohead", year: 2007}
	catalog := &fakeCatalog{candidates: []domain.MatchCandidate{
		{MusicBrainzID: "other", Title: "Pablo Honey", Artist: "Radiohead", ReleaseDate: "1993", TrackCount: 12},
		{
			MusicBrainzID: "mb-1", Title: "In Rainbows", Artist: "Radiohead", ArtistMBID: "art-1",
			ReleaseDate: "2007-10-10", ReleaseType: "Album", TrackCount: 10,
			CoverArtURL: "https://coverartarchive.org/release/mb-1/front-250",
		},
	}}
	s := New(db, catalog, reader, nil, root, 80, logger.Discard())

	rel, _, err := s.ScanFolder(context.Background(), folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if rel.MBID() != "mb-1" || rel.ReleaseDate != "2007-10-10" || rel.ReleaseType != "Album" {
		t.Errorf("Expected catalog data applied, got %+v", rel)
	}
	if rel.CoverArtURL != "https://coverartarchive.org/release/mb-1/front-250" {
		t.Errorf("Expected catalog cover, got %q", rel.CoverArtURL)
	}

	artist, err := db.FindArtistByMBID("art-1")
	if err != nil || artist == nil || artist.Name != "Radiohead" {
		t.Errorf("Expected artist with catalog id, got %v %v", artist, err)
	}
}

func TestScanner_LowConfidenceLeavesUnmatched(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Album")
	writeAlbum(t, folder, 3)

	reader := &fakeReader{album: "Some Demo", artist: "Garage Band", covers: map[string]bool{"02 - Song 2.mp3": true}}
	catalog := &fakeCatalog{candidates: []domain.MatchCandidate{
		{MusicBrainzID: "mb-x", Title: "Completely Different", Artist: "Someone Else", TrackCount: 14},
	}}
	s := New(db, catalog, reader, nil, root, 80, logger.Discard())

	rel, _, err := s.ScanFolder(context.Background(), folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if rel.MusicBrainzID != nil {
		t.Errorf("Expected no catalog id, got %q", rel.MBID())
	}
	if !rel.IsOwned || rel.Title != "Some Demo" {
		t.Errorf("Expected owned local release, got %+v", rel)
	}
	if rel.CoverArtURL != EmbeddedCoverPrefix+"02 - Song 2.mp3" {
		t.Errorf("Expected embedded cover reference, got %q", rel.CoverArtURL)
	}
}

func TestScanner_MergeWaitsForBusyHolder(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Radiohead", "In Rainbows")
	writeAlbum(t, folder, 2)

	locks := store.NewReleaseLocks()
	s := New(db, nil, &fakeReader{album: "In Rainbows", artist: "Radiohead", year: 2007}, locks, root, 80, logger.Discard())
	rel, _, err := s.ScanFolder(context.Background(), folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}

	mbid := "mb-1"
	holder := &domain.Release{Title: "In Rainbows", TitleNormalized: "in rainbows", MusicBrainzID: &mbid, IsWishlisted: true}
	if err := db.SaveRelease(holder, false); err != nil {
		t.Fatalf("SaveRelease failed: %v", err)
	}
	s.catalog = &fakeCatalog{candidates: []domain.MatchCandidate{
		{MusicBrainzID: mbid, Title: "In Rainbows", Artist: "Radiohead", ReleaseDate: "2007", TrackCount: 2},
	}}

	unlock := locks.Lock(holder.ID)
	busy, _, err := s.ScanFolder(context.Background(), folder, true)
	unlock()
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if busy.ID != rel.ID || busy.MusicBrainzID != nil {
		t.Errorf("Expected release %d without a catalog id while the holder is busy, got %d %q", rel.ID, busy.ID, busy.MBID())
	}
	if _, err := db.GetRelease(holder.ID); err != nil {
		t.Errorf("Expected the busy holder kept, got %v", err)
	}

	merged, _, err := s.ScanFolder(context.Background(), folder, true)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if merged.MBID() != mbid {
		t.Errorf("Expected catalog id %s once the holder is free, got %q", mbid, merged.MBID())
	}
	if _, err := db.GetRelease(holder.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected the holder merged, got %v", err)
	}
}

func TestScanner_AdoptsWishlistedRelease(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Album")
	writeAlbum(t, folder, 2)

	artist := &domain.Artist{Name: "Artist", NameNormalized: "artist"}
	if err := db.CreateArtist(artist); err != nil {
		t.Fatalf("CreateArtist failed: %v", err)
	}
	wanted := &domain.Release{Title: "Album", TitleNormalized: "album", IsWishlisted: true, ArtistID: &artist.ID}
	if err := db.SaveRelease(wanted, false); err != nil {
		t.Fatalf("SaveRelease failed: %v", err)
	}

	s := New(db, nil, &fakeReader{album: "Album", artist: "Artist"}, nil, root, 80, logger.Discard())
	rel, outcome, err := s.ScanFolder(context.Background(), folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if outcome != OutcomeUpdated || rel.ID != wanted.ID {
		t.Errorf("Expected wishlisted release %d to be adopted, got %d (%s)", wanted.ID, rel.ID, outcome)
	}
	if !rel.IsOwned || rel.IsWishlisted {
		t.Errorf("Expected owned and no longer wishlisted, got %+v", rel)
	}
}

func TestScanner_UnreadableFilesAreSkipped(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	folder := filepath.Join(root, "Album")
	writeAlbum(t, folder, 3)

	reader := &fakeReader{album: "Album", artist: "Artist", broken: map[string]bool{"02 - Song 2.mp3": true}}
	s := New(db, nil, reader, nil, root, 80, logger.Discard())

	rel, _, err := s.ScanFolder(context.Background(), folder, false)
	if err != nil {
		t.Fatalf("ScanFolder failed: %v", err)
	}
	if n, _ := db.CountTracks(rel.ID); n != 2 {
		t.Errorf("Expected 2 readable tracks, got %d", n)
	}
}

func TestScanner_CancelStopsBetweenFolders(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	for _, name := range []string{"A", "B", "C"} {
		writeAlbum(t, filepath.Join(root, name), 2)
	}

	reg, err := jobs.NewRegistry(db, logger.Discard())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	var once sync.Once
	reader := &fakeReader{album: "Album", artist: "Artist"}
	reader.onRead = func(string) {
		once.Do(func() {
			if _, err := reg.Cancel(domain.JobKindScan); err != nil {
				t.Errorf("Cancel failed: %v", err)
			}
		})
	}
	s := New(db, nil, reader, nil, root, 80, logger.Discard())
	reg.Register(domain.JobKindScan, s.Run)

	if _, err := reg.Start(context.Background(), domain.JobKindScan, jobs.Params{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := reg.Wait(ctx, domain.JobKindScan)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if status.State != domain.JobStateCancelled {
		t.Fatalf("Expected cancelled, got %s", status.State)
	}
	if status.Processed != 1 || status.Total != 3 {
		t.Errorf("Expected 1/3 processed, got %d/%d", status.Processed, status.Total)
	}
	if rel, _ := db.FindReleaseByFolder(filepath.Join(root, "A")); rel == nil {
		t.Error("Expected the processed folder to be kept")
	}
	if rel, _ := db.FindReleaseByFolder(filepath.Join(root, "B")); rel != nil {
		t.Error("Expected no work after cancellation")
	}
}

func TestScanner_MissingFoldersLoseOwnership(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	keep := filepath.Join(root, "Keep")
	gone := filepath.Join(root, "Gone")
	writeAlbum(t, keep, 1)
	writeAlbum(t, gone, 1)

	reader := &fakeReader{artist: "Artist"}
	s := New(db, nil, reader, nil, root, 80, logger.Discard())
	if st := runScan(t, s, db, false); st.Processed != 2 {
		t.Fatalf("Expected 2 folders, got %d", st.Processed)
	}

	rel, _ := db.FindReleaseByFolder(gone)
	if rel == nil {
		t.Fatal("Expected release for folder")
	}
	if err := os.RemoveAll(gone); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	runScan(t, s, db, false)

	after, err := db.GetRelease(rel.ID)
	if err != nil {
		t.Fatalf("Expected release to be kept, got %v", err)
	}
	if after.IsOwned || after.FolderPath != nil {
		t.Errorf("Expected release marked not owned, got %+v", after)
	}
	if n, _ := db.CountTracks(rel.ID); n != 0 {
		t.Errorf("Expected tracks dropped, got %d", n)
	}
	if kept, _ := db.FindReleaseByFolder(keep); kept == nil || !kept.IsOwned {
		t.Error("Expected present folder to stay owned")
	}
}

func TestFindAlbumFolders(t *testing.T) {
	root := t.TempDir()
	writeAlbum(t, filepath.Join(root, "b", "album"), 1)
	writeAlbum(t, filepath.Join(root, "a"), 1)
	writeAlbum(t, filepath.Join(root, ".hidden", "album"), 1)
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "empty", "cover.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	folders, err := FindAlbumFolders(root)
	if err != nil {
		t.Fatalf("FindAlbumFolders failed: %v", err)
	}
	want := []string{filepath.Join(root, "a"), filepath.Join(root, "b", "album")}
	if len(folders) != len(want) {
		t.Fatalf("Expected %v, got %v", want, folders)
	}
	for i := range want {
		if folders[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, folders[i])
		}
	}

	if _, err := FindAlbumFolders(filepath.Join(root, "missing")); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestMostCommon(t *testing.T) {
	if got := mostCommon([]string{"", "a", "b", "b"}); got != "b" {
		t.Errorf("Expected b, got %q", got)
	}
	if got := mostCommon([]string{"", ""}); got != "" {
		t.Errorf("Expected empty, got %q", got)
	}
	if got := mostCommonInt([]int{0, 1999, 2001, 1999}); got != 1999 {
		t.Errorf("Expected 1999, got %d", got)
	}
}
