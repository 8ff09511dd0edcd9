package scrapes

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/musicbrainz"
	"github.com/cesargomez89/audiosource/internal/sources"
	"github.com/cesargomez89/audiosource/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func runJob(t *testing.T, kind domain.JobKind, runner jobs.Runner) domain.JobStatus {
	t.Helper()
	reg, err := jobs.NewRegistry(nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	reg.Register(kind, runner)
	if _, err := reg.Start(context.Background(), kind, jobs.Params{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := reg.Wait(ctx, kind)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return s
}

type fakeSource struct {
	queries []sources.Query
	fail    map[string]error
	onFetch func(q sources.Query)
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Queries(ctx context.Context) ([]sources.Query, error) {
	return f.queries, nil
}

func (f *fakeSource) FetchCandidates(ctx context.Context, q sources.Query) ([]string, error) {
	if f.onFetch != nil {
		f.onFetch(q)
	}
	if err := f.fail[q.Label]; err != nil {
		return nil, err
	}
	return []string{q.Label + "-a", q.Label + "-b"}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	saved    []string
	prepared bool
}

func (s *fakeSink) Prepare(ctx context.Context) error {
	s.prepared = true
	return nil
}

func (s *fakeSink) Save(ctx context.Context, q sources.Query, records []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, records...)
	return len(records), nil
}

func labels(n int) []sources.Query {
	qs := make([]sources.Query, n)
	for i := range qs {
		qs[i] = sources.Query{Label: fmt.Sprintf("q%d", i+1)}
	}
	return qs
}

func TestJob_PartialFailureCompletes(t *testing.T) {
	src := &fakeSource{queries: labels(3), fail: map[string]error{"q2": errors.New("timeout")}}
	sink := &fakeSink{}

	s := runJob(t, domain.JobKindNewReleases, NewJob[string](src, sink, 0).Run)

	if s.State != domain.JobStateCompleted {
		t.Fatalf("Expected completed, got %s", s.State)
	}
	if s.Processed != 3 || s.Total != 3 {
		t.Errorf("Expected 3/3 processed, got %d/%d", s.Processed, s.Total)
	}
	if s.ResultCount != 4 {
		t.Errorf("Expected 4 saved records, got %d", s.ResultCount)
	}
	if !sink.prepared {
		t.Error("Expected sink to be prepared")
	}
}

func TestJob_AllQueriesFail(t *testing.T) {
	src := &fakeSource{queries: labels(2), fail: map[string]error{
		"q1": errors.New("down"),
		"q2": errors.New("down"),
	}}

	s := runJob(t, domain.JobKindVinyl, NewJob[string](src, &fakeSink{}, 0).Run)

	if s.State != domain.JobStateError {
		t.Fatalf("Expected error state, got %s", s.State)
	}
	if s.ErrorMessage == nil || *s.ErrorMessage == "" {
		t.Error("Expected an error message")
	}
}

func TestJob_NoQueriesCompletes(t *testing.T) {
	s := runJob(t, domain.JobKindConcerts, NewJob[string](&fakeSource{}, &fakeSink{}, 0).Run)
	if s.State != domain.JobStateCompleted || s.Total != 0 {
		t.Errorf("Expected completed with no work, got %s total=%d", s.State, s.Total)
	}
}

func TestJob_CancelStopsBetweenQueries(t *testing.T) {
	reg, err := jobs.NewRegistry(nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	fetched := make(chan struct{}, 3)
	src := &fakeSource{queries: labels(3), onFetch: func(sources.Query) { fetched <- struct{}{} }}
	reg.Register(domain.JobKindConcerts, NewJob[string](src, &fakeSink{}, time.Hour).Run)

	if _, err := reg.Start(context.Background(), domain.JobKindConcerts, jobs.Params{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-fetched
	if _, err := reg.Cancel(domain.JobKindConcerts); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := reg.Wait(ctx, domain.JobKindConcerts)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if s.State != domain.JobStateCancelled {
		t.Errorf("Expected cancelled, got %s", s.State)
	}
	if s.Processed != 1 {
		t.Errorf("Expected 1 processed, got %d", s.Processed)
	}
	if len(fetched) != 0 {
		t.Errorf("Expected no fetch after cancel, got %d", len(fetched))
	}
}

func createArtist(t *testing.T, db *store.DB, name, normalized string) *domain.Artist {
	t.Helper()
	a := &domain.Artist{Name: name, NameNormalized: normalized}
	if err := db.CreateArtist(a); err != nil {
		t.Fatalf("CreateArtist failed: %v", err)
	}
	return a
}

func TestNewReleaseSink_LinksLibraryMatches(t *testing.T) {
	db := setupTestDB(t)
	artist := createArtist(t, db, "Radiohead", "radiohead")
	owned := &domain.Release{Title: "OK Computer", TitleNormalized: "ok computer", ArtistID: &artist.ID, IsOwned: true}
	if err := db.SaveRelease(owned, false); err != nil {
		t.Fatalf("SaveRelease failed: %v", err)
	}

	sink := &NewReleaseSink{Store: db}
	records := []*domain.NewRelease{
		{AOTYURL: "https://aoty.test/album/1", Title: "OK Computer (Remastered)", Artist: "Radiohead", Week: "2026-W42"},
		{AOTYURL: "https://aoty.test/album/2", Title: "Debut", Artist: "Someone", Week: "2026-W42"},
	}
	n, err := sink.Save(context.Background(), sources.Query{}, records)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 saved, got %d", n)
	}

	stored, err := db.ListNewReleases(10)
	if err != nil {
		t.Fatalf("ListNewReleases failed: %v", err)
	}
	linked := 0
	for _, r := range stored {
		if r.MatchedReleaseID != nil {
			linked++
			if *r.MatchedReleaseID != owned.ID {
				t.Errorf("Expected link to %d, got %d", owned.ID, *r.MatchedReleaseID)
			}
		}
	}
	if linked != 1 {
		t.Errorf("Expected 1 linked release, got %d", linked)
	}
}

func TestVinylSink_CountsNewPosts(t *testing.T) {
	db := setupTestDB(t)
	artist := createArtist(t, db, "Radiohead", "radiohead")
	sink := &VinylSink{Store: db}
	post := &domain.VinylRelease{RedditID: "abc1", Title: "Radiohead - OKNOTOK", MatchedArtistID: artist.ID, MatchedArtistName: artist.Name}

	n, err := sink.Save(context.Background(), sources.Query{}, []*domain.VinylRelease{post})
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 new post, got %d (%v)", n, err)
	}
	post.Score = 99
	n, err = sink.Save(context.Background(), sources.Query{}, []*domain.VinylRelease{post})
	if err != nil || n != 0 {
		t.Errorf("Expected refreshed post not counted, got %d (%v)", n, err)
	}
}

func TestConcertSink_DropsPastEvents(t *testing.T) {
	db := setupTestDB(t)
	artist := createArtist(t, db, "Radiohead", "radiohead")
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	past := &domain.Concert{EventID: "sk-1", ArtistID: artist.ID, ArtistName: artist.Name, EventDate: now.AddDate(0, -1, 0)}
	if err := db.UpsertConcert(past); err != nil {
		t.Fatalf("UpsertConcert failed: %v", err)
	}

	sink := &ConcertSink{Store: db, Now: func() time.Time { return now }}
	if err := sink.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	future := &domain.Concert{EventID: "sk-2", ArtistID: artist.ID, ArtistName: artist.Name, EventDate: now.AddDate(0, 2, 0)}
	if n, err := sink.Save(context.Background(), sources.Query{}, []*domain.Concert{future}); err != nil || n != 1 {
		t.Fatalf("Expected 1 saved, got %d (%v)", n, err)
	}

	concerts, err := db.ListConcerts(time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListConcerts failed: %v", err)
	}
	if len(concerts) != 1 || concerts[0].EventID != "sk-2" {
		t.Errorf("Expected only sk-2 left, got %+v", concerts)
	}
}

func TestUpcomingSink(t *testing.T) {
	db := setupTestDB(t)
	mbid := "mb-radiohead"
	artist := &domain.Artist{Name: "Radiohead", NameNormalized: "radiohead", MusicBrainzID: &mbid}
	if err := db.CreateArtist(artist); err != nil {
		t.Fatalf("CreateArtist failed: %v", err)
	}

	knownID := "rg-known"
	known := &domain.Release{Title: "Known", TitleNormalized: "known", MusicBrainzID: &knownID, ArtistID: &artist.ID}
	ownedID := "rg-owned"
	owned := &domain.Release{Title: "Owned", TitleNormalized: "owned", MusicBrainzID: &ownedID, ArtistID: &artist.ID, IsOwned: true}
	for _, r := range []*domain.Release{known, owned} {
		if err := db.SaveRelease(r, false); err != nil {
			t.Fatalf("SaveRelease failed: %v", err)
		}
	}

	sink := &UpcomingSink{Store: db, Locks: store.NewReleaseLocks()}
	groups := []musicbrainz.ReleaseGroup{
		{ID: "rg-known", Title: "Known", PrimaryType: "Album", FirstReleaseDate: "2027-01-01"},
		{ID: "rg-owned", Title: "Owned", PrimaryType: "Album", FirstReleaseDate: "2027-01-01"},
		{ID: "rg-new", Title: "Brand New", PrimaryType: "EP", FirstReleaseDate: "2027-02-01"},
	}

	n, err := sink.Save(context.Background(), sources.Query{Artist: artist}, groups)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 wishlisted, got %d", n)
	}

	got, _ := db.GetRelease(known.ID)
	if !got.IsWishlisted {
		t.Error("Expected known release wishlisted")
	}
	got, _ = db.GetRelease(owned.ID)
	if got.IsWishlisted {
		t.Error("Expected owned release left alone")
	}

	created, err := db.FindReleaseByMBID("rg-new")
	if err != nil || created == nil {
		t.Fatalf("Expected rg-new created, got %v (%v)", created, err)
	}
	if !created.IsWishlisted || created.IsOwned || created.ArtistID == nil || *created.ArtistID != artist.ID {
		t.Errorf("Unexpected created release: %+v", created)
	}
	if created.CoverArtURL != "https://coverartarchive.org/release-group/rg-new/front-250" {
		t.Errorf("Unexpected cover: %s", created.CoverArtURL)
	}

	n, err = sink.Save(context.Background(), sources.Query{Artist: artist}, groups)
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing new on second pass, got %d", n)
	}
}
