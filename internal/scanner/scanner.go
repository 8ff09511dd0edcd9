// Package scanner reconciles the music folder with the release catalog.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cesargomez89/audiosource/internal/constants"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/cesargomez89/audiosource/internal/matcher"
	"github.com/cesargomez89/audiosource/internal/storage"
	"github.com/cesargomez89/audiosource/internal/store"
	"github.com/cesargomez89/audiosource/internal/tagging"
)

// EmbeddedCoverPrefix marks a cover_art_url that points at a picture
// embedded in one of the release's files, relative to its folder.
const EmbeddedCoverPrefix = "embedded:"

type Store interface {
	GetRelease(id int64) (*domain.Release, error)
	FindReleaseByFolder(folder string) (*domain.Release, error)
	FindReleaseByMBID(mbid string) (*domain.Release, error)
	FindReleaseByArtistTitle(artistNormalized, titleNormalized string) (*domain.Release, error)
	SaveRelease(r *domain.Release, replaceTracks bool) error
	DeleteRelease(id int64) error
	ListOwnedWithFolder() ([]*domain.Release, error)
	MarkReleaseMissing(id int64) error

	FindArtistByMBID(mbid string) (*domain.Artist, error)
	FindArtistByName(normalized string) (*domain.Artist, error)
	CreateArtist(artist *domain.Artist) error
	UpdateArtist(artist *domain.Artist) error
}

// Catalog resolves folder tags to catalog releases.
type Catalog interface {
	SearchReleases(ctx context.Context, title, artist string, limit int) ([]domain.MatchCandidate, error)
}

type TagReader interface {
	Read(path string) (*tagging.FileTags, error)
	Cover(path string) ([]byte, string, error)
}

// Outcome tells what ScanFolder did with a folder.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

type Scanner struct {
	store     Store
	catalog   Catalog
	tags      TagReader
	locks     *store.ReleaseLocks
	root      string
	threshold int
	logger    *logger.Logger
}

// New returns a scanner of root. catalog may be nil, in which case folders
// are recorded from their tags only.
func New(st Store, catalog Catalog, tags TagReader, locks *store.ReleaseLocks, root string, threshold int, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.Default()
	}
	if locks == nil {
		locks = store.NewReleaseLocks()
	}
	return &Scanner{
		store:     st,
		catalog:   catalog,
		tags:      tags,
		locks:     locks,
		root:      root,
		threshold: threshold,
		logger:    log.WithComponent("scanner"),
	}
}

// Run scans every album folder. It is the runner of the scan job.
func (s *Scanner) Run(ctx context.Context, run *jobs.Run) error {
	folders, err := FindAlbumFolders(s.root)
	if err != nil {
		return err
	}

	total := len(folders)
	run.SetTotal(total)
	s.logger.Info("Scanning library", "root", s.root, "folders", total, "force", run.Params.Force)

	written, failed := 0, 0
	for i, folder := range folders {
		if run.Cancelled() {
			return nil
		}
		run.SetCurrent(s.relative(folder))

		_, outcome, err := s.ScanFolder(ctx, folder, run.Params.Force)
		switch {
		case err != nil:
			failed++
			s.logger.Warn("Failed to scan folder", "folder", folder, "error", err)
		case outcome != OutcomeSkipped:
			written++
			run.SetResult(written)
		}
		run.Report(i+1, total)
	}

	if run.Cancelled() {
		return nil
	}

	s.pruneMissing(folders)
	s.logger.Info("Scan finished", "folders", total, "written", written, "failed", failed)
	return nil
}

func (s *Scanner) relative(folder string) string {
	if rel, err := filepath.Rel(s.root, folder); err == nil {
		return rel
	}
	return folder
}

// localAlbum is what the tags of a folder say about it.
type localAlbum struct {
	title  string
	artist string
	year   int
	tracks []domain.Track
}

// ScanFolder reads one album folder and upserts its release. Unless force
// is set, a folder whose fingerprint is unchanged since its last scan is
// skipped without any write.
func (s *Scanner) ScanFolder(ctx context.Context, folder string, force bool) (*domain.Release, Outcome, error) {
	folder = filepath.Clean(folder)

	files, err := listAudioFiles(folder)
	if err != nil {
		return nil, OutcomeSkipped, fmt.Errorf("failed to list %s: %w", folder, err)
	}
	if len(files) == 0 {
		return nil, OutcomeSkipped, fmt.Errorf("no audio files in %s", folder)
	}
	fp := fingerprint(files)

	existing, err := s.store.FindReleaseByFolder(folder)
	if err != nil {
		return nil, OutcomeSkipped, err
	}
	if existing != nil && existing.IsScanned && existing.Fingerprint == fp && !force {
		return existing, OutcomeSkipped, nil
	}

	local := s.readFolder(folder, files)

	var match *domain.MatchCandidate
	if s.catalog != nil && local.title != "" {
		match = s.resolve(ctx, local)
	}

	artistName := local.artist
	artistMBID := ""
	if match != nil {
		if match.Artist != "" {
			artistName = match.Artist
		}
		artistMBID = match.ArtistMBID
	}

	var artist *domain.Artist
	if artistName != "" {
		if artist, err = s.resolveArtist(artistName, artistMBID); err != nil {
			return nil, OutcomeSkipped, err
		}
	}

	target, err := s.findTarget(folder, existing, match, artist, local.title)
	if err != nil {
		return nil, OutcomeSkipped, err
	}

	outcome := OutcomeCreated
	rel := &domain.Release{}
	if target != nil {
		unlock := s.locks.Lock(target.ID)
		defer unlock()
		// Re-read under the lock so concurrent writers are not overwritten
		// with a stale copy.
		if rel, err = s.store.GetRelease(target.ID); err != nil {
			return nil, OutcomeSkipped, err
		}
		outcome = OutcomeUpdated
	}

	s.apply(rel, folder, fp, local, match, artist)

	if err := s.store.SaveRelease(rel, true); err != nil {
		return nil, OutcomeSkipped, fmt.Errorf("failed to save release for %s: %w", folder, err)
	}

	s.logger.Debug("Folder scanned", "folder", folder, "release_id", rel.ID, "outcome", outcome,
		"matched", match != nil, "tracks", len(rel.Tracks))
	return rel, outcome, nil
}

func (s *Scanner) readFolder(folder string, files []audioFile) localAlbum {
	var (
		albums, albumArtists, artists []string
		years                         []int
		tracks                        []domain.Track
	)

	for _, f := range files {
		tags, err := s.tags.Read(f.path)
		if err != nil {
			s.logger.Warn("Skipping unreadable file", "file", f.path, "error", err)
			continue
		}

		albums = append(albums, tags.Album)
		albumArtists = append(albumArtists, tags.AlbumArtist)
		artists = append(artists, tags.Artist)
		years = append(years, tags.Year)

		title := tags.Title
		if title == "" {
			title = strings.TrimSuffix(f.name, filepath.Ext(f.name))
		}
		disc := tags.Disc
		if disc <= 0 {
			disc = 1
		}
		tracks = append(tracks, domain.Track{
			Title:       title,
			TrackNumber: tags.Track,
			DiscNumber:  disc,
			Duration:    tags.Duration,
			FilePath:    f.path,
			Format:      strings.ToUpper(strings.TrimPrefix(filepath.Ext(f.name), ".")),
		})
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if a.DiscNumber != b.DiscNumber {
			return a.DiscNumber < b.DiscNumber
		}
		if a.TrackNumber != b.TrackNumber {
			return a.TrackNumber < b.TrackNumber
		}
		return a.FilePath < b.FilePath
	})

	local := localAlbum{
		title:  mostCommon(albums),
		artist: mostCommon(albumArtists),
		year:   mostCommonInt(years),
		tracks: tracks,
	}
	if local.title == "" {
		local.title = filepath.Base(folder)
	}
	if local.artist == "" {
		local.artist = mostCommon(artists)
	}
	if parent := filepath.Dir(folder); local.artist == "" && parent != filepath.Clean(s.root) {
		local.artist = filepath.Base(parent)
	}
	return local
}

// resolve searches the catalog and returns the best candidate at or above
// the threshold. Catalog failures count as no match.
func (s *Scanner) resolve(ctx context.Context, local localAlbum) *domain.MatchCandidate {
	candidates, err := s.catalog.SearchReleases(ctx, local.title, local.artist, constants.ScanSearchLimit)
	if err != nil {
		s.logger.Warn("Catalog search failed", "title", local.title, "artist", local.artist, "error", err)
		return nil
	}

	best, ok := matcher.Best(matcher.Local{
		Title:      local.title,
		Artist:     local.artist,
		Year:       local.year,
		TrackCount: len(local.tracks),
	}, candidates, s.threshold)
	if !ok {
		return nil
	}
	return best
}

// resolveArtist finds the artist by catalog id, then by normalized name,
// and creates it when neither matches.
func (s *Scanner) resolveArtist(name, mbid string) (*domain.Artist, error) {
	if mbid != "" {
		a, err := s.store.FindArtistByMBID(mbid)
		if err != nil || a != nil {
			return a, err
		}
	}

	normalized := matcher.Normalize(name)
	a, err := s.store.FindArtistByName(normalized)
	if err != nil {
		return nil, err
	}
	if a != nil {
		if mbid != "" && a.MusicBrainzID == nil {
			a.MusicBrainzID = &mbid
			if err := s.store.UpdateArtist(a); err != nil {
				return nil, err
			}
		}
		return a, nil
	}

	a = &domain.Artist{Name: name, NameNormalized: normalized}
	if mbid != "" {
		a.MusicBrainzID = &mbid
	}
	if err := s.store.CreateArtist(a); err != nil {
		if errors.Is(err, domain.ErrConflict) && mbid != "" {
			return s.store.FindArtistByMBID(mbid)
		}
		return nil, err
	}
	return a, nil
}

// findTarget picks the release this folder updates: the one already
// recorded for the folder, else the catalog match, else the same artist and
// title. A release owned through another existing folder is never taken.
func (s *Scanner) findTarget(folder string, existing *domain.Release, match *domain.MatchCandidate, artist *domain.Artist, title string) (*domain.Release, error) {
	if existing != nil {
		return existing, nil
	}

	if match != nil {
		r, err := s.store.FindReleaseByMBID(match.MusicBrainzID)
		if err != nil {
			return nil, err
		}
		if s.adoptable(r, folder) {
			return r, nil
		}
		if r != nil {
			// Another live folder holds this catalog id.
			return nil, nil
		}
		title = match.Title
	}

	artistNorm := ""
	if artist != nil {
		artistNorm = artist.NameNormalized
	}
	r, err := s.store.FindReleaseByArtistTitle(artistNorm, matcher.Normalize(title))
	if err != nil {
		return nil, err
	}
	if s.adoptable(r, folder) {
		return r, nil
	}
	return nil, nil
}

func (s *Scanner) adoptable(r *domain.Release, folder string) bool {
	if r == nil {
		return false
	}
	return !r.IsOwned || r.Folder() == folder || !storage.Exists(r.Folder())
}

func (s *Scanner) apply(rel *domain.Release, folder, fp string, local localAlbum, match *domain.MatchCandidate, artist *domain.Artist) {
	title := local.title
	if match != nil && match.Title != "" {
		title = match.Title
	}
	rel.Title = title
	rel.TitleNormalized = matcher.Normalize(title)
	rel.FolderPath = &folder
	rel.Fingerprint = fp
	rel.IsOwned = true
	rel.IsWishlisted = false
	rel.IsScanned = true
	rel.Tracks = local.tracks
	rel.TrackCount = len(local.tracks)
	if artist != nil {
		rel.ArtistID = &artist.ID
	}

	if match != nil {
		mbid := match.MusicBrainzID
		other, err := s.store.FindReleaseByMBID(mbid)
		if err == nil && (other == nil || other.ID == rel.ID || s.absorb(rel, other)) {
			rel.MusicBrainzID = &mbid
		}
		rel.ReleaseDate = match.ReleaseDate
		rel.ReleaseType = match.ReleaseType
		if match.TrackCount > 0 {
			rel.TrackCount = match.TrackCount
		}
		rel.CoverArtURL = match.CoverArtURL
		if rel.CoverArtURL == "" && mbid != "" {
			rel.CoverArtURL = fmt.Sprintf(constants.CoverArtURLFormat, mbid)
		}
	} else if rel.ReleaseDate == "" && local.year > 0 {
		rel.ReleaseDate = fmt.Sprintf("%04d", local.year)
	}

	if rel.CoverArtURL == "" || strings.HasPrefix(rel.CoverArtURL, EmbeddedCoverPrefix) {
		rel.CoverArtURL = s.embeddedCover(local.tracks)
	}
}

// absorb deletes other, which holds the catalog id rel is about to take,
// unless other is owned through a folder that still exists. The caller may
// already hold rel's lock, so other's lock is only tried; a busy holder is
// left for the next scan.
func (s *Scanner) absorb(rel, other *domain.Release) bool {
	unlock, ok := s.locks.TryLock(other.ID)
	if !ok {
		s.logger.Debug("Release busy, catalog id not taken", "release_id", other.ID)
		return false
	}
	defer unlock()

	current, err := s.store.FindReleaseByMBID(other.MBID())
	if err != nil || current == nil || current.ID != other.ID {
		// Moved or removed meanwhile.
		return err == nil && current == nil
	}
	if current.IsOwned && storage.Exists(current.Folder()) {
		return false
	}
	if err := s.store.DeleteRelease(other.ID); err != nil {
		s.logger.Warn("Failed to merge duplicate release", "release_id", other.ID, "error", err)
		return false
	}
	s.logger.Info("Merged duplicate release", "kept", rel.ID, "removed", other.ID)
	return true
}

func (s *Scanner) embeddedCover(tracks []domain.Track) string {
	for _, t := range tracks {
		if _, _, err := s.tags.Cover(t.FilePath); err == nil {
			return EmbeddedCoverPrefix + filepath.Base(t.FilePath)
		}
	}
	return ""
}

// pruneMissing clears ownership of releases whose folder no longer exists.
func (s *Scanner) pruneMissing(scanned []string) {
	seen := make(map[string]struct{}, len(scanned))
	for _, f := range scanned {
		seen[f] = struct{}{}
	}

	owned, err := s.store.ListOwnedWithFolder()
	if err != nil {
		s.logger.Warn("Failed to list owned releases", "error", err)
		return
	}

	for _, r := range owned {
		folder := r.Folder()
		if _, ok := seen[folder]; ok || storage.Exists(folder) {
			continue
		}
		unlock := s.locks.Lock(r.ID)
		err := s.store.MarkReleaseMissing(r.ID)
		unlock()
		if err != nil {
			s.logger.Warn("Failed to mark release missing", "release_id", r.ID, "error", err)
			continue
		}
		s.logger.Info("Release folder gone", "release_id", r.ID, "folder", folder)
	}
}
