package domain

import (
	"encoding/json"
	"time"
)

// JobKind identifies one of the fixed background operations.
type JobKind string

const (
	JobKindScan          JobKind = "scan"
	JobKindUpcomingCheck JobKind = "upcoming-check"
	JobKindNewReleases   JobKind = "new-releases-scrape"
	JobKindVinyl         JobKind = "vinyl-scrape"
	JobKindConcerts      JobKind = "concert-scrape"
	JobKindWishlistBatch JobKind = "wishlist-batch"
)

// JobKinds lists every kind in a stable order. One status row exists per entry.
var JobKinds = []JobKind{
	JobKindScan,
	JobKindUpcomingCheck,
	JobKindNewReleases,
	JobKindVinyl,
	JobKindConcerts,
	JobKindWishlistBatch,
}

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	for _, known := range JobKinds {
		if k == known {
			return true
		}
	}
	return false
}

type JobState string

const (
	JobStateIdle      JobState = "idle"
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateError     JobState = "error"
	JobStateCancelled JobState = "cancelled"
)

// Active reports whether a run of this state is still in flight.
func (s JobState) Active() bool {
	return s == JobStatePending || s == JobStateRunning
}

// JobStatus is the single status record of a job kind.
type JobStatus struct {
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage *string    `db:"error_message"`
	Kind         JobKind    `db:"kind"`
	State        JobState   `db:"state"`
	CurrentItem  string     `db:"current_item"`
	Processed    int        `db:"processed"`
	Total        int        `db:"total"`
	ResultCount  int        `db:"result_count"`
}

// DisplayState renders the running state with the verb the UI expects.
func (s JobStatus) DisplayState() string {
	if s.State != JobStateRunning {
		return string(s.State)
	}
	switch s.Kind {
	case JobKindScan, JobKindUpcomingCheck:
		return "scanning"
	case JobKindWishlistBatch:
		return "running"
	default:
		return "scraping"
	}
}

func (s JobStatus) MarshalJSON() ([]byte, error) {
	errMsg := s.ErrorMessage
	if s.State != JobStateError {
		errMsg = nil
	}
	return json.Marshal(struct {
		StartedAt    *time.Time `json:"started_at"`
		CompletedAt  *time.Time `json:"completed_at"`
		ErrorMessage *string    `json:"error_message"`
		Kind         JobKind    `json:"kind"`
		Status       string     `json:"status"`
		CurrentItem  string     `json:"current_item,omitempty"`
		Processed    int        `json:"processed"`
		Total        int        `json:"total"`
		ResultCount  int        `json:"result_count"`
	}{
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
		ErrorMessage: errMsg,
		Kind:         s.Kind,
		Status:       s.DisplayState(),
		CurrentItem:  s.CurrentItem,
		Processed:    s.Processed,
		Total:        s.Total,
		ResultCount:  s.ResultCount,
	})
}

// Release is an album, either discovered on disk or known from the catalog.
type Release struct { //nolint:govet // field ordering prioritizes readability over memory alignment
	ID              int64     `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	TitleNormalized string    `json:"-" db:"title_normalized"`
	MusicBrainzID   *string   `json:"musicbrainz_id" db:"musicbrainz_id"`
	FolderPath      *string   `json:"folder_path" db:"folder_path"`
	ReleaseDate     string    `json:"release_date,omitempty" db:"release_date"`
	ReleaseType     string    `json:"release_type,omitempty" db:"release_type"`
	CoverArtURL     string    `json:"cover_art_url,omitempty" db:"cover_art_url"`
	TrackCount      int       `json:"track_count" db:"track_count"`
	IsOwned         bool      `json:"is_owned" db:"is_owned"`
	IsWishlisted    bool      `json:"is_wishlisted" db:"is_wishlisted"`
	IsScanned       bool      `json:"is_scanned" db:"is_scanned"`
	ArtistID        *int64    `json:"artist_id" db:"artist_id"`
	ArtistName      string    `json:"artist_name,omitempty" db:"artist_name"`
	Fingerprint     string    `json:"-" db:"fingerprint"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
	Tracks          []Track   `json:"tracks,omitempty" db:"-"`
}

// MBID returns the catalog id or an empty string.
func (r *Release) MBID() string {
	if r.MusicBrainzID == nil {
		return ""
	}
	return *r.MusicBrainzID
}

// Folder returns the local folder or an empty string.
func (r *Release) Folder() string {
	if r.FolderPath == nil {
		return ""
	}
	return *r.FolderPath
}

// IsUpcoming reports whether the release date lies after now.
func (r *Release) IsUpcoming(now time.Time) bool {
	if r.ReleaseDate == "" {
		return false
	}
	return r.ReleaseDate > now.Format("2006-01-02")
}

// Duration sums the track durations in seconds.
func (r *Release) Duration() int {
	total := 0
	for _, t := range r.Tracks {
		total += t.Duration
	}
	return total
}

// Artist is a performer. Counts are derived from releases at query time.
type Artist struct {
	ID              int64   `json:"id" db:"id"`
	Name            string  `json:"name" db:"name"`
	NameNormalized  string  `json:"-" db:"name_normalized"`
	MusicBrainzID   *string `json:"musicbrainz_id" db:"musicbrainz_id"`
	ImageURL        *string `json:"image_url" db:"image_url"`
	OwnedCount      int     `json:"owned_count" db:"owned_count"`
	MissingCount    int     `json:"missing_count" db:"missing_count"`
	WishlistedCount int     `json:"wishlisted_count" db:"wishlisted_count"`
}

// Track is one audio file of a release.
type Track struct {
	ID          int64  `json:"id" db:"id"`
	ReleaseID   int64  `json:"release_id" db:"release_id"`
	Title       string `json:"title" db:"title"`
	TrackNumber int    `json:"track_number" db:"track_number"`
	DiscNumber  int    `json:"disc_number" db:"disc_number"`
	Duration    int    `json:"duration" db:"duration"`
	FilePath    string `json:"file_path" db:"file_path"`
	Format      string `json:"format" db:"format"`
}

type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadSearching   DownloadStatus = "searching"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
	DownloadMoved       DownloadStatus = "moved"
	DownloadCancelled   DownloadStatus = "cancelled"
)

// Active reports whether the download still occupies its release.
func (s DownloadStatus) Active() bool {
	return s == DownloadPending || s == DownloadSearching || s == DownloadDownloading
}

// Terminal is the complement of Active.
func (s DownloadStatus) Terminal() bool {
	return !s.Active()
}

// Download tracks one release acquisition through the peer network.
type Download struct { //nolint:govet // field ordering prioritizes readability over memory alignment
	ID             string         `json:"id" db:"id"`
	ReleaseID      *int64         `json:"release_id" db:"release_id"`
	ArtistName     string         `json:"artist_name" db:"artist_name"`
	AlbumTitle     string         `json:"album_title" db:"album_title"`
	Username       *string        `json:"username" db:"username"`
	TotalFiles     int            `json:"total_files" db:"total_files"`
	CompletedFiles int            `json:"completed_files" db:"completed_files"`
	FailedFiles    int            `json:"failed_files" db:"failed_files"`
	TotalBytes     int64          `json:"total_bytes" db:"total_bytes"`
	CompletedBytes int64          `json:"completed_bytes" db:"completed_bytes"`
	Status         DownloadStatus `json:"status" db:"status"`
	ErrorMessage   *string        `json:"error_message" db:"error_message"`
	Files          StringSlice    `json:"-" db:"files"`
	RetryCount     int            `json:"retry_count" db:"retry_count"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	StartedAt      *time.Time     `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at" db:"completed_at"`
}

// User returns the peer username or an empty string.
func (d *Download) User() string {
	if d.Username == nil {
		return ""
	}
	return *d.Username
}

// ProgressPercent derives progress from bytes when known, else from file counts.
func (d *Download) ProgressPercent() float64 {
	if d.TotalBytes > 0 {
		return float64(d.CompletedBytes) / float64(d.TotalBytes) * 100
	}
	if d.TotalFiles > 0 {
		return float64(d.CompletedFiles) / float64(d.TotalFiles) * 100
	}
	return 0
}

func (d Download) MarshalJSON() ([]byte, error) {
	type plain Download
	p := plain(d)
	if d.Status != DownloadFailed && d.Status != DownloadCompleted {
		p.ErrorMessage = nil
	}
	return json.Marshal(struct {
		plain
		ProgressPercent float64 `json:"progress_percent"`
	}{
		plain:           p,
		ProgressPercent: d.ProgressPercent(),
	})
}

// MatchCandidate is a scored catalog entry. It is never persisted.
type MatchCandidate struct {
	MusicBrainzID string `json:"musicbrainz_id"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	ArtistMBID    string `json:"artist_musicbrainz_id,omitempty"`
	ReleaseDate   string `json:"release_date,omitempty"`
	ReleaseType   string `json:"release_type,omitempty"`
	Country       string `json:"country,omitempty"`
	CoverArtURL   string `json:"cover_art_url,omitempty"`
	TrackCount    int    `json:"track_count"`
	ExtScore      int    `json:"ext_score,omitempty"`
	MatchScore    int    `json:"match_score"`
}

// NewRelease is a weekly release listing scraped from Album of the Year.
type NewRelease struct {
	ID               int64     `json:"id" db:"id"`
	AOTYURL          string    `json:"aoty_url" db:"aoty_url"`
	Title            string    `json:"title" db:"title"`
	Artist           string    `json:"artist" db:"artist"`
	CoverURL         string    `json:"cover_url,omitempty" db:"cover_url"`
	ReleaseDate      string    `json:"release_date,omitempty" db:"release_date"`
	ReleaseType      string    `json:"release_type,omitempty" db:"release_type"`
	CriticScore      *int      `json:"critic_score" db:"critic_score"`
	ReviewCount      int       `json:"review_count" db:"review_count"`
	Week             string    `json:"week" db:"week"`
	MatchedReleaseID *int64    `json:"matched_release_id" db:"matched_release_id"`
	ScrapedAt        time.Time `json:"scraped_at" db:"scraped_at"`
}

// VinylRelease is a subreddit post that mentions a library artist.
type VinylRelease struct {
	ID                int64      `json:"id" db:"id"`
	RedditID          string     `json:"reddit_id" db:"reddit_id"`
	Title             string     `json:"title" db:"title"`
	URL               string     `json:"url" db:"url"`
	Author            string     `json:"author,omitempty" db:"author"`
	Score             int        `json:"score" db:"score"`
	NumComments       int        `json:"num_comments" db:"num_comments"`
	Flair             string     `json:"flair,omitempty" db:"flair"`
	Thumbnail         string     `json:"thumbnail,omitempty" db:"thumbnail"`
	MatchedArtistID   int64      `json:"matched_artist_id" db:"matched_artist_id"`
	MatchedArtistName string     `json:"matched_artist_name" db:"matched_artist_name"`
	PostedAt          *time.Time `json:"posted_at" db:"posted_at"`
}

// Concert is an upcoming live event for a library artist.
type Concert struct {
	ID           int64     `json:"id" db:"id"`
	EventID      string    `json:"event_id" db:"event_id"`
	ArtistID     int64     `json:"artist_id" db:"artist_id"`
	ArtistName   string    `json:"artist_name" db:"artist_name"`
	EventDate    time.Time `json:"event_date" db:"event_date"`
	VenueName    string    `json:"venue_name,omitempty" db:"venue_name"`
	VenueCity    string    `json:"venue_city,omitempty" db:"venue_city"`
	VenueCountry string    `json:"venue_country,omitempty" db:"venue_country"`
	EventURL     string    `json:"event_url" db:"event_url"`
}

// ScanSchedule controls periodic non-forced scans.
type ScanSchedule struct {
	LastScanAt    *time.Time `json:"last_scan_at"`
	NextScanAt    *time.Time `json:"next_scan_at"`
	Enabled       bool       `json:"enabled"`
	IntervalHours int        `json:"interval_hours"`
}

// Stats summarizes the library.
type Stats struct {
	AlbumCount        int `json:"album_count" db:"album_count"`
	MissingAlbumCount int `json:"missing_album_count" db:"missing_album_count"`
	WishlistCount     int `json:"wishlist_count" db:"wishlist_count"`
	ArtistCount       int `json:"artist_count" db:"artist_count"`
	TrackCount        int `json:"track_count" db:"track_count"`
}
