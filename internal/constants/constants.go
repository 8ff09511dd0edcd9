// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort            = "8080"
	DefaultDBPath          = "audiosource.db"
	DefaultDataDir         = "."
	DefaultMusicFolder     = "/music"
	DefaultLibraryTemplate = "{{.Artist}}/{{.Album}}"
	DefaultMusicBrainzURL  = "https://musicbrainz.org/ws/2"
	DefaultUserAgent       = "audiosource/1.0 (https://github.com/cesargomez89/audiosource)"
	DefaultMatchThreshold  = 80
	DefaultSlskdURL        = "http://localhost:5030"
	DefaultSlskdDir        = "/downloads"
	DefaultDownloadTimeout = 5 * time.Minute
	DefaultWishlistDelay   = 30 * time.Second
	DefaultCacheTTL        = 7 * 24 * time.Hour
	DefaultRetryCount      = 3
	DefaultRetryBase       = 1 * time.Second
	LockFileName           = "audiosource.lock"
)

// Catalog
const (
	MusicBrainzInterval    = 1100 * time.Millisecond
	CoverArtURLFormat      = "https://coverartarchive.org/release/%s/front-250"
	CoverArtGroupURLFormat = "https://coverartarchive.org/release-group/%s/front-250"
	CatalogSearchLimit     = 20
	ScanSearchLimit        = 5
	MatchCandidateLimit    = 10
	MinQueryLength         = 2
)

// Peer network
const (
	SearchTimeout        = 45 * time.Second
	SearchMinWait        = 10 * time.Second
	SearchPollInterval   = 2 * time.Second
	SearchPageSize       = 100
	SearchMaxPages       = 20
	MaxSourceCandidates  = 3
	TransferPollInterval = 3 * time.Second
	SweepInterval        = time.Minute
	MaxConcurrentSearch  = 2
	MinMoveSuccessRate   = 0.5
	GoodFileSizeMin      = 6_000_000
	GoodFileSizeMax      = 15_000_000
)

// Scheduling
const (
	ScheduleCheckInterval   = 60 * time.Second
	DefaultScanIntervalHour = 24
	WatcherDebounce         = 10 * time.Second
	ProgressPersistEvery    = time.Second
)

// Scraping
const (
	AOTYBaseURL        = "https://www.albumoftheyear.org"
	RedditVinylURL     = "https://www.reddit.com/r/VinylReleases/new.json"
	RedditPostLimit    = 100
	SongkickBaseURL    = "https://www.songkick.com"
	SongkickDelay      = 2 * time.Second
	MaxEventsPerArtist = 20
	ScraperUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AudioSource/1.0"
	ScrapeHTTPTimeout  = 30 * time.Second
)

// File Extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtM4A  = ".m4a"
	ExtAAC  = ".aac"
	ExtOGG  = ".ogg"
	ExtWAV  = ".wav"
	ExtWMA  = ".wma"
	ExtAIFF = ".aiff"
)

// AudioExtensions lists the extensions picked up by the library scanner.
var AudioExtensions = []string{ExtMP3, ExtFLAC, ExtM4A, ExtAAC, ExtOGG, ExtWAV, ExtWMA, ExtAIFF}

// PeerAudioExtensions lists the extensions accepted from peer search results and moves.
var PeerAudioExtensions = []string{ExtMP3, ExtM4A, ExtOGG, ExtFLAC}

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
