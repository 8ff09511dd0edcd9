package store

const Schema = `
CREATE TABLE IF NOT EXISTS job_status (
	kind TEXT PRIMARY KEY,
	state TEXT NOT NULL DEFAULT 'idle',
	processed INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	current_item TEXT NOT NULL DEFAULT '',
	result_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	started_at DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS artists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	name_normalized TEXT NOT NULL,
	musicbrainz_id TEXT UNIQUE,
	image_url TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artists_name_normalized ON artists(name_normalized);

CREATE TABLE IF NOT EXISTS releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	title_normalized TEXT NOT NULL,
	musicbrainz_id TEXT UNIQUE,
	folder_path TEXT,
	release_date TEXT NOT NULL DEFAULT '',
	release_type TEXT NOT NULL DEFAULT '',
	cover_art_url TEXT NOT NULL DEFAULT '',
	track_count INTEGER NOT NULL DEFAULT 0,
	is_owned BOOLEAN NOT NULL DEFAULT 0,
	is_wishlisted BOOLEAN NOT NULL DEFAULT 0,
	is_scanned BOOLEAN NOT NULL DEFAULT 0,
	artist_id INTEGER,
	fingerprint TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	FOREIGN KEY (artist_id) REFERENCES artists(id)
);

CREATE INDEX IF NOT EXISTS idx_releases_artist_id ON releases(artist_id);
CREATE INDEX IF NOT EXISTS idx_releases_folder_path ON releases(folder_path);
CREATE INDEX IF NOT EXISTS idx_releases_title_normalized ON releases(title_normalized);

CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	track_number INTEGER NOT NULL DEFAULT 0,
	disc_number INTEGER NOT NULL DEFAULT 1,
	duration INTEGER NOT NULL DEFAULT 0,
	file_path TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',

	FOREIGN KEY (release_id) REFERENCES releases(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tracks_release_id ON tracks(release_id);

CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	release_id INTEGER,
	artist_name TEXT NOT NULL DEFAULT '',
	album_title TEXT NOT NULL DEFAULT '',
	username TEXT,
	total_files INTEGER NOT NULL DEFAULT 0,
	completed_files INTEGER NOT NULL DEFAULT 0,
	failed_files INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	completed_bytes INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT,
	files TEXT NOT NULL DEFAULT '[]',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME
);

-- Prevent two active downloads for the same release
CREATE UNIQUE INDEX IF NOT EXISTS idx_downloads_active_release ON downloads(release_id)
WHERE status IN ('pending', 'searching', 'downloading');

CREATE TABLE IF NOT EXISTS new_releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	aoty_url TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	artist TEXT NOT NULL,
	cover_url TEXT NOT NULL DEFAULT '',
	release_date TEXT NOT NULL DEFAULT '',
	release_type TEXT NOT NULL DEFAULT '',
	critic_score INTEGER,
	review_count INTEGER NOT NULL DEFAULT 0,
	week TEXT NOT NULL DEFAULT '',
	matched_release_id INTEGER,
	scraped_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS vinyl_releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reddit_id TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	score INTEGER NOT NULL DEFAULT 0,
	num_comments INTEGER NOT NULL DEFAULT 0,
	flair TEXT NOT NULL DEFAULT '',
	thumbnail TEXT NOT NULL DEFAULT '',
	matched_artist_id INTEGER NOT NULL,
	matched_artist_name TEXT NOT NULL,
	posted_at DATETIME
);

CREATE TABLE IF NOT EXISTS concerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT UNIQUE NOT NULL,
	artist_id INTEGER NOT NULL,
	artist_name TEXT NOT NULL,
	event_date DATETIME NOT NULL,
	venue_name TEXT NOT NULL DEFAULT '',
	venue_city TEXT NOT NULL DEFAULT '',
	venue_country TEXT NOT NULL DEFAULT '',
	event_url TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_concerts_event_date ON concerts(event_date);

CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	data BLOB,
	expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
