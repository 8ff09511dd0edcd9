package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cesargomez89/audiosource/internal/domain"
)

const downloadColumns = `id, release_id, artist_name, album_title, username, total_files, completed_files, failed_files,
	total_bytes, completed_bytes, status, error_message, files, retry_count, created_at, started_at, completed_at`

// CreateDownload inserts a new row. A second active download for the same
// release violates the partial unique index and yields ErrConflict.
func (db *DB) CreateDownload(d *domain.Download) error {
	query := `INSERT INTO downloads (` + downloadColumns + `) VALUES (
		:id, :release_id, :artist_name, :album_title, :username, :total_files, :completed_files, :failed_files,
		:total_bytes, :completed_bytes, :status, :error_message, :files, :retry_count, :created_at, :started_at, :completed_at)`

	if _, err := db.NamedExec(query, d); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("release already has an active download: %w", domain.ErrConflict)
		}
		return fmt.Errorf("failed to create download: %w", err)
	}
	return nil
}

func (db *DB) GetDownload(id string) (*domain.Download, error) {
	d := &domain.Download{}
	err := db.Get(d, `SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetActiveDownloadForRelease returns nil when the release has no active download.
func (db *DB) GetActiveDownloadForRelease(releaseID int64) (*domain.Download, error) {
	d := &domain.Download{}
	err := db.Get(d, `SELECT `+downloadColumns+` FROM downloads
		WHERE release_id = ? AND status IN ('pending', 'searching', 'downloading') LIMIT 1`, releaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (db *DB) ListDownloads(limit int) ([]*domain.Download, error) {
	var downloads []*domain.Download
	err := db.Select(&downloads, `SELECT `+downloadColumns+` FROM downloads ORDER BY created_at DESC, id LIMIT ?`, limit)
	return downloads, err
}

// ListDownloadsByStatus returns downloads in any of statuses, oldest first.
func (db *DB) ListDownloadsByStatus(statuses ...domain.DownloadStatus) ([]*domain.Download, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+downloadColumns+` FROM downloads WHERE status IN (?) ORDER BY created_at ASC, id`, statuses)
	if err != nil {
		return nil, err
	}

	var downloads []*domain.Download
	err = db.Select(&downloads, query, args...)
	return downloads, err
}

// UpdateDownload writes the whole record.
func (db *DB) UpdateDownload(d *domain.Download) error {
	query := `UPDATE downloads SET
		release_id = :release_id, artist_name = :artist_name, album_title = :album_title, username = :username,
		total_files = :total_files, completed_files = :completed_files, failed_files = :failed_files,
		total_bytes = :total_bytes, completed_bytes = :completed_bytes, status = :status,
		error_message = :error_message, files = :files, retry_count = :retry_count,
		created_at = :created_at, started_at = :started_at, completed_at = :completed_at
	WHERE id = :id`

	res, err := db.NamedExec(query, d)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("release already has an active download: %w", domain.ErrConflict)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) DeleteDownload(id string) error {
	res, err := db.Exec(`DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) CountDownloadsForRelease(releaseID int64) (int, error) {
	var n int
	err := db.Get(&n, `SELECT COUNT(*) FROM downloads WHERE release_id = ?`, releaseID)
	return n, err
}
