package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cesargomez89/audiosource/internal/domain"
)

const releaseSelect = `SELECT r.id, r.title, r.title_normalized, r.musicbrainz_id, r.folder_path,
		r.release_date, r.release_type, r.cover_art_url, r.track_count,
		r.is_owned, r.is_wishlisted, r.is_scanned, r.artist_id, r.fingerprint,
		r.created_at, r.updated_at, COALESCE(a.name, '') AS artist_name
	FROM releases r
	LEFT JOIN artists a ON a.id = r.artist_id`

// ReleaseFilter narrows ListReleases. Nil fields are ignored.
type ReleaseFilter struct {
	Owned      *bool
	Wishlisted *bool
	ArtistID   *int64
	Search     string
	Limit      int
	Offset     int
}

// SaveRelease inserts (ID == 0) or fully replaces a release. When
// replaceTracks is set the track rows are replaced with r.Tracks in the
// same transaction.
func (db *DB) SaveRelease(r *domain.Release, replaceTracks bool) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	r.UpdatedAt = now

	if r.ID == 0 {
		r.CreatedAt = now
		err = insertRelease(tx, r)
	} else {
		err = updateRelease(tx, r)
	}
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("release %q: %w", r.Title, domain.ErrConflict)
		}
		return err
	}

	if replaceTracks {
		if err = replaceTracksTx(tx, r.ID, r.Tracks); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}
	return nil
}

func insertRelease(tx *sqlx.Tx, r *domain.Release) error {
	query := `INSERT INTO releases (
		title, title_normalized, musicbrainz_id, folder_path, release_date, release_type, cover_art_url,
		track_count, is_owned, is_wishlisted, is_scanned, artist_id, fingerprint, created_at, updated_at
	) VALUES (
		:title, :title_normalized, :musicbrainz_id, :folder_path, :release_date, :release_type, :cover_art_url,
		:track_count, :is_owned, :is_wishlisted, :is_scanned, :artist_id, :fingerprint, :created_at, :updated_at
	) RETURNING id`

	rows, err := tx.NamedQuery(query, r)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck // deferred cleanup

	if rows.Next() {
		if err := rows.Scan(&r.ID); err != nil {
			return fmt.Errorf("failed to scan release id: %w", err)
		}
	}
	return rows.Err()
}

func updateRelease(tx *sqlx.Tx, r *domain.Release) error {
	query := `UPDATE releases SET
		title = :title, title_normalized = :title_normalized, musicbrainz_id = :musicbrainz_id,
		folder_path = :folder_path, release_date = :release_date, release_type = :release_type,
		cover_art_url = :cover_art_url, track_count = :track_count, is_owned = :is_owned,
		is_wishlisted = :is_wishlisted, is_scanned = :is_scanned, artist_id = :artist_id,
		fingerprint = :fingerprint, updated_at = :updated_at
	WHERE id = :id`

	res, err := tx.NamedExec(query, r)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) GetRelease(id int64) (*domain.Release, error) {
	return db.getRelease(releaseSelect+` WHERE r.id = ?`, id, domain.ErrNotFound)
}

// GetReleaseWithTracks loads the release and its ordered tracks.
func (db *DB) GetReleaseWithTracks(id int64) (*domain.Release, error) {
	r, err := db.GetRelease(id)
	if err != nil {
		return nil, err
	}
	if r.Tracks, err = db.ListTracks(id); err != nil {
		return nil, err
	}
	return r, nil
}

func (db *DB) FindReleaseByFolder(folder string) (*domain.Release, error) {
	return db.getRelease(releaseSelect+` WHERE r.folder_path = ? ORDER BY r.id LIMIT 1`, folder, nil)
}

func (db *DB) FindReleaseByMBID(mbid string) (*domain.Release, error) {
	return db.getRelease(releaseSelect+` WHERE r.musicbrainz_id = ?`, mbid, nil)
}

// FindReleaseByArtistTitle matches on normalized artist name and title. An
// empty artist matches releases without an artist.
func (db *DB) FindReleaseByArtistTitle(artistNormalized, titleNormalized string) (*domain.Release, error) {
	if artistNormalized == "" {
		return db.getRelease(releaseSelect+` WHERE r.artist_id IS NULL AND r.title_normalized = ? ORDER BY r.id LIMIT 1`,
			titleNormalized, nil)
	}

	r := &domain.Release{}
	err := db.Get(r, releaseSelect+` WHERE a.name_normalized = ? AND r.title_normalized = ? ORDER BY r.id LIMIT 1`,
		artistNormalized, titleNormalized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (db *DB) getRelease(query string, arg any, notFound error) (*domain.Release, error) {
	r := &domain.Release{}
	err := db.Get(r, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (db *DB) ListReleases(filter ReleaseFilter) ([]*domain.Release, error) {
	var (
		where []string
		args  []any
	)

	if filter.Owned != nil {
		where = append(where, "r.is_owned = ?")
		args = append(args, *filter.Owned)
	}
	if filter.Wishlisted != nil {
		where = append(where, "r.is_wishlisted = ?")
		args = append(args, *filter.Wishlisted)
	}
	if filter.ArtistID != nil {
		where = append(where, "r.artist_id = ?")
		args = append(args, *filter.ArtistID)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = append(where, "(r.title LIKE ? OR a.name LIKE ?)")
		like := "%" + s + "%"
		args = append(args, like, like)
	}

	query := releaseSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY artist_name COLLATE NOCASE, r.release_date, r.title COLLATE NOCASE, r.id"

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	var releases []*domain.Release
	err := db.Select(&releases, query, args...)
	return releases, err
}

// ListWishlistQueue returns wishlisted releases that are not owned and not
// upcoming relative to today (YYYY-MM-DD), in id order.
func (db *DB) ListWishlistQueue(today string) ([]*domain.Release, error) {
	var releases []*domain.Release
	err := db.Select(&releases, releaseSelect+` WHERE r.is_wishlisted = 1 AND r.is_owned = 0
		AND (r.release_date = '' OR r.release_date <= ?) ORDER BY r.id`, today)
	return releases, err
}

// ListOwnedWithFolder returns every owned release with a folder path.
func (db *DB) ListOwnedWithFolder() ([]*domain.Release, error) {
	var releases []*domain.Release
	err := db.Select(&releases, releaseSelect+` WHERE r.is_owned = 1 AND r.folder_path IS NOT NULL ORDER BY r.id`)
	return releases, err
}

func (db *DB) SetWishlisted(id int64, wishlisted bool) error {
	res, err := db.Exec(`UPDATE releases SET is_wishlisted = ?, updated_at = ? WHERE id = ?`,
		wishlisted, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkReleaseMissing clears ownership of a release whose folder is gone and
// drops its tracks. The release itself is kept.
func (db *DB) MarkReleaseMissing(id int64) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM tracks WHERE release_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE releases SET is_owned = 0, folder_path = NULL, fingerprint = '', updated_at = ?
		WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) DeleteRelease(id int64) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM tracks WHERE release_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE new_releases SET matched_release_id = NULL WHERE matched_release_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM releases WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}

func (db *DB) GetStats() (*domain.Stats, error) {
	stats := &domain.Stats{}
	err := db.Get(stats, `SELECT
		(SELECT COUNT(*) FROM releases WHERE is_owned = 1) AS album_count,
		(SELECT COUNT(*) FROM releases WHERE is_owned = 0) AS missing_album_count,
		(SELECT COUNT(*) FROM releases WHERE is_wishlisted = 1) AS wishlist_count,
		(SELECT COUNT(*) FROM artists) AS artist_count,
		(SELECT COUNT(*) FROM tracks) AS track_count`)
	return stats, err
}
