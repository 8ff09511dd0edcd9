package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
)

const artistCountsQuery = `SELECT a.id, a.name, a.name_normalized, a.musicbrainz_id, a.image_url,
		COALESCE(SUM(CASE WHEN r.is_owned = 1 THEN 1 ELSE 0 END), 0) AS owned_count,
		COALESCE(SUM(CASE WHEN r.id IS NOT NULL AND r.is_owned = 0 THEN 1 ELSE 0 END), 0) AS missing_count,
		COALESCE(SUM(CASE WHEN r.is_wishlisted = 1 THEN 1 ELSE 0 END), 0) AS wishlisted_count
	FROM artists a
	LEFT JOIN releases r ON r.artist_id = a.id`

func (db *DB) CreateArtist(artist *domain.Artist) error {
	query := `INSERT INTO artists (name, name_normalized, musicbrainz_id, image_url, created_at)
		VALUES (:name, :name_normalized, :musicbrainz_id, :image_url, :created_at) RETURNING id`

	args := map[string]any{
		"name":            artist.Name,
		"name_normalized": artist.NameNormalized,
		"musicbrainz_id":  artist.MusicBrainzID,
		"image_url":       artist.ImageURL,
		"created_at":      time.Now().UTC(),
	}

	rows, err := db.NamedQuery(query, args)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("artist %q: %w", artist.Name, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create artist: %w", err)
	}
	defer rows.Close() //nolint:errcheck // deferred cleanup

	if rows.Next() {
		if err := rows.Scan(&artist.ID); err != nil {
			return fmt.Errorf("failed to scan artist id: %w", err)
		}
	}
	return rows.Err()
}

func (db *DB) UpdateArtist(artist *domain.Artist) error {
	_, err := db.NamedExec(`UPDATE artists SET name = :name, name_normalized = :name_normalized,
		musicbrainz_id = :musicbrainz_id, image_url = :image_url WHERE id = :id`, artist)
	return err
}

// GetArtist returns the artist with its derived release counts.
func (db *DB) GetArtist(id int64) (*domain.Artist, error) {
	artist := &domain.Artist{}
	err := db.Get(artist, artistCountsQuery+` WHERE a.id = ? GROUP BY a.id`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return artist, nil
}

func (db *DB) FindArtistByMBID(mbid string) (*domain.Artist, error) {
	return db.findArtist(`SELECT id, name, name_normalized, musicbrainz_id, image_url FROM artists WHERE musicbrainz_id = ?`, mbid)
}

// FindArtistByName looks up an artist by its normalized name.
func (db *DB) FindArtistByName(normalized string) (*domain.Artist, error) {
	return db.findArtist(`SELECT id, name, name_normalized, musicbrainz_id, image_url FROM artists
		WHERE name_normalized = ? ORDER BY id LIMIT 1`, normalized)
}

func (db *DB) findArtist(query string, arg any) (*domain.Artist, error) {
	artist := &domain.Artist{}
	err := db.Get(artist, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return artist, nil
}

func (db *DB) ListArtists() ([]*domain.Artist, error) {
	var artists []*domain.Artist
	err := db.Select(&artists, artistCountsQuery+` GROUP BY a.id ORDER BY a.name_normalized, a.id`)
	return artists, err
}

// ListOwningArtists returns artists with at least one owned release,
// optionally only those with a catalog id.
func (db *DB) ListOwningArtists(requireMBID bool) ([]*domain.Artist, error) {
	query := artistCountsQuery + ` GROUP BY a.id HAVING owned_count > 0`
	if requireMBID {
		query += ` AND a.musicbrainz_id IS NOT NULL AND a.musicbrainz_id != ''`
	}
	query += ` ORDER BY a.name_normalized, a.id`

	var artists []*domain.Artist
	err := db.Select(&artists, query)
	return artists, err
}

// DeleteArtist removes an artist that has no releases.
func (db *DB) DeleteArtist(id int64) error {
	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM releases WHERE artist_id = ?`, id); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("artist %d has %d releases: %w", id, count, domain.ErrConflict)
	}

	res, err := db.Exec(`DELETE FROM artists WHERE id = ?`, id)
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
