package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cesargomez89/audiosource/internal/domain"
)

// ReplaceTracks swaps the whole track set of a release.
func (db *DB) ReplaceTracks(releaseID int64, tracks []domain.Track) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := replaceTracksTx(tx, releaseID, tracks); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceTracksTx(tx *sqlx.Tx, releaseID int64, tracks []domain.Track) error {
	if _, err := tx.Exec(`DELETE FROM tracks WHERE release_id = ?`, releaseID); err != nil {
		return fmt.Errorf("failed to clear tracks: %w", err)
	}

	query := `INSERT INTO tracks (release_id, title, track_number, disc_number, duration, file_path, format)
		VALUES (:release_id, :title, :track_number, :disc_number, :duration, :file_path, :format)`

	for i := range tracks {
		tracks[i].ReleaseID = releaseID
		res, err := tx.NamedExec(query, &tracks[i])
		if err != nil {
			return fmt.Errorf("failed to insert track %q: %w", tracks[i].Title, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			tracks[i].ID = id
		}
	}
	return nil
}

// ListTracks returns the tracks of a release ordered by disc and track.
func (db *DB) ListTracks(releaseID int64) ([]domain.Track, error) {
	var tracks []domain.Track
	err := db.Select(&tracks, `SELECT id, release_id, title, track_number, disc_number, duration, file_path, format
		FROM tracks WHERE release_id = ? ORDER BY disc_number, track_number, file_path`, releaseID)
	return tracks, err
}

func (db *DB) CountTracks(releaseID int64) (int, error) {
	var n int
	err := db.Get(&n, `SELECT COUNT(*) FROM tracks WHERE release_id = ?`, releaseID)
	return n, err
}
