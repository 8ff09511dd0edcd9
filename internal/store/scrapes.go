package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
)

func (db *DB) UpsertNewRelease(n *domain.NewRelease) error {
	if n.ScrapedAt.IsZero() {
		n.ScrapedAt = time.Now().UTC()
	}

	query := `INSERT INTO new_releases (
		aoty_url, title, artist, cover_url, release_date, release_type, critic_score, review_count, week,
		matched_release_id, scraped_at
	) VALUES (
		:aoty_url, :title, :artist, :cover_url, :release_date, :release_type, :critic_score, :review_count, :week,
		:matched_release_id, :scraped_at
	) ON CONFLICT(aoty_url) DO UPDATE SET
		title = excluded.title,
		artist = excluded.artist,
		cover_url = excluded.cover_url,
		release_date = excluded.release_date,
		release_type = excluded.release_type,
		critic_score = excluded.critic_score,
		review_count = excluded.review_count,
		week = excluded.week,
		matched_release_id = excluded.matched_release_id,
		scraped_at = excluded.scraped_at`

	_, err := db.NamedExec(query, n)
	return err
}

func (db *DB) ListNewReleases(limit int) ([]*domain.NewRelease, error) {
	var releases []*domain.NewRelease
	err := db.Select(&releases, `SELECT id, aoty_url, title, artist, cover_url, release_date, release_type,
		critic_score, review_count, week, matched_release_id, scraped_at
		FROM new_releases
		ORDER BY week DESC, critic_score IS NULL, critic_score DESC, id
		LIMIT ?`, limit)
	return releases, err
}

// UpsertVinylRelease stores a new post, or refreshes the score and comment
// count of a known one. It reports whether the post was new.
func (db *DB) UpsertVinylRelease(v *domain.VinylRelease) (bool, error) {
	var id int64
	err := db.Get(&id, `SELECT id FROM vinyl_releases WHERE reddit_id = ?`, v.RedditID)
	if err == nil {
		v.ID = id
		_, err = db.Exec(`UPDATE vinyl_releases SET score = ?, num_comments = ? WHERE id = ?`, v.Score, v.NumComments, id)
		return false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	res, err := db.NamedExec(`INSERT INTO vinyl_releases (
		reddit_id, title, url, author, score, num_comments, flair, thumbnail,
		matched_artist_id, matched_artist_name, posted_at
	) VALUES (
		:reddit_id, :title, :url, :author, :score, :num_comments, :flair, :thumbnail,
		:matched_artist_id, :matched_artist_name, :posted_at
	)`, v)
	if err != nil {
		return false, err
	}
	v.ID, _ = res.LastInsertId()
	return true, nil
}

func (db *DB) ListVinylReleases(limit int) ([]*domain.VinylRelease, error) {
	var releases []*domain.VinylRelease
	err := db.Select(&releases, `SELECT id, reddit_id, title, url, author, score, num_comments, flair, thumbnail,
		matched_artist_id, matched_artist_name, posted_at
		FROM vinyl_releases ORDER BY posted_at DESC, id DESC LIMIT ?`, limit)
	return releases, err
}

func (db *DB) UpsertConcert(c *domain.Concert) error {
	c.EventDate = c.EventDate.UTC()

	query := `INSERT INTO concerts (
		event_id, artist_id, artist_name, event_date, venue_name, venue_city, venue_country, event_url
	) VALUES (
		:event_id, :artist_id, :artist_name, :event_date, :venue_name, :venue_city, :venue_country, :event_url
	) ON CONFLICT(event_id) DO UPDATE SET
		artist_id = excluded.artist_id,
		artist_name = excluded.artist_name,
		event_date = excluded.event_date,
		venue_name = excluded.venue_name,
		venue_city = excluded.venue_city,
		venue_country = excluded.venue_country,
		event_url = excluded.event_url`

	_, err := db.NamedExec(query, c)
	return err
}

// ListConcerts returns events on or after from, soonest first.
func (db *DB) ListConcerts(from time.Time, limit int) ([]*domain.Concert, error) {
	var concerts []*domain.Concert
	err := db.Select(&concerts, `SELECT id, event_id, artist_id, artist_name, event_date, venue_name, venue_city,
		venue_country, event_url
		FROM concerts WHERE event_date >= ? ORDER BY event_date, id LIMIT ?`, from.UTC(), limit)
	return concerts, err
}

// DeletePastConcerts removes events dated before cutoff.
func (db *DB) DeletePastConcerts(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM concerts WHERE event_date < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
