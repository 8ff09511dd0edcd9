package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/cesargomez89/audiosource/internal/domain"
)

const jobStatusColumns = `kind, state, processed, total, current_item, result_count, error_message, started_at, completed_at`

// EnsureJobStatuses creates the idle row of every kind that has none.
func (db *DB) EnsureJobStatuses(kinds []domain.JobKind) error {
	for _, kind := range kinds {
		if _, err := db.Exec(`INSERT OR IGNORE INTO job_status (kind, state) VALUES (?, ?)`, kind, domain.JobStateIdle); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) GetJobStatus(kind domain.JobKind) (*domain.JobStatus, error) {
	status := &domain.JobStatus{}
	err := db.Get(status, `SELECT `+jobStatusColumns+` FROM job_status WHERE kind = ?`, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (db *DB) ListJobStatuses() ([]*domain.JobStatus, error) {
	var statuses []*domain.JobStatus
	err := db.Select(&statuses, `SELECT `+jobStatusColumns+` FROM job_status ORDER BY kind`)
	return statuses, err
}

// SaveJobStatus writes the full record of a kind.
func (db *DB) SaveJobStatus(status *domain.JobStatus) error {
	query := `INSERT INTO job_status (` + jobStatusColumns + `)
		VALUES (:kind, :state, :processed, :total, :current_item, :result_count, :error_message, :started_at, :completed_at)
		ON CONFLICT(kind) DO UPDATE SET
			state = excluded.state,
			processed = excluded.processed,
			total = excluded.total,
			current_item = excluded.current_item,
			result_count = excluded.result_count,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`

	_, err := db.NamedExec(query, status)
	return err
}

// ResetInterruptedJobs turns rows left pending or running by a previous
// process into errors and returns how many were reset.
func (db *DB) ResetInterruptedJobs(message string) (int64, error) {
	res, err := db.Exec(`UPDATE job_status SET state = ?, error_message = ?, completed_at = ?, current_item = ''
		WHERE state IN ('pending', 'running')`,
		domain.JobStateError, message, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
