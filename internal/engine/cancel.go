package engine

import (
	"database/sql"
	"fmt"
	"time"
)

// Canceller checks for a pending cancellation request keyed by job id.
// The flag is cleared exactly once, by the observer.
type Canceller interface {
	Request(jobID string) error
	CheckAndClear(jobID string) (bool, error)
}

// DBCancelStore keeps cancellation flags in the database so requests
// survive across processes and are visible to the running job between
// accounts.
type DBCancelStore struct {
	db *sql.DB
}

// NewDBCancelStore creates a database-backed cancellation store
func NewDBCancelStore(db *sql.DB) *DBCancelStore {
	return &DBCancelStore{db: db}
}

// Request flags a job for cancellation. Repeated requests collapse into
// one pending flag.
func (s *DBCancelStore) Request(jobID string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO job_cancellations (job_id, requested_at) VALUES (?, ?)",
		jobID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record cancellation request: %w", err)
	}
	return nil
}

// CheckAndClear reports whether a cancellation is pending for the job
// and clears it atomically in the same statement.
func (s *DBCancelStore) CheckAndClear(jobID string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM job_cancellations WHERE job_id = ?", jobID)
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}

	return affected > 0, nil
}

// NopCanceller never reports a cancellation
type NopCanceller struct{}

// Request discards the request
func (NopCanceller) Request(string) error { return nil }

// CheckAndClear always reports no pending cancellation
func (NopCanceller) CheckAndClear(string) (bool, error) { return false, nil }
