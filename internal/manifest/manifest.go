package manifest

import (
	"database/sql"
	"fmt"
	"time"
)

// ManualScheduleID is the reserved schedule identifier for unscheduled
// (operator-initiated) backups.
const ManualScheduleID = "manual"

// Entry records one produced archive. Entries are append-only; the
// retention pruner decides deletions from them later.
type Entry struct {
	ID             int64     `json:"id"`
	ScheduleID     string    `json:"schedule_id"`
	Account        string    `json:"account"`
	Filename       string    `json:"filename"`
	DBFilename     string    `json:"db_filename,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	DestinationID  string    `json:"destination_id"`
	RetentionCount int       `json:"retention_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists manifest entries in the database
type Store struct {
	db *sql.DB
}

// NewStore creates a new manifest store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append records a produced archive
func (s *Store) Append(entry *Entry) error {
	if entry.ScheduleID == "" {
		entry.ScheduleID = ManualScheduleID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO manifest_entries
		(schedule_id, account, filename, db_filename, size_bytes, destination_id, retention_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		entry.ScheduleID,
		entry.Account,
		entry.Filename,
		entry.DBFilename,
		entry.SizeBytes,
		entry.DestinationID,
		entry.RetentionCount,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append manifest entry: %w", err)
	}

	entry.ID, _ = result.LastInsertId()
	return nil
}

// ListForAccount returns the entries for one schedule/account pair,
// newest first.
func (s *Store) ListForAccount(scheduleID, account string) ([]*Entry, error) {
	query := `
		SELECT id, schedule_id, account, filename, db_filename, size_bytes,
		       destination_id, retention_count, created_at
		FROM manifest_entries
		WHERE schedule_id = ? AND account = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.Query(query, scheduleID, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query manifest entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ScheduledGroup identifies one schedule/account pair carrying a
// retention policy.
type ScheduledGroup struct {
	ScheduleID     string
	Account        string
	RetentionCount int
}

// ListRetentionGroups returns the schedule/account pairs whose newest
// entry carries a positive retention count.
func (s *Store) ListRetentionGroups() ([]ScheduledGroup, error) {
	query := `
		SELECT schedule_id, account, MAX(retention_count)
		FROM manifest_entries
		WHERE retention_count > 0
		GROUP BY schedule_id, account
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query retention groups: %w", err)
	}
	defer rows.Close()

	var groups []ScheduledGroup
	for rows.Next() {
		var g ScheduledGroup
		if err := rows.Scan(&g.ScheduleID, &g.Account, &g.RetentionCount); err != nil {
			return nil, fmt.Errorf("failed to scan retention group: %w", err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// Remove deletes a manifest entry after its archive has been pruned
func (s *Store) Remove(id int64) error {
	if _, err := s.db.Exec("DELETE FROM manifest_entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove manifest entry: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.ScheduleID,
			&entry.Account,
			&entry.Filename,
			&entry.DBFilename,
			&entry.SizeBytes,
			&entry.DestinationID,
			&entry.RetentionCount,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan manifest entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
