package oplog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Operation type constants
const (
	OpBackupLocal   = "backup_local"
	OpBackupRemote  = "backup_remote"
	OpRestoreLocal  = "restore_local"
	OpRestoreRemote = "restore_remote"
)

// AccountResult captures one account's outcome inside an operation
type AccountResult struct {
	Account  string `json:"account"`
	Duration string `json:"duration"`
}

// Event is one audit record. Immutable once written.
type Event struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	User      string          `json:"user"`
	Operation string          `json:"operation"`
	Accounts  []AccountResult `json:"accounts"`
	Success   bool            `json:"success"`
	Detail    string          `json:"detail"`
	Requestor string          `json:"requestor"`
	JobID     string          `json:"job_id,omitempty"`
}

// Logger is the audit-trail contract. Deployments without one inject
// the no-op implementation instead of branching on availability.
type Logger interface {
	LogEvent(event *Event) error
	GetLogs(user string, isRoot bool, page, limit int, filter string) ([]*Event, int, error)
}

// DBLogger persists operation events in the database
type DBLogger struct {
	db *sql.DB
	mu sync.Mutex
}

// NewDBLogger creates a database-backed operation logger
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// LogEvent appends one operation record
func (l *DBLogger) LogEvent(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	accounts, err := json.Marshal(event.Accounts)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	query := `
		INSERT INTO operation_log
		(timestamp, user, operation, accounts, success, detail, requestor, job_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := l.db.Exec(query,
		event.Timestamp,
		event.User,
		event.Operation,
		string(accounts),
		event.Success,
		event.Detail,
		event.Requestor,
		event.JobID,
	)

	if err != nil {
		return fmt.Errorf("failed to insert operation event: %w", err)
	}

	event.ID, _ = result.LastInsertId()
	return nil
}

// GetLogs returns a page of operation events, newest first. Root sees
// every user's events; other users see only their own.
func (l *DBLogger) GetLogs(user string, isRoot bool, page, limit int, filter string) ([]*Event, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 25
	}

	where := "WHERE 1=1"
	args := make([]interface{}, 0)

	if !isRoot {
		where += " AND user = ?"
		args = append(args, user)
	}

	if filter != "" {
		where += " AND (operation LIKE ? OR detail LIKE ? OR accounts LIKE ?)"
		pattern := "%" + filter + "%"
		args = append(args, pattern, pattern, pattern)
	}

	var total int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM operation_log "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count operation events: %w", err)
	}

	query := `
		SELECT id, timestamp, user, operation, accounts, success, detail, requestor, job_id
		FROM operation_log ` + where + `
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, (page-1)*limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query operation events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var accounts string

		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&event.User,
			&event.Operation,
			&accounts,
			&event.Success,
			&event.Detail,
			&event.Requestor,
			&event.JobID,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan operation event: %w", err)
		}

		if accounts != "" {
			if err := json.Unmarshal([]byte(accounts), &event.Accounts); err != nil {
				return nil, 0, fmt.Errorf("failed to parse accounts: %w", err)
			}
		}

		events = append(events, event)
	}

	return events, total, rows.Err()
}

// NopLogger discards everything
type NopLogger struct{}

// LogEvent discards the event
func (NopLogger) LogEvent(*Event) error { return nil }

// GetLogs returns nothing
func (NopLogger) GetLogs(string, bool, int, int, string) ([]*Event, int, error) {
	return nil, 0, nil
}
