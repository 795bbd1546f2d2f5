package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultMaxConns = 25

// DB wraps the sqlite connection shared by the destination registry,
// manifest, operation log, and cancellation store.
type DB struct {
	*sql.DB
}

// NewDB opens the sqlite database at dbPath, creating the parent
// directory if needed. maxConns bounds the connection pool; values
// below 1 fall back to the default.
func NewDB(dbPath string, maxConns int) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn, err := buildDSN(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns < 1 {
		maxConns = defaultMaxConns
	}
	db.SetMaxOpenConns(maxConns)

	idle := maxConns / 5
	if idle < 2 {
		idle = 2
	}
	db.SetMaxIdleConns(idle)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// buildDSN produces a file URI with the pragmas applied on every
// connection. WAL plus a busy timeout keeps concurrent manifest and
// operation-log appends from tripping over each other.
func buildDSN(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}

	// SQLite file URIs want forward slashes
	absPath = strings.ReplaceAll(absPath, "\\", "/")

	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", absPath), nil
}

// Migrate applies every migration not yet recorded, each in its own
// transaction.
func (db *DB) Migrate() error {
	if err := db.createMigrationsTable(); err != nil {
		return err
	}

	applied, err := db.appliedVersions()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := db.apply(migration); err != nil {
			return err
		}
		log.Printf("[Database] Applied migration %s", migration.Version)
	}

	return nil
}

func (db *DB) apply(m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(m.Up); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
	}
	return nil
}

func (db *DB) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)
	`
	_, err := db.Exec(query)
	return err
}

func (db *DB) appliedVersions() (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}
