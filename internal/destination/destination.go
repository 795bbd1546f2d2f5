package destination

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/account-backup-manager/internal/crypto"
)

const encryptedCredentialsPrefix = "ENC1:"

// Destination errors surfaced before any backup/restore work begins
var (
	ErrNotFound = errors.New("destination not found")
	ErrDisabled = errors.New("destination is disabled")
)

// Destination represents a configured backup target
type Destination struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"` // "local", "sftp", "ftp", "s3"
	Enabled     bool              `json:"enabled"`
	Path        string            `json:"path"`
	Credentials map[string]string `json:"credentials,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsRemote reports whether archives must be staged locally and uploaded
func (d *Destination) IsRemote() bool {
	return d.Type != "local"
}

// Store persists destinations in the database. Credentials are encrypted
// at rest when an encryption manager is provided.
type Store struct {
	db  *sql.DB
	enc *crypto.EncryptionManager
}

// NewStore creates a new destination store
func NewStore(db *sql.DB, enc *crypto.EncryptionManager) *Store {
	return &Store{db: db, enc: enc}
}

func (s *Store) encodeCredentials(credentials map[string]string) (string, error) {
	serialized, err := json.Marshal(credentials)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if s.enc == nil {
		return string(serialized), nil
	}

	ciphertext, err := s.enc.EncryptCredentials(string(serialized))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	return encryptedCredentialsPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decodeCredentials(stored string) (map[string]string, error) {
	if stored == "" {
		return nil, nil
	}

	serialized := stored
	if strings.HasPrefix(stored, encryptedCredentialsPrefix) {
		if s.enc == nil {
			return nil, fmt.Errorf("credentials are encrypted but no encryption key is configured")
		}

		ciphertext, err := base64.StdEncoding.DecodeString(stored[len(encryptedCredentialsPrefix):])
		if err != nil {
			return nil, fmt.Errorf("failed to decode credentials: %w", err)
		}

		serialized, err = s.enc.DecryptCredentials(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
		}
	}

	var credentials map[string]string
	if err := json.Unmarshal([]byte(serialized), &credentials); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return credentials, nil
}

// Save inserts or updates a destination
func (s *Store) Save(dest *Destination) error {
	creds, err := s.encodeCredentials(dest.Credentials)
	if err != nil {
		return err
	}

	if dest.CreatedAt.IsZero() {
		dest.CreatedAt = time.Now()
	}
	dest.UpdatedAt = time.Now()

	query := `
		INSERT OR REPLACE INTO destinations
		(id, name, type, enabled, path, credentials, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		dest.ID,
		dest.Name,
		dest.Type,
		dest.Enabled,
		dest.Path,
		creds,
		dest.CreatedAt,
		dest.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save destination: %w", err)
	}

	return nil
}

// Get retrieves a destination by id regardless of its enabled state
func (s *Store) Get(id string) (*Destination, error) {
	query := `
		SELECT id, name, type, enabled, path, credentials, created_at, updated_at
		FROM destinations
		WHERE id = ?
	`

	dest := &Destination{}
	var creds string

	err := s.db.QueryRow(query, id).Scan(
		&dest.ID,
		&dest.Name,
		&dest.Type,
		&dest.Enabled,
		&dest.Path,
		&creds,
		&dest.CreatedAt,
		&dest.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query destination: %w", err)
	}

	if dest.Credentials, err = s.decodeCredentials(creds); err != nil {
		return nil, err
	}

	return dest, nil
}

// Resolve retrieves a destination and enforces the enabled invariant.
// Disabled destinations must never be used for new jobs.
func (s *Store) Resolve(id string) (*Destination, error) {
	dest, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if !dest.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, id)
	}

	return dest, nil
}

// List returns all configured destinations
func (s *Store) List() ([]*Destination, error) {
	query := `
		SELECT id, name, type, enabled, path, credentials, created_at, updated_at
		FROM destinations
		ORDER BY name
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var dests []*Destination
	for rows.Next() {
		dest := &Destination{}
		var creds string

		if err := rows.Scan(
			&dest.ID,
			&dest.Name,
			&dest.Type,
			&dest.Enabled,
			&dest.Path,
			&creds,
			&dest.CreatedAt,
			&dest.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}

		if dest.Credentials, err = s.decodeCredentials(creds); err != nil {
			return nil, err
		}

		dests = append(dests, dest)
	}

	return dests, rows.Err()
}

// Delete removes a destination
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM destinations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete destination: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}
