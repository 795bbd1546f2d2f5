package transport

import (
	"fmt"
	"strings"

	"github.com/yourusername/account-backup-manager/internal/destination"
	sshclient "github.com/yourusername/account-backup-manager/internal/ssh"
)

// Transport provides a uniform contract over heterogeneous destination
// backends. All paths are resolved relative to the destination's configured
// base path unless already prefixed with it.
type Transport interface {
	// Upload copies a local file to the destination under remoteKey
	Upload(localPath, remoteKey string) error

	// Download copies a destination file to localPath
	Download(remoteKey, localPath string) error

	// List returns the entries under a destination path
	List(path string) ([]Entry, error)

	// Delete removes a file from the destination
	Delete(path string) error

	// Exists reports whether a file exists at the destination
	Exists(path string) (bool, error)

	// Mkdir creates a directory at the destination. Creating a directory
	// that already exists is success, not failure.
	Mkdir(path string) error
}

// Entry represents a file at a destination
type Entry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	ModTime   int64  `json:"mod_time"` // Unix timestamp
	IsDir     bool   `json:"is_dir"`
}

// Options carries environment shared by all backends
type Options struct {
	// BridgeCommand is the external bridge binary used for destination
	// types without a native backend (ftp and other remote kinds).
	BridgeCommand string

	// Keys decrypts ENC1-encoded SSH private keys for SFTP
	// destinations. Nil means only plaintext keys can be used.
	Keys sshclient.KeyDecrypter
}

// New creates a transport for the given destination
func New(dest *destination.Destination, opts Options) (Transport, error) {
	switch dest.Type {
	case "local":
		return NewLocalTransport(dest), nil
	case "sftp":
		return NewSFTPTransport(dest, opts.Keys)
	case "s3":
		return NewS3Transport(dest)
	default:
		if opts.BridgeCommand == "" {
			return nil, fmt.Errorf("unsupported destination type: %s", dest.Type)
		}
		return NewBridgeTransport(dest, opts.BridgeCommand), nil
	}
}

// resolveKey joins a key with the destination base path unless the key
// already carries the prefix.
func resolveKey(basePath, key string) string {
	if basePath == "" {
		return key
	}
	if key == basePath || strings.HasPrefix(key, basePath+"/") {
		return key
	}
	return strings.TrimSuffix(basePath, "/") + "/" + strings.TrimPrefix(key, "/")
}
