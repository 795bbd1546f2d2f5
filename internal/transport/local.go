package transport

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/yourusername/account-backup-manager/internal/destination"
)

// LocalTransport operates directly on the local filesystem
type LocalTransport struct {
	basePath string
}

// NewLocalTransport creates a transport rooted at the destination path
func NewLocalTransport(dest *destination.Destination) *LocalTransport {
	return &LocalTransport{basePath: dest.Path}
}

func (lt *LocalTransport) resolve(key string) string {
	return filepath.FromSlash(resolveKey(filepath.ToSlash(lt.basePath), filepath.ToSlash(key)))
}

// Upload copies a local file into the destination tree
func (lt *LocalTransport) Upload(localPath, remoteKey string) error {
	destPath := lt.resolve(remoteKey)
	log.Printf("[LocalTransport] Copying %s to %s", localPath, destPath)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(destPath) // Cleanup on error
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return nil
}

// Download copies a destination file to a local path
func (lt *LocalTransport) Download(remoteKey, localPath string) error {
	srcPath := lt.resolve(remoteKey)
	log.Printf("[LocalTransport] Copying %s to %s", srcPath, localPath)

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open destination file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return nil
}

// List returns the entries under a destination path
func (lt *LocalTransport) List(path string) ([]Entry, error) {
	dir := lt.resolve(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []Entry
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			log.Printf("[LocalTransport] Warning: Failed to stat %s: %v", entry.Name(), err)
			continue
		}

		files = append(files, Entry{
			Name:      entry.Name(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime().Unix(),
			IsDir:     entry.IsDir(),
		})
	}

	return files, nil
}

// Delete removes a file from the destination
func (lt *LocalTransport) Delete(path string) error {
	target := lt.resolve(path)
	log.Printf("[LocalTransport] Deleting %s", target)

	if err := os.Remove(target); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists reports whether a file exists at the destination
func (lt *LocalTransport) Exists(path string) (bool, error) {
	_, err := os.Stat(lt.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Mkdir creates a directory, succeeding when it already exists
func (lt *LocalTransport) Mkdir(path string) error {
	if err := os.MkdirAll(lt.resolve(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}
