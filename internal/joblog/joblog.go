package joblog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Log is a per-job append-only log file. Lines are flushed as they are
// written so a progress-polling consumer can read the file while the job
// is still running. The file is never truncated mid-job.
type Log struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// Open creates or reopens the log file for a job
func Open(dir, jobID string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job log directory: %w", err)
	}

	path := PathFor(dir, jobID)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open job log: %w", err)
	}

	return &Log{path: path, file: file}, nil
}

// PathFor returns the log file path for a job id
func PathFor(dir, jobID string) string {
	return filepath.Join(dir, jobID+".log")
}

// Path returns the underlying file path
func (l *Log) Path() string {
	return l.path
}

// Line appends a timestamped line
func (l *Log) Line(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), msg)
	l.file.Sync()
}

// Linef appends a formatted timestamped line
func (l *Log) Linef(format string, args ...interface{}) {
	l.Line(fmt.Sprintf(format, args...))
}

// Close closes the log file
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil
	return err
}

// Read returns all lines currently in a job's log, usable while the job
// is still appending.
func Read(dir, jobID string) ([]string, error) {
	data, err := os.ReadFile(PathFor(dir, jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to read job log: %w", err)
	}

	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil, nil
	}

	return strings.Split(trimmed, "\n"), nil
}
