package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourusername/account-backup-manager/internal/proc"
)

// ArchiveResult is the normalized outcome of one archive-tool invocation
type ArchiveResult struct {
	Success    bool
	Message    string
	OutputPath string
}

// Archiver wraps the external per-account archival utility. Output is
// streamed line-by-line into the supplied sink while the tool runs.
type Archiver struct {
	command string
	options map[string]string
}

// NewArchiver creates an adapter for the archive tool
func NewArchiver(command string, options map[string]string) *Archiver {
	return &Archiver{command: command, options: options}
}

// Create archives one account into targetDir. The tool is expected to
// produce exactly one archive file there; success without a produced
// file is reported as failure by the caller after its own check.
func (a *Archiver) Create(ctx context.Context, account, targetDir string, sink proc.LineSink) (*ArchiveResult, error) {
	before, err := snapshotDir(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read target directory: %w", err)
	}

	args := []string{account, targetDir}
	args = append(args, renderOptions(a.options)...)

	result, err := proc.Run(ctx, sink, a.command, args...)
	if err != nil {
		return nil, err
	}

	if !result.Ok() {
		// Partial directory outputs are removed; produced files are
		// left for the caller to judge.
		removeNewDirectories(targetDir, before)
		return &ArchiveResult{
			Success: false,
			Message: fmt.Sprintf("archive tool exited with status %d", result.ExitCode),
		}, nil
	}

	produced := findNewFile(targetDir, before, "")
	return &ArchiveResult{
		Success:    true,
		Message:    "archive created",
		OutputPath: produced,
	}, nil
}

func renderOptions(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, key := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", key, options[key]))
	}
	return args
}

func snapshotDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		seen[entry.Name()] = true
	}
	return seen, nil
}

func findNewFile(dir string, before map[string]bool, prefix string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		if entry.IsDir() || before[entry.Name()] {
			continue
		}
		if prefix != "" && !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		return filepath.Join(dir, entry.Name())
	}
	return ""
}

func removeNewDirectories(dir string, before map[string]bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() && !before[entry.Name()] {
			os.RemoveAll(filepath.Join(dir, entry.Name()))
		}
	}
}
