package tools

import (
	"context"
	"fmt"

	"github.com/yourusername/account-backup-manager/internal/proc"
)

// HotDBResult is the outcome of a hot database backup attempt
type HotDBResult struct {
	Success     bool
	NoDatabases bool
	OutputPath  string
	Message     string
}

// HotDB wraps the live (non-locking) database dump and restore tools,
// decoupled from the main account archive.
type HotDB struct {
	backupCommand  string
	restoreCommand string
}

// NewHotDB creates the hot database adapter
func NewHotDB(backupCommand, restoreCommand string) *HotDB {
	return &HotDB{backupCommand: backupCommand, restoreCommand: restoreCommand}
}

// Backup dumps an account's live databases into targetDir. An account
// with no databases is a clean no-op, not a failure.
func (h *HotDB) Backup(ctx context.Context, account, targetDir string, sink proc.LineSink) (*HotDBResult, error) {
	before, err := snapshotDir(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read target directory: %w", err)
	}

	result, err := proc.Run(ctx, sink, h.backupCommand, account, targetDir)
	if err != nil {
		return nil, err
	}

	if !result.Ok() {
		return &HotDBResult{
			Success: false,
			Message: fmt.Sprintf("database backup tool exited with status %d", result.ExitCode),
		}, nil
	}

	produced := findNewFile(targetDir, before, "db-backup-"+account+"_")
	if produced == "" {
		return &HotDBResult{Success: true, NoDatabases: true, Message: "no databases present"}, nil
	}

	return &HotDBResult{Success: true, OutputPath: produced, Message: "database backup created"}, nil
}

// Restore loads a previously dumped database archive for an account
func (h *HotDB) Restore(ctx context.Context, account, archivePath string, sink proc.LineSink) error {
	result, err := proc.Run(ctx, sink, h.restoreCommand, account, archivePath)
	if err != nil {
		return err
	}

	if !result.Ok() {
		return fmt.Errorf("database restore tool exited with status %d", result.ExitCode)
	}

	return nil
}
