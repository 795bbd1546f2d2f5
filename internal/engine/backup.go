package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/account-backup-manager/internal/destination"
	"github.com/yourusername/account-backup-manager/internal/joblog"
	"github.com/yourusername/account-backup-manager/internal/manifest"
	"github.com/yourusername/account-backup-manager/internal/notify"
	"github.com/yourusername/account-backup-manager/internal/oplog"
	"github.com/yourusername/account-backup-manager/internal/proc"
	"github.com/yourusername/account-backup-manager/internal/tools"
	"github.com/yourusername/account-backup-manager/internal/transport"
)

// DestinationResolver looks up an enabled destination by id
type DestinationResolver interface {
	Resolve(id string) (*destination.Destination, error)
}

// TransportFactory builds a transport for a resolved destination
type TransportFactory func(dest *destination.Destination) (transport.Transport, error)

// ArchiveTool creates one account archive in a target directory
type ArchiveTool interface {
	Create(ctx context.Context, account, targetDir string, sink proc.LineSink) (*tools.ArchiveResult, error)
}

// HotDBTool captures and restores live database state
type HotDBTool interface {
	Backup(ctx context.Context, account, targetDir string, sink proc.LineSink) (*tools.HotDBResult, error)
	Restore(ctx context.Context, account, archivePath string, sink proc.LineSink) error
}

// ManifestAppender records produced archives for later pruning
type ManifestAppender interface {
	Append(entry *manifest.Entry) error
}

// Notifier dispatches job lifecycle events
type Notifier interface {
	Dispatch(kind notify.Kind, user string, context map[string]interface{})
}

// ProgressFunc reports per-account completion during a backup job
type ProgressFunc func(completed, total int)

// BackupRequest describes one backup job. Immutable once the job starts.
type BackupRequest struct {
	Accounts      []string `json:"accounts"`
	DestinationID string   `json:"destination_id"`
	User          string   `json:"user"`
	JobID         string   `json:"job_id,omitempty"`
	ScheduleID    string   `json:"schedule_id,omitempty"`
	Retention     int      `json:"retention"`
	// Requestor identifies who asked for the job when it differs from
	// the user, e.g. the scheduler running on a user's behalf.
	Requestor string       `json:"requestor,omitempty"`
	Progress  ProgressFunc `json:"-"`
}

// AccountBackupResult is one account's outcome within a backup job.
// Never mutated after creation.
type AccountBackupResult struct {
	Account    string        `json:"account"`
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	Filename   string        `json:"filename,omitempty"`
	DBFilename string        `json:"db_filename,omitempty"`
	SizeBytes  int64         `json:"size_bytes"`
	Duration   time.Duration `json:"duration"`
}

// BackupJobResult aggregates a whole backup job
type BackupJobResult struct {
	JobID     string                          `json:"job_id"`
	Success   bool                            `json:"success"`
	Cancelled bool                            `json:"cancelled"`
	Message   string                          `json:"message"`
	Accounts  map[string]*AccountBackupResult `json:"accounts"`
	Errors    []string                        `json:"errors,omitempty"`
}

// BackupDeps carries the orchestrator's collaborators. Deployments
// without an audit trail or cancellation store inject the no-op
// implementations instead of leaving fields nil.
type BackupDeps struct {
	Destinations DestinationResolver
	Transports   TransportFactory
	Archiver     ArchiveTool
	HotDB        HotDBTool
	Manifest     ManifestAppender
	Notifier     Notifier
	OpLog        oplog.Logger
	Cancels      Canceller
	StagingDir   string
	JobLogDir    string
	// HotDBBackups selects separate live database dumps over
	// archive-embedded ones.
	HotDBBackups bool
}

// BackupOrchestrator drives the end-to-end multi-account backup
// workflow: archive, verify, rename, optional database dump, transport,
// manifest, notification, audit.
type BackupOrchestrator struct {
	deps BackupDeps
}

// NewBackupOrchestrator creates a backup orchestrator
func NewBackupOrchestrator(deps BackupDeps) *BackupOrchestrator {
	if deps.OpLog == nil {
		deps.OpLog = oplog.NopLogger{}
	}
	if deps.Cancels == nil {
		deps.Cancels = NopCanceller{}
	}
	return &BackupOrchestrator{deps: deps}
}

// Run executes one backup job. Accounts are processed strictly
// sequentially; a single account's failure does not abort the job.
// Every failure path returns a structured result, never an error.
func (o *BackupOrchestrator) Run(ctx context.Context, req *BackupRequest) *BackupJobResult {
	// Cancellation is only polled for jobs the caller can actually
	// address by id.
	cancelKey := req.JobID

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	result := &BackupJobResult{
		JobID:    jobID,
		Accounts: make(map[string]*AccountBackupResult),
	}

	// A request without accounts is a validation failure, not a
	// destination problem; no taxonomy code applies.
	if len(req.Accounts) == 0 {
		result.Message = "no accounts requested"
		result.Errors = append(result.Errors, "no accounts requested")
		return result
	}

	jl, err := joblog.Open(o.deps.JobLogDir, jobID)
	if err != nil {
		log.Printf("[Backup] Failed to open job log for %s: %v", jobID, err)
		result.Message = "failed to open job log"
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	defer jl.Close()

	dest, err := o.resolveDestination(req.DestinationID)
	if err != nil {
		jl.Linef("Backup aborted: %v", err)
		result.Message = err.Error()
		result.Errors = append(result.Errors, err.Error())
		o.logOperation(req, result, dest, nil)
		return result
	}

	jl.Linef("Starting backup of %d account(s) to %s (%s)", len(req.Accounts), dest.Name, dest.Type)

	o.deps.Notifier.Dispatch(notify.KindBackupStart, req.User, map[string]interface{}{
		"job_id":      jobID,
		"accounts":    req.Accounts,
		"destination": dest.Name,
	})

	var messages []string
	cancelled := false

	for i, account := range req.Accounts {
		start := time.Now()
		acctResult := o.backupAccount(ctx, jl, req, dest, jobID, account)
		acctResult.Duration = time.Since(start)

		result.Accounts[account] = acctResult
		messages = append(messages, fmt.Sprintf("%s: %s", account, acctResult.Message))

		if acctResult.Success {
			jl.Linef("Account %s backed up: %s (%s in %s)",
				account, acctResult.Filename,
				FormatSize(acctResult.SizeBytes),
				FormatDuration(int64(acctResult.Duration.Seconds())))
		} else {
			jl.Linef("Account %s failed: %s", account, acctResult.Message)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", account, acctResult.Message))
		}

		if req.Progress != nil {
			req.Progress(i+1, len(req.Accounts))
		}

		if cancelKey != "" && i < len(req.Accounts)-1 {
			pending, err := o.deps.Cancels.CheckAndClear(cancelKey)
			if err != nil {
				log.Printf("[Backup] Cancellation check failed for %s: %v", cancelKey, err)
			}
			if pending {
				cancelled = true
				skipped := req.Accounts[i+1:]
				jl.Linef("Cancellation requested; skipping remaining account(s): %s",
					strings.Join(skipped, ", "))
				break
			}
		}
	}

	// A cancellation that arrives during the final account has nothing
	// left to skip; clear the flag so it cannot outlive the job and
	// bleed into a later one reusing the id.
	if cancelKey != "" && !cancelled {
		late, err := o.deps.Cancels.CheckAndClear(cancelKey)
		if err != nil {
			log.Printf("[Backup] Cancellation check failed for %s: %v", cancelKey, err)
		}
		if late {
			jl.Linef("Cancellation requested after the final account; job already complete")
		}
	}

	result.Cancelled = cancelled
	result.Success = len(result.Errors) == 0 && !cancelled
	result.Message = o.summarize(result, dest, len(req.Accounts), messages)
	jl.Line(result.Message)

	o.logOperation(req, result, dest, result.Accounts)

	// At most one of success/failure fires, and neither for a
	// cancelled job.
	if !cancelled {
		kind := notify.KindBackupSuccess
		if !result.Success {
			kind = notify.KindBackupFailure
		}
		o.deps.Notifier.Dispatch(kind, req.User, map[string]interface{}{
			"job_id":      jobID,
			"destination": dest.Name,
			"message":     result.Message,
			"errors":      result.Errors,
		})
	}

	return result
}

func (o *BackupOrchestrator) resolveDestination(id string) (*destination.Destination, error) {
	dest, err := o.deps.Destinations.Resolve(id)
	if err != nil {
		switch {
		case errors.Is(err, destination.ErrDisabled):
			return nil, wrapError(CodeDestinationDisabled, err, "destination %s is disabled", id)
		case errors.Is(err, destination.ErrNotFound):
			return nil, wrapError(CodeInvalidDestination, err, "destination %s not found", id)
		default:
			return nil, wrapError(CodeInvalidDestination, err, "destination %s could not be resolved", id)
		}
	}
	return dest, nil
}

// backupAccount runs the per-account pipeline. The returned result is
// final for this account; compensating cleanup has already happened on
// the failure paths.
func (o *BackupOrchestrator) backupAccount(ctx context.Context, jl *joblog.Log, req *BackupRequest, dest *destination.Destination, jobID, account string) *AccountBackupResult {
	result := &AccountBackupResult{Account: account}

	fail := func(err error) *AccountBackupResult {
		result.Success = false
		result.Message = err.Error()
		return result
	}

	var workDir string
	if dest.IsRemote() {
		workDir = filepath.Join(o.deps.StagingDir, jobID, account)
	} else {
		workDir = filepath.Join(dest.Path, account)
	}

	if err := os.MkdirAll(workDir, 0700); err != nil {
		return fail(wrapError(CodeDirectoryCreateFailed, err, "cannot create working directory for %s", account))
	}

	sink := jobLogSink(jl)

	jl.Linef("Archiving account %s", account)
	archive, err := o.deps.Archiver.Create(ctx, account, workDir, sink)
	if err != nil {
		return fail(wrapError(CodeProcessSpawnFailed, err, "archive tool could not be started"))
	}
	if !archive.Success {
		return fail(newError(CodeArchiveToolFailed, "%s", archive.Message))
	}

	info, statErr := os.Stat(archive.OutputPath)
	if archive.OutputPath == "" || statErr != nil || !info.Mode().IsRegular() {
		return fail(newError(CodeArtifactMissing, "archive tool reported success but produced no file for %s", account))
	}

	canonical := BackupFilename(account, time.Now())
	finalPath := filepath.Join(workDir, canonical)
	if err := os.Rename(archive.OutputPath, finalPath); err != nil {
		os.Remove(archive.OutputPath)
		return fail(wrapError(CodeRenameFailed, err, "cannot rename archive for %s", account))
	}
	if err := os.Chmod(finalPath, 0600); err != nil {
		jl.Linef("Warning: cannot restrict permissions on %s: %v", canonical, err)
	}

	result.Filename = canonical
	if info, err := os.Stat(finalPath); err == nil {
		result.SizeBytes = info.Size()
	}

	if o.deps.HotDBBackups && o.deps.HotDB != nil {
		jl.Linef("Backing up databases for %s", account)
		dbResult, err := o.deps.HotDB.Backup(ctx, account, workDir, sink)
		if err != nil || !dbResult.Success {
			// A failed database dump invalidates the whole account
			// backup; remove the main artifact so nothing half-done
			// claims success.
			os.Remove(finalPath)
			if err != nil {
				return fail(wrapError(CodeDatabaseBackupFailed, err, "database backup tool could not be started"))
			}
			return fail(newError(CodeDatabaseBackupFailed, "%s", dbResult.Message))
		}
		if dbResult.NoDatabases {
			jl.Linef("Account %s has no databases", account)
		} else {
			result.DBFilename = filepath.Base(dbResult.OutputPath)
		}
	}

	if dest.IsRemote() {
		if err := o.uploadAndClean(jl, dest, account, workDir, result); err != nil {
			return fail(err)
		}
	}

	entry := &manifest.Entry{
		ScheduleID:     req.ScheduleID,
		Account:        account,
		Filename:       result.Filename,
		DBFilename:     result.DBFilename,
		SizeBytes:      result.SizeBytes,
		DestinationID:  dest.ID,
		RetentionCount: req.Retention,
	}
	if o.deps.Manifest != nil {
		if err := o.deps.Manifest.Append(entry); err != nil {
			jl.Linef("Warning: failed to record manifest entry for %s: %v", account, err)
		}
	}

	result.Success = true
	result.Message = fmt.Sprintf("backup completed (%s)", FormatSize(result.SizeBytes))
	return result
}

// uploadAndClean ships every staged artifact to the remote destination
// and then deletes the staged copies regardless of upload outcome, so
// the staging window stays as short as possible.
func (o *BackupOrchestrator) uploadAndClean(jl *joblog.Log, dest *destination.Destination, account, workDir string, result *AccountBackupResult) error {
	tr, err := o.deps.Transports(dest)
	if err != nil {
		os.RemoveAll(workDir)
		return wrapError(CodeTransportFailed, err, "cannot initialize transport for %s", dest.ID)
	}
	defer closeTransport(tr)

	var uploadErr error

	if err := tr.Mkdir(account); err != nil {
		uploadErr = wrapError(CodeTransportFailed, err, "cannot create remote directory for %s", account)
	} else {
		names := []string{result.Filename}
		if result.DBFilename != "" {
			names = append(names, result.DBFilename)
		}
		for _, name := range names {
			jl.Linef("Uploading %s", name)
			if err := tr.Upload(filepath.Join(workDir, name), account+"/"+name); err != nil {
				uploadErr = wrapError(CodeTransportFailed, err, "upload of %s failed", name)
				break
			}
		}
	}

	// Best-effort cleanup happens on every path, including partial
	// upload failure.
	if err := os.RemoveAll(workDir); err != nil {
		jl.Linef("Warning: failed to remove staged files in %s: %v", workDir, err)
	}

	return uploadErr
}

func (o *BackupOrchestrator) summarize(result *BackupJobResult, dest *destination.Destination, total int, messages []string) string {
	switch {
	case result.Cancelled:
		return fmt.Sprintf("backup cancelled after %d of %d account(s)", len(result.Accounts), total)
	case result.Success:
		return fmt.Sprintf("backed up %d account(s) to %s", len(result.Accounts), dest.Name)
	default:
		return fmt.Sprintf("backup finished with %d error(s): %s",
			len(result.Errors), strings.Join(messages, "; "))
	}
}

func (o *BackupOrchestrator) logOperation(req *BackupRequest, result *BackupJobResult, dest *destination.Destination, accounts map[string]*AccountBackupResult) {
	operation := oplog.OpBackupLocal
	if dest != nil && dest.IsRemote() {
		operation = oplog.OpBackupRemote
	}

	event := &oplog.Event{
		User:      req.User,
		Operation: operation,
		Success:   result.Success,
		Detail:    result.Message,
		Requestor: req.Requestor,
		JobID:     result.JobID,
	}
	// Keep the request order in the audit record
	for _, account := range req.Accounts {
		if acctResult, ok := accounts[account]; ok {
			event.Accounts = append(event.Accounts, oplog.AccountResult{
				Account:  account,
				Duration: FormatDuration(int64(acctResult.Duration.Seconds())),
			})
		}
	}

	if err := o.deps.OpLog.LogEvent(event); err != nil {
		log.Printf("[Backup] Failed to write operation log for %s: %v", result.JobID, err)
	}
}

// jobLogSink adapts a job log into a subprocess line sink, tagging
// stderr lines distinctly.
func jobLogSink(jl *joblog.Log) proc.LineSink {
	return func(stream, line string) {
		if stream == proc.StreamStderr {
			jl.Linef("[stderr] %s", line)
			return
		}
		jl.Line(line)
	}
}

func closeTransport(tr transport.Transport) {
	if closer, ok := tr.(interface{ Close() error }); ok {
		closer.Close()
	}
}
