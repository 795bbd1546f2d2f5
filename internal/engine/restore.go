package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/account-backup-manager/internal/destination"
	"github.com/yourusername/account-backup-manager/internal/joblog"
	"github.com/yourusername/account-backup-manager/internal/notify"
	"github.com/yourusername/account-backup-manager/internal/oplog"
	"github.com/yourusername/account-backup-manager/internal/proc"
	"github.com/yourusername/account-backup-manager/internal/tools"
)

// RestoreTool runs the external account restore utility
type RestoreTool interface {
	Restore(ctx context.Context, archivePath string, opts tools.RestoreOptions, sink proc.LineSink) (*tools.RestoreResult, error)
}

// RestoreModules toggles which parts of an account get restored. A
// disabled toggle becomes a disable flag for the restore tool.
type RestoreModules struct {
	Homedir    bool `json:"homedir"`
	Mysql      bool `json:"mysql"`
	Mail       bool `json:"mail"`
	SSL        bool `json:"ssl"`
	Cron       bool `json:"cron"`
	DNS        bool `json:"dns"`
	Subdomains bool `json:"subdomains"`
}

// AllRestoreModules enables every module
func AllRestoreModules() RestoreModules {
	return RestoreModules{
		Homedir: true, Mysql: true, Mail: true,
		SSL: true, Cron: true, DNS: true, Subdomains: true,
	}
}

func (m RestoreModules) disableList() []string {
	var disabled []string
	if !m.Homedir {
		disabled = append(disabled, tools.ModuleHomedir)
	}
	if !m.Mysql {
		disabled = append(disabled, tools.ModuleMysql)
	}
	if !m.Mail {
		disabled = append(disabled, tools.ModuleMail, tools.ModuleMailRouting)
	}
	if !m.SSL {
		disabled = append(disabled, tools.ModuleSSL)
	}
	if !m.Cron {
		disabled = append(disabled, tools.ModuleCron)
	}
	if !m.DNS {
		disabled = append(disabled, tools.ModuleZoneFile)
	}
	if !m.Subdomains {
		disabled = append(disabled, tools.ModuleDomains)
	}
	return disabled
}

// RestoreRequest describes one restore job
type RestoreRequest struct {
	// ArchiveRef is the archive's path or remote key within the
	// destination, including the account directory when present.
	ArchiveRef    string         `json:"archive_ref"`
	DestinationID string         `json:"destination_id"`
	Modules       RestoreModules `json:"modules"`
	Force         bool           `json:"force"`
	NewUser       string         `json:"new_user,omitempty"`
	TargetIP      string         `json:"target_ip,omitempty"`
	User          string         `json:"user"`
	RestoreID     string         `json:"restore_id,omitempty"`
	Requestor     string         `json:"requestor,omitempty"`
}

// RestoreJobResult is the outcome of one restore job
type RestoreJobResult struct {
	RestoreID string        `json:"restore_id"`
	Account   string        `json:"account"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Warnings  []string      `json:"warnings,omitempty"`
	LogPath   string        `json:"log_path,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RestoreDeps carries the restore orchestrator's collaborators
type RestoreDeps struct {
	Destinations DestinationResolver
	Transports   TransportFactory
	Restorer     RestoreTool
	HotDB        HotDBTool
	Notifier     Notifier
	OpLog        oplog.Logger
	StagingDir   string
	JobLogDir    string
}

// RestoreOrchestrator drives the single-account restore workflow:
// retrieve, verify, restore, optional database load, cleanup, audit.
// There is no mid-job cancellation; a restore is one unit of work.
type RestoreOrchestrator struct {
	deps RestoreDeps
}

// NewRestoreOrchestrator creates a restore orchestrator
func NewRestoreOrchestrator(deps RestoreDeps) *RestoreOrchestrator {
	if deps.OpLog == nil {
		deps.OpLog = oplog.NopLogger{}
	}
	return &RestoreOrchestrator{deps: deps}
}

// Run executes one restore job. Every failure path returns a structured
// result, never an error.
func (o *RestoreOrchestrator) Run(ctx context.Context, req *RestoreRequest) *RestoreJobResult {
	restoreID := req.RestoreID
	if restoreID == "" {
		restoreID = uuid.New().String()
	}

	start := time.Now()
	result := &RestoreJobResult{RestoreID: restoreID}

	jl, err := joblog.Open(o.deps.JobLogDir, restoreID)
	if err != nil {
		log.Printf("[Restore] Failed to open job log for %s: %v", restoreID, err)
		result.Message = "failed to open job log"
		return result
	}
	defer jl.Close()
	result.LogPath = jl.Path()

	fail := func(err error, dest *destination.Destination) *RestoreJobResult {
		result.Success = false
		result.Message = err.Error()
		result.Duration = time.Since(start)
		jl.Linef("Restore failed: %v", err)
		o.logOperation(req, result, dest)
		if dest != nil {
			o.deps.Notifier.Dispatch(notify.KindRestoreFailure, req.User, map[string]interface{}{
				"restore_id": restoreID,
				"account":    result.Account,
				"message":    result.Message,
			})
		}
		return result
	}

	// Account name comes from the filename alone; a name that does not
	// parse fails before any retrieval is attempted.
	account, _, err := ParseBackupFilename(path.Base(req.ArchiveRef))
	if err != nil {
		return fail(err, nil)
	}
	result.Account = account

	dest, err := o.resolveDestination(req.DestinationID)
	if err != nil {
		return fail(err, nil)
	}

	jl.Linef("Starting restore of account %s from %s (%s)", account, dest.Name, dest.Type)

	staged, archivePath, err := o.retrieve(jl, dest, restoreID, req.ArchiveRef)
	if err != nil {
		return fail(err, dest)
	}
	// Only temp-staged copies are ever deleted; archives already in
	// final local position are left alone.
	defer o.cleanupStaged(jl, staged)

	if err := VerifyArchive(archivePath); err != nil {
		return fail(err, dest)
	}
	jl.Line("Archive verified")

	dbArchivePath := o.retrieveCompanion(jl, dest, restoreID, req.ArchiveRef, &staged)

	o.deps.Notifier.Dispatch(notify.KindRestoreStart, req.User, map[string]interface{}{
		"restore_id": restoreID,
		"account":    account,
		"archive":    path.Base(req.ArchiveRef),
	})

	opts := tools.RestoreOptions{
		DisableModules: req.Modules.disableList(),
		Force:          req.Force,
		NewUser:        req.NewUser,
		TargetIP:       req.TargetIP,
	}

	jl.Linef("Running restore tool for %s", account)
	toolResult, err := o.deps.Restorer.Restore(ctx, archivePath, opts, jobLogSink(jl))
	if err != nil {
		return fail(wrapError(CodeProcessSpawnFailed, err, "restore tool could not be started"), dest)
	}
	if !toolResult.Success {
		restoreErr := &Error{
			Code:     CodeRestoreToolFailed,
			Account:  account,
			Message:  toolResult.Message,
			ExitCode: toolResult.ExitCode,
		}
		return fail(restoreErr, dest)
	}

	result.Success = true
	result.Message = "account " + account + " restored"

	// The main archive may embed its own database dumps, so a failed
	// companion load degrades the message without reversing success.
	if dbArchivePath != "" && req.Modules.Mysql && o.deps.HotDB != nil {
		jl.Linef("Restoring databases for %s", account)
		if err := o.deps.HotDB.Restore(ctx, account, dbArchivePath, jobLogSink(jl)); err != nil {
			warning := wrapError(CodeDatabaseRestoreFailed, err, "database restore failed for %s", account)
			jl.Linef("Warning: %v", warning)
			result.Warnings = append(result.Warnings, warning.Error())
			result.Message += " (database restore failed)"
		}
	}

	result.Duration = time.Since(start)
	jl.Linef("Restore of %s finished in %s", account, FormatDuration(int64(result.Duration.Seconds())))

	o.logOperation(req, result, dest)
	o.deps.Notifier.Dispatch(notify.KindRestoreSuccess, req.User, map[string]interface{}{
		"restore_id": restoreID,
		"account":    account,
		"message":    result.Message,
	})

	return result
}

func (o *RestoreOrchestrator) resolveDestination(id string) (*destination.Destination, error) {
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

// retrieve makes the archive available on the local filesystem. For a
// local destination the stored file is referenced in place; for remote
// destinations it is downloaded into a job-private staging directory.
// The returned slice lists temp-staged paths owed a cleanup.
func (o *RestoreOrchestrator) retrieve(jl *joblog.Log, dest *destination.Destination, restoreID, ref string) (staged []string, archivePath string, err error) {
	if !dest.IsRemote() {
		localPath := ref
		if !filepath.IsAbs(localPath) {
			localPath = filepath.Join(dest.Path, ref)
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, "", wrapError(CodeRetrievalFailed, err, "archive %s not found on destination", ref)
		}
		return nil, localPath, nil
	}

	tr, err := o.deps.Transports(dest)
	if err != nil {
		return nil, "", wrapError(CodeTransportFailed, err, "cannot initialize transport for %s", dest.ID)
	}
	defer closeTransport(tr)

	stageDir := filepath.Join(o.deps.StagingDir, restoreID)
	if err := os.MkdirAll(stageDir, 0700); err != nil {
		return nil, "", wrapError(CodeDirectoryCreateFailed, err, "cannot create staging directory")
	}

	localPath := filepath.Join(stageDir, path.Base(ref))
	jl.Linef("Downloading %s", path.Base(ref))
	if err := tr.Download(ref, localPath); err != nil {
		os.RemoveAll(stageDir)
		return nil, "", wrapError(CodeRetrievalFailed, err, "download of %s failed", ref)
	}

	return []string{localPath}, localPath, nil
}

// retrieveCompanion fetches the database archive matching the main one,
// best effort. A missing or unfetchable companion is a log line, not a
// failure.
func (o *RestoreOrchestrator) retrieveCompanion(jl *joblog.Log, dest *destination.Destination, restoreID, ref string, staged *[]string) string {
	companion, err := CompanionDBFilename(path.Base(ref))
	if err != nil {
		return ""
	}
	companionRef := path.Join(path.Dir(ref), companion)

	if !dest.IsRemote() {
		localPath := companionRef
		if !filepath.IsAbs(localPath) {
			localPath = filepath.Join(dest.Path, companionRef)
		}
		if _, err := os.Stat(localPath); err != nil {
			return ""
		}
		jl.Linef("Found database archive %s", companion)
		return localPath
	}

	tr, err := o.deps.Transports(dest)
	if err != nil {
		jl.Linef("Warning: cannot probe for database archive: %v", err)
		return ""
	}
	defer closeTransport(tr)

	exists, err := tr.Exists(companionRef)
	if err != nil || !exists {
		return ""
	}

	localPath := filepath.Join(o.deps.StagingDir, restoreID, companion)
	jl.Linef("Downloading database archive %s", companion)
	if err := tr.Download(companionRef, localPath); err != nil {
		jl.Linef("Warning: failed to download database archive %s: %v", companion, err)
		return ""
	}

	*staged = append(*staged, localPath)
	return localPath
}

func (o *RestoreOrchestrator) cleanupStaged(jl *joblog.Log, staged []string) {
	dirs := make(map[string]bool)
	for _, p := range staged {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			jl.Linef("Warning: failed to remove staged file %s: %v", p, err)
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if strings.HasPrefix(dir, o.deps.StagingDir) {
			os.Remove(dir)
		}
	}
}

func (o *RestoreOrchestrator) logOperation(req *RestoreRequest, result *RestoreJobResult, dest *destination.Destination) {
	operation := oplog.OpRestoreLocal
	if dest != nil && dest.IsRemote() {
		operation = oplog.OpRestoreRemote
	}

	event := &oplog.Event{
		User:      req.User,
		Operation: operation,
		Success:   result.Success,
		Detail:    result.Message,
		Requestor: req.Requestor,
		JobID:     result.RestoreID,
	}
	if result.Account != "" {
		event.Accounts = []oplog.AccountResult{{
			Account:  result.Account,
			Duration: FormatDuration(int64(result.Duration.Seconds())),
		}}
	}

	if err := o.deps.OpLog.LogEvent(event); err != nil {
		log.Printf("[Restore] Failed to write operation log for %s: %v", result.RestoreID, err)
	}
}
