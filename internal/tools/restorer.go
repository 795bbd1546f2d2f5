package tools

import (
	"context"
	"fmt"

	"github.com/yourusername/account-backup-manager/internal/proc"
)

// Restore module names understood by the restore tool's disable list
const (
	ModuleHomedir     = "Homedir"
	ModuleMysql       = "Mysql"
	ModuleMail        = "Mail"
	ModuleMailRouting = "MailRouting"
	ModuleSSL         = "SSL"
	ModuleCron        = "Cron"
	ModuleZoneFile    = "ZoneFile"
	ModuleDomains     = "Domains"
)

// RestoreResult is the normalized outcome of one restore-tool invocation
type RestoreResult struct {
	Success  bool
	ExitCode int
	Message  string
}

// Restorer wraps the external account-restore utility
type Restorer struct {
	command string
}

// NewRestorer creates an adapter for the restore tool
func NewRestorer(command string) *Restorer {
	return &Restorer{command: command}
}

// RestoreOptions translate into restore-tool flags
type RestoreOptions struct {
	DisableModules []string
	Force          bool
	NewUser        string
	TargetIP       string
}

// Restore runs the restore tool against an archive, streaming output to
// the sink. Stdin is closed; exit code 0 means success.
func (r *Restorer) Restore(ctx context.Context, archivePath string, opts RestoreOptions, sink proc.LineSink) (*RestoreResult, error) {
	args := []string{archivePath}
	for _, module := range opts.DisableModules {
		args = append(args, "--disable="+module)
	}
	if opts.Force {
		args = append(args, "--force", "--skip-account-verify")
	}
	if opts.NewUser != "" {
		args = append(args, "--newuser="+opts.NewUser)
	}
	if opts.TargetIP != "" {
		args = append(args, "--ip="+opts.TargetIP)
	}

	result, err := proc.Run(ctx, sink, r.command, args...)
	if err != nil {
		return nil, err
	}

	if !result.Ok() {
		return &RestoreResult{
			Success:  false,
			ExitCode: result.ExitCode,
			Message:  fmt.Sprintf("restore tool exited with status %d", result.ExitCode),
		}, nil
	}

	return &RestoreResult{Success: true, Message: "restore completed"}, nil
}
