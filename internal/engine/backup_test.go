package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/account-backup-manager/internal/destination"
	"github.com/yourusername/account-backup-manager/internal/joblog"
	"github.com/yourusername/account-backup-manager/internal/manifest"
	"github.com/yourusername/account-backup-manager/internal/notify"
	"github.com/yourusername/account-backup-manager/internal/proc"
	"github.com/yourusername/account-backup-manager/internal/tools"
	"github.com/yourusername/account-backup-manager/internal/transport"
)

type fakeResolver map[string]*destination.Destination

func (f fakeResolver) Resolve(id string) (*destination.Destination, error) {
	dest, ok := f[id]
	if !ok {
		return nil, destination.ErrNotFound
	}
	if !dest.Enabled {
		return nil, destination.ErrDisabled
	}
	return dest, nil
}

type fakeArchiver struct {
	failFor map[string]bool
	noFile  bool
}

func (f *fakeArchiver) Create(_ context.Context, account, targetDir string, sink proc.LineSink) (*tools.ArchiveResult, error) {
	if sink != nil {
		sink(proc.StreamStdout, "archiving "+account)
	}
	if f.failFor[account] {
		return &tools.ArchiveResult{Success: false, Message: "archive tool exited with status 1"}, nil
	}
	if f.noFile {
		return &tools.ArchiveResult{Success: true, Message: "archive created"}, nil
	}

	path := filepath.Join(targetDir, "pkg-"+account+".tar.gz")
	if err := os.WriteFile(path, []byte("archive payload for "+account), 0600); err != nil {
		return nil, err
	}
	return &tools.ArchiveResult{Success: true, Message: "archive created", OutputPath: path}, nil
}

type fakeHotDB struct {
	fail        bool
	noDatabases bool
	restoreErr  error
	restored    []string
}

func (f *fakeHotDB) Backup(_ context.Context, account, targetDir string, _ proc.LineSink) (*tools.HotDBResult, error) {
	if f.fail {
		return &tools.HotDBResult{Success: false, Message: "database backup tool exited with status 2"}, nil
	}
	if f.noDatabases {
		return &tools.HotDBResult{Success: true, NoDatabases: true}, nil
	}

	path := filepath.Join(targetDir, DBBackupFilename(account, time.Now()))
	if err := os.WriteFile(path, []byte("db dump"), 0600); err != nil {
		return nil, err
	}
	return &tools.HotDBResult{Success: true, OutputPath: path}, nil
}

func (f *fakeHotDB) Restore(_ context.Context, account, archivePath string, _ proc.LineSink) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, archivePath)
	return nil
}

type recordingNotifier struct {
	kinds []notify.Kind
}

func (n *recordingNotifier) Dispatch(kind notify.Kind, _ string, _ map[string]interface{}) {
	n.kinds = append(n.kinds, kind)
}

type fakeCanceller struct {
	pending bool
	checks  int
}

func (c *fakeCanceller) Request(string) error { return nil }

func (c *fakeCanceller) CheckAndClear(string) (bool, error) {
	c.checks++
	if c.pending {
		c.pending = false
		return true, nil
	}
	return false, nil
}

type manifestRecorder struct {
	entries []*manifest.Entry
}

func (m *manifestRecorder) Append(entry *manifest.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

// failingUploadTransport delegates to a real transport but rejects
// uploads whose remote key contains failSubstring.
type failingUploadTransport struct {
	transport.Transport
	failSubstring string
}

func (f *failingUploadTransport) Upload(localPath, remoteKey string) error {
	if strings.Contains(remoteKey, f.failSubstring) {
		return fmt.Errorf("connection reset during upload of %s", remoteKey)
	}
	return f.Transport.Upload(localPath, remoteKey)
}

func noTransport(t *testing.T) TransportFactory {
	return func(dest *destination.Destination) (transport.Transport, error) {
		t.Errorf("transport unexpectedly requested for destination %s", dest.ID)
		return nil, os.ErrInvalid
	}
}

func TestLocalBackupProducesCanonicalArchives(t *testing.T) {
	destDir := t.TempDir()
	notifier := &recordingNotifier{}
	recorder := &manifestRecorder{}

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: destDir}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		Manifest:     recorder,
		Notifier:     notifier,
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice", "bob"},
		DestinationID: "primary",
		User:          "root",
		Retention:     3,
	})

	if !result.Success || result.Cancelled {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.Accounts) != 2 {
		t.Fatalf("expected 2 account results, got %d", len(result.Accounts))
	}

	for _, account := range []string{"alice", "bob"} {
		acct := result.Accounts[account]
		if acct == nil || !acct.Success {
			t.Fatalf("expected %s to succeed: %+v", account, acct)
		}

		parsed, _, err := ParseBackupFilename(acct.Filename)
		if err != nil || parsed != account {
			t.Errorf("filename %q not canonical for %s: %v", acct.Filename, account, err)
		}

		path := filepath.Join(destDir, account, acct.Filename)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("archive missing at %s: %v", path, err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
		}
	}

	if len(recorder.entries) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(recorder.entries))
	}
	if recorder.entries[0].RetentionCount != 3 || recorder.entries[0].DestinationID != "primary" {
		t.Errorf("manifest entry missing metadata: %+v", recorder.entries[0])
	}

	if len(notifier.kinds) != 2 || notifier.kinds[0] != notify.KindBackupStart || notifier.kinds[1] != notify.KindBackupSuccess {
		t.Errorf("unexpected notification sequence: %v", notifier.kinds)
	}
}

func TestBackupUnknownDestinationFailsBeforeAnyWork(t *testing.T) {
	staging := t.TempDir()

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		StagingDir:   staging,
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice"},
		DestinationID: "missing",
		User:          "root",
	})

	if result.Success {
		t.Fatalf("expected failure for unknown destination")
	}
	if len(result.Accounts) != 0 {
		t.Fatalf("expected zero account results, got %d", len(result.Accounts))
	}
	if !strings.Contains(result.Message, string(CodeInvalidDestination)) {
		t.Errorf("expected InvalidDestination in message, got %q", result.Message)
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		t.Fatalf("failed to read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no staged files, found %d entries", len(entries))
	}
}

func TestBackupDisabledDestinationFailsBeforeAnyWork(t *testing.T) {
	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"old": {ID: "old", Type: "sftp", Enabled: false}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice"},
		DestinationID: "old",
		User:          "root",
	})

	if result.Success || len(result.Accounts) != 0 {
		t.Fatalf("expected immediate failure, got %+v", result)
	}
	if !strings.Contains(result.Message, string(CodeDestinationDisabled)) {
		t.Errorf("expected DestinationDisabled in message, got %q", result.Message)
	}
}

func TestBackupContinuesAfterAccountFailure(t *testing.T) {
	destDir := t.TempDir()

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: destDir}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{failFor: map[string]bool{"bob": true}},
		Notifier:     &recordingNotifier{},
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice", "bob", "carol"},
		DestinationID: "primary",
		User:          "root",
	})

	if result.Success {
		t.Fatalf("expected aggregate failure when one account fails")
	}
	if len(result.Accounts) != 3 {
		t.Fatalf("expected all 3 accounts processed, got %d", len(result.Accounts))
	}
	if result.Accounts["alice"].Success != true || result.Accounts["carol"].Success != true {
		t.Errorf("expected alice and carol to succeed")
	}
	if result.Accounts["bob"].Success {
		t.Errorf("expected bob to fail")
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", result.Errors)
	}
}

func TestBackupCancellationSkipsRemainingAccounts(t *testing.T) {
	destDir := t.TempDir()
	jobLogDir := t.TempDir()
	notifier := &recordingNotifier{}

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: destDir}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		Notifier:     notifier,
		Cancels:      &fakeCanceller{pending: true},
		StagingDir:   t.TempDir(),
		JobLogDir:    jobLogDir,
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice", "bob", "carol"},
		DestinationID: "primary",
		User:          "root",
		JobID:         "job-cancel",
	})

	if !result.Cancelled {
		t.Fatalf("expected cancelled result")
	}
	if result.Success {
		t.Fatalf("cancelled job must not report success")
	}
	if len(result.Accounts) != 1 {
		t.Fatalf("expected exactly 1 account result, got %d", len(result.Accounts))
	}

	lines, err := joblog.Read(jobLogDir, "job-cancel")
	if err != nil {
		t.Fatalf("failed to read job log: %v", err)
	}
	var foundSkip bool
	for _, line := range lines {
		if strings.Contains(line, "skipping remaining") && strings.Contains(line, "bob") && strings.Contains(line, "carol") {
			foundSkip = true
		}
	}
	if !foundSkip {
		t.Errorf("expected skipped accounts in job log, got %v", lines)
	}

	// Start fired, but neither success nor failure for a cancelled job
	for _, kind := range notifier.kinds {
		if kind == notify.KindBackupSuccess || kind == notify.KindBackupFailure {
			t.Errorf("unexpected terminal notification %s for cancelled job", kind)
		}
	}
}

func TestRemoteBackupUploadsAndCleansStaging(t *testing.T) {
	remoteDir := t.TempDir()
	stagingDir := t.TempDir()

	factory := func(dest *destination.Destination) (transport.Transport, error) {
		return transport.NewLocalTransport(&destination.Destination{ID: dest.ID, Type: "local", Path: remoteDir}), nil
	}

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"offsite": {ID: "offsite", Name: "Offsite", Type: "sftp", Enabled: true, Path: "/srv/backups"}},
		Transports:   factory,
		Archiver:     &fakeArchiver{},
		Notifier:     &recordingNotifier{},
		StagingDir:   stagingDir,
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice"},
		DestinationID: "offsite",
		User:          "root",
		JobID:         "job-remote",
	})

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	acct := result.Accounts["alice"]
	if _, err := os.Stat(filepath.Join(remoteDir, "alice", acct.Filename)); err != nil {
		t.Fatalf("expected uploaded archive on remote side: %v", err)
	}

	// Nothing staged may survive the upload
	if _, err := os.Stat(filepath.Join(stagingDir, "job-remote", "alice")); !os.IsNotExist(err) {
		t.Errorf("expected staged account dir to be removed, stat err=%v", err)
	}
}

func TestRemoteBackupPartialUploadFailureStillCleansStaging(t *testing.T) {
	remoteDir := t.TempDir()
	stagingDir := t.TempDir()

	// The main archive uploads fine, the database dump does not
	factory := func(dest *destination.Destination) (transport.Transport, error) {
		return &failingUploadTransport{
			Transport:     transport.NewLocalTransport(&destination.Destination{ID: dest.ID, Type: "local", Path: remoteDir}),
			failSubstring: "db-backup-",
		}, nil
	}

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"offsite": {ID: "offsite", Name: "Offsite", Type: "sftp", Enabled: true, Path: "/srv/backups"}},
		Transports:   factory,
		Archiver:     &fakeArchiver{},
		HotDB:        &fakeHotDB{},
		HotDBBackups: true,
		Notifier:     &recordingNotifier{},
		StagingDir:   stagingDir,
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice"},
		DestinationID: "offsite",
		User:          "root",
		JobID:         "job-partial",
	})

	if result.Success {
		t.Fatalf("expected failure when an upload fails, got %+v", result)
	}
	if !strings.Contains(result.Accounts["alice"].Message, string(CodeTransportFailed)) {
		t.Errorf("expected TransportFailed, got %q", result.Accounts["alice"].Message)
	}

	// The archive uploaded before the failure must be on the remote side
	if _, err := os.Stat(filepath.Join(remoteDir, "alice", result.Accounts["alice"].Filename)); err != nil {
		t.Errorf("expected main archive uploaded before the failure: %v", err)
	}

	// Staged copies are removed even after a partial upload failure
	if _, err := os.Stat(filepath.Join(stagingDir, "job-partial", "alice")); !os.IsNotExist(err) {
		t.Errorf("expected staged account dir to be removed, stat err=%v", err)
	}
}

func TestBackupCancelDuringFinalAccountClearsFlag(t *testing.T) {
	destDir := t.TempDir()
	canceller := &fakeCanceller{pending: true}

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: destDir}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		Notifier:     &recordingNotifier{},
		Cancels:      canceller,
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice"},
		DestinationID: "primary",
		User:          "root",
		JobID:         "job-late-cancel",
	})

	// Nothing was left to skip, so the job completes normally
	if !result.Success || result.Cancelled {
		t.Fatalf("expected completed job, got %+v", result)
	}

	// The flag must not survive the job
	if canceller.pending {
		t.Errorf("expected cancellation flag to be cleared at job end")
	}
	if canceller.checks != 1 {
		t.Errorf("expected exactly 1 cancellation check, got %d", canceller.checks)
	}
}

func TestBackupEmptyAccountListIsValidationFailure(t *testing.T) {
	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: t.TempDir()}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		DestinationID: "primary",
		User:          "root",
	})

	if result.Success {
		t.Fatalf("expected failure for empty account list")
	}
	if result.Message != "no accounts requested" {
		t.Errorf("unexpected message %q", result.Message)
	}
	// The destination was never the problem
	for _, e := range result.Errors {
		if strings.Contains(e, string(CodeInvalidDestination)) {
			t.Errorf("validation failure must not carry a destination code: %q", e)
		}
	}
}

func TestBackupHotDBFailureRemovesMainArtifact(t *testing.T) {
	destDir := t.TempDir()

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: destDir}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		HotDB:        &fakeHotDB{fail: true},
		HotDBBackups: true,
		Notifier:     &recordingNotifier{},
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice"},
		DestinationID: "primary",
		User:          "root",
	})

	if result.Success {
		t.Fatalf("expected failure when database backup fails")
	}
	if !strings.Contains(result.Accounts["alice"].Message, string(CodeDatabaseBackupFailed)) {
		t.Errorf("expected DatabaseBackupFailed, got %q", result.Accounts["alice"].Message)
	}

	// The main archive must not be left behind claiming success
	entries, err := os.ReadDir(filepath.Join(destDir, "alice"))
	if err != nil {
		t.Fatalf("failed to read account dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "backup-") {
			t.Errorf("orphaned archive left behind: %s", entry.Name())
		}
	}
}

func TestBackupArtifactMissingWhenToolLies(t *testing.T) {
	destDir := t.TempDir()

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: destDir}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{noFile: true},
		Notifier:     &recordingNotifier{},
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	result := orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice"},
		DestinationID: "primary",
		User:          "root",
	})

	if result.Success {
		t.Fatalf("expected failure when no artifact is produced")
	}
	if !strings.Contains(result.Accounts["alice"].Message, string(CodeArtifactMissing)) {
		t.Errorf("expected ArtifactMissing, got %q", result.Accounts["alice"].Message)
	}
}

func TestBackupProgressCallback(t *testing.T) {
	destDir := t.TempDir()
	var progress [][2]int

	orch := NewBackupOrchestrator(BackupDeps{
		Destinations: fakeResolver{"primary": {ID: "primary", Name: "Primary", Type: "local", Enabled: true, Path: destDir}},
		Transports:   noTransport(t),
		Archiver:     &fakeArchiver{},
		Notifier:     &recordingNotifier{},
		StagingDir:   t.TempDir(),
		JobLogDir:    t.TempDir(),
	})

	orch.Run(context.Background(), &BackupRequest{
		Accounts:      []string{"alice", "bob"},
		DestinationID: "primary",
		User:          "root",
		Progress: func(completed, total int) {
			progress = append(progress, [2]int{completed, total})
		},
	})

	want := [][2]int{{1, 2}, {2, 2}}
	if len(progress) != len(want) {
		t.Fatalf("expected %d progress calls, got %d", len(want), len(progress))
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress call %d = %v, want %v", i, progress[i], want[i])
		}
	}
}
