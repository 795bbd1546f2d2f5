package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/yourusername/account-backup-manager/internal/proc"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	script := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return script
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) sink(stream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, stream+": "+line)
}

func (c *lineCollector) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func TestArchiverCreateSuccess(t *testing.T) {
	// Account is $1, target dir is $2
	script := writeScript(t, `echo "archiving $1"; touch "$2/pkg-$1.tar.gz"`)
	targetDir := t.TempDir()
	collector := &lineCollector{}

	archiver := NewArchiver(script, map[string]string{"compression": "gzip"})
	result, err := archiver.Create(context.Background(), "alice", targetDir, collector.sink)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if filepath.Base(result.OutputPath) != "pkg-alice.tar.gz" {
		t.Errorf("unexpected output path: %s", result.OutputPath)
	}
	if !strings.Contains(collector.joined(), "archiving alice") {
		t.Errorf("expected streamed output, got %q", collector.joined())
	}
}

func TestArchiverOptionsBecomeFlags(t *testing.T) {
	script := writeScript(t, `echo "$@"; touch "$2/out.tar.gz"`)
	collector := &lineCollector{}

	archiver := NewArchiver(script, map[string]string{"skip-mail": "1", "compression": "gzip"})
	if _, err := archiver.Create(context.Background(), "bob", t.TempDir(), collector.sink); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	output := collector.joined()
	if !strings.Contains(output, "--compression=gzip") || !strings.Contains(output, "--skip-mail=1") {
		t.Errorf("expected option flags in argv, got %q", output)
	}
}

func TestArchiverFailureCleansDirectoryOutputs(t *testing.T) {
	script := writeScript(t, `mkdir "$2/partial"; touch "$2/leftover.log"; exit 1`)
	targetDir := t.TempDir()

	archiver := NewArchiver(script, nil)
	result, err := archiver.Create(context.Background(), "carol", targetDir, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(result.Message, "status 1") {
		t.Errorf("expected exit status in message, got %q", result.Message)
	}

	// Partial directory outputs are removed, plain files are left
	if _, err := os.Stat(filepath.Join(targetDir, "partial")); !os.IsNotExist(err) {
		t.Errorf("expected partial directory to be removed")
	}
	if _, err := os.Stat(filepath.Join(targetDir, "leftover.log")); err != nil {
		t.Errorf("expected file output to be left in place: %v", err)
	}
}

func TestArchiverSpawnFailure(t *testing.T) {
	archiver := NewArchiver(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	_, err := archiver.Create(context.Background(), "dave", t.TempDir(), nil)
	if err == nil {
		t.Fatalf("expected spawn error")
	}
}

func TestRestorerFlags(t *testing.T) {
	script := writeScript(t, `echo "$@"`)
	collector := &lineCollector{}

	restorer := NewRestorer(script)
	result, err := restorer.Restore(context.Background(), "/tmp/backup.tar.gz", RestoreOptions{
		DisableModules: []string{ModuleMail, ModuleZoneFile},
		Force:          true,
		NewUser:        "newbob",
		TargetIP:       "10.0.0.5",
	}, collector.sink)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	output := collector.joined()
	for _, want := range []string{
		"/tmp/backup.tar.gz",
		"--disable=Mail",
		"--disable=ZoneFile",
		"--force",
		"--newuser=newbob",
		"--ip=10.0.0.5",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in argv, got %q", want, output)
		}
	}
}

func TestRestorerExitCodePreserved(t *testing.T) {
	script := writeScript(t, `echo "restore blew up" >&2; exit 7`)
	collector := &lineCollector{}

	restorer := NewRestorer(script)
	result, err := restorer.Restore(context.Background(), "/tmp/backup.tar.gz", RestoreOptions{}, collector.sink)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.ExitCode != 7 {
		t.Errorf("expected exit code 7, got %d", result.ExitCode)
	}
	if !strings.Contains(collector.joined(), proc.StreamStderr+": restore blew up") {
		t.Errorf("expected tagged stderr line, got %q", collector.joined())
	}
}

func TestHotDBBackupProducesArchive(t *testing.T) {
	script := writeScript(t, `touch "$2/db-backup-$1_2024-03-05_14-30-00.tar.gz"`)
	targetDir := t.TempDir()

	hotDB := NewHotDB(script, script)
	result, err := hotDB.Backup(context.Background(), "alice", targetDir, nil)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if !result.Success || result.NoDatabases {
		t.Fatalf("expected produced archive, got %+v", result)
	}
	if filepath.Base(result.OutputPath) != "db-backup-alice_2024-03-05_14-30-00.tar.gz" {
		t.Errorf("unexpected output path: %s", result.OutputPath)
	}
}

func TestHotDBBackupNoDatabases(t *testing.T) {
	script := writeScript(t, `echo "no databases for $1"`)

	hotDB := NewHotDB(script, script)
	result, err := hotDB.Backup(context.Background(), "bob", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if !result.Success || !result.NoDatabases {
		t.Fatalf("expected clean no-databases outcome, got %+v", result)
	}
}

func TestHotDBBackupFailure(t *testing.T) {
	script := writeScript(t, `exit 2`)

	hotDB := NewHotDB(script, script)
	result, err := hotDB.Backup(context.Background(), "carol", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
}

func TestHotDBRestore(t *testing.T) {
	ok := writeScript(t, `exit 0`)
	bad := writeScript(t, `exit 3`)

	if err := NewHotDB(ok, ok).Restore(context.Background(), "alice", "/tmp/db.tar.gz", nil); err != nil {
		t.Fatalf("expected clean restore: %v", err)
	}
	if err := NewHotDB(bad, bad).Restore(context.Background(), "alice", "/tmp/db.tar.gz", nil); err == nil {
		t.Fatalf("expected restore failure")
	}
}
