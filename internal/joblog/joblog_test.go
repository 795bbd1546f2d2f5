package joblog

import (
	"strings"
	"testing"
)

func TestLogAppendAndRead(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, "job-1234")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	l.Line("Starting backup for 2 accounts")
	l.Linef("Account %s archived", "alice")

	// Readable while the job is still running
	lines, err := Read(dir, "job-1234")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[1], "Account alice archived") {
		t.Fatalf("unexpected line: %q", lines[1])
	}

	if err := l.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Reopen appends instead of truncating
	l2, err := Open(dir, "job-1234")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	l2.Line("Job complete")
	l2.Close()

	lines, err = Read(dir, "job-1234")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines after reopen, got %d", len(lines))
	}
}

func TestReadMissingLog(t *testing.T) {
	if _, err := Read(t.TempDir(), "nope"); err == nil {
		t.Fatalf("expected error for missing job log")
	}
}
