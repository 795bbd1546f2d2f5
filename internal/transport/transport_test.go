package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yourusername/account-backup-manager/internal/destination"
)

func TestResolveKey(t *testing.T) {
	cases := []struct {
		base, key, want string
	}{
		{"/backups", "alice/archive.tar.gz", "/backups/alice/archive.tar.gz"},
		{"/backups", "/backups/alice/archive.tar.gz", "/backups/alice/archive.tar.gz"},
		{"/backups/", "alice", "/backups/alice"},
		{"", "alice", "alice"},
		{"/backups", "/alice", "/backups/alice"},
	}

	for _, tc := range cases {
		if got := resolveKey(tc.base, tc.key); got != tc.want {
			t.Errorf("resolveKey(%q, %q) = %q, want %q", tc.base, tc.key, got, tc.want)
		}
	}
}

func TestLocalTransportRoundTrip(t *testing.T) {
	base := filepath.Join(t.TempDir(), "dest")
	staging := t.TempDir()

	lt := NewLocalTransport(&destination.Destination{ID: "d1", Type: "local", Path: base})

	if err := lt.Mkdir("alice"); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	// Idempotent
	if err := lt.Mkdir("alice"); err != nil {
		t.Fatalf("second mkdir failed: %v", err)
	}

	src := filepath.Join(staging, "archive.tar.gz")
	if err := os.WriteFile(src, []byte("payload"), 0600); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}

	if err := lt.Upload(src, "alice/archive.tar.gz"); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	exists, err := lt.Exists("alice/archive.tar.gz")
	if err != nil || !exists {
		t.Fatalf("expected uploaded file to exist, got exists=%v err=%v", exists, err)
	}

	entries, err := lt.List("alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "archive.tar.gz" {
		t.Fatalf("unexpected listing: %+v", entries)
	}

	out := filepath.Join(staging, "restored.tar.gz")
	if err := lt.Download("alice/archive.tar.gz", out); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "payload" {
		t.Fatalf("downloaded content mismatch: %q err=%v", data, err)
	}

	if err := lt.Delete("alice/archive.tar.gz"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	exists, err = lt.Exists("alice/archive.tar.gz")
	if err != nil || exists {
		t.Fatalf("expected file to be gone, got exists=%v err=%v", exists, err)
	}
}

func TestNewTransportUnknownTypeWithoutBridge(t *testing.T) {
	_, err := New(&destination.Destination{ID: "d1", Type: "ftp"}, Options{})
	if err == nil {
		t.Fatalf("expected error for ftp destination without a bridge command")
	}
}

func writeBridgeScript(t *testing.T, body string) string {
	t.Helper()

	script := filepath.Join(t.TempDir(), "bridge.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write bridge script: %v", err)
	}
	return script
}

func TestBridgeTransportSuccess(t *testing.T) {
	script := writeBridgeScript(t, `echo '{"success": true, "message": "ok", "exists": true}'`)

	bt := NewBridgeTransport(&destination.Destination{ID: "ftp1", Type: "ftp", Path: "/srv"}, script)

	exists, err := bt.Exists("alice/archive.tar.gz")
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if !exists {
		t.Fatalf("expected exists=true")
	}

	if err := bt.Mkdir("alice"); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
}

func TestBridgeTransportReportedFailure(t *testing.T) {
	script := writeBridgeScript(t, `echo '{"success": false, "message": "permission denied"}'`)

	bt := NewBridgeTransport(&destination.Destination{ID: "ftp1", Type: "ftp", Path: "/srv"}, script)

	if err := bt.Delete("alice/archive.tar.gz"); err == nil {
		t.Fatalf("expected error for reported bridge failure")
	}
}

func TestBridgeTransportMalformedOutput(t *testing.T) {
	script := writeBridgeScript(t, `echo 'not json'`)

	bt := NewBridgeTransport(&destination.Destination{ID: "ftp1", Type: "ftp", Path: "/srv"}, script)

	if err := bt.Mkdir("alice"); err == nil {
		t.Fatalf("expected error for malformed bridge output")
	}
}

func TestBridgeTransportNonZeroExit(t *testing.T) {
	script := writeBridgeScript(t, `echo 'boom' >&2; exit 3`)

	bt := NewBridgeTransport(&destination.Destination{ID: "ftp1", Type: "ftp", Path: "/srv"}, script)

	if err := bt.Mkdir("alice"); err == nil {
		t.Fatalf("expected error for non-zero bridge exit")
	}
}
