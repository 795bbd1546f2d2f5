package logging

import (
	"path/filepath"
	"testing"

	"github.com/yourusername/account-backup-manager/internal/config"
)

func TestInitAndCloseLogger(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "app.log")

	_, err := Init(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		File:       logPath,
		MaxSize:    10,
		MaxBackups: 1,
		MaxAge:     1,
	})
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	L().Info("test_log")
	if err := Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
}

func TestSplitComponentTag(t *testing.T) {
	tests := []struct {
		in        string
		component string
		rest      string
	}{
		{"[Backup] Starting job", "Backup", "Starting job"},
		{"[SFTPTransport] Connected successfully", "SFTPTransport", "Connected successfully"},
		{"no tag here", "", "no tag here"},
		{"[] empty tag", "", "[] empty tag"},
		{"[unclosed tag", "", "[unclosed tag"},
	}

	for _, tt := range tests {
		component, rest := splitComponentTag(tt.in)
		if component != tt.component || rest != tt.rest {
			t.Errorf("splitComponentTag(%q) = (%q, %q), want (%q, %q)",
				tt.in, component, rest, tt.component, tt.rest)
		}
	}
}
