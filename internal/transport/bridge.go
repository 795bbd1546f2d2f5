package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/yourusername/account-backup-manager/internal/destination"
)

// BridgeTransport delegates to the host platform's transport subsystem
// through a bridge subprocess. The bridge is invoked once per action and
// emits a single JSON object on stdout; diagnostic detail goes to stderr.
// A non-zero exit or malformed JSON is a transport failure.
type BridgeTransport struct {
	dest    *destination.Destination
	command string
}

// bridgeResult is the structured reply every bridge action must produce
type bridgeResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Entries []Entry `json:"entries,omitempty"`
	Exists  *bool   `json:"exists,omitempty"`
}

// NewBridgeTransport creates a transport backed by the bridge binary
func NewBridgeTransport(dest *destination.Destination, command string) *BridgeTransport {
	return &BridgeTransport{dest: dest, command: command}
}

func (bt *BridgeTransport) run(action string, args ...string) (*bridgeResult, error) {
	argv := append([]string{action, "--destination", bt.dest.ID}, args...)

	cmd := exec.Command(bt.command, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if diag := strings.TrimSpace(stderr.String()); diag != "" {
		log.Printf("[BridgeTransport] %s diagnostics: %s", action, diag)
	}
	if err != nil {
		return nil, fmt.Errorf("bridge %s failed: %w (stderr: %s)", action, err, strings.TrimSpace(stderr.String()))
	}

	result := &bridgeResult{}
	if err := json.Unmarshal(stdout.Bytes(), result); err != nil {
		return nil, fmt.Errorf("bridge %s returned malformed output: %w", action, err)
	}

	if !result.Success {
		return nil, fmt.Errorf("bridge %s failed: %s", action, result.Message)
	}

	return result, nil
}

func (bt *BridgeTransport) resolve(key string) string {
	return resolveKey(bt.dest.Path, key)
}

// Upload sends a local file through the bridge
func (bt *BridgeTransport) Upload(localPath, remoteKey string) error {
	_, err := bt.run("upload", localPath, bt.resolve(remoteKey))
	return err
}

// Download retrieves a remote file through the bridge
func (bt *BridgeTransport) Download(remoteKey, localPath string) error {
	_, err := bt.run("download", bt.resolve(remoteKey), localPath)
	return err
}

// List returns remote entries through the bridge
func (bt *BridgeTransport) List(p string) ([]Entry, error) {
	result, err := bt.run("ls", bt.resolve(p))
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// Delete removes a remote file through the bridge
func (bt *BridgeTransport) Delete(p string) error {
	_, err := bt.run("delete", bt.resolve(p))
	return err
}

// Exists probes a remote path through the bridge's ls action
func (bt *BridgeTransport) Exists(p string) (bool, error) {
	result, err := bt.run("ls", bt.resolve(p))
	if err != nil {
		return false, err
	}
	if result.Exists != nil {
		return *result.Exists, nil
	}
	return len(result.Entries) > 0, nil
}

// Mkdir creates a remote directory through the bridge
func (bt *BridgeTransport) Mkdir(p string) error {
	_, err := bt.run("mkdir", bt.resolve(p))
	return err
}
