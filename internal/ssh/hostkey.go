package ssh

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NewHostKeyCallback verifies remote destination hosts against a
// known_hosts file. With trustOnFirstUse, a host not yet in the file is
// recorded and accepted; a key that differs from the recorded one is
// always rejected so archives never flow to an impostor. An empty path
// disables verification entirely.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		if len(keyErr.Want) > 0 {
			log.Printf("[SSH] Host key mismatch for destination host %s (%s)",
				hostname, ssh.FingerprintSHA256(key))
			return fmt.Errorf("host key for %s changed, refusing transfer: %w", hostname, err)
		}

		if !trustOnFirstUse {
			return fmt.Errorf("host %s is not in %s and trust_on_first_use is disabled", hostname, knownHostsPath)
		}

		if err := recordHostKey(knownHostsPath, hostname, remote, key); err != nil {
			return err
		}

		log.Printf("[SSH] Trusting new destination host %s (%s)",
			hostname, ssh.FingerprintSHA256(key))
		return nil
	}, nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

// recordHostKey appends the key for both the dialed name and the
// resolved address, so later lookups match whichever form the client
// presents.
func recordHostKey(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	addresses := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if addr := knownhosts.Normalize(remote.String()); addr != addresses[0] {
			addresses = append(addresses, addr)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintln(file, knownhosts.Line(addresses, key)); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}
