package transport

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/yourusername/account-backup-manager/internal/destination"
	sshclient "github.com/yourusername/account-backup-manager/internal/ssh"
	xssh "golang.org/x/crypto/ssh"
)

// SFTPTransport stores archives on a remote SFTP server
type SFTPTransport struct {
	dest       *destination.Destination
	keys       sshclient.KeyDecrypter
	sshClient  *xssh.Client
	sftpClient *sftp.Client
}

// NewSFTPTransport creates a new SFTP transport. keys may be nil when
// no destination uses encrypted private keys.
func NewSFTPTransport(dest *destination.Destination, keys sshclient.KeyDecrypter) (*SFTPTransport, error) {
	st := &SFTPTransport{dest: dest, keys: keys}

	// Connect on initialization
	if err := st.connect(); err != nil {
		return nil, err
	}

	return st, nil
}

func (st *SFTPTransport) connect() error {
	creds := st.dest.Credentials

	knownHostsPath := creds["known_hosts_path"]
	if knownHostsPath == "" {
		knownHostsPath = "./data/known_hosts"
	}

	trustOnFirstUse := creds["trust_on_first_use"] != "false"

	hostKeyCallback, err := sshclient.NewHostKeyCallback(knownHostsPath, trustOnFirstUse)
	if err != nil {
		return fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &xssh.ClientConfig{
		User:            creds["username"],
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	if keyPath := creds["key_path"]; keyPath != "" {
		keyData, err := sshclient.ReadPrivateKeyBytes(keyPath, st.keys)
		if err != nil {
			return fmt.Errorf("failed to read SSH key: %w", err)
		}

		signer, err := xssh.ParsePrivateKey(keyData)
		if err != nil {
			return fmt.Errorf("failed to parse SSH key: %w", err)
		}

		sshConfig.Auth = []xssh.AuthMethod{xssh.PublicKeys(signer)}
	} else if password := creds["password"]; password != "" {
		sshConfig.Auth = []xssh.AuthMethod{xssh.Password(password)}
	} else {
		return fmt.Errorf("no authentication method provided for SFTP destination %s", st.dest.ID)
	}

	port := 22
	if p, err := strconv.Atoi(creds["port"]); err == nil && p > 0 {
		port = p
	}

	addr := fmt.Sprintf("%s:%d", creds["host"], port)
	log.Printf("[SFTPTransport] Connecting to %s...", addr)

	sshConn, err := xssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH server: %w", err)
	}
	st.sshClient = sshConn

	sftpClient, err := sftp.NewClient(sshConn,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshConn.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	st.sftpClient = sftpClient

	if err := st.sftpClient.MkdirAll(st.dest.Path); err != nil {
		st.Close()
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	log.Printf("[SFTPTransport] Connected successfully")
	return nil
}

// Close closes the SFTP and SSH connections
func (st *SFTPTransport) Close() error {
	if st.sftpClient != nil {
		st.sftpClient.Close()
	}
	if st.sshClient != nil {
		st.sshClient.Close()
	}
	return nil
}

func (st *SFTPTransport) resolve(key string) string {
	return resolveKey(st.dest.Path, key)
}

// Upload uploads a local file to the SFTP destination
func (st *SFTPTransport) Upload(localPath, remoteKey string) error {
	destPath := st.resolve(remoteKey)
	log.Printf("[SFTPTransport] Uploading %s to %s", localPath, destPath)

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	if err := st.sftpClient.MkdirAll(path.Dir(destPath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	dst, err := st.sftpClient.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		st.sftpClient.Remove(destPath) // Cleanup on error
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	return nil
}

// Download downloads a file from the SFTP destination
func (st *SFTPTransport) Download(remoteKey, localPath string) error {
	srcPath := st.resolve(remoteKey)
	log.Printf("[SFTPTransport] Downloading %s to %s", srcPath, localPath)

	src, err := st.sftpClient.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}

	return nil
}

// List returns the entries under a remote path
func (st *SFTPTransport) List(p string) ([]Entry, error) {
	entries, err := st.sftpClient.ReadDir(st.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []Entry
	for _, entry := range entries {
		files = append(files, Entry{
			Name:      entry.Name(),
			SizeBytes: entry.Size(),
			ModTime:   entry.ModTime().Unix(),
			IsDir:     entry.IsDir(),
		})
	}

	return files, nil
}

// Delete removes a file from the SFTP destination
func (st *SFTPTransport) Delete(p string) error {
	destPath := st.resolve(p)
	log.Printf("[SFTPTransport] Deleting %s", destPath)

	if err := st.sftpClient.Remove(destPath); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}

	return nil
}

// Exists reports whether a file exists at the SFTP destination
func (st *SFTPTransport) Exists(p string) (bool, error) {
	_, err := st.sftpClient.Stat(st.resolve(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Mkdir creates a remote directory, succeeding when it already exists
func (st *SFTPTransport) Mkdir(p string) error {
	if err := st.sftpClient.MkdirAll(st.resolve(p)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}
	return nil
}
