package ssh

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const encryptedKeyHeader = "ENC1\n"

// KeyDecrypter decrypts ENC1-encoded private key material. The crypto
// package's EncryptionManager satisfies it.
type KeyDecrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// ReadPrivateKeyBytes loads a private key for destination
// authentication. Keys stored with the ENC1 header are decrypted with
// the supplied decrypter; plaintext keys pass through untouched.
func ReadPrivateKeyBytes(path string, dec KeyDecrypter) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	if !bytes.HasPrefix(data, []byte(encryptedKeyHeader)) {
		return data, nil
	}

	if dec == nil {
		return nil, fmt.Errorf("private key %s is encrypted but no decrypter is configured", path)
	}

	payload := strings.TrimSpace(string(data[len(encryptedKeyHeader):]))
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted key: %w", err)
	}

	plaintext, err := dec.Decrypt(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	return []byte(plaintext), nil
}
