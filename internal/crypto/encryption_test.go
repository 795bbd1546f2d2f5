package crypto

import (
	"encoding/base64"
	"testing"
)

func newTestManager(t *testing.T) *EncryptionManager {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))

	manager, err := NewEncryptionManager()
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return manager
}

func TestCredentialsRoundTrip(t *testing.T) {
	manager := newTestManager(t)

	serialized := `{"host":"backup.example.com","username":"backups","password":"s3cret"}`
	ciphertext, err := manager.EncryptCredentials(serialized)
	if err != nil {
		t.Fatalf("failed to encrypt credentials: %v", err)
	}
	if string(ciphertext) == serialized {
		t.Fatalf("credentials were not encrypted")
	}

	plaintext, err := manager.DecryptCredentials(ciphertext)
	if err != nil {
		t.Fatalf("failed to decrypt credentials: %v", err)
	}
	if plaintext != serialized {
		t.Fatalf("round trip mismatch: %q", plaintext)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	manager := newTestManager(t)

	ciphertext, err := manager.Encrypt("destination password")
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := manager.Decrypt(ciphertext); err == nil {
		t.Fatalf("expected tampered ciphertext to be rejected")
	}
}

func TestShortKeyIsDerived(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

	manager, err := NewEncryptionManager()
	if err != nil {
		t.Fatalf("expected short key to be derived, got %v", err)
	}

	ciphertext, err := manager.Encrypt("x")
	if err != nil {
		t.Fatalf("failed to encrypt with derived key: %v", err)
	}
	if plaintext, err := manager.Decrypt(ciphertext); err != nil || plaintext != "x" {
		t.Fatalf("derived key round trip failed: %q, %v", plaintext, err)
	}
}
