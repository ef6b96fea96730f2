// Package crypto seals data stored at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// KeyFileName is the key file created under the data directory.
const KeyFileName = ".encryption.key"

const keySize = 32 // AES-256

// ErrCiphertextTooShort is returned by Open for truncated input.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Manager seals and opens values with a key persisted in the data directory.
type Manager struct {
	aead cipher.AEAD
}

// NewManager loads the key from dataDir, generating it on first use.
func NewManager(dataDir string) (*Manager, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data directory is required")
	}
	key, err := getOrCreateKey(filepath.Join(filepath.Clean(dataDir), KeyFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}
	return NewManagerWithKey(key)
}

// NewManagerWithKey builds a manager from a raw 32-byte key.
func NewManagerWithKey(key []byte) (*Manager, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Manager{aead: aead}, nil
}

// getOrCreateKey reads the base64 key at keyPath or writes a new one.
func getOrCreateKey(keyPath string) ([]byte, error) {
	if data, err := os.ReadFile(keyPath); err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr == nil && len(key) == keySize {
			return key, nil
		}
		return nil, fmt.Errorf("key file %s is corrupt", keyPath)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Save key with restricted permissions
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	log.Info().Str("file", keyPath).Msg("Generated new encryption key")
	return key, nil
}

// Seal encrypts plaintext bound to aad. The nonce is prepended.
func (m *Manager) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return m.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts a value produced by Seal with the same aad.
func (m *Manager) Open(ciphertext, aad []byte) ([]byte, error) {
	nonceSize := m.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return m.aead.Open(nil, nonce, sealed, aad)
}
