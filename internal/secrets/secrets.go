// Package secrets seals and opens provider API keys for storage at rest.
//
// Sealing uses XChaCha20-Poly1305 with a random 24-byte nonce prepended to
// the ciphertext. The sealing key comes from configuration and never leaves
// the process; the database only ever sees ciphertext.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the required sealing key length in bytes.
const KeyLen = chacha20poly1305.KeySize

// ErrInvalidCiphertext is returned when a stored secret cannot be opened,
// either because it was truncated or because the sealing key changed.
var ErrInvalidCiphertext = errors.New("secrets: invalid ciphertext")

// Keeper seals and opens secrets with a fixed key.
type Keeper struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewKeeper creates a Keeper from a hex-encoded 32-byte key.
func NewKeeper(hexKey string) (*Keeper, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	if len(key) != KeyLen {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", KeyLen, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}
	return &Keeper{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext.
func (k *Keeper) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	return k.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a value produced by Seal.
func (k *Keeper) Open(sealed []byte) (string, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return "", ErrInvalidCiphertext
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh hex-encoded sealing key. Used by operators to
// bootstrap PROMPTDECK_SECRETS_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("secrets: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
