// Package secrets seals cloud provider credentials for storage. Keys are
// encrypted at rest and decrypted per-request; plaintext never reaches a
// client or a log line.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

type Box struct {
	key []byte
}

// NewBox accepts the encryption key as 32 raw bytes or 64 hex characters.
func NewBox(key string) (*Box, error) {
	var raw []byte
	switch len(key) {
	case chacha20poly1305.KeySize:
		raw = []byte(key)
	case chacha20poly1305.KeySize * 2:
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("decode hex key: %w", err)
		}
		raw = decoded
	default:
		return nil, fmt.Errorf("encryption key must be %d bytes or %d hex chars, got %d chars",
			chacha20poly1305.KeySize, chacha20poly1305.KeySize*2, len(key))
	}
	return &Box{key: raw}, nil
}

// Seal encrypts plaintext and returns a base64 token containing the nonce
// and ciphertext.
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Tampered or truncated tokens fail authentication.
func (b *Box) Open(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("token too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed key: %w", err)
	}
	return string(plaintext), nil
}
