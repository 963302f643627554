// Package secrets encrypts remote-service credentials at rest. The legacy
// system stored them under a reversible obfuscation; here they are sealed
// with AES-256-GCM under a key derived from the configured secret.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

var scryptSalt = []byte("campusconf.webex.credentials.v1")

// Box seals and opens credential strings with a derived AES-256-GCM key.
type Box struct {
	aead cipher.AEAD
}

// New derives the encryption key from secret and returns a ready Box.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, fmt.Errorf("secrets: empty secret key")
	}
	key, err := scrypt.Key([]byte(secret), scryptSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext; the nonce is prepended to the ciphertext.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(ciphertext []byte) (string, error) {
	if len(ciphertext) < b.aead.NonceSize() {
		return "", fmt.Errorf("secrets: ciphertext too short")
	}
	nonce, sealed := ciphertext[:b.aead.NonceSize()], ciphertext[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}
