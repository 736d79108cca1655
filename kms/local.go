package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// LocalKMS seals secrets with AES-256-GCM under a static master key.
// It is intended for development and tests; the master key must be
// supplied from outside the credential store.
type LocalKMS struct {
	aead cipher.AEAD
}

// NewLocalKMS creates a new instance with the provided master key.
// The master key must be exactly 32 bytes long.
func NewLocalKMS(masterKey []byte) (*LocalKMS, error) {
	if len(masterKey) != 32 {
		return nil, errors.New("master key must be 32 bytes")
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocalKMS{aead: aead}, nil
}

// Encrypt seals plaintext with the encryption context as associated data.
// Format: [nonce (12 bytes)][ciphertext with tag]
func (k *LocalKMS) Encrypt(_ context.Context, plaintext []byte, encCtx interfaces.EncryptionContext) ([]byte, error) {
	aad, err := canonicalContext(encCtx)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return k.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens a ciphertext produced by Encrypt under the same context.
func (k *LocalKMS) Decrypt(_ context.Context, ciphertext []byte, encCtx interfaces.EncryptionContext) ([]byte, error) {
	aad, err := canonicalContext(encCtx)
	if err != nil {
		return nil, err
	}

	nonceSize := k.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", interfaces.ErrDecrypt)
	}

	plaintext, err := k.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecrypt, err)
	}
	return plaintext, nil
}

// Name returns an identifier for logging.
func (k *LocalKMS) Name() string {
	return "local"
}
