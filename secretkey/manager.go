// Package secretkey distributes the session signing key across stateless
// portal processes. The key is generated once, wrapped by the key manager
// and stored on the reserved event record; every process converges on the
// persisted value.
package secretkey

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/interfaces"
)

// KeySize is the length in bytes of a generated session key.
const KeySize = 32

// ApplicationName is bound into the encryption context of the session key.
const ApplicationName = "HPCLab"

// ErrNoSecretKey is returned if no key is persisted after a write attempt.
var ErrNoSecretKey = errors.New("secret key not persisted")

// Manager loads or creates the deployment's session key.
type Manager struct {
	store      interfaces.CredentialStore
	keyManager interfaces.KeyManager
	encCtx     interfaces.EncryptionContext
	log        *slog.Logger
}

// NewManager creates a Manager for the named deployment.
func NewManager(store interfaces.CredentialStore, keyManager interfaces.KeyManager, deployment string, log *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		keyManager: keyManager,
		encCtx: interfaces.EncryptionContext{
			"Application": ApplicationName,
			"Deployment":  deployment,
		},
		log: log,
	}
}

// SecretKey returns the persisted session key, creating it on first use.
// Concurrent first callers race on a create-if-absent write and all of them
// return whatever value won.
func (m *Manager) SecretKey(ctx context.Context) ([]byte, error) {
	key, err := m.load(ctx)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNoSecretKey) {
		return nil, err
	}

	m.log.Info("No session key found, generating", slog.String("key_manager", m.keyManager.Name()))

	plaintext, err := cryptoutils.RandomBytes(KeySize)
	if err != nil {
		return nil, err
	}

	ciphertext, err := m.keyManager.Encrypt(ctx, plaintext, m.encCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session key: %w", err)
	}

	err = m.store.SetEventFieldIfAbsent(ctx, interfaces.ReservedEventID, interfaces.EventFieldSecretKey,
		base64.StdEncoding.EncodeToString(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("failed to store session key: %w", err)
	}

	// Another process may have won; only the persisted value is authoritative
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) ([]byte, error) {
	record, err := m.store.GetEvent(ctx, interfaces.ReservedEventID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNoSecretKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session key: %w", err)
	}
	if record.SecretKey == "" {
		return nil, ErrNoSecretKey
	}

	ciphertext, err := base64.StdEncoding.DecodeString(record.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session key: %w", err)
	}

	plaintext, err := m.keyManager.Decrypt(ctx, ciphertext, m.encCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session key: %w", err)
	}
	return plaintext, nil
}
