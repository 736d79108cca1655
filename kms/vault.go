package kms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// VaultTransit wraps secrets with a named key of a Vault transit engine.
// The encryption context is bound as associated data.
type VaultTransit struct {
	client    *api.Client
	mountPath string
	keyName   string
	log       *slog.Logger
}

// NewVaultTransit creates a transit client. The token is taken from
// VAULT_TOKEN unless set explicitly.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: transit mount path (e.g. "transit")
//   - keyName: name of the transit key
//   - token: Vault token, or empty to use the environment
func NewVaultTransit(address, mountPath, keyName, token string, log *slog.Logger) (*VaultTransit, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultTransit{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		keyName:   keyName,
		log:       log,
	}, nil
}

// Encrypt seals plaintext with the transit key.
func (v *VaultTransit) Encrypt(ctx context.Context, plaintext []byte, encCtx interfaces.EncryptionContext) ([]byte, error) {
	aad, err := canonicalContext(encCtx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/encrypt/%s", v.mountPath, v.keyName)
	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext":       base64.StdEncoding.EncodeToString(plaintext),
		"associated_data": base64.StdEncoding.EncodeToString(aad),
	})
	if err != nil {
		v.log.Error("Vault transit encrypt failed", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("vault encrypt: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault encrypt: empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault encrypt: ciphertext missing from response")
	}
	return []byte(ciphertext), nil
}

// Decrypt opens a "vault:v<n>:" ciphertext produced by Encrypt.
func (v *VaultTransit) Decrypt(ctx context.Context, ciphertext []byte, encCtx interfaces.EncryptionContext) ([]byte, error) {
	aad, err := canonicalContext(encCtx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/decrypt/%s", v.mountPath, v.keyName)
	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext":      string(ciphertext),
		"associated_data": base64.StdEncoding.EncodeToString(aad),
	})
	if err != nil {
		// Vault reports authentication failures as 400 responses
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrDecrypt, err)
		}
		v.log.Error("Vault transit decrypt failed", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("vault decrypt: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault decrypt: empty response")
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault decrypt: plaintext missing from response")
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault decrypt: %w", err)
	}
	return plaintext, nil
}

// Name returns an identifier for logging.
func (v *VaultTransit) Name() string {
	return fmt.Sprintf("vault-transit-%s-%s", v.mountPath, v.keyName)
}

// canonicalContext serializes an encryption context deterministically.
// encoding/json sorts map keys.
func canonicalContext(encCtx interfaces.EncryptionContext) ([]byte, error) {
	if encCtx == nil {
		encCtx = interfaces.EncryptionContext{}
	}
	b, err := json.Marshal(map[string]string(encCtx))
	if err != nil {
		return nil, fmt.Errorf("failed to encode encryption context: %w", err)
	}
	return b, nil
}
