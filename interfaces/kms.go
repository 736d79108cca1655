package interfaces

import (
	"context"
	"errors"
)

// ErrDecrypt is returned when a ciphertext cannot be opened under the given context.
var ErrDecrypt = errors.New("decryption failed")

// EncryptionContext is associated data binding a ciphertext to this
// application and deployment. Decryption under a different context fails.
type EncryptionContext map[string]string

// KeyManager is the key-management service used to wrap deployment secrets.
type KeyManager interface {
	// Encrypt seals plaintext under the manager's key and the given context.
	Encrypt(ctx context.Context, plaintext []byte, encCtx EncryptionContext) ([]byte, error)

	// Decrypt opens a ciphertext produced by Encrypt with the same context.
	Decrypt(ctx context.Context, ciphertext []byte, encCtx EncryptionContext) ([]byte, error)

	// Name returns an identifier for logging.
	Name() string
}

// KeyPair is an OpenSSH keypair generated for a user at registration.
type KeyPair struct {
	// PrivateKey is the PEM-encoded private key.
	PrivateKey []byte

	// PublicKey is the public key in authorized_keys format.
	PublicKey []byte
}

// KeyGenerator produces SSH keypairs. Valid sizes are 1024, 2048 and 4096 bits.
type KeyGenerator interface {
	GenerateKeyPair(ctx context.Context, comment string, bits int) (*KeyPair, error)
}
