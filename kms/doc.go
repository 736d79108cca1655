// Package kms provides the key management services used to wrap deployment
// secrets at rest. Every implementation satisfies interfaces.KeyManager:
//
//	type KeyManager interface {
//	    Encrypt(ctx context.Context, plaintext []byte, encCtx EncryptionContext) ([]byte, error)
//	    Decrypt(ctx context.Context, ciphertext []byte, encCtx EncryptionContext) ([]byte, error)
//	    Name() string
//	}
//
// The encryption context is bound to the ciphertext; decrypting with a
// different context fails with interfaces.ErrDecrypt.
//
// # AWSKMS
//
// Uses a customer master key in AWS KMS. The context is passed as the native
// KMS encryption context, so it appears in CloudTrail and can be used in key
// policy conditions.
//
// # VaultTransit
//
// Uses a key of a HashiCorp Vault transit engine. The context is serialized
// as sorted JSON and sent as associated data, which requires an AEAD key type
// (aes256-gcm96 or chacha20-poly1305).
//
// # LocalKMS
//
// AES-256-GCM under a static key given on the command line. Intended for
// development and tests only.
//
// Use New to construct any of them from a URI.
package kms
