// Package cryptoutils provides the cryptographic helpers used by the lab portal.
//
// # Password Hashes
//
// PasswordHasher derives pbkdf2-sha512 hashes in the passlib modular crypt
// format, so hashes written by earlier deployments keep verifying:
//
//	$pbkdf2-sha512$96000$<salt>$<checksum>
//
// Salt and checksum use the adapted base64 alphabet ('.' replaces '+',
// no padding). Verification always performs a full derivation and compares
// in constant time.
//
// # SSH Keypairs
//
// RSAKeyGenerator generates keys in process using golang.org/x/crypto/ssh.
// SSHKeygenGenerator runs the ssh-keygen binary. Both accept 1024, 2048 or
// 4096 bits and return ErrInvalidKeySize otherwise.
//
// # One-Time Passwords
//
// NewOneTimePassword returns 20 base58 characters of fresh entropy, used to
// bootstrap administrative access to a new deployment.
//
// # Sanitizers
//
// SanitizeFullName and SanitizeIdentifier restrict user and cloud supplied
// values to allow-listed characters before they are rendered into boot scripts.
package cryptoutils
