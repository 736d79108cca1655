package cryptoutils

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultPasswordRounds is the pbkdf2 iteration count for new hashes.
	DefaultPasswordRounds = 96000

	passwordSaltSize = 16
	passwordHashSize = sha512.Size
	passwordScheme   = "pbkdf2-sha512"
)

// ErrMalformedHash is returned when a stored password hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// ab64 is passlib's adapted base64: '.' in place of '+', no padding.
var ab64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789./").WithPadding(base64.NoPadding)

// PasswordHasher produces and verifies pbkdf2-sha512 hashes in the modular
// crypt format:
//
//	$pbkdf2-sha512$<rounds>$<ab64 salt>$<ab64 checksum>
//
// Hashes written by earlier deployments of the portal verify unchanged.
type PasswordHasher struct {
	Rounds int
}

// NewPasswordHasher returns a hasher using the given iteration count, or
// DefaultPasswordRounds when rounds is not positive.
func NewPasswordHasher(rounds int) *PasswordHasher {
	if rounds <= 0 {
		rounds = DefaultPasswordRounds
	}
	return &PasswordHasher{Rounds: rounds}
}

// Hash derives a new hash of password with a fresh random salt.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, passwordSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	sum := pbkdf2.Key([]byte(password), salt, h.Rounds, passwordHashSize, sha512.New)
	return fmt.Sprintf("$%s$%d$%s$%s", passwordScheme, h.Rounds, ab64.EncodeToString(salt), ab64.EncodeToString(sum)), nil
}

// Verify reports whether password matches the encoded hash. The comparison
// of derived keys is constant time; the cost is always one full derivation
// at the hash's own round count.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	rounds, salt, expected, err := parsePasswordHash(encoded)
	if err != nil {
		return false, err
	}

	sum := pbkdf2.Key([]byte(password), salt, rounds, len(expected), sha512.New)
	return subtle.ConstantTimeCompare(sum, expected) == 1, nil
}

func parsePasswordHash(encoded string) (int, []byte, []byte, error) {
	// Leading '$' yields an empty first element
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" || parts[1] != passwordScheme {
		return 0, nil, nil, ErrMalformedHash
	}

	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds <= 0 {
		return 0, nil, nil, fmt.Errorf("%w: bad rounds %q", ErrMalformedHash, parts[2])
	}

	salt, err := ab64.DecodeString(parts[3])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}

	sum, err := ab64.DecodeString(parts[4])
	if err != nil || len(sum) == 0 {
		return 0, nil, nil, fmt.Errorf("%w: checksum: %v", ErrMalformedHash, err)
	}

	return rounds, salt, sum, nil
}
