package cryptoutils

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// OneTimePasswordLength is the number of base58 characters in a bootstrap password.
const OneTimePasswordLength = 20

// NewOneTimePassword returns a random base58 string of OneTimePasswordLength
// characters drawn from 20 bytes of entropy.
func NewOneTimePassword() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	encoded := base58.Encode(raw)
	// 20 bytes encode to at least 20 characters unless the leading bytes
	// are zero, which base58 renders as '1'; pad in that case.
	for len(encoded) < OneTimePasswordLength {
		encoded = "1" + encoded
	}
	return encoded[:OneTimePasswordLength], nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
