package cryptoutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// ErrInvalidKeySize is returned for RSA sizes other than 1024, 2048 or 4096 bits.
var ErrInvalidKeySize = errors.New("invalid key size")

// DefaultKeyBits is the RSA size used for user keypairs.
const DefaultKeyBits = 2048

// ValidKeySize reports whether bits is an accepted RSA key size.
func ValidKeySize(bits int) bool {
	switch bits {
	case 1024, 2048, 4096:
		return true
	}
	return false
}

// RSAKeyGenerator generates OpenSSH RSA keypairs in process.
type RSAKeyGenerator struct{}

// NewRSAKeyGenerator returns an in-process keypair generator.
func NewRSAKeyGenerator() *RSAKeyGenerator {
	return &RSAKeyGenerator{}
}

// GenerateKeyPair creates an RSA keypair. The private key is an OpenSSH PEM
// block without passphrase; the public key is one authorized_keys line
// carrying comment.
func (g *RSAKeyGenerator) GenerateKeyPair(ctx context.Context, comment string, bits int) (*interfaces.KeyPair, error) {
	if !ValidKeySize(bits) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeySize, bits)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(key, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &interfaces.KeyPair{
		PrivateKey: pem.EncodeToMemory(block),
		PublicKey:  authorizedKeyLine(pub, comment),
	}, nil
}

func authorizedKeyLine(pub ssh.PublicKey, comment string) []byte {
	line := bytes.TrimRight(ssh.MarshalAuthorizedKey(pub), "\n")
	if comment != "" {
		line = append(line, ' ')
		line = append(line, comment...)
	}
	return append(line, '\n')
}

// SSHKeygenGenerator generates keypairs by running the ssh-keygen binary.
type SSHKeygenGenerator struct {
	// Path to the ssh-keygen executable. Defaults to "ssh-keygen" on $PATH.
	Path string
}

// GenerateKeyPair runs ssh-keygen in a private temporary directory and
// returns the resulting pair. A non-zero exit is a generation error.
func (g *SSHKeygenGenerator) GenerateKeyPair(ctx context.Context, comment string, bits int) (*interfaces.KeyPair, error) {
	if !ValidKeySize(bits) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeySize, bits)
	}

	bin := g.Path
	if bin == "" {
		bin = "ssh-keygen"
	}

	dir, err := os.MkdirTemp("", "labkey")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	keyPath := filepath.Join(dir, "id_rsa")
	cmd := exec.CommandContext(ctx, bin, "-q", "-t", "rsa", "-b", strconv.Itoa(bits), "-N", "", "-C", comment, "-f", keyPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ssh-keygen failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	private, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	public, err := os.ReadFile(keyPath + ".pub")
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	return &interfaces.KeyPair{PrivateKey: private, PublicKey: public}, nil
}

// ParsePublicKey validates an authorized_keys line and returns it normalized
// to a single line.
func ParsePublicKey(line []byte) (string, error) {
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return string(bytes.TrimRight(authorizedKeyLine(pub, comment), "\n")), nil
}

// PublicKeyData validates an authorized_keys line and returns only the key
// type and base64 blob. Comments and options are dropped.
func PublicKeyData(line []byte) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return string(bytes.TrimRight(ssh.MarshalAuthorizedKey(pub), "\n")), nil
}
