package kms

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// ErrInvalidKMSURI is returned when a key manager URI is malformed or unsupported.
var ErrInvalidKMSURI = errors.New("invalid KMS URI")

// New creates a key manager from a URI.
//
// Supported schemes:
//   - aws-kms://alias/HPCLab?region=us-west-2 - AWS KMS key id or alias; an
//     ARN may be passed as ?key-id=arn:aws:kms:... instead of the host
//   - vault://vault.example.com:8200/transit/hpclab?insecure=true - Vault transit key
//   - local://?key=<64 hex chars> - static AES-256-GCM key for development
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func New(uri string, log *slog.Logger) (interfaces.KeyManager, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKMSURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "aws-kms":
		return createAWSKMS(u, log)
	case "vault":
		return createVaultTransit(u, log)
	case "local":
		return createLocalKMS(u, log)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidKMSURI, u.Scheme)
	}
}

func createAWSKMS(u *url.URL, log *slog.Logger) (interfaces.KeyManager, error) {
	query := u.Query()

	keyID := query.Get("key-id")
	if keyID == "" {
		keyID = u.Host + u.Path
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: missing key id", ErrInvalidKMSURI)
	}

	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	log.Debug("Creating AWS KMS key manager", slog.String("key_id", keyID), slog.String("region", region))
	return NewAWSKMS(keyID, region, query.Get("endpoint"), log)
}

func createVaultTransit(u *url.URL, log *slog.Logger) (interfaces.KeyManager, error) {
	// Path is /<mount>/<key>, the key being the last element
	path := strings.Trim(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	if u.Host == "" || idx <= 0 || idx == len(path)-1 {
		return nil, fmt.Errorf("%w: expected vault://host:port/<mount>/<key>", ErrInvalidKMSURI)
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	var token string
	if u.User != nil {
		token = u.User.Username()
	}

	log.Debug("Creating Vault transit key manager", slog.String("address", address), slog.String("path", path))
	return NewVaultTransit(address, path[:idx], path[idx+1:], token, log)
}

func createLocalKMS(u *url.URL, log *slog.Logger) (interfaces.KeyManager, error) {
	keyHex := u.Query().Get("key")
	if keyHex == "" {
		return nil, fmt.Errorf("%w: local key manager requires ?key=<hex>", ErrInvalidKMSURI)
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key: %v", ErrInvalidKMSURI, err)
	}

	log.Warn("Using local key manager, not suitable for production")
	return NewLocalKMS(key)
}
