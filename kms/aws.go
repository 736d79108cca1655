package kms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	awskms "github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// AWSKMS wraps secrets with a customer master key in AWS KMS.
type AWSKMS struct {
	client kmsiface.KMSAPI
	keyID  string
	log    *slog.Logger
}

// NewAWSKMS creates a KMS client for keyID in region. endpoint may be empty.
func NewAWSKMS(keyID, region, endpoint string, log *slog.Logger) (*AWSKMS, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewAWSKMSWithClient(awskms.New(sess), keyID, log), nil
}

// NewAWSKMSWithClient creates an AWSKMS around an existing client.
func NewAWSKMSWithClient(client kmsiface.KMSAPI, keyID string, log *slog.Logger) *AWSKMS {
	return &AWSKMS{client: client, keyID: keyID, log: log}
}

// Encrypt seals plaintext under the configured key and encryption context.
func (k *AWSKMS) Encrypt(ctx context.Context, plaintext []byte, encCtx interfaces.EncryptionContext) ([]byte, error) {
	out, err := k.client.EncryptWithContext(ctx, &awskms.EncryptInput{
		KeyId:             aws.String(k.keyID),
		Plaintext:         plaintext,
		EncryptionContext: aws.StringMap(encCtx),
	})
	if err != nil {
		k.log.Error("KMS encrypt failed", slog.String("key_id", k.keyID), "err", err)
		return nil, fmt.Errorf("kms encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

// Decrypt opens a ciphertext produced by Encrypt under the same context.
func (k *AWSKMS) Decrypt(ctx context.Context, ciphertext []byte, encCtx interfaces.EncryptionContext) ([]byte, error) {
	out, err := k.client.DecryptWithContext(ctx, &awskms.DecryptInput{
		KeyId:             aws.String(k.keyID),
		CiphertextBlob:    ciphertext,
		EncryptionContext: aws.StringMap(encCtx),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == awskms.ErrCodeInvalidCiphertextException {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrDecrypt, err)
		}
		k.log.Error("KMS decrypt failed", slog.String("key_id", k.keyID), "err", err)
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}
	return out.Plaintext, nil
}

// Name returns an identifier for logging.
func (k *AWSKMS) Name() string {
	return "aws-kms:" + k.keyID
}
