package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/interfaces"
	"github.com/dacut/hpc-lab-maker/metrics"
)

// ErrUnknownRequestType is returned for lifecycle requests other than
// Create, Update and Delete.
var ErrUnknownRequestType = errors.New("unknown request type")

// Lifecycle request types.
const (
	RequestCreate = "Create"
	RequestUpdate = "Update"
	RequestDelete = "Delete"
)

const passwordPhysicalID = "password"

// Result is returned by Handle. It is empty for Delete.
type Result struct {
	Password           string `json:"Password,omitempty"`
	PhysicalResourceID string `json:"PhysicalResourceId,omitempty"`
}

// Provisioner manages the one-time password hash on the reserved event.
type Provisioner struct {
	store   interfaces.CredentialStore
	hasher  *cryptoutils.PasswordHasher
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewProvisioner creates a provisioner hashing with rounds pbkdf2
// iterations. m may be nil.
func NewProvisioner(store interfaces.CredentialStore, rounds int, m *metrics.Metrics, log *slog.Logger) *Provisioner {
	return &Provisioner{
		store:   store,
		hasher:  cryptoutils.NewPasswordHasher(rounds),
		metrics: m,
		log:     log,
	}
}

// Handle applies one lifecycle request. Create and Update replace any
// existing password; Delete removes it and succeeds when there is none.
func (p *Provisioner) Handle(ctx context.Context, requestType string) (*Result, error) {
	res, err := p.handle(ctx, requestType)
	if err != nil {
		p.metrics.Bootstrap(requestType, metrics.ResultFailure)
		return nil, err
	}
	p.metrics.Bootstrap(requestType, metrics.ResultSuccess)
	return res, nil
}

func (p *Provisioner) handle(ctx context.Context, requestType string) (*Result, error) {
	switch requestType {
	case RequestCreate, RequestUpdate:
		otp, err := cryptoutils.NewOneTimePassword()
		if err != nil {
			return nil, err
		}
		hash, err := p.hasher.Hash(otp)
		if err != nil {
			return nil, err
		}

		err = p.store.UpdateEventField(ctx, interfaces.ReservedEventID, interfaces.EventFieldOneTimePasswordHash, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to store one-time password: %w", err)
		}

		p.log.Info("Generated one-time password", slog.String("request_type", requestType))
		return &Result{Password: otp, PhysicalResourceID: passwordPhysicalID}, nil

	case RequestDelete:
		err := p.store.RemoveEventFieldIfPresent(ctx, interfaces.ReservedEventID, interfaces.EventFieldOneTimePasswordHash)
		if errors.Is(err, interfaces.ErrConflict) {
			p.log.Debug("No one-time password to remove")
			return &Result{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to remove one-time password: %w", err)
		}

		p.log.Info("Removed one-time password")
		return &Result{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, requestType)
}

// VerifyOneTimePassword reports whether otp matches the stored hash. It is
// false when no password has been provisioned.
func (p *Provisioner) VerifyOneTimePassword(ctx context.Context, otp string) (bool, error) {
	if otp == "" {
		return false, nil
	}

	event, err := p.store.GetEvent(ctx, interfaces.ReservedEventID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if event.OneTimePasswordHash == "" {
		return false, nil
	}

	return p.hasher.Verify(otp, event.OneTimePasswordHash)
}
