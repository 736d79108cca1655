package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/interfaces"
	"github.com/dacut/hpc-lab-maker/metrics"
)

var (
	// ErrNoMatch is returned for every failed login or session lookup,
	// whatever the cause, so callers cannot tell which part was wrong.
	ErrNoMatch = errors.New("email, password, and event code do not match")

	// ErrAlreadyExists is returned when the email is already registered for the event.
	ErrAlreadyExists = errors.New("user is already registered for this event")
)

// Config tunes the cost parameters of new credentials.
type Config struct {
	// PasswordRounds is the pbkdf2 iteration count for new password hashes.
	PasswordRounds int

	// KeyBits is the RSA size of generated SSH keypairs.
	KeyBits int
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Service authenticates and registers users.
type Service struct {
	store   interfaces.CredentialStore
	keygen  interfaces.KeyGenerator
	hasher  passwordHasher
	keyBits int
	metrics *metrics.Metrics
	log     *slog.Logger

	// invalidHash is verified against when the user does not exist, so a
	// missing user costs the same as a wrong password.
	invalidHash string

	now func() time.Time
}

// NewService creates an identity service. m may be nil.
func NewService(store interfaces.CredentialStore, keygen interfaces.KeyGenerator, cfg Config, m *metrics.Metrics, log *slog.Logger) (*Service, error) {
	hasher := cryptoutils.NewPasswordHasher(cfg.PasswordRounds)

	keyBits := cfg.KeyBits
	if keyBits == 0 {
		keyBits = cryptoutils.DefaultKeyBits
	}
	if !cryptoutils.ValidKeySize(keyBits) {
		return nil, fmt.Errorf("%w: %d", cryptoutils.ErrInvalidKeySize, keyBits)
	}

	filler, err := cryptoutils.NewOneTimePassword()
	if err != nil {
		return nil, err
	}
	invalidHash, err := hasher.Hash(filler)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare placeholder hash: %w", err)
	}

	return &Service{
		store:       store,
		keygen:      keygen,
		hasher:      hasher,
		keyBits:     keyBits,
		metrics:     m,
		log:         log,
		invalidHash: invalidHash,
		now:         time.Now,
	}, nil
}

// ValidEvent reports whether eventID names an existing, non-reserved event.
func (s *Service) ValidEvent(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" || eventID == interfaces.ReservedEventID {
		return false, nil
	}

	_, err := s.store.GetEvent(ctx, eventID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Login verifies a password for (email, eventID). Exactly one password
// verification runs on every path that reaches the store, including when
// the user does not exist. Returns ErrNoMatch on any mismatch.
func (s *Service) Login(ctx context.Context, email, password, eventID string) (*interfaces.User, error) {
	if eventID == interfaces.ReservedEventID {
		s.metrics.Login(metrics.ResultRejected)
		return nil, ErrNoMatch
	}

	user, err := s.store.GetUser(ctx, email, eventID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		s.metrics.Login(metrics.ResultFailure)
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	hash := s.invalidHash
	if user != nil {
		hash = user.PasswordHash
	}

	ok, verr := s.hasher.Verify(password, hash)
	if verr != nil {
		s.log.Warn("Unreadable password hash", slog.String("event_id", eventID), "err", verr)
	}
	if user == nil || !ok || verr != nil {
		s.metrics.Login(metrics.ResultRejected)
		return nil, ErrNoMatch
	}

	valid, err := s.ValidEvent(ctx, eventID)
	if err != nil {
		s.metrics.Login(metrics.ResultFailure)
		return nil, err
	}
	if !valid {
		s.metrics.Login(metrics.ResultRejected)
		return nil, ErrNoMatch
	}

	s.metrics.Login(metrics.ResultSuccess)
	return user.WithoutPasswordHash(), nil
}

// GetUser re-validates a session: the user must exist and the event must
// still be valid. The password hash is stripped.
func (s *Service) GetUser(ctx context.Context, email, eventID string) (*interfaces.User, error) {
	if eventID == interfaces.ReservedEventID {
		return nil, ErrNoMatch
	}

	user, err := s.store.GetUser(ctx, email, eventID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	valid, err := s.ValidEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrNoMatch
	}
	return user.WithoutPasswordHash(), nil
}

// Register creates a user with a generated SSH keypair and the next user
// id of the event. The request must already have passed ValidateRegistration.
//
// A user id allocated for a registration that then loses the create race
// is not returned to the event.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*interfaces.User, error) {
	keys, err := s.keygen.GenerateKeyPair(ctx, "", s.keyBits)
	if err != nil {
		s.metrics.Registration(metrics.ResultFailure)
		return nil, fmt.Errorf("failed to generate SSH keypair: %w", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.metrics.Registration(metrics.ResultFailure)
		return nil, err
	}

	uid, err := s.allocateUserID(ctx, req.EventID)
	if err != nil {
		s.metrics.Registration(metrics.ResultFailure)
		return nil, err
	}

	user := &interfaces.User{
		Email:         req.Email,
		EventID:       req.EventID,
		PasswordHash:  hash,
		FullName:      cryptoutils.SanitizeFullName(req.FullName),
		AllowContact:  req.AllowContact,
		CreationDate:  s.now().UTC().Truncate(time.Second),
		SSHPrivateKey: string(keys.PrivateKey),
		SSHPublicKey:  string(keys.PublicKey),
		UserID:        uid,
	}

	err = s.store.CreateUserIfAbsent(ctx, user)
	if errors.Is(err, interfaces.ErrAlreadyExists) {
		s.metrics.Registration(metrics.ResultRejected)
		s.log.Info("Duplicate registration", slog.String("event_id", req.EventID), slog.Int64("discarded_uid", uid))
		return nil, ErrAlreadyExists
	}
	if err != nil {
		s.metrics.Registration(metrics.ResultFailure)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.Registration(metrics.ResultSuccess)
	s.log.Info("Registered user", slog.String("event_id", req.EventID), slog.Int64("uid", uid))
	return user.WithoutPasswordHash(), nil
}

// allocateUserID claims the event's current NextUID by compare-and-set.
// Lost rounds re-read the counter and retry until the context ends.
func (s *Service) allocateUserID(ctx context.Context, eventID string) (int64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		event, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			return 0, fmt.Errorf("failed to read event counter: %w", err)
		}

		err = s.store.IncrementNextUID(ctx, eventID, event.NextUID)
		if err == nil {
			return event.NextUID, nil
		}
		if !errors.Is(err, interfaces.ErrConflict) {
			return 0, fmt.Errorf("failed to advance event counter: %w", err)
		}

		s.metrics.UIDConflict()
		s.log.Debug("Concurrent user id allocation, retrying", slog.String("event_id", eventID))
	}
}
