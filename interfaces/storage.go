package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrNotFound is returned when a requested event, user or instance does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write lost against the stored state.
	// Callers recover by re-reading and retrying; it is never shown to users.
	ErrConflict = errors.New("conditional write conflict")

	// ErrAlreadyExists is returned when a create-if-absent write finds an existing record.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnknownField is returned when a partial update names an attribute
	// outside the table's allow-list.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid store location URI")
)

// CredentialStore is durable, strongly-consistent storage for Event and User records.
//
// All writes are visible to subsequent reads immediately. Conditional writes
// are the only cross-request coordination primitive in the portal.
type CredentialStore interface {
	// GetEvent performs a consistent read of an event record.
	// Returns ErrNotFound if the event does not exist.
	GetEvent(ctx context.Context, eventID string) (*Event, error)

	// PutEvent creates or replaces the provisioning defaults of an event.
	// An existing NextUID is never lowered.
	PutEvent(ctx context.Context, event *Event) error

	// GetUser performs a consistent read of a user record, including its password hash.
	// Returns ErrNotFound if no record exists for (email, eventID).
	GetUser(ctx context.Context, email, eventID string) (*User, error)

	// IncrementNextUID adds one to the event's NextUID only if the stored value
	// equals expected. Returns ErrConflict, with no side effect, otherwise.
	IncrementNextUID(ctx context.Context, eventID string, expected int64) error

	// CreateUserIfAbsent writes a new user record only if none exists for
	// (Email, EventID). Returns ErrAlreadyExists otherwise.
	CreateUserIfAbsent(ctx context.Context, user *User) error

	// UpdateUserField unconditionally sets one attribute of a user record.
	UpdateUserField(ctx context.Context, email, eventID, field string, value interface{}) error

	// RemoveUserField unconditionally removes one attribute of a user record.
	RemoveUserField(ctx context.Context, email, eventID, field string) error

	// SetEventFieldIfAbsent sets an event attribute only if it is not already present.
	// An existing value is left untouched and no error is returned.
	SetEventFieldIfAbsent(ctx context.Context, eventID, field string, value interface{}) error

	// UpdateEventField unconditionally sets one attribute of an event record.
	UpdateEventField(ctx context.Context, eventID, field string, value interface{}) error

	// RemoveEventFieldIfPresent removes an event attribute only if it exists.
	// Returns ErrConflict when the attribute is absent.
	RemoveEventFieldIfPresent(ctx context.Context, eventID, field string) error
}

// StoreLocation represents the URI of a credential store backend.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Backend type
	Host   string     // Table prefix, database host, or empty
	Path   string     // Resource path
	Query  url.Values // Query parameters
}

// NewStoreLocation parses and validates a store URI.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "dynamodb", "postgres", "postgresql", "memory":
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}
