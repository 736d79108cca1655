package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

type userKey struct {
	email   string
	eventID string
}

// MemoryStore is an in-process CredentialStore with the same conditional
// write semantics as the durable backends. Records are lost on exit.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*interfaces.Event
	users  map[userKey]*interfaces.User
	log    *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*interfaces.Event),
		users:  make(map[userKey]*interfaces.User),
		log:    log,
	}
}

func copyEvent(e *interfaces.Event) *interfaces.Event {
	c := *e
	c.AllowedSubnets = append([]string(nil), e.AllowedSubnets...)
	return &c
}

// GetEvent returns a copy of the stored event.
func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (*interfaces.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", interfaces.ErrNotFound, eventID)
	}
	return copyEvent(e), nil
}

// PutEvent creates an event or replaces its provisioning defaults.
func (s *MemoryStore) PutEvent(_ context.Context, event *interfaces.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[event.EventID]
	if !ok {
		existing = &interfaces.Event{EventID: event.EventID}
		s.events[event.EventID] = existing
	}
	mergeEventDefaults(existing, event)
	s.log.Debug("Stored event", slog.String("event_id", event.EventID), slog.Int64("next_uid", existing.NextUID))
	return nil
}

// GetUser returns a copy of the stored user.
func (s *MemoryStore) GetUser(_ context.Context, email, eventID string) (*interfaces.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userKey{email, eventID}]
	if !ok {
		return nil, fmt.Errorf("%w: user %s in event %s", interfaces.ErrNotFound, email, eventID)
	}
	return u.Copy(), nil
}

// IncrementNextUID advances the counter only if it still equals expected.
func (s *MemoryStore) IncrementNextUID(_ context.Context, eventID string, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || e.NextUID != expected {
		return interfaces.ErrConflict
	}
	e.NextUID++
	return nil
}

// CreateUserIfAbsent inserts the user unless (Email, EventID) already exists.
func (s *MemoryStore) CreateUserIfAbsent(_ context.Context, user *interfaces.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey{user.Email, user.EventID}
	if _, ok := s.users[key]; ok {
		return interfaces.ErrAlreadyExists
	}
	s.users[key] = user.Copy()
	return nil
}

// UpdateUserField sets one attribute of an existing user.
func (s *MemoryStore) UpdateUserField(_ context.Context, email, eventID, field string, value interface{}) error {
	if _, err := userColumn(field); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userKey{email, eventID}]
	if !ok {
		return fmt.Errorf("%w: user %s in event %s", interfaces.ErrNotFound, email, eventID)
	}
	return setUserField(u, field, value)
}

// RemoveUserField clears one attribute of an existing user.
func (s *MemoryStore) RemoveUserField(_ context.Context, email, eventID, field string) error {
	if _, err := userColumn(field); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userKey{email, eventID}]
	if !ok {
		return fmt.Errorf("%w: user %s in event %s", interfaces.ErrNotFound, email, eventID)
	}
	clearUserField(u, field)
	return nil
}

// SetEventFieldIfAbsent sets the attribute unless it is already present,
// creating the event record when needed.
func (s *MemoryStore) SetEventFieldIfAbsent(_ context.Context, eventID, field string, value interface{}) error {
	if _, err := eventColumn(field); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.eventLocked(eventID)
	if eventFieldPresent(e, field) {
		return nil
	}
	return setEventField(e, field, value)
}

// UpdateEventField sets the attribute, creating the event record when needed.
func (s *MemoryStore) UpdateEventField(_ context.Context, eventID, field string, value interface{}) error {
	if _, err := eventColumn(field); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return setEventField(s.eventLocked(eventID), field, value)
}

// RemoveEventFieldIfPresent clears the attribute, or returns ErrConflict if absent.
func (s *MemoryStore) RemoveEventFieldIfPresent(_ context.Context, eventID, field string) error {
	if _, err := eventColumn(field); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || !eventFieldPresent(e, field) {
		return interfaces.ErrConflict
	}
	clearEventField(e, field)
	return nil
}

func (s *MemoryStore) eventLocked(eventID string) *interfaces.Event {
	e, ok := s.events[eventID]
	if !ok {
		e = &interfaces.Event{EventID: eventID}
		s.events[eventID] = e
	}
	return e
}
