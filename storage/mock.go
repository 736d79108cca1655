package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// MockCredentialStore is a mock implementation of interfaces.CredentialStore.
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetEvent(ctx context.Context, eventID string) (*interfaces.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Event), args.Error(1)
}

func (m *MockCredentialStore) PutEvent(ctx context.Context, event *interfaces.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockCredentialStore) GetUser(ctx context.Context, email, eventID string) (*interfaces.User, error) {
	args := m.Called(ctx, email, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.User), args.Error(1)
}

func (m *MockCredentialStore) IncrementNextUID(ctx context.Context, eventID string, expected int64) error {
	args := m.Called(ctx, eventID, expected)
	return args.Error(0)
}

func (m *MockCredentialStore) CreateUserIfAbsent(ctx context.Context, user *interfaces.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockCredentialStore) UpdateUserField(ctx context.Context, email, eventID, field string, value interface{}) error {
	args := m.Called(ctx, email, eventID, field, value)
	return args.Error(0)
}

func (m *MockCredentialStore) RemoveUserField(ctx context.Context, email, eventID, field string) error {
	args := m.Called(ctx, email, eventID, field)
	return args.Error(0)
}

func (m *MockCredentialStore) SetEventFieldIfAbsent(ctx context.Context, eventID, field string, value interface{}) error {
	args := m.Called(ctx, eventID, field, value)
	return args.Error(0)
}

func (m *MockCredentialStore) UpdateEventField(ctx context.Context, eventID, field string, value interface{}) error {
	args := m.Called(ctx, eventID, field, value)
	return args.Error(0)
}

func (m *MockCredentialStore) RemoveEventFieldIfPresent(ctx context.Context, eventID, field string) error {
	args := m.Called(ctx, eventID, field)
	return args.Error(0)
}
