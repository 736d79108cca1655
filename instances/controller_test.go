package instances

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/interfaces"
	"github.com/dacut/hpc-lab-maker/storage"
)

type MockComputeProvider struct {
	mock.Mock
}

func (m *MockComputeProvider) Launch(ctx context.Context, spec interfaces.LaunchSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockComputeProvider) Describe(ctx context.Context, instanceID string) (*interfaces.InstanceStatus, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.InstanceStatus), args.Error(1)
}

func (m *MockComputeProvider) Start(ctx context.Context, instanceID string) error {
	return m.Called(ctx, instanceID).Error(0)
}

func (m *MockComputeProvider) Stop(ctx context.Context, instanceID string) error {
	return m.Called(ctx, instanceID).Error(0)
}

func (m *MockComputeProvider) Reboot(ctx context.Context, instanceID string) error {
	return m.Called(ctx, instanceID).Error(0)
}

func (m *MockComputeProvider) Terminate(ctx context.Context, instanceID string) error {
	return m.Called(ctx, instanceID).Error(0)
}

func (m *MockComputeProvider) Tag(ctx context.Context, instanceID string, tags map[string]string) error {
	return m.Called(ctx, instanceID, tags).Error(0)
}

func (m *MockComputeProvider) DescribeSubnet(ctx context.Context, subnetID string) (string, error) {
	args := m.Called(ctx, subnetID)
	return args.String(0), args.Error(1)
}

func (m *MockComputeProvider) ConsoleScreenshot(ctx context.Context, instanceID string) ([]byte, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	ctx        context.Context
	store      *storage.MemoryStore
	provider   *MockComputeProvider
	controller *Controller
	user       *interfaces.User
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	store := storage.NewMemoryStore(testLogger())
	require.NoError(t, store.PutEvent(ctx, &interfaces.Event{
		EventID:              "ws1",
		NextUID:              6,
		AllowedSubnets:       []string{"subnet-a", "subnet-b"},
		DefaultAMI:           "ami-123",
		DefaultInstanceType:  "c5.large",
		DefaultSecurityGroup: "sg-1",
		DefaultVolumeSize:    40,
		EFSID:                "fs-1234abcd",
	}))

	keys, err := cryptoutils.NewRSAKeyGenerator().GenerateKeyPair(ctx, "a@example.com", 1024)
	require.NoError(t, err)

	user := &interfaces.User{
		Email:        "a@example.com",
		EventID:      "ws1",
		FullName:     "Ada Lovelace",
		SSHPublicKey: string(keys.PublicKey),
		UserID:       5,
	}
	require.NoError(t, store.CreateUserIfAbsent(ctx, user))

	provider := new(MockComputeProvider)
	c := NewController(store, provider, nil, testLogger())
	c.persistInterval = time.Millisecond
	c.pickSubnet = func(int) int { return 1 }

	return &fixture{ctx: ctx, store: store, provider: provider, controller: c, user: user.Copy()}
}

func TestLaunch(t *testing.T) {
	f := newFixture(t)

	f.provider.On("DescribeSubnet", f.ctx, "subnet-b").Return("us-west-2b", nil)
	f.provider.On("Launch", f.ctx, mock.MatchedBy(func(spec interfaces.LaunchSpec) bool {
		return spec.ImageID == "ami-123" &&
			spec.InstanceType == "c5.large" &&
			spec.SubnetID == "subnet-b" &&
			spec.SecurityGroup == "sg-1" &&
			spec.VolumeSizeGiB == 40 &&
			spec.KeyName == "" &&
			len(spec.UserData) > 0
	})).Return("i-abc", nil)
	f.provider.On("Tag", f.ctx, "i-abc", map[string]string{
		"Name":                 "ws1 instance for a@example.com",
		"HPCLab EventId":       "ws1",
		"HPCLab UserEmail":     "a@example.com",
		"HPCLab NumericUserId": "5",
	}).Return(nil)

	id, err := f.controller.Launch(f.ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, "i-abc", id)
	assert.Equal(t, "i-abc", f.user.InstanceID)

	stored, err := f.store.GetUser(f.ctx, "a@example.com", "ws1")
	require.NoError(t, err)
	assert.Equal(t, "i-abc", stored.InstanceID)
	f.provider.AssertExpectations(t)
}

func TestLaunch_AlreadyAssigned(t *testing.T) {
	f := newFixture(t)
	f.user.InstanceID = "i-existing"

	_, err := f.controller.Launch(f.ctx, f.user)
	assert.ErrorIs(t, err, ErrInstanceAssigned)
	f.provider.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
}

func TestLaunch_TagFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)

	f.provider.On("DescribeSubnet", f.ctx, "subnet-b").Return("us-west-2b", nil)
	f.provider.On("Launch", f.ctx, mock.Anything).Return("i-abc", nil)
	f.provider.On("Tag", f.ctx, "i-abc", mock.Anything).Return(errors.New("throttled"))

	_, err := f.controller.Launch(f.ctx, f.user)
	require.NoError(t, err)
}

func TestLaunch_PersistFailure(t *testing.T) {
	ctx := context.Background()
	store := new(storage.MockCredentialStore)
	provider := new(MockComputeProvider)

	store.On("GetEvent", ctx, "ws1").Return(&interfaces.Event{
		EventID:              "ws1",
		AllowedSubnets:       []string{"subnet-a"},
		DefaultAMI:           "ami-123",
		DefaultInstanceType:  "c5.large",
		DefaultSecurityGroup: "sg-1",
		DefaultVolumeSize:    40,
		EFSID:                "fs-1",
		AdminSSHKey:          "admin",
	}, nil)
	store.On("UpdateUserField", ctx, "a@example.com", "ws1", interfaces.UserFieldInstanceID, "i-abc").
		Return(errors.New("provisioned throughput exceeded"))

	provider.On("DescribeSubnet", ctx, "subnet-a").Return("us-west-2a", nil)
	provider.On("Launch", ctx, mock.MatchedBy(func(spec interfaces.LaunchSpec) bool {
		return spec.KeyName == "admin"
	})).Return("i-abc", nil)
	provider.On("Tag", ctx, "i-abc", mock.Anything).Return(nil)

	keys, err := cryptoutils.NewRSAKeyGenerator().GenerateKeyPair(ctx, "a@example.com", 1024)
	require.NoError(t, err)

	c := NewController(store, provider, nil, testLogger())
	c.persistInterval = time.Millisecond

	id, err := c.Launch(ctx, &interfaces.User{
		Email: "a@example.com", EventID: "ws1", UserID: 7, SSHPublicKey: string(keys.PublicKey),
	})
	assert.ErrorIs(t, err, ErrPersistInstance)
	assert.ErrorContains(t, err, "i-abc")
	assert.ErrorContains(t, err, "provisioned throughput exceeded")
	assert.Equal(t, "i-abc", id)

	store.AssertNumberOfCalls(t, "UpdateUserField", persistAttempts)
	provider.AssertNotCalled(t, "Terminate", mock.Anything, mock.Anything)
}

func TestLaunch_EventWithoutDefaults(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.PutEvent(f.ctx, &interfaces.Event{EventID: "bare"}))
	f.user.EventID = "bare"

	_, err := f.controller.Launch(f.ctx, f.user)
	assert.ErrorIs(t, err, ErrEventNotProvisionable)
}

func TestActionsRequireInstance(t *testing.T) {
	f := newFixture(t)

	for _, action := range []string{ActionTerminate, ActionStart, ActionStop, ActionReboot} {
		err := f.controller.Do(f.ctx, f.user, action)
		assert.ErrorIs(t, err, ErrNoInstance, action)
	}

	_, err := f.controller.Screenshot(f.ctx, f.user)
	assert.ErrorIs(t, err, ErrNoInstance)

	assert.ErrorIs(t, f.controller.Do(f.ctx, f.user, "Explode"), ErrUnknownAction)
}

func TestStartStopReboot(t *testing.T) {
	f := newFixture(t)
	f.user.InstanceID = "i-abc"

	f.provider.On("Start", f.ctx, "i-abc").Return(nil)
	f.provider.On("Stop", f.ctx, "i-abc").Return(errors.New("IncorrectInstanceState"))
	f.provider.On("Reboot", f.ctx, "i-abc").Return(nil)

	assert.NoError(t, f.controller.Do(f.ctx, f.user, ActionStart))
	assert.ErrorContains(t, f.controller.Do(f.ctx, f.user, ActionStop), "IncorrectInstanceState")
	assert.NoError(t, f.controller.Do(f.ctx, f.user, ActionReboot))
	f.provider.AssertExpectations(t)
}

func TestTerminate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpdateUserField(f.ctx, "a@example.com", "ws1", interfaces.UserFieldInstanceID, "i-abc"))
	f.user.InstanceID = "i-abc"

	f.provider.On("Terminate", f.ctx, "i-abc").Return(nil)

	require.NoError(t, f.controller.Terminate(f.ctx, f.user))
	assert.False(t, f.user.HasInstance())

	stored, err := f.store.GetUser(f.ctx, "a@example.com", "ws1")
	require.NoError(t, err)
	assert.Empty(t, stored.InstanceID)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	status, err := f.controller.Status(f.ctx, f.user)
	require.NoError(t, err)
	assert.Nil(t, status)

	require.NoError(t, f.store.UpdateUserField(f.ctx, "a@example.com", "ws1", interfaces.UserFieldInstanceID, "i-abc"))
	f.user.InstanceID = "i-abc"

	f.provider.On("Describe", f.ctx, "i-abc").Return(&interfaces.InstanceStatus{
		InstanceID: "i-abc", State: interfaces.InstanceStateRunning,
	}, nil).Once()

	status, err = f.controller.Status(f.ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, interfaces.InstanceStateRunning, status.State)
	assert.Equal(t, "i-abc", f.user.InstanceID)
}

func TestStatus_ClearsGoneInstances(t *testing.T) {
	tests := []struct {
		name   string
		status *interfaces.InstanceStatus
		err    error
	}{
		{"terminated", &interfaces.InstanceStatus{InstanceID: "i-abc", State: interfaces.InstanceStateTerminated}, nil},
		{"not found", nil, interfaces.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.store.UpdateUserField(f.ctx, "a@example.com", "ws1", interfaces.UserFieldInstanceID, "i-abc"))
			f.user.InstanceID = "i-abc"

			f.provider.On("Describe", f.ctx, "i-abc").Return(tt.status, tt.err)

			status, err := f.controller.Status(f.ctx, f.user)
			require.NoError(t, err)
			assert.Nil(t, status)

			stored, err := f.store.GetUser(f.ctx, "a@example.com", "ws1")
			require.NoError(t, err)
			assert.Empty(t, stored.InstanceID)
		})
	}
}

func TestStatus_ProviderErrorKeepsInstance(t *testing.T) {
	f := newFixture(t)
	f.user.InstanceID = "i-abc"
	f.provider.On("Describe", f.ctx, "i-abc").Return(nil, errors.New("RequestLimitExceeded"))

	_, err := f.controller.Status(f.ctx, f.user)
	assert.ErrorContains(t, err, "RequestLimitExceeded")
	assert.Equal(t, "i-abc", f.user.InstanceID)
}

func TestScreenshot(t *testing.T) {
	f := newFixture(t)
	f.user.InstanceID = "i-abc"
	f.provider.On("ConsoleScreenshot", f.ctx, "i-abc").Return([]byte{0xff, 0xd8}, nil)

	img, err := f.controller.Screenshot(f.ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, img)
}
