package instances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dacut/hpc-lab-maker/interfaces"
	"github.com/dacut/hpc-lab-maker/metrics"
)

var (
	// ErrInstanceAssigned is returned by Launch when the user already owns an instance.
	ErrInstanceAssigned = errors.New("an instance is already assigned")

	// ErrNoInstance is returned by actions that need an instance when the user has none.
	ErrNoInstance = errors.New("no instance is assigned")

	// ErrPersistInstance is returned when an instance was launched but its
	// id could not be recorded on the user. The instance keeps running.
	ErrPersistInstance = errors.New("failed to record instance launch")

	// ErrEventNotProvisionable is returned when the event lacks launch defaults.
	ErrEventNotProvisionable = errors.New("event has no instance defaults")

	// ErrUnknownAction is returned by Do for an unrecognised action name.
	ErrUnknownAction = errors.New("unknown instance action")
)

// Actions accepted by Do.
const (
	ActionLaunch    = "Launch"
	ActionTerminate = "Terminate"
	ActionStart     = "Start"
	ActionStop      = "Stop"
	ActionReboot    = "Reboot"
)

const (
	persistAttempts = 5
	persistInterval = 2 * time.Second
)

// Controller manages the one instance each user may own.
type Controller struct {
	store    interfaces.CredentialStore
	provider interfaces.ComputeProvider
	metrics  *metrics.Metrics
	log      *slog.Logger

	persistInterval time.Duration
	pickSubnet      func(n int) int
}

// NewController creates a controller. m may be nil.
func NewController(store interfaces.CredentialStore, provider interfaces.ComputeProvider, m *metrics.Metrics, log *slog.Logger) *Controller {
	return &Controller{
		store:           store,
		provider:        provider,
		metrics:         m,
		log:             log,
		persistInterval: persistInterval,
		pickSubnet:      rand.Intn,
	}
}

// Do dispatches one of the named actions.
func (c *Controller) Do(ctx context.Context, user *interfaces.User, action string) error {
	var err error
	switch action {
	case ActionLaunch:
		_, err = c.Launch(ctx, user)
	case ActionTerminate:
		err = c.Terminate(ctx, user)
	case ActionStart:
		err = c.Start(ctx, user)
	case ActionStop:
		err = c.Stop(ctx, user)
	case ActionReboot:
		err = c.Reboot(ctx, user)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return err
}

// Launch creates an instance for the user from the event's defaults and
// records its id on the user.
func (c *Controller) Launch(ctx context.Context, user *interfaces.User) (string, error) {
	instanceID, err := c.launch(ctx, user)
	c.record(ActionLaunch, err)
	return instanceID, err
}

func (c *Controller) launch(ctx context.Context, user *interfaces.User) (string, error) {
	if user.HasInstance() {
		return "", ErrInstanceAssigned
	}

	event, err := c.store.GetEvent(ctx, user.EventID)
	if err != nil {
		return "", fmt.Errorf("failed to read event defaults: %w", err)
	}
	if !event.Provisionable() {
		return "", fmt.Errorf("%w: %s", ErrEventNotProvisionable, event.EventID)
	}

	subnet := event.AllowedSubnets[c.pickSubnet(len(event.AllowedSubnets))]
	az, err := c.provider.DescribeSubnet(ctx, subnet)
	if err != nil {
		return "", fmt.Errorf("failed to resolve subnet %s: %w", subnet, err)
	}

	userData, err := renderBootScript(az, event.EFSID, user.UserID, user.FullName, user.SSHPublicKey)
	if err != nil {
		return "", err
	}

	instanceID, err := c.provider.Launch(ctx, interfaces.LaunchSpec{
		ImageID:       event.DefaultAMI,
		InstanceType:  event.DefaultInstanceType,
		SubnetID:      subnet,
		SecurityGroup: event.DefaultSecurityGroup,
		VolumeSizeGiB: event.DefaultVolumeSize,
		KeyName:       event.AdminSSHKey,
		UserData:      userData,
	})
	if err != nil {
		return "", err
	}

	log := c.log.With(slog.String("instance_id", instanceID), slog.String("event_id", user.EventID), slog.Int64("uid", user.UserID))

	// Tags are informational; a failure here must not orphan the instance
	if err := c.provider.Tag(ctx, instanceID, instanceTags(user)); err != nil {
		log.Warn("Failed to tag instance", "err", err)
	}

	if err := c.persistInstanceID(ctx, user, instanceID); err != nil {
		log.Error("Launched instance is not recorded on its user", "err", err)
		return instanceID, fmt.Errorf("%w: instance %s: %w", ErrPersistInstance, instanceID, err)
	}

	user.InstanceID = instanceID
	log.Info("Instance launched")
	return instanceID, nil
}

func instanceTags(user *interfaces.User) map[string]string {
	return map[string]string{
		"Name":                 fmt.Sprintf("%s instance for %s", user.EventID, user.Email),
		"HPCLab EventId":       user.EventID,
		"HPCLab UserEmail":     user.Email,
		"HPCLab NumericUserId": strconv.FormatInt(user.UserID, 10),
	}
}

func (c *Controller) persistInstanceID(ctx context.Context, user *interfaces.User, instanceID string) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.persistInterval), persistAttempts-1),
		ctx,
	)

	return backoff.RetryNotify(func() error {
		return c.store.UpdateUserField(ctx, user.Email, user.EventID, interfaces.UserFieldInstanceID, instanceID)
	}, policy, func(err error, wait time.Duration) {
		c.metrics.PersistRetry()
		c.log.Warn("Retrying instance id update", slog.String("instance_id", instanceID), slog.Duration("wait", wait), "err", err)
	})
}

// Terminate ends the user's instance and forgets it.
func (c *Controller) Terminate(ctx context.Context, user *interfaces.User) error {
	err := c.terminate(ctx, user)
	c.record(ActionTerminate, err)
	return err
}

func (c *Controller) terminate(ctx context.Context, user *interfaces.User) error {
	if !user.HasInstance() {
		return ErrNoInstance
	}
	if err := c.provider.Terminate(ctx, user.InstanceID); err != nil {
		return err
	}
	return c.clearInstance(ctx, user)
}

// Start boots a stopped instance without waiting for it to run.
func (c *Controller) Start(ctx context.Context, user *interfaces.User) error {
	return c.transition(ctx, user, ActionStart, c.provider.Start)
}

// Stop halts the instance, keeping it assigned to the user.
func (c *Controller) Stop(ctx context.Context, user *interfaces.User) error {
	return c.transition(ctx, user, ActionStop, c.provider.Stop)
}

// Reboot restarts a running instance.
func (c *Controller) Reboot(ctx context.Context, user *interfaces.User) error {
	return c.transition(ctx, user, ActionReboot, c.provider.Reboot)
}

func (c *Controller) transition(ctx context.Context, user *interfaces.User, action string, call func(context.Context, string) error) error {
	var err error
	if !user.HasInstance() {
		err = ErrNoInstance
	} else {
		err = call(ctx, user.InstanceID)
	}
	c.record(action, err)
	return err
}

// Status returns the provider's view of the user's instance, or nil when
// the user has none. An instance the provider no longer knows, or one
// that has terminated, is cleared from the user.
func (c *Controller) Status(ctx context.Context, user *interfaces.User) (*interfaces.InstanceStatus, error) {
	if !user.HasInstance() {
		return nil, nil
	}

	status, err := c.provider.Describe(ctx, user.InstanceID)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
	case err != nil:
		return nil, err
	case !status.Terminated():
		return status, nil
	}

	if err := c.clearInstance(ctx, user); err != nil {
		return nil, err
	}
	return nil, nil
}

// Screenshot returns a JPEG of the instance console.
func (c *Controller) Screenshot(ctx context.Context, user *interfaces.User) ([]byte, error) {
	if !user.HasInstance() {
		return nil, ErrNoInstance
	}
	return c.provider.ConsoleScreenshot(ctx, user.InstanceID)
}

func (c *Controller) clearInstance(ctx context.Context, user *interfaces.User) error {
	err := c.store.RemoveUserField(ctx, user.Email, user.EventID, interfaces.UserFieldInstanceID)
	if err != nil {
		return fmt.Errorf("failed to clear instance id: %w", err)
	}
	c.log.Info("Cleared instance", slog.String("instance_id", user.InstanceID), slog.String("event_id", user.EventID))
	user.InstanceID = ""
	return nil
}

func (c *Controller) record(action string, err error) {
	switch {
	case err == nil:
		c.metrics.InstanceAction(action, metrics.ResultSuccess)
	case errors.Is(err, ErrNoInstance), errors.Is(err, ErrInstanceAssigned):
		c.metrics.InstanceAction(action, metrics.ResultRejected)
	default:
		c.metrics.InstanceAction(action, metrics.ResultFailure)
	}
}
