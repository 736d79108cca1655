package interfaces

import (
	"context"
	"time"
)

// Instance states reported by the compute provider.
const (
	InstanceStatePending      = "pending"
	InstanceStateRunning      = "running"
	InstanceStateStopping     = "stopping"
	InstanceStateStopped      = "stopped"
	InstanceStateShuttingDown = "shutting-down"
	InstanceStateTerminated   = "terminated"
)

// LaunchSpec describes a single instance to create.
type LaunchSpec struct {
	ImageID       string
	InstanceType  string
	SubnetID      string
	SecurityGroup string
	VolumeSizeGiB int64
	KeyName       string // optional admin key pair
	UserData      string // plain text boot script, encoded by the provider
}

// InstanceStatus is the provider's view of one instance.
type InstanceStatus struct {
	InstanceID       string    `json:"instance_id"`
	State            string    `json:"state"`
	InstanceType     string    `json:"instance_type,omitempty"`
	AvailabilityZone string    `json:"availability_zone,omitempty"`
	PublicIP         string    `json:"public_ip,omitempty"`
	PublicDNSName    string    `json:"public_dns_name,omitempty"`
	PrivateIP        string    `json:"private_ip,omitempty"`
	LaunchTime       time.Time `json:"launch_time,omitempty"`
}

// Terminated reports whether the instance has reached its final state.
func (s *InstanceStatus) Terminated() bool {
	return s.State == InstanceStateTerminated
}

// ComputeProvider is the cloud API used by the instance lifecycle controller.
// None of the state-transition calls wait for the transition to complete.
type ComputeProvider interface {
	// Launch creates one instance and returns its id.
	Launch(ctx context.Context, spec LaunchSpec) (string, error)

	// Describe returns the instance's status, or ErrNotFound if the provider
	// does not know the instance.
	Describe(ctx context.Context, instanceID string) (*InstanceStatus, error)

	Start(ctx context.Context, instanceID string) error
	Stop(ctx context.Context, instanceID string) error
	Reboot(ctx context.Context, instanceID string) error
	Terminate(ctx context.Context, instanceID string) error

	// Tag attaches key/value tags to an instance.
	Tag(ctx context.Context, instanceID string, tags map[string]string) error

	// DescribeSubnet returns the availability zone of a subnet.
	DescribeSubnet(ctx context.Context, subnetID string) (string, error)

	// ConsoleScreenshot returns a JPEG of the instance console.
	ConsoleScreenshot(ctx context.Context, instanceID string) ([]byte, error)
}
