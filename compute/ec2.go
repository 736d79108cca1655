package compute

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

const (
	rootDeviceName = "/dev/sda1"
	rootVolumeType = "gp2"

	errCodeInstanceNotFound = "InvalidInstanceID.NotFound"
	errCodeSubnetNotFound   = "InvalidSubnetID.NotFound"
)

// ErrNoInstanceLaunched is returned when RunInstances succeeds without
// reporting an instance.
var ErrNoInstanceLaunched = errors.New("ec2 launched no instance")

// EC2Provider drives instances through the EC2 API.
type EC2Provider struct {
	client ec2iface.EC2API
	log    *slog.Logger
}

// NewEC2Provider creates a provider for region. endpoint may be empty.
func NewEC2Provider(region, endpoint string, log *slog.Logger) (*EC2Provider, error) {
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

	return NewEC2ProviderWithClient(ec2.New(sess), log), nil
}

// NewEC2ProviderWithClient creates a provider around an existing client.
func NewEC2ProviderWithClient(client ec2iface.EC2API, log *slog.Logger) *EC2Provider {
	return &EC2Provider{client: client, log: log}
}

// Launch runs exactly one instance from spec. The root volume is deleted
// with the instance and the primary interface gets a public address.
func (p *EC2Provider) Launch(ctx context.Context, spec interfaces.LaunchSpec) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: aws.String(spec.InstanceType),
		MinCount:     aws.Int64(1),
		MaxCount:     aws.Int64(1),
		BlockDeviceMappings: []*ec2.BlockDeviceMapping{{
			DeviceName: aws.String(rootDeviceName),
			Ebs: &ec2.EbsBlockDevice{
				DeleteOnTermination: aws.Bool(true),
				VolumeSize:          aws.Int64(spec.VolumeSizeGiB),
				VolumeType:          aws.String(rootVolumeType),
			},
		}},
		Monitoring: &ec2.RunInstancesMonitoringEnabled{Enabled: aws.Bool(true)},
		NetworkInterfaces: []*ec2.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              aws.Int64(0),
			AssociatePublicIpAddress: aws.Bool(true),
			DeleteOnTermination:      aws.Bool(true),
			SubnetId:                 aws.String(spec.SubnetID),
			Groups:                   aws.StringSlice([]string{spec.SecurityGroup}),
		}},
		UserData: aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}

	out, err := p.client.RunInstancesWithContext(ctx, input)
	if err != nil {
		p.log.Error("RunInstances failed", slog.String("subnet", spec.SubnetID), "err", err)
		return "", fmt.Errorf("run instances: %w", err)
	}
	if len(out.Instances) == 0 || aws.StringValue(out.Instances[0].InstanceId) == "" {
		return "", ErrNoInstanceLaunched
	}

	instanceID := aws.StringValue(out.Instances[0].InstanceId)
	p.log.Info("Launched instance", slog.String("instance_id", instanceID), slog.String("subnet", spec.SubnetID))
	return instanceID, nil
}

// Describe returns the current status of an instance.
func (p *EC2Provider) Describe(ctx context.Context, instanceID string) (*interfaces.InstanceStatus, error) {
	out, err := p.client.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	if isAWSCode(err, errCodeInstanceNotFound) {
		return nil, fmt.Errorf("%w: instance %s", interfaces.ErrNotFound, instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("describe instances: %w", err)
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.StringValue(inst.InstanceId) == instanceID {
				return instanceStatus(inst), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: instance %s", interfaces.ErrNotFound, instanceID)
}

func instanceStatus(inst *ec2.Instance) *interfaces.InstanceStatus {
	status := &interfaces.InstanceStatus{
		InstanceID:    aws.StringValue(inst.InstanceId),
		InstanceType:  aws.StringValue(inst.InstanceType),
		PublicIP:      aws.StringValue(inst.PublicIpAddress),
		PublicDNSName: aws.StringValue(inst.PublicDnsName),
		PrivateIP:     aws.StringValue(inst.PrivateIpAddress),
		LaunchTime:    aws.TimeValue(inst.LaunchTime),
	}
	if inst.State != nil {
		status.State = aws.StringValue(inst.State.Name)
	}
	if inst.Placement != nil {
		status.AvailabilityZone = aws.StringValue(inst.Placement.AvailabilityZone)
	}
	return status
}

func (p *EC2Provider) Start(ctx context.Context, instanceID string) error {
	_, err := p.client.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	return wrap("start instances", err)
}

func (p *EC2Provider) Stop(ctx context.Context, instanceID string) error {
	_, err := p.client.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	return wrap("stop instances", err)
}

func (p *EC2Provider) Reboot(ctx context.Context, instanceID string) error {
	_, err := p.client.RebootInstancesWithContext(ctx, &ec2.RebootInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	return wrap("reboot instances", err)
}

func (p *EC2Provider) Terminate(ctx context.Context, instanceID string) error {
	_, err := p.client.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	return wrap("terminate instances", err)
}

// Tag attaches tags to the instance. Keys are applied in sorted order.
func (p *EC2Provider) Tag(ctx context.Context, instanceID string, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ec2Tags := make([]*ec2.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, &ec2.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err := p.client.CreateTagsWithContext(ctx, &ec2.CreateTagsInput{
		Resources: aws.StringSlice([]string{instanceID}),
		Tags:      ec2Tags,
	})
	return wrap("create tags", err)
}

// DescribeSubnet returns the availability zone the subnet lives in.
func (p *EC2Provider) DescribeSubnet(ctx context.Context, subnetID string) (string, error) {
	out, err := p.client.DescribeSubnetsWithContext(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: aws.StringSlice([]string{subnetID}),
	})
	if isAWSCode(err, errCodeSubnetNotFound) {
		return "", fmt.Errorf("%w: subnet %s", interfaces.ErrNotFound, subnetID)
	}
	if err != nil {
		return "", fmt.Errorf("describe subnets: %w", err)
	}
	if len(out.Subnets) == 0 {
		return "", fmt.Errorf("%w: subnet %s", interfaces.ErrNotFound, subnetID)
	}
	return aws.StringValue(out.Subnets[0].AvailabilityZone), nil
}

// ConsoleScreenshot captures the instance console as a JPEG, waking the
// display first.
func (p *EC2Provider) ConsoleScreenshot(ctx context.Context, instanceID string) ([]byte, error) {
	out, err := p.client.GetConsoleScreenshotWithContext(ctx, &ec2.GetConsoleScreenshotInput{
		InstanceId: aws.String(instanceID),
		WakeUp:     aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get console screenshot: %w", err)
	}

	img, err := base64.StdEncoding.DecodeString(aws.StringValue(out.ImageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isAWSCode(err error, code string) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == code
}
