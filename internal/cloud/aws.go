package cloud

import (
	"context"
	"io/ioutil"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"fognode/internal/instance"
)

// Documented defaults for unspecified cloud parameters.
const (
	DefaultRegion       = "us-west-1"
	DefaultInstanceType = "t2.micro"
	DefaultDiskSize     = 30
	DefaultImage        = "ami-08b3b42af12192fe6"
	DefaultPollAttempts = 40
	DefaultPollInterval = 3 * time.Second
)

// API is the EC2 surface the backend consumes.
type API interface {
	DescribeVpcsWithContext(ctx aws.Context, input *ec2.DescribeVpcsInput, opts ...request.Option) (*ec2.DescribeVpcsOutput, error)
	CreateSecurityGroupWithContext(ctx aws.Context, input *ec2.CreateSecurityGroupInput, opts ...request.Option) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngressWithContext(ctx aws.Context, input *ec2.AuthorizeSecurityGroupIngressInput, opts ...request.Option) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	CreateKeyPairWithContext(ctx aws.Context, input *ec2.CreateKeyPairInput, opts ...request.Option) (*ec2.CreateKeyPairOutput, error)
	RunInstancesWithContext(ctx aws.Context, input *ec2.RunInstancesInput, opts ...request.Option) (*ec2.Reservation, error)
	DescribeInstancesWithContext(ctx aws.Context, input *ec2.DescribeInstancesInput, opts ...request.Option) (*ec2.DescribeInstancesOutput, error)
}

type EC2Config struct {
	Region       string
	InstanceType string
	DiskSize     int64
	Image        string
	PollAttempts uint
	PollInterval time.Duration
}

func (c *EC2Config) applyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.InstanceType == "" {
		c.InstanceType = DefaultInstanceType
	}
	if c.DiskSize == 0 {
		c.DiskSize = DefaultDiskSize
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = DefaultPollAttempts
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}

type awsBackend struct {
	api API
	cfg EC2Config
}

// NewEC2 returns a backend that allocates one EC2 instance per record, with
// an ingress-open security group and a fresh key pair scoped to the record's
// unique name.
func NewEC2(cfg EC2Config) (Backend, error) {
	cfg.applyDefaults()

	sess, err := awssession.NewSession(&aws.Config{Region: aws.String(cfg.Region)})

	if err != nil {
		return nil, errors.Wrap(err, "aws session")
	}

	return &awsBackend{api: ec2.New(sess), cfg: cfg}, nil
}

func (b *awsBackend) Create(ctx context.Context, rec *instance.Record) error {
	meta := &instance.CloudMeta{
		Region:       b.cfg.Region,
		InstanceType: b.cfg.InstanceType,
		DiskSize:     b.cfg.DiskSize,
		Image:        b.cfg.Image,
	}
	rec.SetCloud(meta)

	groupID, err := b.createSecurityGroup(ctx, rec.Name())

	if err != nil {
		return &ProvisioningError{Step: "security group", Err: err}
	}

	// the API may accept the call yet return no id; using an unset id later
	// fails in far stranger ways, so stop here
	if groupID == "" {
		return &ProvisioningError{Step: "security group", Err: errors.New("no security group id returned")}
	}

	meta.SecurityGroupID = groupID

	keyName := rec.Name() + "-key"
	keyPath, err := b.createKeyPair(ctx, keyName, rec.WorkingDir())

	if err != nil {
		return &ProvisioningError{Step: "key pair", Err: err}
	}

	rec.SetSSHKeyPath(keyPath)

	instanceID, err := b.runInstance(ctx, keyName, groupID)

	if err != nil {
		return &ProvisioningError{Step: "run instance", Err: err}
	}

	meta.InstanceID = instanceID

	log.WithFields(log.Fields{
		"instance": rec.Name(),
		"id":       instanceID,
		"type":     b.cfg.InstanceType,
	}).Info("ec2 instance created, waiting for boot")

	if err := b.waitRunning(ctx, instanceID); err != nil {
		return &ProvisioningError{Step: "boot poll", Err: err}
	}

	// address assignment can lag the running state
	ip, err := b.waitAddress(ctx, instanceID)

	if err != nil {
		return &ProvisioningError{Step: "address poll", Err: err}
	}

	if err := rec.SetPublicIP(ip); err != nil {
		return &ProvisioningError{Step: "assign address", Err: err}
	}

	log.WithFields(log.Fields{
		"instance": rec.Name(),
		"ip":       ip,
	}).Info("ec2 instance running")

	return nil
}

func (b *awsBackend) createSecurityGroup(ctx context.Context, name string) (string, error) {
	vpcs, err := b.api.DescribeVpcsWithContext(ctx, &ec2.DescribeVpcsInput{})

	if err != nil {
		return "", errors.Wrap(err, "describe vpcs")
	}

	if len(vpcs.Vpcs) == 0 {
		return "", errors.New("no vpc available")
	}

	group, err := b.api.CreateSecurityGroupWithContext(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name + "-sg"),
		Description: aws.String("fognode ingress-open group for " + name),
		VpcId:       vpcs.Vpcs[0].VpcId,
	})

	if err != nil {
		return "", errors.Wrap(err, "create security group")
	}

	groupID := aws.StringValue(group.GroupId)

	if groupID == "" {
		return "", nil
	}

	_, err = b.api.AuthorizeSecurityGroupIngressWithContext(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []*ec2.IpPermission{
			{
				IpProtocol: aws.String("-1"),
				FromPort:   aws.Int64(0),
				ToPort:     aws.Int64(65535),
				IpRanges:   []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
		},
	})

	if err != nil {
		return "", errors.Wrap(err, "authorize ingress")
	}

	return groupID, nil
}

func (b *awsBackend) createKeyPair(ctx context.Context, keyName, workingDir string) (string, error) {
	out, err := b.api.CreateKeyPairWithContext(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws.String(keyName),
	})

	if err != nil {
		return "", errors.Wrap(err, "create key pair")
	}

	material := aws.StringValue(out.KeyMaterial)

	if material == "" {
		return "", errors.New("no key material returned")
	}

	keyPath := workingDir + keyName + ".pem"

	if err := ioutil.WriteFile(keyPath, []byte(material), 0600); err != nil {
		return "", errors.Wrap(err, "persist private key")
	}

	return keyPath, nil
}

func (b *awsBackend) runInstance(ctx context.Context, keyName, groupID string) (string, error) {
	reservation, err := b.api.RunInstancesWithContext(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(b.cfg.Image),
		InstanceType:     aws.String(b.cfg.InstanceType),
		MinCount:         aws.Int64(1),
		MaxCount:         aws.Int64(1),
		KeyName:          aws.String(keyName),
		SecurityGroupIds: []*string{aws.String(groupID)},
		BlockDeviceMappings: []*ec2.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &ec2.EbsBlockDevice{
					VolumeSize: aws.Int64(b.cfg.DiskSize),
					VolumeType: aws.String("standard"),
				},
			},
		},
	})

	if err != nil {
		return "", errors.Wrap(err, "run instance")
	}

	if len(reservation.Instances) == 0 {
		return "", errors.New("no instance in reservation")
	}

	return aws.StringValue(reservation.Instances[0].InstanceId), nil
}

func (b *awsBackend) waitRunning(ctx context.Context, instanceID string) error {
	return b.poll(ctx, func() error {
		inst, err := b.describe(ctx, instanceID)

		if err != nil {
			return err
		}

		state := ""
		if inst.State != nil {
			state = aws.StringValue(inst.State.Name)
		}

		if state != ec2.InstanceStateNameRunning {
			return errors.Errorf("instance state %q", state)
		}

		return nil
	})
}

func (b *awsBackend) waitAddress(ctx context.Context, instanceID string) (string, error) {
	var ip string

	err := b.poll(ctx, func() error {
		inst, err := b.describe(ctx, instanceID)

		if err != nil {
			return err
		}

		ip = aws.StringValue(inst.PublicIpAddress)

		if ip == "" {
			return errors.New("public address not assigned yet")
		}

		return nil
	})

	return ip, err
}

func (b *awsBackend) poll(ctx context.Context, probe func() error) error {
	// uncapped backoff would make the later attempts wait for hours; the cap
	// keeps a full exhaustion within minutes at the defaults
	return retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}

			return probe()
		},
		retry.Attempts(b.cfg.PollAttempts),
		retry.Delay(b.cfg.PollInterval),
		retry.MaxDelay(10*b.cfg.PollInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (b *awsBackend) describe(ctx context.Context, instanceID string) (*ec2.Instance, error) {
	out, err := b.api.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})

	if err != nil {
		return nil, errors.Wrap(err, "describe instance")
	}

	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, errors.Errorf("instance %s not found", instanceID)
	}

	return out.Reservations[0].Instances[0], nil
}
