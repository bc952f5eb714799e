package cloud

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fognode/internal/instance"
	"fognode/internal/naming"
)

type fakeEC2 struct {
	groupID     string
	keyMaterial string

	// number of describe calls answered with a pending state
	pendingDescribes int
	// number of running-state describes answered without a public ip
	unaddressedDescribes int
	ip                   string

	runErr error

	authorizeCalls int
	runCalls       int
	describeCalls  int
}

func (f *fakeEC2) DescribeVpcsWithContext(aws.Context, *ec2.DescribeVpcsInput, ...request.Option) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{Vpcs: []*ec2.Vpc{{VpcId: aws.String("vpc-1")}}}, nil
}

func (f *fakeEC2) CreateSecurityGroupWithContext(_ aws.Context, input *ec2.CreateSecurityGroupInput, _ ...request.Option) (*ec2.CreateSecurityGroupOutput, error) {
	out := &ec2.CreateSecurityGroupOutput{}
	if f.groupID != "" {
		out.GroupId = aws.String(f.groupID)
	}
	return out, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngressWithContext(aws.Context, *ec2.AuthorizeSecurityGroupIngressInput, ...request.Option) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.authorizeCalls++
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) CreateKeyPairWithContext(_ aws.Context, input *ec2.CreateKeyPairInput, _ ...request.Option) (*ec2.CreateKeyPairOutput, error) {
	return &ec2.CreateKeyPairOutput{
		KeyName:     input.KeyName,
		KeyMaterial: aws.String(f.keyMaterial),
	}, nil
}

func (f *fakeEC2) RunInstancesWithContext(aws.Context, *ec2.RunInstancesInput, ...request.Option) (*ec2.Reservation, error) {
	f.runCalls++
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &ec2.Reservation{Instances: []*ec2.Instance{{InstanceId: aws.String("i-0abc")}}}, nil
}

func (f *fakeEC2) DescribeInstancesWithContext(aws.Context, *ec2.DescribeInstancesInput, ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	f.describeCalls++

	inst := &ec2.Instance{InstanceId: aws.String("i-0abc")}

	switch {
	case f.describeCalls <= f.pendingDescribes:
		inst.State = &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNamePending)}
	case f.describeCalls <= f.pendingDescribes+f.unaddressedDescribes:
		inst.State = &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameRunning)}
	default:
		inst.State = &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNameRunning)}
		inst.PublicIpAddress = aws.String(f.ip)
	}

	return &ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{Instances: []*ec2.Instance{inst}}},
	}, nil
}

func testRecord(t *testing.T) *instance.Record {
	base, err := ioutil.TempDir("", "fognode-cloud")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(base) })

	rec, err := instance.New(instance.Config{Workspace: "/tmp/ws", WorkingDirBase: base}, naming.Fixed("aws-test"))
	require.NoError(t, err)
	return rec
}

func testBackend(api API) *awsBackend {
	cfg := EC2Config{
		PollAttempts: 10,
		PollInterval: time.Millisecond,
	}
	cfg.applyDefaults()
	return &awsBackend{api: api, cfg: cfg}
}

func TestCreatePopulatesRecord(t *testing.T) {
	fake := &fakeEC2{groupID: "sg-123", keyMaterial: "PRIVATE KEY MATERIAL", ip: "54.1.2.3"}
	b := testBackend(fake)
	rec := testRecord(t)

	require.NoError(t, b.Create(context.Background(), rec))

	require.NotNil(t, rec.PublicIP())
	assert.Equal(t, "54.1.2.3", *rec.PublicIP())

	require.NotNil(t, rec.SSHKeyPath())
	material, err := ioutil.ReadFile(*rec.SSHKeyPath())
	require.NoError(t, err)
	assert.Equal(t, "PRIVATE KEY MATERIAL", string(material))

	require.NotNil(t, rec.Cloud())
	assert.Equal(t, "sg-123", rec.Cloud().SecurityGroupID)
	assert.Equal(t, "i-0abc", rec.Cloud().InstanceID)
	assert.Equal(t, DefaultRegion, rec.Cloud().Region)

	assert.Equal(t, 1, fake.authorizeCalls)
	assert.False(t, rec.Ready().Get())
}

func TestCreateFailsFastWithoutGroupID(t *testing.T) {
	fake := &fakeEC2{groupID: "", keyMaterial: "k", ip: "54.1.2.3"}
	b := testBackend(fake)
	rec := testRecord(t)

	err := b.Create(context.Background(), rec)
	require.Error(t, err)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "security group", perr.Step)
	assert.Zero(t, fake.runCalls)
	assert.Nil(t, rec.PublicIP())
}

func TestCreatePollsUntilAddressAssigned(t *testing.T) {
	const lateBy = 4

	fake := &fakeEC2{
		groupID:              "sg-123",
		keyMaterial:          "k",
		pendingDescribes:     2,
		unaddressedDescribes: lateBy - 1,
		ip:                   "54.1.2.3",
	}
	b := testBackend(fake)
	rec := testRecord(t)

	require.NoError(t, b.Create(context.Background(), rec))

	// boot poll stops at the first running describe; the address poll then
	// takes exactly lateBy more
	bootPolls := fake.pendingDescribes + 1
	assert.Equal(t, bootPolls+lateBy, fake.describeCalls)
	assert.Equal(t, "54.1.2.3", *rec.PublicIP())
}

func TestCreateBootPollExhaustion(t *testing.T) {
	fake := &fakeEC2{
		groupID:          "sg-123",
		keyMaterial:      "k",
		pendingDescribes: 1000,
		ip:               "54.1.2.3",
	}
	b := testBackend(fake)
	b.cfg.PollAttempts = 3
	rec := testRecord(t)

	err := b.Create(context.Background(), rec)
	require.Error(t, err)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "boot poll", perr.Step)
	assert.Equal(t, 3, fake.describeCalls)

	// partial state stays for inspection
	assert.Equal(t, "i-0abc", rec.Cloud().InstanceID)
	assert.NotNil(t, rec.SSHKeyPath())
	assert.Nil(t, rec.PublicIP())
}

func TestCreatePollExhaustsWithinBoundedTime(t *testing.T) {
	fake := &fakeEC2{
		groupID:          "sg-123",
		keyMaterial:      "k",
		pendingDescribes: 1000,
		ip:               "54.1.2.3",
	}
	b := testBackend(fake)
	b.cfg.PollAttempts = 20
	rec := testRecord(t)

	start := time.Now()
	err := b.Create(context.Background(), rec)
	elapsed := time.Since(start)

	require.Error(t, err)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "boot poll", perr.Step)
	assert.Equal(t, 20, fake.describeCalls)

	// capped backoff: at most attempts * 10 * interval of sleeping, nothing
	// remotely close to the uncapped doubling
	assert.Less(t, int64(elapsed), int64(2*time.Second))
}

func TestCreateRunInstanceFailure(t *testing.T) {
	fake := &fakeEC2{groupID: "sg-123", keyMaterial: "k", runErr: errors.New("capacity")}
	b := testBackend(fake)
	rec := testRecord(t)

	err := b.Create(context.Background(), rec)
	require.Error(t, err)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "run instance", perr.Step)
	assert.Equal(t, "sg-123", rec.Cloud().SecurityGroupID)
}

func TestCreateRespectsCancelledContext(t *testing.T) {
	fake := &fakeEC2{groupID: "sg-123", keyMaterial: "k", pendingDescribes: 1000, ip: "54.1.2.3"}
	b := testBackend(fake)
	rec := testRecord(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Create(ctx, rec)
	require.Error(t, err)
	assert.True(t, fake.describeCalls <= 1)
}
