package provision

import (
	"context"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fognode/internal/instance"
	"fognode/internal/naming"
	"fognode/internal/session"
)

type fakeBackend struct {
	err     error
	calls   int
	ip      string
	keyPath string
}

func (b *fakeBackend) Create(ctx context.Context, rec *instance.Record) error {
	b.calls++

	if b.err != nil {
		return b.err
	}

	rec.SetSSHKeyPath(b.keyPath)
	return rec.SetPublicIP(b.ip)
}

type fakeSession struct {
	events     []string
	connectErr error
	failOn     string
}

func (s *fakeSession) Connect(ctx context.Context, addr, keyPath string) error {
	s.events = append(s.events, "connect "+addr)
	return s.connectErr
}

func (s *fakeSession) Execute(ctx context.Context, command string) (string, error) {
	s.events = append(s.events, "exec "+command)

	if s.failOn != "" && strings.Contains(command, s.failOn) {
		return "", &session.RemoteExecutionError{Command: command, Status: 1}
	}

	return "", nil
}

func (s *fakeSession) SendFile(ctx context.Context, localPath, remotePath string) error {
	s.events = append(s.events, "send "+remotePath)
	return nil
}

func (s *fakeSession) Close() error {
	return nil
}

func (s *fakeSession) index(t *testing.T, substr string) int {
	for i, event := range s.events {
		if strings.Contains(event, substr) {
			return i
		}
	}

	t.Fatalf("no event matching %q in %v", substr, s.events)
	return -1
}

type capturingMetric struct {
	points []*influxdb2.Point
}

func (m *capturingMetric) Send(points ...*influxdb2.Point) {
	m.points = append(m.points, points...)
}

type memRegistry struct {
	snapshots map[string]string
}

func (m *memRegistry) Get(name string) (string, error) { return m.snapshots[name], nil }

func (m *memRegistry) Set(name, snapshot string) error {
	m.snapshots[name] = snapshot
	return nil
}

func (m *memRegistry) Delete(name string) error { return nil }

func (m *memRegistry) List() ([]string, error) { return nil, nil }

type memBucket struct {
	objects map[string][]byte
}

func (m *memBucket) Get(key string) ([]byte, error) { return m.objects[key], nil }

func (m *memBucket) Store(key string, data []byte) error {
	m.objects[key] = data
	return nil
}

func (m *memBucket) Delete(key string) error { return nil }

func testSetup(t *testing.T) (*instance.Record, string) {
	base, err := ioutil.TempDir("", "fognode-provision")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(base) })

	workspace := base + "/ws"
	require.NoError(t, os.MkdirAll(workspace+"/src", 0755))
	require.NoError(t, ioutil.WriteFile(workspace+"/src/node.py", []byte("pass"), 0644))

	rec, err := instance.New(instance.Config{Workspace: workspace, WorkingDirBase: base + "/run"}, naming.Fixed("node-1"))
	require.NoError(t, err)

	return rec, base
}

func TestCreateRunsPipelineInOrder(t *testing.T) {
	rec, _ := testSetup(t)

	backend := &fakeBackend{ip: "54.1.2.3", keyPath: "/tmp/k.pem"}
	sess := &fakeSession{}

	p := New(rec, backend, sess)
	require.NoError(t, p.Create(context.Background()))

	assert.Equal(t, StateReady, p.State())
	assert.True(t, rec.Ready().Get())
	assert.Equal(t, 1, backend.calls)

	connect := sess.index(t, "connect 54.1.2.3")
	install := sess.index(t, "apt install")
	clean := sess.index(t, "rm -rf")
	pushZip := sess.index(t, "send /home/ubuntu/")
	extract := sess.index(t, "unzip -q")
	pushWg := sess.index(t, "send /tmp/fognode-wg.conf")
	activate := sess.index(t, "wg-quick up wg0")
	pushDDS := sess.index(t, "send /home/ubuntu/cyclonedds.xml")
	launch := sess.index(t, "colcon build")

	assert.True(t, connect < install)
	assert.True(t, install < clean)
	assert.True(t, clean < pushZip)
	assert.True(t, pushZip < extract)
	assert.True(t, extract < pushWg)
	assert.True(t, pushWg < activate)
	assert.True(t, activate < pushDDS)
	assert.True(t, pushDDS < launch)
}

func TestCreateComposesOneLaunchCommand(t *testing.T) {
	rec, _ := testSetup(t)

	sess := &fakeSession{}
	p := New(rec, &fakeBackend{ip: "54.1.2.3", keyPath: "/tmp/k.pem"}, sess,
		WithLaunchCommand("ros2 launch demo talker.launch.py"))

	require.NoError(t, p.Create(context.Background()))

	last := sess.events[len(sess.events)-1]
	assert.Contains(t, last, "source /home/ubuntu/ros2_rolling/install/setup.bash && ")
	assert.Contains(t, last, "export CYCLONEDDS_URI=file:///home/ubuntu/cyclonedds.xml && ")
	assert.Contains(t, last, " && ros2 launch demo talker.launch.py")
}

func TestCreatePersistsSnapshot(t *testing.T) {
	rec, _ := testSetup(t)

	p := New(rec, &fakeBackend{ip: "54.1.2.3", keyPath: "/tmp/k.pem"}, &fakeSession{})
	require.NoError(t, p.Create(context.Background()))

	info, err := instance.Load(rec.InfoPath())
	require.NoError(t, err)
	assert.Equal(t, "node-1", info.Name)
	assert.Equal(t, "54.1.2.3", *info.PublicIP)
	assert.Equal(t, "/tmp/k.pem", *info.SSHKeyPath)
}

func TestCreateStopsAtWorkspaceFailure(t *testing.T) {
	rec, _ := testSetup(t)

	sess := &fakeSession{failOn: "unzip -q"}
	p := New(rec, &fakeBackend{ip: "54.1.2.3", keyPath: "/tmp/k.pem"}, sess)

	err := p.Create(context.Background())
	require.Error(t, err)

	assert.Contains(t, err.Error(), string(StateWorkspaceSynced))
	assert.Equal(t, StateFailed, p.State())
	assert.False(t, rec.Ready().Get())

	var execErr *session.RemoteExecutionError
	assert.True(t, errors.As(err, &execErr))

	for _, event := range sess.events {
		assert.NotContains(t, event, "wg-quick")
		assert.NotContains(t, event, "cyclonedds")
	}
}

func TestCreateBackendFailureSkipsSession(t *testing.T) {
	rec, _ := testSetup(t)

	sess := &fakeSession{}
	p := New(rec, &fakeBackend{err: errors.New("quota exceeded")}, sess)

	err := p.Create(context.Background())
	require.Error(t, err)

	assert.Contains(t, err.Error(), string(StateBackendProvisioned))
	assert.Equal(t, StateFailed, p.State())
	assert.Empty(t, sess.events)
	assert.False(t, rec.Ready().Get())
}

func TestCreateConnectFailure(t *testing.T) {
	rec, _ := testSetup(t)

	sess := &fakeSession{connectErr: &session.ConnectivityError{Addr: "54.1.2.3", Err: errors.New("timeout")}}
	p := New(rec, &fakeBackend{ip: "54.1.2.3", keyPath: "/tmp/k.pem"}, sess)

	err := p.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(StateSessionEstablished))
	assert.Len(t, sess.events, 1)
}

func TestCreateEmitsStepMetrics(t *testing.T) {
	rec, _ := testSetup(t)

	metrics := &capturingMetric{}
	p := New(rec, &fakeBackend{ip: "54.1.2.3", keyPath: "/tmp/k.pem"}, &fakeSession{}, WithMetric(metrics))

	require.NoError(t, p.Create(context.Background()))

	// one point per pipeline state
	assert.Len(t, metrics.points, 8)
	assert.Equal(t, "fognode_provision_step", metrics.points[0].Name())
}

func TestCreateMirrorsSnapshots(t *testing.T) {
	rec, _ := testSetup(t)

	reg := &memRegistry{snapshots: map[string]string{}}
	bucket := &memBucket{objects: map[string][]byte{}}
	p := New(rec, &fakeBackend{ip: "54.1.2.3", keyPath: "/tmp/k.pem"}, &fakeSession{},
		WithRegistry(reg), WithBucket(bucket))

	require.NoError(t, p.Create(context.Background()))

	assert.Contains(t, reg.snapshots["node-1"], `"public_ip":"54.1.2.3"`)
	assert.NotEmpty(t, bucket.objects["node-1/info"])
	assert.NotEmpty(t, bucket.objects["node-1/ros_workspace.zip"])
}

func TestStateStartsCreated(t *testing.T) {
	rec, _ := testSetup(t)

	p := New(rec, &fakeBackend{}, &fakeSession{})
	assert.Equal(t, StateCreated, p.State())
}
