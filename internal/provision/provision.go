package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"fognode/internal/archive"
	"fognode/internal/cloud"
	"fognode/internal/instance"
	"fognode/internal/metric"
	"fognode/internal/middleware"
	"fognode/internal/overlay"
	"fognode/internal/registry"
	"fognode/internal/session"
	"fognode/internal/shell"
	"fognode/internal/storage"
)

// State names one position in the pipeline. States only move forward; any
// failure lands in StateFailed and stays there.
type State string

const (
	StateCreated               State = "Created"
	StateBackendProvisioned    State = "BackendProvisioned"
	StateSessionEstablished    State = "SessionEstablished"
	StateDependenciesInstalled State = "DependenciesInstalled"
	StateWorkspaceSynced       State = "WorkspaceSynced"
	StateOverlayConfigured     State = "OverlayConfigured"
	StateWorkloadConfigured    State = "WorkloadConfigured"
	StateWorkloadLaunched      State = "WorkloadLaunched"
	StateReady                 State = "Ready"
	StateFailed                State = "Failed"
)

const (
	remoteHome        = "/home/ubuntu"
	remoteWorkspace   = remoteHome + "/fog_ws"
	archiveName       = "ros_workspace.zip"
	defaultLaunch     = "ros2 launch fognode cloud.launch.py"
	defaultEnvSetup   = "source " + remoteHome + "/ros2_rolling/install/setup.bash"
	workspaceBuild    = "cd " + remoteWorkspace + " && colcon build --merge-install"
	workspaceEnvSetup = ". " + remoteWorkspace + "/install/setup.bash"
)

var dependencyCommands = []string{
	"sudo apt update",
	"sudo apt install -y wireguard unzip",
	"sudo pip3 install wgconfig boto3 paramiko scp",
}

// ConfigurationError reports a config file that could not be built or
// written locally.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Provisioner drives one record through the pipeline: backend allocation,
// session establishment, dependency install, workspace sync, overlay and
// middleware configuration, workload launch, readiness. One provisioner per
// record, strictly sequential; concurrent nodes get their own provisioners.
type Provisioner struct {
	rec     *instance.Record
	backend cloud.Backend
	sess    session.Session

	metrics metric.Client
	bucket  storage.Bucket
	reg     registry.Registry

	peers     []string
	launchCmd string

	state         State
	middlewareEnv string
	archivePath   string
}

type Option func(*Provisioner)

func WithMetric(client metric.Client) Option {
	return func(p *Provisioner) {
		p.metrics = client
	}
}

// WithBucket mirrors the workspace archive and info snapshot into a bucket
// once the node is ready.
func WithBucket(bucket storage.Bucket) Option {
	return func(p *Provisioner) {
		p.bucket = bucket
	}
}

// WithRegistry mirrors info snapshots into a shared registry for pollers in
// other processes.
func WithRegistry(reg registry.Registry) Option {
	return func(p *Provisioner) {
		p.reg = reg
	}
}

// WithPeers overrides the overlay peer addresses. The default is the
// launching host's fixed overlay address.
func WithPeers(peers []string) Option {
	return func(p *Provisioner) {
		if len(peers) > 0 {
			p.peers = peers
		}
	}
}

// WithLaunchCommand overrides the workload launch invocation.
func WithLaunchCommand(cmd string) Option {
	return func(p *Provisioner) {
		if cmd != "" {
			p.launchCmd = cmd
		}
	}
}

func New(rec *instance.Record, backend cloud.Backend, sess session.Session, opts ...Option) *Provisioner {
	p := &Provisioner{
		rec:       rec,
		backend:   backend,
		sess:      sess,
		metrics:   &metric.Null{},
		peers:     []string{"10.0.0.1"},
		launchCmd: defaultLaunch,
		state:     StateCreated,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Provisioner) Record() *instance.Record {
	return p.rec
}

func (p *Provisioner) State() State {
	return p.state
}

// Create runs the pipeline to completion or first failure. It blocks for the
// whole run; there is no retry and no rollback. On failure the returned
// error names the failed state, the record keeps its partial state and the
// readiness gate stays false.
func (p *Provisioner) Create(ctx context.Context) error {
	steps := []struct {
		state State
		run   func(context.Context) error
	}{
		{StateBackendProvisioned, p.stepBackend},
		{StateSessionEstablished, p.stepSession},
		{StateDependenciesInstalled, p.stepDependencies},
		{StateWorkspaceSynced, p.stepWorkspace},
		{StateOverlayConfigured, p.stepOverlay},
		{StateWorkloadConfigured, p.stepMiddleware},
		{StateWorkloadLaunched, p.stepLaunch},
		{StateReady, p.stepReady},
	}

	logger := log.WithField("instance", p.rec.Name())

	for _, step := range steps {
		start := time.Now()
		err := step.run(ctx)
		p.metrics.Send(metric.StepDuration(p.rec.Name(), string(step.state), time.Since(start), err != nil))

		if err != nil {
			p.state = StateFailed
			logger.WithError(err).Errorf("pipeline failed at %s", step.state)
			return errors.Wrapf(err, "pipeline failed at %s", step.state)
		}

		p.state = step.state
		logger.WithField("took", time.Since(start)).Debugf("reached %s", step.state)
	}

	logger.Info("node ready")
	return nil
}

func (p *Provisioner) stepBackend(ctx context.Context) error {
	if err := p.backend.Create(ctx, p.rec); err != nil {
		return err
	}

	// first snapshot, so a failed run still leaves the resource handles
	// on disk for inspection
	return p.rec.Persist()
}

func (p *Provisioner) stepSession(ctx context.Context) error {
	ip := p.rec.PublicIP()
	keyPath := p.rec.SSHKeyPath()

	if ip == nil || keyPath == nil {
		return errors.New("record has no address or key after backend provisioning")
	}

	return p.sess.Connect(ctx, *ip, *keyPath)
}

func (p *Provisioner) stepDependencies(ctx context.Context) error {
	for _, cmd := range dependencyCommands {
		if _, err := p.sess.Execute(ctx, cmd); err != nil {
			return err
		}
	}

	return nil
}

func (p *Provisioner) stepWorkspace(ctx context.Context) error {
	dst := p.rec.WorkingDir() + archiveName

	zipPath, err := archive.Zip(p.rec.Workspace(), dst)

	if err != nil {
		return err
	}

	p.archivePath = zipPath
	remoteName := archive.Name(zipPath)

	if _, err := p.sess.Execute(ctx, "rm -rf "+remoteName+" "+remoteWorkspace); err != nil {
		return err
	}

	if err := p.sess.SendFile(ctx, zipPath, remoteHome+"/"); err != nil {
		return err
	}

	if _, err := p.sess.Execute(ctx, fmt.Sprintf("unzip -q %s/%s -d %s", remoteHome, remoteName, remoteWorkspace)); err != nil {
		return err
	}

	return nil
}

func (p *Provisioner) stepOverlay(ctx context.Context) error {
	endpoint := ""
	if ip := p.rec.PublicIP(); ip != nil {
		endpoint = *ip
	}

	cfg, err := overlay.Build(p.peers, endpoint)

	if err != nil {
		return &ConfigurationError{Path: "overlay", Err: err}
	}

	nodeConf := p.rec.WorkingDir() + "wg0.conf"

	if err := ioutil.WriteFile(nodeConf, []byte(cfg.NodeText), 0600); err != nil {
		return &ConfigurationError{Path: nodeConf, Err: err}
	}

	// the counterpart the operator installs on the launching host
	localConf := p.rec.WorkingDir() + "wg0-local.conf"

	if err := ioutil.WriteFile(localConf, []byte(cfg.LocalText), 0600); err != nil {
		return &ConfigurationError{Path: localConf, Err: err}
	}

	if err := p.sess.SendFile(ctx, nodeConf, overlay.RemoteConfPath); err != nil {
		return err
	}

	if _, err := p.sess.Execute(ctx, cfg.ActivateCommand); err != nil {
		return err
	}

	return nil
}

func (p *Provisioner) stepMiddleware(ctx context.Context) error {
	text, err := middleware.Build(p.peers)

	if err != nil {
		return &ConfigurationError{Path: "middleware", Err: err}
	}

	localConf := p.rec.WorkingDir() + "cyclonedds.xml"

	if err := ioutil.WriteFile(localConf, []byte(text), 0644); err != nil {
		return &ConfigurationError{Path: localConf, Err: err}
	}

	if err := p.sess.SendFile(ctx, localConf, middleware.RemoteConfPath); err != nil {
		return err
	}

	p.middlewareEnv = middleware.EnvCommand(middleware.RemoteConfPath)
	return nil
}

func (p *Provisioner) stepLaunch(ctx context.Context) error {
	var b shell.Builder
	b.Append(defaultEnvSetup)
	b.Append(workspaceBuild)
	b.Append(workspaceEnvSetup)
	b.Append(p.middlewareEnv)
	b.Append(p.launchCmd)

	_, err := p.sess.Execute(ctx, b.Render())
	return err
}

func (p *Provisioner) stepReady(ctx context.Context) error {
	p.rec.Ready().Set(true)

	if err := p.rec.Persist(); err != nil {
		return err
	}

	p.mirror()
	return nil
}

// mirror copies the snapshot (and archive, when a bucket is configured) to
// the optional external stores. Best effort: a dead mirror must not take a
// ready node down with it.
func (p *Provisioner) mirror() {
	logger := log.WithField("instance", p.rec.Name())

	data, err := json.Marshal(p.rec.Info())

	if err != nil {
		logger.WithError(err).Warn("unable to marshal snapshot for mirroring")
		return
	}

	if p.reg != nil {
		if err := p.reg.Set(p.rec.Name(), string(data)); err != nil {
			logger.WithError(err).Warn("unable to mirror snapshot to registry")
		}
	}

	if p.bucket != nil {
		if err := p.bucket.Store(p.rec.Name()+"/info", data); err != nil {
			logger.WithError(err).Warn("unable to mirror snapshot to bucket")
		}

		if p.archivePath != "" {
			content, err := ioutil.ReadFile(p.archivePath)

			if err != nil {
				logger.WithError(err).Warn("unable to read workspace archive for mirroring")
				return
			}

			if err := p.bucket.Store(p.rec.Name()+"/"+archiveName, content); err != nil {
				logger.WithError(err).Warn("unable to mirror workspace archive to bucket")
			}
		}
	}
}
