package root

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"fognode/internal/cloud"
	"fognode/internal/instance"
	"fognode/internal/naming"
	"fognode/internal/provision"
	"fognode/internal/session"
)

// NodeParams is one node to provision, merged from flags, a manifest entry
// or a queued launch request. Zero values fall back to the configured or
// built-in defaults.
type NodeParams struct {
	Backend   string
	Workspace string

	Region       string
	InstanceType string
	DiskSize     int64
	Image        string

	Address string
	KeyPath string

	LaunchCommand string
}

// BuildProvisioner assembles a record, backend and session into a ready to
// run provisioner. The record's unique name is generated here, prefixed by
// the backend kind.
func BuildProvisioner(params NodeParams, cmpt *Component) (*provision.Provisioner, error) {
	workspace := params.Workspace
	if workspace == "" {
		workspace = viper.GetString("workspace")
	}

	var (
		backend cloud.Backend
		prefix  string
		err     error
	)

	switch params.Backend {
	case "aws":
		prefix = "aws-"
		backend, err = cloud.NewEC2(cloud.EC2Config{
			Region:       firstOf(params.Region, viper.GetString("region")),
			InstanceType: firstOf(params.InstanceType, viper.GetString("instance-type")),
			DiskSize:     firstOfInt64(params.DiskSize, viper.GetInt64("disk-size")),
			Image:        firstOf(params.Image, viper.GetString("image")),
			PollAttempts: uint(viper.GetInt("poll-attempts")),
			PollInterval: viper.GetDuration("poll-interval"),
		})
	case "remote":
		prefix = "remote-"
		backend, err = cloud.NewRemote(params.Address, params.KeyPath)
	default:
		return nil, errors.Errorf("unknown backend '%s'", params.Backend)
	}

	if err != nil {
		return nil, errors.Wrap(err, "build backend")
	}

	rec, err := instance.New(instance.Config{
		Workspace:      workspace,
		WorkingDirBase: viper.GetString("working-dir"),
	}, naming.NewRandom(prefix, 4))

	if err != nil {
		return nil, errors.Wrap(err, "build record")
	}

	sess := session.NewSSH(session.SSHConfig{
		User:      viper.GetString("ssh-user"),
		DialDelay: viper.GetDuration("poll-interval"),
	})

	opts := []provision.Option{
		provision.WithMetric(cmpt.Metric),
		provision.WithPeers(viper.GetStringSlice("peers")),
		provision.WithLaunchCommand(firstOf(params.LaunchCommand, viper.GetString("launch-command"))),
	}

	if cmpt.Bucket != nil {
		opts = append(opts, provision.WithBucket(cmpt.Bucket))
	}

	if cmpt.Registry != nil {
		opts = append(opts, provision.WithRegistry(cmpt.Registry))
	}

	return provision.New(rec, backend, sess, opts...), nil
}

// ShutdownGrace is how long an interrupted command may keep running before
// it is killed.
const ShutdownGrace = 10 * time.Second

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstOfInt64(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
