package fleet

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"fognode/internal/command/root"
	"fognode/internal/signal"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().String("manifest", "fleet.yaml", "Fleet manifest file")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "fleet",
	Short: "Provision a fleet of nodes",
	Long:  `FogNode Fleet: provision every node of a manifest concurrently, one pipeline per node`,
	Run: func(cmd *cobra.Command, args []string) {
		manifestPath := viper.GetString("manifest")

		manifest, err := Load(manifestPath)

		if err != nil {
			log.WithError(err).Fatalf("unable to load manifest '%s'", manifestPath)
		}

		log.Infof("provisioning %d nodes", len(manifest.Nodes))

		cmpt := root.GetComponent(true, true, true, false)
		ctx := signal.WatchInterrupt(context.Background(), root.ShutdownGrace)

		var wg sync.WaitGroup
		failed := make(chan string, len(manifest.Nodes))

		for i, node := range manifest.Nodes {
			wg.Add(1)

			go func(index int, params root.NodeParams) {
				defer wg.Done()

				p, err := root.BuildProvisioner(params, cmpt)

				if err != nil {
					log.WithError(err).Errorf("%s: unable to build provisioner", nodeLabel(index))
					failed <- nodeLabel(index)
					return
				}

				logger := log.WithField("instance", p.Record().Name())

				if err := p.Create(ctx); err != nil {
					logger.WithError(err).Error("provisioning failed")
					failed <- p.Record().Name()
					return
				}

				logger.Info("node ready")
			}(i, node.Params())
		}

		wg.Wait()
		close(failed)

		count := 0
		for range failed {
			count++
		}

		if count > 0 {
			log.Errorf("%d of %d nodes failed", count, len(manifest.Nodes))
			os.Exit(1)
		}

		log.Info("fleet ready")
	},
}

// nodeLabel identifies a manifest entry before a record name exists for it.
func nodeLabel(index int) string {
	return fmt.Sprintf("node-%d", index)
}

// Manifest lists the nodes of one fleet.
type Manifest struct {
	Nodes []Node `yaml:"nodes"`
}

type Node struct {
	Backend      string `yaml:"backend"`
	Workspace    string `yaml:"workspace,omitempty"`
	Region       string `yaml:"region,omitempty"`
	InstanceType string `yaml:"instanceType,omitempty"`
	DiskSize     int64  `yaml:"diskSize,omitempty"`
	Image        string `yaml:"image,omitempty"`

	Address string `yaml:"address,omitempty"`
	KeyPath string `yaml:"keyPath,omitempty"`

	LaunchCommand string `yaml:"launchCommand,omitempty"`
}

func (n Node) Params() root.NodeParams {
	return root.NodeParams{
		Backend:       n.Backend,
		Workspace:     n.Workspace,
		Region:        n.Region,
		InstanceType:  n.InstanceType,
		DiskSize:      n.DiskSize,
		Image:         n.Image,
		Address:       n.Address,
		KeyPath:       n.KeyPath,
		LaunchCommand: n.LaunchCommand,
	}
}

// Load reads and validates a fleet manifest.
func Load(path string) (*Manifest, error) {
	data, err := ioutil.ReadFile(path)

	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}

	var manifest Manifest

	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}

	if len(manifest.Nodes) == 0 {
		return nil, errors.New("manifest has no nodes")
	}

	for i, node := range manifest.Nodes {
		switch node.Backend {
		case "aws":
		case "remote":
			if node.Address == "" || node.KeyPath == "" {
				return nil, errors.Errorf("node %d: remote backend needs address and keyPath", i)
			}
		default:
			return nil, errors.Errorf("node %d: unknown backend '%s'", i, node.Backend)
		}
	}

	return &manifest, nil
}
