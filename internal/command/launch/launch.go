package launch

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fognode/internal/command/root"
	"fognode/internal/signal"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().String("backend", "aws", "Provisioning backend (aws or remote)")
	cmd.PersistentFlags().String("address", "", "Address of a preexisting host (remote backend)")
	cmd.PersistentFlags().String("key-path", "", "SSH key of a preexisting host (remote backend)")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "launch",
	Short: "Provision one node",
	Long:  `FogNode Launch: provision a single compute node and start the workload on it`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info("starting launch")

		cmpt := root.GetComponent(true, true, true, false)

		p, err := root.BuildProvisioner(root.NodeParams{
			Backend: viper.GetString("backend"),
			Address: viper.GetString("address"),
			KeyPath: viper.GetString("key-path"),
		}, cmpt)

		if err != nil {
			log.WithError(err).Fatal("unable to build provisioner")
		}

		ctx := signal.WatchInterrupt(context.Background(), root.ShutdownGrace)

		log.WithField("instance", p.Record().Name()).Info("provisioning node")

		if err := p.Create(ctx); err != nil {
			log.WithError(err).WithField("state", p.State()).Fatal("provisioning failed")
		}

		data, err := json.MarshalIndent(p.Record().Info(), "", "  ")

		if err != nil {
			log.WithError(err).Fatal("unable to render node info")
		}

		fmt.Println(string(data))
	},
}
