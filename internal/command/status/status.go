package status

import (
	"fmt"
	"io/ioutil"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fognode/internal/command/root"
	"fognode/internal/instance"
)

func init() {
	root.Cmd.AddCommand(cmd)
}

var cmd = &cobra.Command{
	Use:   "status",
	Short: "List provisioned nodes",
	Long:  `FogNode Status: list persisted node snapshots, local and registered`,
	Run: func(cmd *cobra.Command, args []string) {
		cmpt := root.GetComponent(true, false, false, false)

		base := viper.GetString("working-dir")
		entries, err := ioutil.ReadDir(base)

		if err != nil {
			log.WithError(err).Warnf("unable to read working directory '%s'", base)
		}

		local := 0

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			path := filepath.Join(base, entry.Name(), "info")
			info, err := instance.Load(path)

			if err != nil {
				log.WithError(err).Debugf("skipping '%s'", entry.Name())
				continue
			}

			local++
			printInfo(info)
		}

		fmt.Printf("%d local nodes\n", local)

		if cmpt.Registry == nil {
			return
		}

		names, err := cmpt.Registry.List()

		if err != nil {
			log.WithError(err).Fatal("unable to list registry")
		}

		for _, name := range names {
			snapshot, err := cmpt.Registry.Get(name)

			if err != nil {
				log.WithError(err).Errorf("unable to read registry entry '%s'", name)
				continue
			}

			fmt.Printf("registered %s\n%s\n", name, snapshot)
		}

		fmt.Printf("%d registered nodes\n", len(names))
	},
}

func printInfo(info instance.Info) {
	ip := "-"
	if info.PublicIP != nil {
		ip = *info.PublicIP
	}

	fmt.Printf("%-24s %-16s %s\n", info.Name, ip, info.WorkingDir)
}
