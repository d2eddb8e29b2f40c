// Command oar-p2p allocates overlay addresses, synthesises per-machine
// network emulation programs and applies or tears them down across a set of
// cluster machines, plus runs a schedule of containers against the result.
package main

import (
	"flag"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/oar-p2p/oar-p2p/cmd/net"
	"github.com/oar-p2p/oar-p2p/cmd/run"
	"github.com/oar-p2p/oar-p2p/internal/cliconfig"
)

func main() {
	rand.Seed(time.Now().UTC().UnixNano())

	config := new(cliconfig.Config)
	klogFlags := new(flag.FlagSet)
	klog.InitFlags(klogFlags)

	rootCmd := &cobra.Command{
		Use:          "oar-p2p",
		Short:        "Emulated overlay network planner and deployer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			klogFlags.Parse(nil)
			if config.Nodefile != "" {
				if err := os.Setenv("OAR_NODEFILE", config.Nodefile); err != nil {
					return err
				}
			}
			return config.ApplyConcurrencyLimit()
		},
	}

	cliconfig.BindFlags(rootCmd.PersistentFlags(), config)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand((&net.Command{Config: config}).Command())
	rootCmd.AddCommand((&run.Command{Config: config}).Command())

	if err := rootCmd.Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
