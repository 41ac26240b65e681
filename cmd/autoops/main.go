package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "autoops",
		Short:        "Autonomous operations core",
		Long:         "Anomaly detection, threat response, health checking, self-healing and predictive maintenance behind one gRPC service.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $AUTOOPS_CONFIG)")
	root.AddCommand(
		newServeCmd(&configPath),
		newCheckConfigCmd(&configPath),
		newCallCmd(),
	)
	return root
}
