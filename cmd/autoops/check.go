package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-autoops/internal/config"
	"github.com/miradorstack/mirador-autoops/internal/rules"
)

func newCheckConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and rule pack without starting the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			pack, err := rules.Load(cfg.Rules.Path)
			if err != nil {
				return fmt.Errorf("rule pack %s: %w", cfg.Rules.Path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d health checks, %d policies, %d response rules, storage=%s\n",
				len(cfg.Health.Checks), len(pack.Policies), len(pack.ResponseRules), cfg.Storage.Driver)
			return nil
		},
	}
}
