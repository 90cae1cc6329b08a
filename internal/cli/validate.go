package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katunilya/surge/internal/performance/config"
	"github.com/katunilya/surge/internal/performance/plan"
)

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return &config.ValidationError{Field: "flags", Message: "--config is required"}
			}

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			p, err := cfg.Scenario.BuildPlan()
			if err != nil {
				return err
			}
			pool := cfg.Scenario.PoolConfig(p)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: valid\n", configFile)
			fmt.Fprintf(out, "  executor:  %s\n", cfg.Scenario.Executor)
			fmt.Fprintf(out, "  target:    %s\n", cfg.Target.URL())
			fmt.Fprintf(out, "  duration:  %s\n", p.Total())
			fmt.Fprintf(out, "  stages:    %d\n", len(p.Stages))
			fmt.Fprintf(out, "  peak:      %g\n", p.Peak())
			if p.Mode == plan.ModeArrivalRate {
				fmt.Fprintf(out, "  planned:   %.0f iterations\n", p.Expected())
			}
			fmt.Fprintf(out, "  vus:       %d pre-allocated, %d max\n", pool.PreAllocatedVUs, pool.MaxVUs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	return cmd
}
