// Package cli implements the surge command line.
package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/katunilya/surge/internal/logging"
	"github.com/katunilya/surge/internal/performance/engine"
	"github.com/katunilya/surge/internal/performance/plan"
)

var version = "0.1.0"

// Exit codes returned by ExitCode.
const (
	ExitOK           = 0
	ExitConfig       = 1
	ExitConnectivity = 2
	ExitInterrupted  = 130
)

// ErrInterrupted is returned by run when the user stopped the run. The
// summary has already been printed.
var ErrInterrupted = errors.New("run interrupted")

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	noColor   bool
}

func (o *globalOptions) logger() (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{Level: o.logLevel, Format: o.logFormat})
	if err != nil {
		return nil, &plan.ConfigError{Field: "log", Message: err.Error()}
	}
	return logger, nil
}

// NewRootCmd builds the surge command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:     "surge",
		Short:   "An arrival-rate HTTP load generator",
		Version: version,
		Long: `Surge starts HTTP GET iterations at a target rate that ramps along
configured stages, independent of how fast the target responds. Demand that
exceeds the worker pool is dropped and reported, never queued.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "Log format: console or json")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	return cmd
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return ExecuteContext(context.Background(), os.Args[1:])
}

// ExecuteContext runs the root command with args under ctx.
func ExecuteContext(ctx context.Context, args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	var connErr *engine.ConnectivityError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &connErr):
		return ExitConnectivity
	default:
		// Flag parsing and I/O failures share the configuration code.
		return ExitConfig
	}
}
