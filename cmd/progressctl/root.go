package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"progresshub/internal/config"
	"progresshub/internal/infrastructure"
)

// options are shared by every subcommand. cfg and logger are set before any RunE.
type options struct {
	server   string
	logLevel string
	timeout  time.Duration
	output   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "progressctl",
		Short:         "Watch and control operations on a progress server",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.server, "server", "s", "", "WebSocket URL of the progress server (default from PROGRESS_CLIENT_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level, can be one of: debug, info, warn, error")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Time to wait for the server to connect and reply")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Output format, can be one of: json")

	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newDetailsCmd(opts))
	cmd.AddCommand(newCancelCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newSimulateCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SetErrPrefix("progressctl:")

	return cmd
}

// init loads configuration from the environment and applies the flags on top.
// Logs go to stderr so command output stays parseable.
func (o *options) init(cmd *cobra.Command) error {
	if o.output != "" && o.output != "json" {
		return fmt.Errorf("unsupported output format %q", o.output)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.server != "" {
		cfg.Client.URL = o.server
	}
	cfg.Logging.Level = o.logLevel
	cfg.Logging.Output = "console"
	cfg.Logging.Format = "text"

	logger, err := infrastructure.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	o.cfg = cfg
	o.logger = logger
	return nil
}
