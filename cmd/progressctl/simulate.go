package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"progresshub/internal/app"
	"progresshub/internal/connector"
	"progresshub/internal/simulator"
)

var simulateExample = `
# Run five synthetic operations against an in-process server and watch them
progressctl simulate

# A reproducible run with more failures
progressctl simulate --operations 20 --fail 0.3 --seed 42`

func newSimulateCmd(opts *options) *cobra.Command {
	var (
		listen string
		quiet  bool
		simCfg = simulator.DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:     "simulate",
		Short:   "Run synthetic operations on an in-process server and watch them",
		Example: simulateExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := *opts.cfg
			application, err := app.New(ctx, &cfg, opts.logger)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				_ = application.Stop(context.WithoutCancel(ctx))
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}

			serveCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
			served := make(chan error, 1)
			go func() { served <- application.Serve(serveCtx, ln) }()
			defer func() {
				stopServer()
				<-served
			}()

			clientCfg := connector.ConfigFrom(cfg.Client)
			clientCfg.URL = "ws://" + ln.Addr().String() + "/ws"
			c := connector.New(clientCfg, opts.logger)
			if !quiet {
				newWatcher(cmd.OutOrStdout(), nil, opts.output == "json", false).subscribe(c)
			}
			if err := startAndWait(ctx, c, clientCfg.URL, opts.timeout); err != nil {
				return err
			}
			defer func() { _ = c.Stop() }()

			summary, err := simulator.New(application.Registry, simCfg, opts.logger).Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			waitSettled(ctx, c, summary.Started, opts.timeout)

			if opts.output == "json" {
				return printJSON(cmd, summary)
			}
			cmd.Printf("started %d, completed %d, failed %d, canceled %d\n",
				summary.Started, summary.Completed, summary.Failed, summary.Canceled)
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:0", "Address of the in-process server")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary")
	cmd.Flags().IntVarP(&simCfg.Operations, "operations", "n", simCfg.Operations, "Number of operations to run")
	cmd.Flags().IntVar(&simCfg.Steps, "steps", simCfg.Steps, "Steps per operation")
	cmd.Flags().IntVar(&simCfg.TicksPerStep, "ticks", simCfg.TicksPerStep, "Progress reports per step")
	cmd.Flags().DurationVar(&simCfg.TickInterval, "tick-interval", simCfg.TickInterval, "Delay between progress reports")
	cmd.Flags().IntVarP(&simCfg.Concurrency, "concurrency", "c", simCfg.Concurrency, "Operations running at once")
	cmd.Flags().Float64Var(&simCfg.LaunchRate, "rate", simCfg.LaunchRate, "Operations started per second, 0 for no limit")
	cmd.Flags().Float64Var(&simCfg.FailProbability, "fail", simCfg.FailProbability, "Probability that an operation fails")
	cmd.Flags().Float64Var(&simCfg.CancelProbability, "cancel", simCfg.CancelProbability, "Probability that an operation is canceled")
	cmd.Flags().StringVar(&simCfg.OperationType, "type", simCfg.OperationType, "Operation type reported for every operation")
	cmd.Flags().Uint64Var(&simCfg.Seed, "seed", 0, "Random seed, 0 picks one")

	return cmd
}
