package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/thalamus/thalamus-api/internal/config"
	"github.com/thalamus/thalamus-api/internal/infrastructure/logging"
	"github.com/thalamus/thalamus-api/internal/infrastructure/registry"
	"github.com/thalamus/thalamus-api/internal/infrastructure/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfg *config.Config
	log logr.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "thalamus-api",
		Short:        "Route prompts to hosted and self-hosted language models",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = logging.New(cfg.LogLevel)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve()
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.serve()
			},
		},
		c.askCmd(),
		&cobra.Command{
			Use:   "backends",
			Short: "List the configured backends",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				reg, err := registry.Load(c.cfg.BackendsFile)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), backendTable(reg))
				return nil
			},
		},
		c.probeCmd(),
	)
	return root
}

func (c *cli) serve() error {
	c.log.Info("Starting Thalamus API...")
	return server.New(c.cfg, c.log).Run()
}

func (c *cli) askCmd() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Route one prompt and print the answer as it streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := server.Wire(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer app.Close()

			return ask(ctx, cmd.OutOrStdout(), app.Router, app.Registry, backend, args[0])
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "backend id to use instead of the selector")
	return cmd
}

func (c *cli) probeCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send a greeting to every backend and report which ones answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := server.Wire(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer app.Close()

			results := probe(ctx, app.Router, app.Registry.All(), concurrency)
			fmt.Fprintln(cmd.OutOrStdout(), probeTable(results))
			if n := failed(results); n > 0 {
				return fmt.Errorf("%d of %d backends failed", n, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "number of backends probed at once")
	return cmd
}
