package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storyreel/internal/daemon"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/pipeline"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon that executes submitted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireProviders(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := ledger.Open(cfg)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}

			mgr, err := pipeline.Build(runCtx, cfg, store, logger, pipeline.Collaborators{})
			if err != nil {
				_ = store.Close()
				return err
			}

			d, err := daemon.New(cfg, store, mgr, logger)
			if err != nil {
				_ = store.Close()
				return err
			}
			defer d.Close()

			if err := d.Start(runCtx); err != nil {
				return err
			}

			<-runCtx.Done()
			logger.Info("storyreel daemon shutting down")
			d.Stop()
			if err := context.Cause(runCtx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}
