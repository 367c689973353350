package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/daemon"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/manifest"
	"storyreel/internal/pipeline"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var manifestPath string
	var noAudio bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a job from a manifest for the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(manifestPath, noAudio)
			if err != nil {
				return err
			}
			return ctx.withManager(cmd.Context(), func(cfg *config.Config, mgr *pipeline.Manager) error {
				jobID, err := mgr.CreateJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued job %s (%d pair(s))\n", jobID, len(req.Pairs))
				if held, err := daemon.LockHeld(cfg.Paths.LockPath); err == nil && !held {
					fmt.Fprintln(out, "No daemon is running; start one with `storyreel serve` or use `storyreel run`.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "Job manifest (YAML)")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Deliver the video without a composed soundtrack")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var manifestPath string
	var noAudio bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create and run one job in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(manifestPath, noAudio)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireProviders(); err != nil {
				return err
			}
			held, err := daemon.LockHeld(cfg.Paths.LockPath)
			if err != nil {
				return err
			}
			if held {
				return errors.New("a storyreel daemon is running; use `storyreel submit` so the job is not executed twice")
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
			defer store.Close()

			mgr, err := pipeline.Build(runCtx, cfg, store, logger, pipeline.Collaborators{})
			if err != nil {
				return err
			}
			jobID, err := mgr.CreateJob(runCtx, req)
			if err != nil {
				return err
			}
			if err := mgr.RunJob(runCtx, jobID); err != nil {
				if runCtx.Err() != nil {
					return fmt.Errorf("interrupted; job %s resumes under `storyreel serve`", jobID)
				}
				return err
			}
			status, err := mgr.GetJobStatus(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			renderJobStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
			if status.Status == ledger.JobFailed {
				return fmt.Errorf("job %s failed: %s", jobID, status.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "Job manifest (YAML)")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Deliver the video without a composed soundtrack")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the final status as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show job and sub-job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd.Context(), func(_ *config.Config, mgr *pipeline.Manager) error {
				status, err := mgr.GetJobStatus(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				renderJobStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the status snapshot as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]ledger.JobStatus, 0, len(statuses))
			for _, s := range statuses {
				status, ok := ledger.ParseJobStatus(s)
				if !ok {
					return fmt.Errorf("unknown job status %q", s)
				}
				filter = append(filter, status)
			}
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				jobs, err := store.ListJobs(cmd.Context(), limit, filter...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, jobSummaries(jobs))
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobList(jobs, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show (0 = all)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show jobs in these statuses")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print jobs as JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			return ctx.withManager(cmd.Context(), func(_ *config.Config, mgr *pipeline.Manager) error {
				if err := mgr.CancelJob(cmd.Context(), jobID); err != nil {
					return err
				}
				status, err := mgr.GetJobStatus(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if status.Status.Terminal() && !status.CancelRequested {
					fmt.Fprintf(out, "Job %s already %s\n", jobID, status.Status)
					return nil
				}
				if status.Status.Terminal() {
					fmt.Fprintf(out, "Job %s canceled\n", jobID)
					return nil
				}
				fmt.Fprintf(out, "Cancellation requested for job %s; the daemon stops it within %s\n",
					jobID, ctxCancelInterval(ctx))
				return nil
			})
		},
	}
}

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished jobs and their artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			blobs, err := openBlobStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				logger := logging.NewComponentLogger(ctx.cliLogger(cfg), "prune")
				report, err := pruneJobs(cmd.Context(), store, blobs, time.Now().Add(-olderThan), dryRun, logger)
				if err != nil {
					return err
				}
				verb := "Deleted"
				if dryRun {
					verb = "Would delete"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d job(s) finished before %s\n",
					verb, len(report), time.Now().Add(-olderThan).Format(time.RFC3339))
				for _, id := range report {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete jobs finished longer ago than this")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List jobs without deleting")
	return cmd
}

func loadRequest(path string, noAudio bool) (pipeline.JobRequest, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(path))
	if err != nil {
		return pipeline.JobRequest{}, err
	}
	m, err := manifest.Load(expanded)
	if err != nil {
		return pipeline.JobRequest{}, err
	}
	req := m.Request()
	if noAudio {
		req.NoAudio = true
	}
	return req, nil
}

func ctxCancelInterval(ctx *commandContext) time.Duration {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return 0
	}
	return cfg.Workflow.CancelCheckInterval()
}
