package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/ledger"
	"storyreel/internal/logging"
	"storyreel/internal/pipeline"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger sends one-shot command logs to the log file only so they never
// mix with command output.
func (c *commandContext) cliLogger(cfg *config.Config) *slog.Logger {
	if strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return logging.NewNop()
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "json",
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "storyreel-cli.log")},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// withStore opens the ledger for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

// withManager builds a manager that is never started: it serves submission,
// status reads, and cancellation against the shared ledger.
func (c *commandContext) withManager(ctx context.Context, fn func(*config.Config, *pipeline.Manager) error) error {
	return c.withStore(func(cfg *config.Config, store *ledger.Store) error {
		mgr, err := pipeline.Build(ctx, cfg, store, c.cliLogger(cfg), pipeline.Collaborators{})
		if err != nil {
			return err
		}
		return fn(cfg, mgr)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
