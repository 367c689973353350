package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/daemon"
	"storyreel/internal/ledger"
	"storyreel/internal/preflight"
)

const statusLabelWidth = 20

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, directories, providers, and the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				results := preflight.RunAll(cmd.Context(), cfg)
				ledgerResult := preflight.Result{Name: "Ledger", Passed: true, Detail: store.Driver() + " reachable"}
				if err := store.Ping(cmd.Context()); err != nil {
					ledgerResult = preflight.Result{Name: "Ledger", Detail: err.Error()}
				}
				results = append(results, ledgerResult)

				daemonResult := preflight.Result{Name: "Daemon", Optional: true, Detail: "not running"}
				if held, err := daemon.LockHeld(cfg.Paths.LockPath); err == nil && held {
					daemonResult = preflight.Result{Name: "Daemon", Passed: true, Detail: "running"}
				}
				results = append(results, daemonResult)

				for _, r := range results {
					renderCheck(out, r, colorize)
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					names := make([]string, len(failed))
					for i, r := range failed {
						names[i] = r.Name
					}
					return fmt.Errorf("%d check(s) failed: %s", len(failed), strings.Join(names, ", "))
				}
				return nil
			})
		},
	}
}

func renderCheck(out io.Writer, r preflight.Result, colorize bool) {
	label := "OK"
	style := badgeOK
	switch {
	case r.Passed:
	case r.Optional:
		label, style = "WARN", badgeWarn
	default:
		label, style = "ERROR", badgeError
	}
	tag := "[" + label + "]"
	if colorize {
		tag = style.Render(tag)
	}
	fmt.Fprintf(out, "  %-*s %s %s\n", statusLabelWidth, r.Name+":", tag, r.Detail)
}
