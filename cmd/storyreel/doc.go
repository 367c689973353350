// Package main hosts the storyreel CLI entrypoint and command graph.
//
// The same binary runs the daemon (`storyreel serve`) and the one-shot
// commands that talk to it through the job ledger: submit, status, list,
// cancel, and prune. `storyreel run` executes a single job in the
// foreground without a daemon.
package main
