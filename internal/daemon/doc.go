// Package daemon coordinates the long-running storyreel process.
//
// It wires configuration, the job ledger, and the pipeline manager into a
// single lifecycle with flock-based locking to prevent multiple instances
// from executing the same jobs. Submission and cancellation from other
// processes go through the ledger; the daemon only owns execution.
package daemon
