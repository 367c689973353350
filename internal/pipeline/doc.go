// Package pipeline drives jobs from submission to a terminal status.
//
// A Runner executes one job: fan-out generation, lossless combine, the
// sequential audio chain, and the final mux. Each stage resumes from the
// status recorded in the job ledger, so a restarted daemon continues where
// it stopped. A Manager owns the daemon side: claiming pending jobs,
// bounding how many run at once, resuming in-flight jobs at startup, and
// propagating cancellation requested from any process.
package pipeline
