// Package services defines shared utilities consumed by the pipeline stages
// and provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, sub-job indices, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failures
//     classifiable (validation, transient, permanent, download, encode,
//     audio continuity) after they cross package boundaries.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
