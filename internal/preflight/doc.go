// Package preflight provides readiness checks for the binaries, directories,
// and external services storyreel depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when a
//     required check fails, rather than failing every job at the merge stage.
//   - The CLI "storyreel doctor" command renders every result.
//
// Checks for disabled features (for example music composition) are skipped.
package preflight
