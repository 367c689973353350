// Package notifications sends ntfy alerts when jobs finish.
//
// Alerts are best effort: delivery failures are logged by the caller and
// never change a job's outcome. When no topic is configured NewService
// returns a no-op implementation.
package notifications
