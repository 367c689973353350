package preflight

import (
	"context"

	"storyreel/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	if cfg.Blob.Backend == config.BlobBackendFS {
		results = append(results, CheckDirectoryAccess("Blob directory", cfg.Paths.BlobDir))
	}

	for _, status := range CheckSystemDeps(cfg) {
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Optional: status.Optional,
			Detail:   status.summary(),
		})
	}

	results = append(results, CheckProvider(ctx, "Video provider", cfg.VideoProvider.BaseURL, cfg.VideoProvider.APIKey))
	if cfg.MusicProvider.Enabled {
		results = append(results, CheckProvider(ctx, "Music provider", cfg.MusicProvider.BaseURL, cfg.MusicProvider.APIKey))
	}

	return results
}
