package preflight

import (
	"context"

	"mediaforge/internal/config"
	"mediaforge/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem checks for the given config. The media root
// is only checked when configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Paths.MediaRoot != "" {
		results = append(results, CheckReadableDirectory("Media root", cfg.Paths.MediaRoot))
	}
	results = append(results, CheckFreeSpace("Artifact free space", cfg.Paths.ArtifactDir, cfg.Artifacts.MinFreeGiB))
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Report bundles filesystem checks and binary availability for status views.
type Report struct {
	Checks       []Result
	Dependencies []deps.Status
}

// Collect runs every check the daemon reports on.
func Collect(ctx context.Context, cfg *config.Config) Report {
	if cfg == nil {
		return Report{}
	}
	return Report{
		Checks:       RunAll(ctx, cfg),
		Dependencies: CheckSystemDeps(cfg),
	}
}

// Healthy reports whether every check passed and no required binary is missing.
func (r Report) Healthy() bool {
	return len(Failed(r.Checks)) == 0 && len(deps.Missing(r.Dependencies)) == 0
}
