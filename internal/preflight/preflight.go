package preflight

import (
	"context"

	"screenrec/internal/config"
	"screenrec/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks a recording requires for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckFreeSpace("Free space", cfg.Paths.OutputDir, cfg.Preflight.MinFreeGiB),
	}

	for _, status := range CheckSystemDeps(cfg) {
		if r, ok := dependencyResult(status); ok {
			results = append(results, r)
		}
	}

	if ctx.Err() != nil {
		results = append(results, Result{Name: "Preflight", Detail: ctx.Err().Error()})
	}
	return results
}

// dependencyResult converts a required binary's status into a check result.
// Optional binaries only enable extras and are left out.
func dependencyResult(status deps.Status) (Result, bool) {
	if status.Optional {
		return Result{}, false
	}
	if status.Blocking() {
		return Result{Name: status.Name, Detail: status.Detail}, true
	}
	return Result{Name: status.Name, Passed: true, Detail: status.Command}, true
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
