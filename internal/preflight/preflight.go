package preflight

import (
	"context"

	"photopipe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Probe reports whether a remote dependency answers.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// RunAll executes every check for cfg followed by the provided probes.
func RunAll(ctx context.Context, cfg *config.Config, probes ...Probe) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	results = append(results, CheckTemplates(cfg)...)
	results = append(results, CheckTools(cfg)...)
	for _, probe := range probes {
		results = append(results, CheckProbe(ctx, probe))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
