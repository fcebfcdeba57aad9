package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"photopipe/internal/config"
	"photopipe/internal/deps"
)

const probeTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckReadable verifies that path exists and can be read. Directories must
// also be searchable.
func CheckReadable(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	mode := uint32(unix.R_OK)
	if info.IsDir() {
		mode |= unix.X_OK
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

// CheckTemplates verifies the assets copied into every task cache.
func CheckTemplates(cfg *config.Config) []Result {
	black := CheckReadable("Neutral reference template", cfg.Templates.BlackImage)
	if black.Passed {
		if info, err := os.Stat(cfg.Templates.BlackImage); err == nil && info.IsDir() {
			black = Result{Name: black.Name, Detail: fmt.Sprintf("%s (error: is a directory)", cfg.Templates.BlackImage)}
		}
	}
	settings := CheckReadable("RealityCapture settings template", cfg.Templates.RCSettingDir)
	if settings.Passed {
		if info, err := os.Stat(cfg.Templates.RCSettingDir); err == nil && !info.IsDir() {
			settings = Result{Name: settings.Name, Detail: fmt.Sprintf("%s (error: is not a directory)", cfg.Templates.RCSettingDir)}
		}
	}
	return []Result{black, settings}
}

// CheckTools reports every external tool as a result.
func CheckTools(cfg *config.Config) []Result {
	statuses := deps.CheckTools(cfg)
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		if status.Available {
			results = append(results, Result{Name: status.Name, Passed: true, Detail: status.Command})
			continue
		}
		results = append(results, Result{Name: status.Name, Detail: status.Detail})
	}
	return results
}

// CheckProbe runs probe with a short timeout.
func CheckProbe(ctx context.Context, probe Probe) Result {
	if probe.Check == nil {
		return Result{Name: probe.Name, Detail: "no check configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := probe.Check(checkCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: probe.Name, Detail: "timed out"}
		}
		return Result{Name: probe.Name, Detail: err.Error()}
	}
	return Result{Name: probe.Name, Passed: true, Detail: "reachable"}
}
