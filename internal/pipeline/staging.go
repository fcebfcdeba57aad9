package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// stagingDir creates a hidden scratch directory in the task cache. Step
// folders are handed whole to external tools, so a directory left behind by a
// killed worker must never sit inside one.
func stagingDir(task Task, label string) (string, func(), error) {
	parent := task.CacheDir()
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", nil, fmt.Errorf("create %s: %w", parent, err)
	}
	dir, err := os.MkdirTemp(parent, ".staging-"+label+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// publish moves a finished artifact into its final location. The rename is
// atomic within one filesystem, so observers see either nothing or the whole file.
func publish(staged, final string) error {
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("staged artifact missing: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(final), err)
	}
	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(final), err)
	}
	return nil
}
