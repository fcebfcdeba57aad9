package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photopipe/internal/services"
)

// Requirements is operator-declared configuration captured at creation time.
type Requirements struct {
	NeedsColorChecker bool `json:"needs_color_checker" yaml:"needs_color_checker"`
	NeedsRawImages    bool `json:"needs_raw_images" yaml:"needs_raw_images"`
}

// DefaultRequirements expects both a color checker capture and raw images.
func DefaultRequirements() Requirements {
	return Requirements{NeedsColorChecker: true, NeedsRawImages: true}
}

// Task is the persisted state of one photogrammetry item.
type Task struct {
	ID             int64        `json:"task_id" yaml:"task_id"`
	Location       string       `json:"location" yaml:"location"`
	Step           StepIndex    `json:"step" yaml:"step"`
	StepInProgress bool         `json:"step_in_progress" yaml:"step_in_progress"`
	Requirements   Requirements `json:"requirements" yaml:"requirements"`
	Attempts       int          `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	LastError      string       `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	DispatchedAt   *time.Time   `json:"dispatched_at,omitempty" yaml:"dispatched_at,omitempty"`
	HeartbeatAt    *time.Time   `json:"heartbeat_at,omitempty" yaml:"heartbeat_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// NewTask returns a task at NotStarted with default requirements.
func NewTask(location string) Task {
	return Task{
		Location:     location,
		Step:         StepNotStarted,
		Requirements: DefaultRequirements(),
	}
}

// Validate checks the fields every persisted task must carry.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Location) == "" {
		return services.Wrap(services.ErrValidation, "task", "validate", "location is required", nil)
	}
	if !filepath.IsAbs(t.Location) {
		return services.Wrap(services.ErrValidation, "task", "validate", fmt.Sprintf("location %q must be absolute", t.Location), nil)
	}
	if !t.Step.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStep, int(t.Step))
	}
	return nil
}

// CacheDir is the per-task scratch directory.
func (t Task) CacheDir() string {
	return filepath.Join(t.Location, CacheFolder)
}

// CachePath joins name onto the cache directory.
func (t Task) CachePath(name string) string {
	return filepath.Join(t.CacheDir(), name)
}

// InputDir returns the current step's input folder, if the step has one.
func (t Task) InputDir() (string, bool) {
	meta, err := MetadataFor(t.Step)
	if err != nil || meta.InputFolder == "" {
		return "", false
	}
	return filepath.Join(t.Location, meta.InputFolder), true
}

// OutputDir returns the current step's output folder, if the step has one.
func (t Task) OutputDir() (string, bool) {
	meta, err := MetadataFor(t.Step)
	if err != nil || meta.OutputFolder == "" {
		return "", false
	}
	return filepath.Join(t.Location, meta.OutputFolder), true
}

// Advance moves the task to the next step and clears per-step bookkeeping.
func (t *Task) Advance() {
	t.Step = t.Step.Next()
	t.ClearProgress()
	t.Attempts = 0
	t.LastError = ""
}

// ClearProgress drops the in-flight marker and its timestamps.
func (t *Task) ClearProgress() {
	t.StepInProgress = false
	t.DispatchedAt = nil
	t.HeartbeatAt = nil
}

// MarkDispatched flags the current step as in flight.
func (t *Task) MarkDispatched(now time.Time) {
	t.StepInProgress = true
	ts := now.UTC()
	t.DispatchedAt = &ts
	t.HeartbeatAt = nil
}

// Restart returns the task to NotStarted.
func (t *Task) Restart() {
	t.Step = StepNotStarted
	t.ClearProgress()
	t.Attempts = 0
	t.LastError = ""
}

// LastActivity is the most recent dispatch or heartbeat time.
func (t Task) LastActivity() (time.Time, bool) {
	var latest time.Time
	for _, ts := range []*time.Time{t.DispatchedAt, t.HeartbeatAt} {
		if ts != nil && ts.After(latest) {
			latest = *ts
		}
	}
	return latest, !latest.IsZero()
}

// EnsureLayout creates the task folder tree under location.
func EnsureLayout(location string) error {
	for _, folder := range []string{CacheFolder, RawFolder, IntermediateFolder, ColorFolder, AlignmentFolder, MeshFolder} {
		if err := os.MkdirAll(filepath.Join(location, folder), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", folder, err)
		}
	}
	return nil
}
