package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"

	"photopipe/internal/logging"
	"photopipe/internal/services"
)

// Step pairs one catalog entry with a task snapshot. It holds no mutable state
// and is cheap to build every coordinator cycle.
type Step struct {
	Index StepIndex
	Meta  StepMetadata
	Task  Task
}

// behavior is one row of the step table.
type behavior struct {
	finished     func(Step) bool
	process      func(context.Context, *Env, Step) error
	processImage func(context.Context, *Env, Step, string) error
}

var behaviors = [...]behavior{
	StepNotStarted:        {finished: initFinished, process: initProcess},
	StepRawToIntermediate: {finished: conversionFinished, process: convertAllRaw, processImage: convertRawImage},
	StepColorCorrection:   {finished: conversionFinished, process: correctColors},
	StepAlignmentPrep:     {finished: markerFinished, process: alignImages},
	StepMeshConstruction:  {finished: markerFinished, process: buildMesh},
	StepCompleted:         {finished: func(Step) bool { return true }},
}

// NewStep builds the step for idx over task.
func NewStep(idx StepIndex, task Task) (Step, error) {
	meta, err := MetadataFor(idx)
	if err != nil {
		return Step{}, err
	}
	return Step{Index: idx, Meta: meta, Task: task}, nil
}

// StepFor builds the step the task currently sits on.
func StepFor(task Task) (Step, error) {
	return NewStep(task.Step, task)
}

// Name is the catalog name of the step.
func (s Step) Name() string {
	return s.Meta.Name
}

// Unit reports how the step's work is split into jobs.
func (s Step) Unit() Unit {
	return s.Meta.Unit
}

// InputDir is the absolute input folder, or "" when the step has none.
func (s Step) InputDir() string {
	if s.Meta.InputFolder == "" {
		return ""
	}
	return filepath.Join(s.Task.Location, s.Meta.InputFolder)
}

// OutputDir is the absolute output folder, or "" when the step has none.
func (s Step) OutputDir() string {
	if s.Meta.OutputFolder == "" {
		return ""
	}
	return filepath.Join(s.Task.Location, s.Meta.OutputFolder)
}

// IsFinished reports whether the step's outputs are complete on disk.
func (s Step) IsFinished() bool {
	if !s.Index.Valid() {
		return false
	}
	return behaviors[s.Index].finished(s)
}

// ListInputImages returns sorted identifiers of the step's input images.
func (s Step) ListInputImages() ([]string, error) {
	return listImages(s.InputDir(), s.Meta.InputExtension)
}

// ListInputPaths returns the full paths of the step's input images.
func (s Step) ListInputPaths() ([]string, error) {
	ids, err := s.ListInputImages()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		if path, ok := findImage(s.InputDir(), id, s.Meta.InputExtension); ok {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// ListOutputImages returns sorted identifiers of the step's finished outputs.
func (s Step) ListOutputImages() ([]string, error) {
	return listImages(s.OutputDir(), s.Meta.OutputExtension)
}

// PendingImages returns input identifiers that have no output yet.
func (s Step) PendingImages() ([]string, error) {
	inputs, err := s.ListInputImages()
	if err != nil {
		return nil, err
	}
	outputs, err := s.ListOutputImages()
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(outputs))
	for _, id := range outputs {
		done[id] = struct{}{}
	}
	pending := make([]string, 0, len(inputs))
	for _, id := range inputs {
		if _, ok := done[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// Process runs the whole-step unit of work. Steps without work return nil.
func (s Step) Process(ctx context.Context, env *Env) error {
	if !s.Index.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStep, int(s.Index))
	}
	run := behaviors[s.Index].process
	if run == nil {
		return nil
	}
	return s.guard(ctx, env, "", func() error { return run(ctx, env, s) })
}

// ProcessImage runs the per-image unit of work for one identifier.
func (s Step) ProcessImage(ctx context.Context, env *Env, id string) error {
	if !s.Index.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStep, int(s.Index))
	}
	run := behaviors[s.Index].processImage
	if run == nil {
		return services.Wrap(services.ErrValidation, s.Name(), "process image", "step has no per-image work", nil)
	}
	return s.guard(ctx, env, id, func() error { return run(ctx, env, s, id) })
}

// guard converts panics and errors at the step boundary into a logged
// step execution error.
func (s Step) guard(ctx context.Context, env *Env, image string, fn func() error) (err error) {
	logger := s.logger(ctx, env)
	if image != "" {
		logger = logger.With(logging.String(logging.FieldImage, image))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("step panicked", logging.String("stack", string(debug.Stack())))
		}
		if err == nil {
			return
		}
		if !errors.Is(err, services.ErrStepExecution) {
			err = fmt.Errorf("%w: %s: %w", services.ErrStepExecution, s.Name(), err)
		}
		logging.ErrorWithContext(logger, "step execution failed", "step_failed",
			logging.Error(err),
			logging.String("error_kind", services.Kind(err)),
			logging.ErrorHint(errorHint(err)),
		)
	}()
	return fn()
}

func (s Step) logger(ctx context.Context, env *Env) *slog.Logger {
	return logging.WithContext(ctx, env.logger()).With(
		logging.TaskID(s.Task.ID),
		logging.Step(s.Name()),
	)
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return "check [templates] and [tools] in the config file"
	case errors.Is(err, services.ErrTimeout):
		return "raise tools.tool_timeout or inspect the tool for hangs"
	case errors.Is(err, services.ErrExternalTool):
		return "run the tool manually against the same input"
	case errors.Is(err, context.Canceled):
		return "job was cancelled; the coordinator will retry"
	default:
		return "inspect the task folder and worker log"
	}
}
