package pipeline_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

func TestTaskDerivedPaths(t *testing.T) {
	task := pipeline.NewTask("/data/scan-7")
	if task.CacheDir() != filepath.Join("/data/scan-7", "cache") {
		t.Fatalf("unexpected cache dir %q", task.CacheDir())
	}
	if _, ok := task.InputDir(); ok {
		t.Fatal("NotStarted has no input dir")
	}
	task.Step = pipeline.StepRawToIntermediate
	in, ok := task.InputDir()
	if !ok || in != "/data/scan-7/1_RAW" {
		t.Fatalf("unexpected input dir %q %v", in, ok)
	}
	out, ok := task.OutputDir()
	if !ok || out != "/data/scan-7/2_INTERMEDIATE" {
		t.Fatalf("unexpected output dir %q %v", out, ok)
	}
	task.Step = pipeline.StepCompleted
	if _, ok := task.OutputDir(); ok {
		t.Fatal("Completed has no output dir")
	}
}

func TestTaskValidate(t *testing.T) {
	if err := pipeline.NewTask("relative/path").Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := pipeline.NewTask("").Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	bad := pipeline.NewTask("/data/x")
	bad.Step = 9
	if err := bad.Validate(); !errors.Is(err, pipeline.ErrUnknownStep) {
		t.Fatalf("expected unknown step, got %v", err)
	}
}

func TestAdvanceAndRestartClearBookkeeping(t *testing.T) {
	task := pipeline.NewTask("/data/x")
	now := time.Now()
	task.MarkDispatched(now)
	task.Attempts = 2
	task.LastError = "boom"
	if !task.StepInProgress || task.DispatchedAt == nil {
		t.Fatal("expected dispatch markers")
	}
	if last, ok := task.LastActivity(); !ok || !last.Equal(now.UTC()) {
		t.Fatalf("unexpected last activity %v %v", last, ok)
	}

	task.Advance()
	if task.Step != pipeline.StepRawToIntermediate || task.StepInProgress || task.Attempts != 0 || task.LastError != "" || task.DispatchedAt != nil {
		t.Fatalf("advance did not reset state: %+v", task)
	}

	task.Step = pipeline.StepMeshConstruction
	task.MarkDispatched(now)
	task.Restart()
	if task.Step != pipeline.StepNotStarted || task.StepInProgress {
		t.Fatalf("restart did not reset: %+v", task)
	}
	if _, ok := task.LastActivity(); ok {
		t.Fatal("expected no activity after restart")
	}
}
