package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

func TestListInputImagesMissingDir(t *testing.T) {
	task := pipeline.NewTask(filepath.Join(t.TempDir(), "absent"))
	task.Step = pipeline.StepRawToIntermediate
	ids, err := mustStep(t, task).ListInputImages()
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty listing, got %v %v", ids, err)
	}
}

func TestListInputImagesFiltersAndSorts(t *testing.T) {
	task := newTaskDir(t, pipeline.StepRawToIntermediate)
	raw := filepath.Join(task.Location, pipeline.RawFolder)
	touch(t, raw, "IMG_0003.ARW", "IMG_0001.arw", "IMG_0002.ARW", ".hidden.ARW", "notes.txt", "bad-name.ARW")
	if err := os.MkdirAll(filepath.Join(raw, "sub.ARW"), 0o755); err != nil {
		t.Fatal(err)
	}

	step := mustStep(t, task)
	ids, err := step.ListInputImages()
	if err != nil {
		t.Fatalf("ListInputImages: %v", err)
	}
	want := []string{"IMG_0001", "IMG_0002", "IMG_0003"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v want %v", ids, want)
	}
	paths, err := step.ListInputPaths()
	if err != nil || len(paths) != 3 || filepath.Base(paths[0]) != "IMG_0001.arw" {
		t.Fatalf("unexpected paths %v %v", paths, err)
	}
}

func TestConversionCountRule(t *testing.T) {
	task := newTaskDir(t, pipeline.StepRawToIntermediate)
	raw := filepath.Join(task.Location, pipeline.RawFolder)
	inter := filepath.Join(task.Location, pipeline.IntermediateFolder)

	step := mustStep(t, task)
	if step.IsFinished() {
		t.Fatal("empty input must never be finished")
	}

	touch(t, raw, "a1.ARW", "a2.ARW", "a3.ARW")
	touch(t, inter, "a1.dng", "a2.dng")
	if step.IsFinished() {
		t.Fatal("3 raw and 2 converted must not be finished")
	}
	pending, err := step.PendingImages()
	if err != nil || !reflect.DeepEqual(pending, []string{"a3"}) {
		t.Fatalf("unexpected pending %v %v", pending, err)
	}

	touch(t, inter, "a3.dng")
	if !step.IsFinished() || !step.IsFinished() {
		t.Fatal("expected finished, repeatedly")
	}
}

func TestRawConversionSkippedWithoutRawImages(t *testing.T) {
	task := newTaskDir(t, pipeline.StepRawToIntermediate)
	task.Requirements.NeedsRawImages = false
	step := mustStep(t, task)
	if step.IsFinished() {
		t.Fatal("no images anywhere must not be finished")
	}
	touch(t, filepath.Join(task.Location, pipeline.IntermediateFolder), "b1.dng")
	if !step.IsFinished() {
		t.Fatal("pre-converted images should satisfy raw conversion")
	}
}

func TestNotStartedFinishedRequiresCacheArtifacts(t *testing.T) {
	task := newTaskDir(t, pipeline.StepNotStarted)
	step := mustStep(t, task)
	if step.IsFinished() {
		t.Fatal("empty cache must not be finished")
	}
	touch(t, task.CacheDir(), pipeline.BlackImageName)
	if step.IsFinished() {
		t.Fatal("blurred reference still missing")
	}
	touch(t, task.CacheDir(), pipeline.ColorCheckerBlurTIFFName)
	if !step.IsFinished() {
		t.Fatal("expected finished with both artifacts")
	}

	noChecker := newTaskDir(t, pipeline.StepNotStarted)
	noChecker.Requirements.NeedsColorChecker = false
	touch(t, noChecker.CacheDir(), pipeline.BlackImageName)
	if !mustStep(t, noChecker).IsFinished() {
		t.Fatal("neutral reference alone suffices without a color checker")
	}
}

func TestMarkerStepsIgnoreStagedOutput(t *testing.T) {
	task := newTaskDir(t, pipeline.StepAlignmentPrep)
	align := filepath.Join(task.Location, pipeline.AlignmentFolder)
	touch(t, filepath.Join(align, ".staging-align-1"), pipeline.AlignmentMarkerName)
	step := mustStep(t, task)
	if step.IsFinished() {
		t.Fatal("staged marker must not count")
	}
	touch(t, align, pipeline.AlignmentMarkerName)
	if !step.IsFinished() {
		t.Fatal("expected finished once marker is published")
	}

	task.Step = pipeline.StepCompleted
	if !mustStep(t, task).IsFinished() {
		t.Fatal("Completed is always finished")
	}
}

func TestInitProcessBuildsReference(t *testing.T) {
	task := newTaskDir(t, pipeline.StepNotStarted)
	templates := t.TempDir()
	black := filepath.Join(templates, "black.dng")
	touch(t, templates, "black.dng")
	settings := filepath.Join(templates, "rc_setting")
	touch(t, settings, "global.rcconfig")
	touch(t, task.CacheDir(), "color_checker.ARW")

	tools := &fakeToolkit{}
	env := &pipeline.Env{Tools: tools, Templates: pipeline.Templates{RCSettingDir: settings, BlackImage: black}}
	step := mustStep(t, task)
	if err := step.Process(context.Background(), env); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !step.IsFinished() {
		t.Fatal("expected NotStarted finished after processing")
	}
	for _, name := range []string{pipeline.ColorCheckerDNGName, pipeline.ColorCheckerPNGName, pipeline.ColorCheckerBlurPNGName, filepath.Join(pipeline.RCSettingDirName, "global.rcconfig")} {
		if _, err := os.Stat(task.CachePath(name)); err != nil {
			t.Fatalf("expected %s in cache: %v", name, err)
		}
	}

	// A second run only verifies what exists.
	if err := step.Process(context.Background(), env); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if tools.count("convert") != 1 {
		t.Fatalf("expected a single conversion, got %d", tools.count("convert"))
	}
}

func TestInitProcessRequiresBlackTemplate(t *testing.T) {
	task := newTaskDir(t, pipeline.StepNotStarted)
	err := mustStep(t, task).Process(context.Background(), &pipeline.Env{Tools: &fakeToolkit{}})
	if !errors.Is(err, services.ErrStepExecution) || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration step failure, got %v", err)
	}
}

func TestInitProcessWaitsForCapture(t *testing.T) {
	task := newTaskDir(t, pipeline.StepNotStarted)
	templates := t.TempDir()
	touch(t, templates, "black.dng")
	env := &pipeline.Env{
		Tools:                 &fakeToolkit{},
		Templates:             pipeline.Templates{BlackImage: filepath.Join(templates, "black.dng")},
		ReferencePollInterval: 5 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := mustStep(t, task).Process(ctx, env)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while waiting, got %v", err)
	}
	if _, statErr := os.Stat(task.CachePath(pipeline.BlackImageName)); statErr != nil {
		t.Fatalf("templates should be installed before waiting: %v", statErr)
	}
}

func TestProcessImageConvertsOneRaw(t *testing.T) {
	task := newTaskDir(t, pipeline.StepRawToIntermediate)
	touch(t, filepath.Join(task.Location, pipeline.RawFolder), "r1.ARW", "r2.ARW")
	tools := &fakeToolkit{}
	env := &pipeline.Env{Tools: tools}
	step := mustStep(t, task)

	if err := step.ProcessImage(context.Background(), env, "r1"); err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}
	if step.IsFinished() {
		t.Fatal("one of two converted must not be finished")
	}
	if err := step.ProcessImage(context.Background(), env, "r1"); err != nil {
		t.Fatalf("repeat ProcessImage: %v", err)
	}
	if tools.count("convert") != 1 {
		t.Fatalf("expected idempotent conversion, got %d calls", tools.count("convert"))
	}
	if err := step.ProcessImage(context.Background(), env, "missing"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing raw, got %v", err)
	}
	if err := step.Process(context.Background(), env); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !step.IsFinished() {
		t.Fatal("expected finished after whole-step conversion")
	}
}

func TestColorCorrectionContinuesPastFailures(t *testing.T) {
	task := newTaskDir(t, pipeline.StepColorCorrection)
	touch(t, filepath.Join(task.Location, pipeline.IntermediateFolder), "c1.dng", "c2.dng", "c3.dng")
	if err := writeChart(task.CachePath(pipeline.ColorCheckerBlurPNGName)); err != nil {
		t.Fatal(err)
	}
	touch(t, task.CacheDir(), pipeline.ColorCheckerBlurTIFFName)
	tools := &fakeToolkit{failGains: map[string]bool{"c2": true}}
	env := &pipeline.Env{Tools: tools}
	step := mustStep(t, task)

	err := step.Process(context.Background(), env)
	if !errors.Is(err, services.ErrStepExecution) {
		t.Fatalf("expected step failure, got %v", err)
	}
	outputs, _ := step.ListOutputImages()
	if !reflect.DeepEqual(outputs, []string{"c1", "c3"}) {
		t.Fatalf("expected other images corrected, got %v", outputs)
	}
	if len(tools.gains) == 0 || tools.gains[0].IsIdentity() {
		t.Fatalf("expected measured gains, got %v", tools.gains)
	}

	delete(tools.failGains, "c2")
	if err := step.Process(context.Background(), env); err != nil {
		t.Fatalf("retry Process: %v", err)
	}
	if !step.IsFinished() {
		t.Fatal("expected finished after retry")
	}
	if tools.count("gains") != 4 {
		t.Fatalf("retry should only touch the failed image, got %d calls", tools.count("gains"))
	}
}

func TestColorCorrectionRequiresBuiltReference(t *testing.T) {
	task := newTaskDir(t, pipeline.StepColorCorrection)
	touch(t, filepath.Join(task.Location, pipeline.IntermediateFolder), "f1.dng")
	if err := writeChart(task.CachePath(pipeline.ColorCheckerBlurPNGName)); err != nil {
		t.Fatal(err)
	}
	tools := &fakeToolkit{}
	err := mustStep(t, task).Process(context.Background(), &pipeline.Env{Tools: tools})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without the TIFF reference, got %v", err)
	}
	if tools.count("gains") != 0 {
		t.Fatal("no image should be corrected without the reference")
	}
}

func TestStagingStaysInCache(t *testing.T) {
	task := newTaskDir(t, pipeline.StepRawToIntermediate)
	touch(t, filepath.Join(task.Location, pipeline.RawFolder), "g1.ARW")
	tools := &fakeToolkit{}
	env := &pipeline.Env{Tools: tools}
	if err := mustStep(t, task).ProcessImage(context.Background(), env, "g1"); err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}

	task.Step = pipeline.StepAlignmentPrep
	touch(t, filepath.Join(task.Location, pipeline.ColorFolder), "g1.jpg")
	if err := mustStep(t, task).Process(context.Background(), env); err != nil {
		t.Fatalf("align: %v", err)
	}

	dirs := tools.stagingDirs()
	if len(dirs) != 2 {
		t.Fatalf("expected two staging dirs, got %v", dirs)
	}
	for _, dir := range dirs {
		if filepath.Dir(dir) != task.CacheDir() {
			t.Fatalf("staging dir %s is outside %s", dir, task.CacheDir())
		}
	}
	for _, folder := range []string{pipeline.IntermediateFolder, pipeline.ColorFolder, pipeline.AlignmentFolder} {
		entries, err := os.ReadDir(filepath.Join(task.Location, folder))
		if err != nil {
			t.Fatalf("read %s: %v", folder, err)
		}
		for _, entry := range entries {
			if entry.IsDir() && entry.Name()[0] == '.' {
				t.Fatalf("unexpected staging entry %s in %s", entry.Name(), folder)
			}
		}
	}
}

func TestColorCorrectionWithoutCheckerUsesIdentity(t *testing.T) {
	task := newTaskDir(t, pipeline.StepColorCorrection)
	task.Requirements.NeedsColorChecker = false
	touch(t, filepath.Join(task.Location, pipeline.IntermediateFolder), "d1.dng")
	tools := &fakeToolkit{}
	if err := mustStep(t, task).Process(context.Background(), &pipeline.Env{Tools: tools}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(tools.gains) != 1 || !tools.gains[0].IsIdentity() {
		t.Fatalf("expected identity gains, got %v", tools.gains)
	}
}

func TestAlignmentAndMesh(t *testing.T) {
	task := newTaskDir(t, pipeline.StepAlignmentPrep)
	tools := &fakeToolkit{}
	env := &pipeline.Env{Tools: tools}

	if err := mustStep(t, task).Process(context.Background(), env); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without images, got %v", err)
	}

	touch(t, filepath.Join(task.Location, pipeline.ColorFolder), "e1.jpg")
	align := mustStep(t, task)
	if err := align.Process(context.Background(), env); err != nil {
		t.Fatalf("align: %v", err)
	}
	if !align.IsFinished() {
		t.Fatal("expected alignment finished")
	}
	if _, err := os.Stat(filepath.Join(task.Location, pipeline.AlignmentFolder, "project")); err != nil {
		t.Fatalf("expected companion data published: %v", err)
	}

	task.Step = pipeline.StepMeshConstruction
	mesh := mustStep(t, task)
	if err := mesh.Process(context.Background(), env); err != nil {
		t.Fatalf("mesh: %v", err)
	}
	if !mesh.IsFinished() {
		t.Fatal("expected mesh finished")
	}
	if _, err := os.Stat(filepath.Join(task.Location, pipeline.MeshFolder, "output.mtl")); err != nil {
		t.Fatalf("expected material file published: %v", err)
	}
}

func TestProcessRecoversPanics(t *testing.T) {
	task := newTaskDir(t, pipeline.StepAlignmentPrep)
	touch(t, filepath.Join(task.Location, pipeline.ColorFolder), "f1.jpg")
	err := mustStep(t, task).Process(context.Background(), &pipeline.Env{Tools: &fakeToolkit{panicOn: "align"}})
	if !errors.Is(err, services.ErrStepExecution) {
		t.Fatalf("expected recovered step failure, got %v", err)
	}
}

func TestCompletedHasNoWork(t *testing.T) {
	task := newTaskDir(t, pipeline.StepCompleted)
	step := mustStep(t, task)
	if err := step.Process(context.Background(), nil); err != nil {
		t.Fatalf("Completed Process should be a no-op: %v", err)
	}
	if err := step.ProcessImage(context.Background(), nil, "x"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for per-image work on Completed, got %v", err)
	}
}
