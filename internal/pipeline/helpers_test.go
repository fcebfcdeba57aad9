package pipeline_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"photopipe/internal/imaging"
	"photopipe/internal/pipeline"
)

// fakeToolkit writes placeholder artifacts where the real tools would.
type fakeToolkit struct {
	mu        sync.Mutex
	calls     []string
	failGains map[string]bool
	panicOn   string
	gains     []imaging.Gains
	staged    []string
}

func (f *fakeToolkit) stage(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, dir)
}

func (f *fakeToolkit) stagingDirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.staged...)
}

func (f *fakeToolkit) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if f.panicOn == op {
		panic("tool crashed")
	}
}

func (f *fakeToolkit) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeToolkit) ConvertRaw(_ context.Context, input, outputDir string) error {
	f.record("convert")
	f.stage(outputDir)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return os.WriteFile(filepath.Join(outputDir, stem+".dng"), []byte("dng"), 0o644)
}

func (f *fakeToolkit) RenderPNG(_ context.Context, _, output string) error {
	f.record("png")
	return os.WriteFile(output, []byte("png"), 0o644)
}

func (f *fakeToolkit) Blur(_ context.Context, _, output string, _ float64) error {
	f.record("blur")
	return writeChart(output)
}

func (f *fakeToolkit) ConvertTIFF(_ context.Context, _, output string) error {
	f.record("tiff")
	return os.WriteFile(output, []byte("tiff"), 0o644)
}

func (f *fakeToolkit) ApplyGains(_ context.Context, input, output string, gains imaging.Gains) error {
	f.record("gains")
	f.mu.Lock()
	f.gains = append(f.gains, gains)
	f.mu.Unlock()
	id := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if f.failGains[id] {
		return errors.New("magick: corrupt input")
	}
	return os.WriteFile(output, []byte("jpg"), 0o644)
}

func (f *fakeToolkit) Align(_ context.Context, _, project string) error {
	f.record("align")
	f.stage(filepath.Dir(project))
	if err := os.MkdirAll(filepath.Join(filepath.Dir(project), "project"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(project, []byte("rcproj"), 0o644)
}

func (f *fakeToolkit) BuildMesh(_ context.Context, _, _, output string) error {
	f.record("mesh")
	if err := os.WriteFile(filepath.Join(filepath.Dir(output), "output.mtl"), []byte("mtl"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("obj"), 0o644)
}

func writeChart(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, img)
}

func newTaskDir(t *testing.T, step pipeline.StepIndex) pipeline.Task {
	t.Helper()
	location := t.TempDir()
	if err := pipeline.EnsureLayout(location); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	task := pipeline.NewTask(location)
	task.ID = 1
	task.Step = step
	return task
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func mustStep(t *testing.T, task pipeline.Task) pipeline.Step {
	t.Helper()
	step, err := pipeline.StepFor(task)
	if err != nil {
		t.Fatalf("StepFor: %v", err)
	}
	return step
}
