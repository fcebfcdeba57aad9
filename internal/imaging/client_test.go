package imaging_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"photopipe/internal/imaging"
	"photopipe/internal/services"
)

type recordedCall struct {
	binary string
	args   []string
}

type fakeExecutor struct {
	calls []recordedCall
	err   error
	block bool
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string) error {
	f.calls = append(f.calls, recordedCall{binary: binary, args: append([]string(nil), args...)})
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func newClient(t *testing.T, exec *fakeExecutor, timeout time.Duration) *imaging.Client {
	t.Helper()
	client, err := imaging.New("dngconv", "magick", "rc", timeout, imaging.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestNewRequiresBinaries(t *testing.T) {
	_, err := imaging.New("", "magick", "rc", 0)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestConvertRawUsesConverterFlags(t *testing.T) {
	exec := &fakeExecutor{}
	client := newClient(t, exec, 0)
	if err := client.ConvertRaw(context.Background(), "/task/1_RAW/IMG_0001.ARW", "/task/cache/.staging-r1"); err != nil {
		t.Fatalf("ConvertRaw: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(exec.calls))
	}
	got := strings.Join(exec.calls[0].args, " ")
	want := "-c -d /task/cache/.staging-r1 /task/1_RAW/IMG_0001.ARW"
	if exec.calls[0].binary != "dngconv" || got != want {
		t.Fatalf("unexpected invocation %s %q", exec.calls[0].binary, got)
	}
}

func TestBlurFormatsSigma(t *testing.T) {
	exec := &fakeExecutor{}
	client := newClient(t, exec, 0)
	if err := client.Blur(context.Background(), "in.png", "out.png", 10); err != nil {
		t.Fatalf("Blur: %v", err)
	}
	got := strings.Join(exec.calls[0].args, " ")
	if got != "in.png -gaussian-blur 0x10 png:out.png" {
		t.Fatalf("unexpected blur args %q", got)
	}
}

func TestApplyGainsSkipsIdentity(t *testing.T) {
	exec := &fakeExecutor{}
	client := newClient(t, exec, 0)
	if err := client.ApplyGains(context.Background(), "a.dng", "a.jpg", imaging.IdentityGains()); err != nil {
		t.Fatalf("ApplyGains: %v", err)
	}
	if strings.Contains(strings.Join(exec.calls[0].args, " "), "-evaluate") {
		t.Fatalf("identity gains should not add channel ops: %v", exec.calls[0].args)
	}
	if err := client.ApplyGains(context.Background(), "a.dng", "a.jpg", imaging.Gains{R: 1.5, G: 1, B: 0.5}); err != nil {
		t.Fatalf("ApplyGains: %v", err)
	}
	args := strings.Join(exec.calls[1].args, " ")
	for _, fragment := range []string{"-channel R -evaluate multiply 1.5000", "-channel B -evaluate multiply 0.5000", "jpg:a.jpg"} {
		if !strings.Contains(args, fragment) {
			t.Fatalf("expected %q in %q", fragment, args)
		}
	}
}

func TestBuildMeshImportsSettingsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{}
	client := newClient(t, exec, 0)
	if err := client.BuildMesh(context.Background(), "project.rcproj", dir, "output.obj"); err != nil {
		t.Fatalf("BuildMesh: %v", err)
	}
	if strings.Contains(strings.Join(exec.calls[0].args, " "), "-importGlobalSettings") {
		t.Fatal("did not expect settings import without an rcconfig file")
	}
}

func TestRunClassifiesFailures(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("exit status 1")}
	client := newClient(t, exec, 0)
	err := client.Align(context.Background(), "/images", "/project.rcproj")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}

	blocking := &fakeExecutor{block: true}
	client = newClient(t, blocking, 10*time.Millisecond)
	err = client.RenderPNG(context.Background(), "a.dng", "a.png")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
