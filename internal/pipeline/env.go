package pipeline

import (
	"context"
	"log/slog"
	"time"

	"photopipe/internal/imaging"
	"photopipe/internal/logging"
)

// Toolkit is the external tool surface the steps drive.
type Toolkit interface {
	ConvertRaw(ctx context.Context, input, outputDir string) error
	RenderPNG(ctx context.Context, input, output string) error
	Blur(ctx context.Context, input, output string, sigma float64) error
	ConvertTIFF(ctx context.Context, input, output string) error
	ApplyGains(ctx context.Context, input, output string, gains imaging.Gains) error
	Align(ctx context.Context, imageDir, project string) error
	BuildMesh(ctx context.Context, project, settingsDir, output string) error
}

// Templates are the shared assets copied into each task cache.
type Templates struct {
	RCSettingDir string
	BlackImage   string
}

// Env carries everything step execution needs. Workers build one at startup
// and pass it to every job.
type Env struct {
	Logger                *slog.Logger
	Tools                 Toolkit
	Templates             Templates
	ReferencePollInterval time.Duration
}

func (e *Env) logger() *slog.Logger {
	if e == nil || e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}

func (e *Env) pollInterval() time.Duration {
	if e == nil || e.ReferencePollInterval <= 0 {
		return 2 * time.Second
	}
	return e.ReferencePollInterval
}
