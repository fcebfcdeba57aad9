package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"photopipe/internal/config"
	"photopipe/internal/services"
)

const stderrTailLimit = 512

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client runs the external processing tools.
type Client struct {
	dngConverter   string
	magick         string
	realityCapture string
	timeout        time.Duration
	exec           Executor
}

// New constructs a tool client. A zero timeout leaves invocations bounded only
// by the caller's context.
func New(dngConverter, magick, realityCapture string, timeout time.Duration, opts ...Option) (*Client, error) {
	dngConverter = strings.TrimSpace(dngConverter)
	magick = strings.TrimSpace(magick)
	realityCapture = strings.TrimSpace(realityCapture)
	if dngConverter == "" || magick == "" || realityCapture == "" {
		return nil, services.Wrap(services.ErrConfiguration, "imaging", "init", "dng converter, imagemagick, and reality capture binaries are required", nil)
	}
	client := &Client{
		dngConverter:   dngConverter,
		magick:         magick,
		realityCapture: realityCapture,
		timeout:        timeout,
		exec:           commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig builds a client from the [tools] section.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "imaging", "init", "config is nil", nil)
	}
	return New(cfg.Tools.DNGConverter, cfg.Tools.ImageMagick, cfg.Tools.RealityCapture, cfg.ToolTimeout(), opts...)
}

// ConvertRaw converts one camera raw file into outputDir. The converter names
// the output after the input stem with a .dng extension.
func (c *Client) ConvertRaw(ctx context.Context, input, outputDir string) error {
	return c.run(ctx, "convert raw", c.dngConverter, []string{"-c", "-d", outputDir, input})
}

// RenderPNG renders input to a PNG file at output.
func (c *Client) RenderPNG(ctx context.Context, input, output string) error {
	return c.run(ctx, "render png", c.magick, []string{input, "png:" + output})
}

// Blur applies a gaussian blur with the given sigma.
func (c *Client) Blur(ctx context.Context, input, output string, sigma float64) error {
	radius := "0x" + strconv.FormatFloat(sigma, 'f', -1, 64)
	return c.run(ctx, "blur", c.magick, []string{input, "-gaussian-blur", radius, "png:" + output})
}

// ConvertTIFF converts input to a TIFF file at output.
func (c *Client) ConvertTIFF(ctx context.Context, input, output string) error {
	return c.run(ctx, "convert tiff", c.magick, []string{input, "tiff:" + output})
}

// ApplyGains writes a JPEG copy of input with per-channel gains applied.
func (c *Client) ApplyGains(ctx context.Context, input, output string, gains Gains) error {
	args := []string{input}
	if !gains.IsIdentity() {
		args = append(args,
			"-channel", "R", "-evaluate", "multiply", formatGain(gains.R),
			"-channel", "G", "-evaluate", "multiply", formatGain(gains.G),
			"-channel", "B", "-evaluate", "multiply", formatGain(gains.B),
			"+channel",
		)
	}
	args = append(args, "-quality", "95", "jpg:"+output)
	return c.run(ctx, "apply gains", c.magick, args)
}

// Align registers every image in imageDir and saves the aligned project.
func (c *Client) Align(ctx context.Context, imageDir, project string) error {
	return c.run(ctx, "align", c.realityCapture, []string{
		"-headless",
		"-addFolder", imageDir,
		"-align",
		"-save", project,
		"-quit",
	})
}

// BuildMesh reconstructs and exports a textured mesh from an aligned project.
// Global settings are imported from settingsDir when it holds an .rcconfig file.
func (c *Client) BuildMesh(ctx context.Context, project, settingsDir, output string) error {
	args := []string{"-headless"}
	if settings := findSettings(settingsDir); settings != "" {
		args = append(args, "-importGlobalSettings", settings)
	}
	args = append(args,
		"-load", project,
		"-calculateNormalModel",
		"-calculateTexture",
		"-exportModel", "Model 1", output,
		"-quit",
	)
	return c.run(ctx, "build mesh", c.realityCapture, args)
}

func (c *Client) run(ctx context.Context, operation, binary string, args []string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := c.exec.Run(ctx, binary, args)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "imaging", operation, fmt.Sprintf("%s exceeded %s", filepath.Base(binary), c.timeout), err)
	}
	return services.Wrap(services.ErrExternalTool, "imaging", operation, filepath.Base(binary)+" failed", err)
}

func findSettings(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.rcconfig"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func formatGain(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > stderrTailLimit {
			tail = tail[len(tail)-stderrTailLimit:]
		}
		if tail == "" {
			return fmt.Errorf("%s: %w", binary, err)
		}
		return fmt.Errorf("%s: %w: %s", binary, err, tail)
	}
	return nil
}
