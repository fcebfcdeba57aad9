package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photopipe/internal/fileutil"
	"photopipe/internal/logging"
	"photopipe/internal/services"
)

// Cache artifacts produced while initializing a task.
const (
	BlackImageName           = "black.dng"
	ColorCheckerID           = "color_checker"
	ColorCheckerRawExt       = "ARW"
	ColorCheckerDNGName      = "color_checker.dng"
	ColorCheckerPNGName      = "color_checker.png"
	ColorCheckerBlurPNGName  = "color_checker_blur.png"
	ColorCheckerBlurTIFFName = "color_checker_blur.tiff"
	RCSettingDirName         = "rc_setting"

	referenceBlurSigma = 10
)

func initFinished(s Step) bool {
	if !fileExists(s.Task.CachePath(BlackImageName)) {
		return false
	}
	if !s.Task.Requirements.NeedsColorChecker {
		return true
	}
	return fileExists(s.Task.CachePath(ColorCheckerBlurTIFFName))
}

func initProcess(ctx context.Context, env *Env, s Step) error {
	if err := os.MkdirAll(s.Task.CacheDir(), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := installTemplates(env, s); err != nil {
		return err
	}
	if !s.Task.Requirements.NeedsColorChecker {
		return nil
	}
	if fileExists(s.Task.CachePath(ColorCheckerBlurTIFFName)) {
		return nil
	}
	raw, err := waitForReference(ctx, env, s)
	if err != nil {
		return err
	}
	return buildReference(ctx, env, s, raw)
}

func installTemplates(env *Env, s Step) error {
	var templates Templates
	if env != nil {
		templates = env.Templates
	}
	logger := env.logger()

	settingsTarget := s.Task.CachePath(RCSettingDirName)
	if src := strings.TrimSpace(templates.RCSettingDir); src != "" && !dirExists(settingsTarget) {
		staging, cleanup, err := stagingDir(s.Task, "settings")
		if err != nil {
			return err
		}
		defer cleanup()
		copied := filepath.Join(staging, RCSettingDirName)
		if err := fileutil.CopyDir(src, copied); err != nil {
			return services.Wrap(services.ErrConfiguration, s.Name(), "copy settings template", src, err)
		}
		if err := publish(copied, settingsTarget); err != nil {
			return err
		}
		logger.Debug("installed settings template", logging.TaskID(s.Task.ID), logging.String("path", settingsTarget))
	}

	blackTarget := s.Task.CachePath(BlackImageName)
	if fileExists(blackTarget) {
		return nil
	}
	src := strings.TrimSpace(templates.BlackImage)
	if src == "" {
		return services.Wrap(services.ErrConfiguration, s.Name(), "copy neutral reference", "templates.black_image is not configured", nil)
	}
	staging, cleanup, err := stagingDir(s.Task, "black")
	if err != nil {
		return err
	}
	defer cleanup()
	copied := filepath.Join(staging, BlackImageName)
	if err := fileutil.CopyFileVerified(src, copied); err != nil {
		return services.Wrap(services.ErrConfiguration, s.Name(), "copy neutral reference", src, err)
	}
	return publish(copied, blackTarget)
}

// waitForReference polls the cache until the operator drops in the color
// checker capture, warning on every miss.
func waitForReference(ctx context.Context, env *Env, s Step) (string, error) {
	logger := env.logger().With(logging.TaskID(s.Task.ID), logging.Step(s.Name()))
	for {
		if path, ok := findImage(s.Task.CacheDir(), ColorCheckerID, ColorCheckerRawExt); ok {
			return path, nil
		}
		logging.WarnWithContext(logger, "color checker capture not found; waiting", "reference_missing",
			logging.String("expected", s.Task.CachePath(ColorCheckerID+"."+ColorCheckerRawExt)),
			logging.ErrorHint("copy the color checker raw capture into the task cache folder"),
			logging.String(logging.FieldImpact, "task stays in initialization until the capture appears"),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(env.pollInterval()):
		}
	}
}

// buildReference converts the capture to DNG, renders a PNG, blurs it, and
// writes the TIFF last because it is the completion marker.
func buildReference(ctx context.Context, env *Env, s Step, raw string) error {
	if env == nil || env.Tools == nil {
		return services.Wrap(services.ErrConfiguration, s.Name(), "build reference", "no toolkit configured", nil)
	}
	staging, cleanup, err := stagingDir(s.Task, "reference")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := env.Tools.ConvertRaw(ctx, raw, staging); err != nil {
		return err
	}
	dng, ok := findImage(staging, ColorCheckerID, "dng")
	if !ok {
		return services.Wrap(services.ErrExternalTool, s.Name(), "convert reference", "converter produced no DNG", nil)
	}
	png := filepath.Join(staging, ColorCheckerPNGName)
	if err := env.Tools.RenderPNG(ctx, dng, png); err != nil {
		return err
	}
	blurred := filepath.Join(staging, ColorCheckerBlurPNGName)
	if err := env.Tools.Blur(ctx, png, blurred, referenceBlurSigma); err != nil {
		return err
	}
	tiff := filepath.Join(staging, ColorCheckerBlurTIFFName)
	if err := env.Tools.ConvertTIFF(ctx, blurred, tiff); err != nil {
		return err
	}

	for _, pair := range [][2]string{
		{dng, ColorCheckerDNGName},
		{png, ColorCheckerPNGName},
		{blurred, ColorCheckerBlurPNGName},
		{tiff, ColorCheckerBlurTIFFName},
	} {
		if err := publish(pair[0], s.Task.CachePath(pair[1])); err != nil {
			return err
		}
	}
	env.logger().Info("color reference ready", logging.TaskID(s.Task.ID), logging.Step(s.Name()))
	return nil
}
