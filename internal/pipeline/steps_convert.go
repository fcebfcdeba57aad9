package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"photopipe/internal/imaging"
	"photopipe/internal/logging"
	"photopipe/internal/services"
)

// conversionFinished applies the count rule: as many outputs as inputs and at
// least one input. A task that declared it has no raw images may skip raw
// conversion once converted images are present.
func conversionFinished(s Step) bool {
	inputs, err := s.ListInputImages()
	if err != nil {
		return false
	}
	outputs, err := s.ListOutputImages()
	if err != nil {
		return false
	}
	if len(inputs) == 0 {
		return s.Index == StepRawToIntermediate && !s.Task.Requirements.NeedsRawImages && len(outputs) > 0
	}
	return len(outputs) == len(inputs)
}

func convertAllRaw(ctx context.Context, env *Env, s Step) error {
	pending, err := s.PendingImages()
	if err != nil {
		return fmt.Errorf("list pending images: %w", err)
	}
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := convertRawImage(ctx, env, s, id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}

func convertRawImage(ctx context.Context, env *Env, s Step, id string) error {
	if env == nil || env.Tools == nil {
		return services.Wrap(services.ErrConfiguration, s.Name(), "convert raw", "no toolkit configured", nil)
	}
	input, ok := findImage(s.InputDir(), id, s.Meta.InputExtension)
	if !ok {
		return services.Wrap(services.ErrValidation, s.Name(), "convert raw", fmt.Sprintf("raw image %s not found", id), nil)
	}
	final := filepath.Join(s.OutputDir(), id+"."+s.Meta.OutputExtension)
	if _, done := findImage(s.OutputDir(), id, s.Meta.OutputExtension); done {
		env.logger().Debug("raw image already converted", logging.TaskID(s.Task.ID), logging.String(logging.FieldImage, id))
		return nil
	}

	staging, cleanup, err := stagingDir(s.Task, id)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := env.Tools.ConvertRaw(ctx, input, staging); err != nil {
		return err
	}
	produced, ok := findImage(staging, id, s.Meta.OutputExtension)
	if !ok {
		return services.Wrap(services.ErrExternalTool, s.Name(), "convert raw", fmt.Sprintf("converter produced no output for %s", id), nil)
	}
	return publish(produced, final)
}

// correctColors measures the reference swatch once, then corrects every
// intermediate image that has no output yet, in sorted order. Per-image
// failures are logged and the remaining images still run.
func correctColors(ctx context.Context, env *Env, s Step) error {
	if env == nil || env.Tools == nil {
		return services.Wrap(services.ErrConfiguration, s.Name(), "color correction", "no toolkit configured", nil)
	}
	logger := env.logger().With(logging.TaskID(s.Task.ID), logging.Step(s.Name()))

	gains := imaging.IdentityGains()
	if s.Task.Requirements.NeedsColorChecker {
		if !fileExists(s.Task.CachePath(ColorCheckerBlurTIFFName)) {
			return services.Wrap(services.ErrValidation, s.Name(), "measure swatch", "blurred color reference not built", nil)
		}
		// The TIFF is a lossless copy of this PNG and is published after it.
		swatch, err := imaging.MeasureSwatch(s.Task.CachePath(ColorCheckerBlurPNGName))
		if err != nil {
			return services.Wrap(services.ErrValidation, s.Name(), "measure swatch", "blurred color reference unavailable", err)
		}
		gains = swatch.Gains()
	}
	logger.Info("color gains computed",
		logging.String("gains", fmt.Sprintf("r=%.3f g=%.3f b=%.3f", gains.R, gains.G, gains.B)),
	)

	pending, err := s.PendingImages()
	if err != nil {
		return fmt.Errorf("list pending images: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	staging, cleanup, err := stagingDir(s.Task, "color")
	if err != nil {
		return err
	}
	defer cleanup()

	var failed []string
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := correctImage(ctx, env, s, staging, id, gains); err != nil {
			failed = append(failed, id)
			logging.WarnWithContext(logger, "color correction failed for image", "image_correction_failed",
				logging.String(logging.FieldImage, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "image is retried on the next attempt"),
			)
		}
	}
	if len(failed) > 0 {
		return services.Wrap(services.ErrExternalTool, s.Name(), "color correction",
			fmt.Sprintf("%d of %d images failed: %s", len(failed), len(pending), strings.Join(failed, ", ")), nil)
	}
	return nil
}

func correctImage(ctx context.Context, env *Env, s Step, staging, id string, gains imaging.Gains) error {
	input, ok := findImage(s.InputDir(), id, s.Meta.InputExtension)
	if !ok {
		return fmt.Errorf("input %s disappeared", id)
	}
	name := id + "." + s.Meta.OutputExtension
	staged := filepath.Join(staging, name)
	if err := env.Tools.ApplyGains(ctx, input, staged, gains); err != nil {
		return err
	}
	return publish(staged, filepath.Join(s.OutputDir(), name))
}
