package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"photopipe/internal/logging"
	"photopipe/internal/services"
)

func markerFinished(s Step) bool {
	if s.Meta.Marker == "" {
		return false
	}
	return fileExists(filepath.Join(s.OutputDir(), s.Meta.Marker))
}

func alignImages(ctx context.Context, env *Env, s Step) error {
	if env == nil || env.Tools == nil {
		return services.Wrap(services.ErrConfiguration, s.Name(), "align", "no toolkit configured", nil)
	}
	images, err := s.ListInputImages()
	if err != nil {
		return fmt.Errorf("list input images: %w", err)
	}
	if len(images) == 0 {
		return services.Wrap(services.ErrValidation, s.Name(), "align", "no color corrected images to align", nil)
	}
	staging, cleanup, err := stagingDir(s.Task, "align")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := env.Tools.Align(ctx, s.InputDir(), filepath.Join(staging, s.Meta.Marker)); err != nil {
		return err
	}
	if err := publishAll(staging, s.OutputDir(), s.Meta.Marker); err != nil {
		return err
	}
	env.logger().Info("alignment project saved", logging.TaskID(s.Task.ID), logging.Int("images", len(images)))
	return nil
}

func buildMesh(ctx context.Context, env *Env, s Step) error {
	if env == nil || env.Tools == nil {
		return services.Wrap(services.ErrConfiguration, s.Name(), "mesh", "no toolkit configured", nil)
	}
	project := filepath.Join(s.InputDir(), AlignmentMarkerName)
	if !fileExists(project) {
		return services.Wrap(services.ErrValidation, s.Name(), "mesh", "alignment project missing", nil)
	}
	staging, cleanup, err := stagingDir(s.Task, "mesh")
	if err != nil {
		return err
	}
	defer cleanup()

	settings := s.Task.CachePath(RCSettingDirName)
	if !dirExists(settings) {
		settings = ""
	}
	if err := env.Tools.BuildMesh(ctx, project, settings, filepath.Join(staging, s.Meta.Marker)); err != nil {
		return err
	}
	if err := publishAll(staging, s.OutputDir(), s.Meta.Marker); err != nil {
		return err
	}
	env.logger().Info("mesh exported", logging.TaskID(s.Task.ID))
	return nil
}

// publishAll moves every entry of staging into dir, leaving marker for last.
func publishAll(staging, dir, marker string) error {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("read staging: %w", err)
	}
	if !fileExists(filepath.Join(staging, marker)) {
		return services.Wrap(services.ErrExternalTool, "publish", "", fmt.Sprintf("tool did not produce %s", marker), nil)
	}
	for _, entry := range entries {
		if entry.Name() == marker {
			continue
		}
		if err := publish(filepath.Join(staging, entry.Name()), filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return publish(filepath.Join(staging, marker), filepath.Join(dir, marker))
}
