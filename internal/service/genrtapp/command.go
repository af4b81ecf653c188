package genrtapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
	"github.com/canmv/k230-image-tools/internal/service/common"
	"github.com/canmv/k230-image-tools/internal/stage"
	"github.com/canmv/k230-image-tools/internal/uimage"
)

// Options contains inputs for the fast-boot application image generator.
type Options struct {
	// ConfigPath is the path to the pipeline settings file.
	ConfigPath string
}

// placeholderSize is the zero-filled application packaged when fast boot
// is disabled, downstream layouts always find an image to place.
const placeholderSize = 4096

// PreloadMarkerName flags a real application image for the boot scripts.
// The marker lives under bin/ in the images directory; a placeholder run
// removes it.
const PreloadMarkerName = "preload"

// Run packages the fast-boot application image: the configured binary
// when fast boot is enabled, a zero-filled placeholder otherwise.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "k230-gen-rtapp")

	run, err := common.Setup(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = run.Close()
	}()

	stageDir, err := pipeline.StageDir(run.Config.ImagesDir, pipeline.RTAppSubdir)
	if err != nil {
		return err
	}

	removed, err := pipeline.ClearStaleOutputs(stageDir, "rtapp.*")
	if err != nil {
		return err
	}

	if len(removed) > 0 {
		logger.InfoKV(ctx, "cleared stale outputs", "count", len(removed))
	}

	appPath, placeholder, err := resolveApp(ctx, run)
	if err != nil {
		return err
	}

	if placeholder {
		defer func() {
			_ = os.Remove(appPath)
		}()
	}

	dst := filepath.Join(stageDir, pipeline.RTAppImageName)

	err = stage.Stamp(ctx, appPath, dst, stage.StampOptions{
		Gzip: true,
		Wrap: &uimage.Params{
			OS:   uimage.OSUBoot,
			Arch: uimage.ArchRISCV,
			Type: uimage.TypeFirmware,
			Comp: uimage.CompGzip,
			Name: "rtapp",
		},
	})
	if err != nil {
		return fmt.Errorf("stamp application image: %w", err)
	}

	if !placeholder && run.Resolved.FastBootDeleteOriginal {
		if err := os.Remove(appPath); err != nil {
			return fmt.Errorf("remove packaged application: %w", err)
		}

		logger.InfoKV(ctx, "removed packaged application source", "path", appPath)
	}

	if err := updatePreloadMarker(run.Config.ImagesDir, !placeholder); err != nil {
		return err
	}

	logger.Info(ctx, "fast-boot application stage complete")

	return nil
}

// resolveApp returns the application binary to package and whether it is
// a placeholder. A configured but missing binary falls back to the
// placeholder rather than failing, matching the loose coupling between
// the application build and the image pipeline.
func resolveApp(ctx context.Context, run *common.Run) (string, bool, error) {
	if run.Resolved.FastBoot && run.Resolved.FastBootAppPath != "" {
		if err := pipeline.RequireArtifact(run.Resolved.FastBootAppPath); err == nil {
			return run.Resolved.FastBootAppPath, false, nil
		}

		logger.WarnKV(ctx, "configured fast-boot application missing, packaging placeholder",
			"path", run.Resolved.FastBootAppPath)
	} else {
		logger.Info(ctx, "fast boot disabled, packaging placeholder application")
	}

	path, err := pipeline.TempFilePath("rtapp_placeholder_", ".bin")
	if err != nil {
		return "", false, err
	}

	if err := os.WriteFile(path, make([]byte, placeholderSize), pipeline.DefaultFileMode); err != nil {
		return "", false, fmt.Errorf("write placeholder application: %w", err)
	}

	return path, true, nil
}

// updatePreloadMarker creates the marker for a real application and
// removes it for a placeholder.
func updatePreloadMarker(imagesDir string, real bool) error {
	marker := filepath.Join(imagesDir, "bin", PreloadMarkerName)

	if !real {
		if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove preload marker: %w", err)
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	if err := os.WriteFile(marker, nil, pipeline.DefaultFileMode); err != nil {
		return fmt.Errorf("write preload marker: %w", err)
	}

	return nil
}
