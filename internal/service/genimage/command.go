package genimage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/canmv/k230-image-tools/internal/genimage"
	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
	"github.com/canmv/k230-image-tools/internal/service/common"
)

// Options contains inputs for the partition image builder.
type Options struct {
	// ConfigPath is the path to the pipeline settings file.
	ConfigPath string
	// LayoutPath is the partition layout file.
	LayoutPath string
	// OTALayoutPath is the over-the-air variant layout. Absent file
	// skips the variant.
	OTALayoutPath string
}

// otaSuffix is inserted before the extension of variant image names.
const otaSuffix = "-ota"

// Run builds every image the layout declares, plus the over-the-air
// variants when the alternate layout exists.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "k230-genimage")

	run, err := common.Setup(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = run.Close()
	}()

	removed, err := pipeline.ClearStaleOutputs(run.Config.ImagesDir, "*.img", "*.kdimg")
	if err != nil {
		return err
	}

	if len(removed) > 0 {
		logger.InfoKV(ctx, "cleared stale outputs", "count", len(removed))
	}

	builder := &genimage.Builder{
		RootDir:   run.Config.ImagesDir,
		OutputDir: run.Config.ImagesDir,
	}

	if err := buildLayout(ctx, builder, opts.LayoutPath, ""); err != nil {
		return err
	}

	if err := buildOTA(ctx, builder, opts.OTALayoutPath); err != nil {
		return err
	}

	logger.Info(ctx, "partition images complete")

	return nil
}

// buildLayout parses the layout and builds each image block, applying
// nameSuffix to the output names.
func buildLayout(ctx context.Context, builder *genimage.Builder, layoutPath, nameSuffix string) error {
	layout, err := genimage.ParseLayout(layoutPath)
	if err != nil {
		return fmt.Errorf("parse layout %s: %w", layoutPath, err)
	}

	for _, img := range layout.Images {
		if nameSuffix != "" {
			img.Name = suffixImageName(img.Name, nameSuffix)
		}

		if _, err := builder.Build(ctx, img); err != nil {
			return err
		}
	}

	return nil
}

// buildOTA builds the variant images when the alternate layout exists.
// An absent layout is an expected configuration, not a failure.
func buildOTA(ctx context.Context, builder *genimage.Builder, layoutPath string) error {
	path, err := resolveOTALayout(layoutPath)

	switch {
	case errors.Is(err, pipeline.ErrOptionalLayoutAbsent):
		logger.Info(ctx, "over-the-air layout absent, skipping variant images")

		return nil
	case err != nil:
		return err
	}

	return buildLayout(ctx, builder, path, otaSuffix)
}

func resolveOTALayout(path string) (string, error) {
	if path == "" {
		return "", pipeline.ErrOptionalLayoutAbsent
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", pipeline.ErrOptionalLayoutAbsent
		}

		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	return path, nil
}

// suffixImageName inserts the suffix ahead of the container extension,
// sysimage-sdcard.img becomes sysimage-sdcard-ota.img.
func suffixImageName(name, suffix string) string {
	ext := filepath.Ext(name)

	return strings.TrimSuffix(name, ext) + suffix + ext
}
