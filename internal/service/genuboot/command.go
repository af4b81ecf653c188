package genuboot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/canmv/k230-image-tools/internal/byteswap"
	"github.com/canmv/k230-image-tools/internal/envimage"
	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
	"github.com/canmv/k230-image-tools/internal/service/common"
	"github.com/canmv/k230-image-tools/internal/stage"
	"github.com/canmv/k230-image-tools/internal/uimage"
)

// Options contains inputs for the U-Boot image generator.
type Options struct {
	// ConfigPath is the path to the pipeline settings file.
	ConfigPath string
	// SPLPath is the raw U-Boot SPL binary. Defaults to the build tree's
	// spl/u-boot-spl.bin.
	SPLPath string
	// UBootPath is the raw U-Boot proper binary. Defaults to the build
	// tree's u-boot.bin.
	UBootPath string
}

// Run builds the three U-Boot stage artifacts: the environment image,
// the stamped SPL with its byte-swapped sibling, and the compressed,
// wrapped and stamped U-Boot proper.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "k230-gen-uboot")

	run, err := common.Setup(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = run.Close()
	}()

	stageDir, err := pipeline.StageDir(run.Config.ImagesDir, pipeline.UBootSubdir)
	if err != nil {
		return err
	}

	removed, err := pipeline.ClearStaleOutputs(stageDir, "env.bin", "fn_*.bin", "swap_*.bin")
	if err != nil {
		return err
	}

	if len(removed) > 0 {
		logger.InfoKV(ctx, "cleared stale outputs", "count", len(removed))
	}

	if err := buildEnvImage(ctx, run, stageDir); err != nil {
		return err
	}

	if err := buildSPL(ctx, opts.splPath(run), stageDir); err != nil {
		return err
	}

	if err := buildUBoot(ctx, run, opts.ubootPath(run), stageDir); err != nil {
		return err
	}

	logger.Info(ctx, "U-Boot stage complete")

	return nil
}

func (o *Options) splPath(run *common.Run) string {
	if o.SPLPath != "" {
		return o.SPLPath
	}

	return filepath.Join(run.Config.UBootBuildDir, "spl", "u-boot-spl.bin")
}

func (o *Options) ubootPath(run *common.Run) string {
	if o.UBootPath != "" {
		return o.UBootPath
	}

	return filepath.Join(run.Config.UBootBuildDir, "u-boot.bin")
}

// buildEnvImage flattens the board's environment text into the binary
// form U-Boot reads from flash.
func buildEnvImage(ctx context.Context, run *common.Run, stageDir string) error {
	src := run.Resolved.UBootEnvFile
	if !filepath.IsAbs(src) {
		src = filepath.Join(run.Config.BoardDir, src)
	}

	if err := pipeline.RequireArtifact(src); err != nil {
		return err
	}

	dst := filepath.Join(stageDir, pipeline.EnvImageName)
	if err := envimage.BuildFile(src, dst, envimage.DefaultSize, envimage.DefaultPadByte); err != nil {
		return fmt.Errorf("build environment image: %w", err)
	}

	logger.InfoKV(ctx, "environment image built", "source", src, "output", dst)

	return nil
}

// buildSPL stamps the SPL with the firmware header only, the boot ROM
// consumes it without a loader wrapper, then writes the byte-swapped
// sibling some flash programmers need.
func buildSPL(ctx context.Context, splPath, stageDir string) error {
	stamped := filepath.Join(stageDir, pipeline.SPLImageName)

	err := stage.Stamp(ctx, splPath, stamped, stage.StampOptions{})
	if err != nil {
		return fmt.Errorf("stamp SPL: %w", err)
	}

	swapped := filepath.Join(stageDir, pipeline.SPLSwappedImageName)
	if err := byteswap.SwapFile(stamped, swapped); err != nil {
		return fmt.Errorf("swap SPL: %w", err)
	}

	logger.InfoKV(ctx, "SPL images built", "stamped", stamped, "swapped", swapped)

	return nil
}

// buildUBoot compresses U-Boot proper, wraps it in a legacy image
// header at the configured text base and stamps the firmware header.
func buildUBoot(ctx context.Context, run *common.Run, ubootPath, stageDir string) error {
	textBase := uint32(run.Resolved.UBootTextBase)

	logger.Infof(ctx, "Generating U-Boot binary with text base 0x%08x", textBase)

	dst := filepath.Join(stageDir, pipeline.UBootImageName)

	err := stage.Stamp(ctx, ubootPath, dst, stage.StampOptions{
		Gzip: true,
		Wrap: &uimage.Params{
			OS:         uimage.OSUBoot,
			Arch:       uimage.ArchRISCV,
			Type:       uimage.TypeFirmware,
			Comp:       uimage.CompGzip,
			LoadAddr:   textBase,
			EntryPoint: textBase,
			Name:       "uboot",
		},
	})
	if err != nil {
		return fmt.Errorf("stamp U-Boot: %w", err)
	}

	return nil
}
