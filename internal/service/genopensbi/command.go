package genopensbi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
	"github.com/canmv/k230-image-tools/internal/service/common"
	"github.com/canmv/k230-image-tools/internal/stage"
	"github.com/canmv/k230-image-tools/internal/uimage"
)

// Options contains inputs for the OpenSBI + RT-Smart image generator.
type Options struct {
	// ConfigPath is the path to the pipeline settings file.
	ConfigPath string
	// OpenSBIPath is the OpenSBI jump firmware binary.
	OpenSBIPath string
	// RTSmartPath is the RT-Smart kernel binary.
	RTSmartPath string
}

// Run composes the privileged firmware with the kernel at the
// configured jump offset, then compresses, wraps and stamps the
// composite into the bootable system image.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "k230-gen-opensbi")

	run, err := common.Setup(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = run.Close()
	}()

	stageDir, err := pipeline.StageDir(run.Config.ImagesDir, pipeline.OpenSBISubdir)
	if err != nil {
		return err
	}

	removed, err := pipeline.ClearStaleOutputs(stageDir, "opensbi_*.bin")
	if err != nil {
		return err
	}

	if len(removed) > 0 {
		logger.InfoKV(ctx, "cleared stale outputs", "count", len(removed))
	}

	jumpAddr := run.Resolved.OpenSBIJumpAddr()
	offset := jumpAddr - run.Resolved.MemBaseAddr

	logger.Infof(ctx, "OpenSBI jump address 0x%08x, kernel offset 0x%x", jumpAddr, offset)

	composite, err := pipeline.TempFilePath("opensbi_rtsmart_", ".bin")
	if err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(composite)
	}()

	if err := stage.Compose(ctx, opts.OpenSBIPath, opts.RTSmartPath, composite, offset); err != nil {
		return fmt.Errorf("compose firmware and kernel: %w", err)
	}

	loadAddr := uint32(run.Resolved.MemBaseAddr)
	dst := filepath.Join(stageDir, pipeline.OpenSBIImageName)

	err = stage.Stamp(ctx, composite, dst, stage.StampOptions{
		Gzip: true,
		Wrap: &uimage.Params{
			OS:         uimage.OSOpenSBI,
			Arch:       uimage.ArchRISCV,
			Type:       uimage.TypeMulti,
			Comp:       uimage.CompGzip,
			LoadAddr:   loadAddr,
			EntryPoint: loadAddr,
			Name:       "rtt",
		},
	})
	if err != nil {
		return fmt.Errorf("stamp system image: %w", err)
	}

	logger.Info(ctx, "OpenSBI + RT-Smart stage complete")

	return nil
}
