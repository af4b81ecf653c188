package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/canmv/k230-image-tools/internal/firmware"
	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
	"github.com/canmv/k230-image-tools/internal/privgzip"
	"github.com/canmv/k230-image-tools/internal/uimage"
)

// StampOptions selects the transforms applied between a raw stage binary
// and its boot-ROM form.
type StampOptions struct {
	// Gzip compresses the payload in the boot ROM's private framing
	// before any wrapping.
	Gzip bool
	// Wrap, when non-nil, puts a legacy U-Boot image header around the
	// (possibly compressed) payload before the firmware header. The SPL
	// flow leaves it nil: the boot ROM consumes the firmware header
	// directly.
	Wrap *uimage.Params
	// Version is the firmware version stamp.
	Version firmware.Version
	// Security selects the firmware integrity scheme.
	Security firmware.SecurityType
}

// Stamp transforms the raw stage binary at src into its bootable form at
// dst: optional private gzip, optional legacy image header, then the
// firmware header. Each transform's output is re-checked on disk before
// the next consumes it.
func Stamp(ctx context.Context, src, dst string, opts StampOptions) error {
	if err := pipeline.RequireArtifact(src); err != nil {
		return err
	}

	payload, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	logger.InfoKV(ctx, "stamping stage binary",
		"source", src,
		"size", humanize.IBytes(uint64(len(payload))))

	if opts.Gzip {
		payload, err = privgzip.Compress(payload)
		if err != nil {
			return fmt.Errorf("compress %s: %w", src, err)
		}
	}

	if opts.Wrap != nil {
		payload, err = uimage.Create(*opts.Wrap, payload)
		if err != nil {
			return fmt.Errorf("wrap %s: %w", src, err)
		}
	}

	image, err := firmware.Stamp(payload, opts.Version, opts.Security)
	if err != nil {
		return fmt.Errorf("stamp %s: %w", src, err)
	}

	if err := os.WriteFile(dst, image, pipeline.DefaultFileMode); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}

	if err := pipeline.RequireArtifact(dst); err != nil {
		return err
	}

	logger.InfoKV(ctx, "stage binary stamped",
		"output", dst,
		"size", humanize.IBytes(uint64(len(image))))

	return nil
}

// Compose writes base at offset zero and payload at exactly offset,
// filling the gap with zeros. The gap is produced by extending the file,
// so the region stays sparse on filesystems that support it. If base does
// not fit below offset, nothing is written and a CapacityError reports
// both sizes.
func Compose(ctx context.Context, basePath, payloadPath, dst string, offset int64) error {
	if err := pipeline.RequireArtifact(basePath); err != nil {
		return err
	}

	if err := pipeline.RequireArtifact(payloadPath); err != nil {
		return err
	}

	baseInfo, err := os.Stat(basePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", basePath, err)
	}

	if baseInfo.Size() > offset || offset < 0 {
		return &pipeline.CapacityError{
			What:      filepath.Base(basePath),
			Required:  baseInfo.Size(),
			Available: offset,
		}
	}

	logger.InfoKV(ctx, "composing stages",
		"base", basePath,
		"payload", payloadPath,
		"payload_offset", fmt.Sprintf("0x%x", offset))

	out, err := os.OpenFile(filepath.Clean(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, pipeline.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	defer func() {
		_ = out.Close()
	}()

	if err := appendFile(out, basePath); err != nil {
		return err
	}

	if err := out.Truncate(offset); err != nil {
		return fmt.Errorf("extend %s to 0x%x: %w", dst, offset, err)
	}

	if _, err := out.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", dst, err)
	}

	if err := appendFile(out, payloadPath); err != nil {
		return err
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	return nil
}

func appendFile(dst *os.File, src string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	return nil
}
