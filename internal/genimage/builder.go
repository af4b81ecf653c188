package genimage

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// Builder turns parsed image blocks into container files. RootDir is
// where partition source artifacts are resolved; OutputDir receives the
// built images.
type Builder struct {
	RootDir   string
	OutputDir string
}

// Build writes one image block and returns the output path.
func (b *Builder) Build(ctx context.Context, img Image) (string, error) {
	outPath := filepath.Join(b.OutputDir, img.Name)

	logger.InfoKV(ctx, "building image",
		"name", img.Name,
		"format", img.Format.String(),
		"partitions", len(img.Partitions))

	var err error

	switch img.Format {
	case FormatKd:
		err = b.buildKd(ctx, img, outPath)
	case FormatRaw:
		err = b.buildRaw(ctx, img, outPath)
	default:
		err = fmt.Errorf("image %s: unsupported format %v", img.Name, img.Format)
	}

	if err != nil {
		return "", err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", outPath, err)
	}

	logger.InfoKV(ctx, "image built",
		"output", outPath,
		"size", humanize.IBytes(uint64(info.Size())))

	return outPath, nil
}

// sourcePath resolves a partition's source artifact below the build root.
func (b *Builder) sourcePath(part Partition) (string, error) {
	path := filepath.Join(b.RootDir, part.SourceImage)
	if err := pipeline.RequireArtifact(path); err != nil {
		return "", err
	}

	return path, nil
}

func (b *Builder) sourceSize(part Partition) (string, int64, error) {
	path, err := b.sourcePath(part)
	if err != nil {
		return "", 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}

	return path, info.Size(), nil
}

// checkOverlap rejects any two regions that intersect. The message names
// both partitions with their offsets and sizes so the layout can be fixed
// without re-running.
func checkOverlap(imageName string, parts []Partition) error {
	for i, part := range parts {
		for _, other := range parts[:i] {
			if part.Offset >= other.Offset+other.Size {
				continue
			}

			if other.Offset >= part.Offset+part.Size {
				continue
			}

			return fmt.Errorf(
				"image %s: partition %s (offset 0x%x, size 0x%x) overlaps partition %s (offset 0x%x, size 0x%x)",
				imageName,
				part.Name, part.Offset, part.Size,
				other.Name, other.Offset, other.Size)
		}
	}

	return nil
}

func roundUp(value, align int64) int64 {
	if align == 0 {
		return value
	}

	return (value + align - 1) / align * align
}

// insertAt copies the artifact at src into out at offset, then pads the
// region up to regionSize with pad bytes.
func insertAt(out *os.File, src string, offset, regionSize int64, pad byte) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	if _, err := out.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	written, err := io.Copy(out, in)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	if padLen := regionSize - written; padLen > 0 {
		padding := make([]byte, 64*1024)
		for i := range padding {
			padding[i] = pad
		}

		for padLen > 0 {
			chunk := int64(len(padding))
			if padLen < chunk {
				chunk = padLen
			}

			if _, err := out.Write(padding[:chunk]); err != nil {
				return err
			}

			padLen -= chunk
		}
	}

	return nil
}

// tocEntrySize is the fixed table-of-contents entry length.
const tocEntrySize = 64

// buildTOC serializes the table of contents consumed by the first-stage
// loader: one 64-byte entry per real partition.
func buildTOC(parts []Partition) []byte {
	var toc []byte

	for _, part := range parts {
		entry := make([]byte, tocEntrySize)
		copy(entry[:31], part.Name)
		binary.LittleEndian.PutUint64(entry[32:], uint64(part.Offset))
		binary.LittleEndian.PutUint64(entry[40:], uint64(part.Size))

		if part.Load {
			entry[48] = 1
		}

		entry[49] = byte(part.Boot)

		toc = append(toc, entry...)
	}

	return toc
}
