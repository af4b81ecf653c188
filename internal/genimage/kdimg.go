package genimage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// kdimg container constants.
const (
	KdHeaderMagic    uint32 = 0x27CB8F93
	KdPartitionMagic uint32 = 0x91DF6DA4

	kdHeaderSize    = 512
	kdEntrySize     = 256
	kdContentStart  = 64 * 1024
	kdAlignment     = 4096
	kdHeaderVersion = 2
)

// kdEntry mirrors one partition entry of the container table.
type kdEntry struct {
	offset        uint32
	size          uint32
	eraseSize     uint32
	maxSize       uint32
	flag          uint64
	contentOffset uint32
	contentSize   uint32
	contentSHA    [sha256.Size]byte
	name          string
}

func (e *kdEntry) encode() []byte {
	out := make([]byte, kdEntrySize)
	binary.LittleEndian.PutUint32(out[0:], KdPartitionMagic)
	binary.LittleEndian.PutUint32(out[4:], e.offset)
	binary.LittleEndian.PutUint32(out[8:], e.size)
	binary.LittleEndian.PutUint32(out[12:], e.eraseSize)
	binary.LittleEndian.PutUint32(out[16:], e.maxSize)
	// Four reserved bytes stay zero at offset 20.
	binary.LittleEndian.PutUint64(out[24:], e.flag)
	binary.LittleEndian.PutUint32(out[32:], e.contentOffset)
	binary.LittleEndian.PutUint32(out[36:], e.contentSize)
	copy(out[40:], e.contentSHA[:])
	copy(out[72:103], e.name)

	return out
}

// buildKd writes a kdimg container: a checksummed header, the partition
// table from offset 512, and deduplicated partition contents from 64 KiB,
// each aligned to 4 KiB and padded with the medium's erased-state byte.
func (b *Builder) buildKd(ctx context.Context, img Image, outPath string) error {
	if err := checkOverlap(img.Name, img.Partitions); err != nil {
		return err
	}

	pad := byte(0x00)
	if img.Medium == MediumSPINAND || img.Medium == MediumSPINOR {
		pad = 0xFF
	}

	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, pipeline.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}

	defer func() {
		_ = out.Close()
	}()

	entries, writeOffset, err := b.writeKdContents(ctx, img, out, pad)
	if err != nil {
		return err
	}

	table := make([]byte, 0, len(entries)*kdEntrySize)
	for i := range entries {
		table = append(table, entries[i].encode()...)
	}

	header := encodeKdHeader(img, len(entries), table)

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if _, err := out.Seek(kdHeaderSize, io.SeekStart); err != nil {
		return err
	}

	if _, err := out.Write(table); err != nil {
		return fmt.Errorf("write partition table: %w", err)
	}

	if err := out.Truncate(writeOffset); err != nil {
		return fmt.Errorf("truncate %s: %w", outPath, err)
	}

	return out.Close()
}

// writeKdContents lays the partition contents out after the reserved
// header area and returns the finished table entries. Partitions sharing
// a source artifact reference the first copy's content.
func (b *Builder) writeKdContents(ctx context.Context, img Image, out *os.File, pad byte) ([]kdEntry, int64, error) {
	type contentRecord struct {
		offset uint32
		size   uint32
		sha    [sha256.Size]byte
	}

	seen := make(map[string]contentRecord)
	entries := make([]kdEntry, 0, len(img.Partitions))
	writeOffset := int64(kdContentStart)

	for _, part := range img.Partitions {
		entry := kdEntry{
			offset:    uint32(part.Offset),
			eraseSize: uint32(part.EraseSize),
			flag:      part.Flag,
			name:      part.Name,
		}

		if part.SourceImage == "" {
			// Placeholder partition: present in the table, no content.
			entry.maxSize = uint32(part.Size)
			entries = append(entries, entry)

			continue
		}

		src, childSize, err := b.sourceSize(part)
		if err != nil {
			return nil, 0, err
		}

		if part.Size == 0 {
			part.Size = roundUp(childSize, kdAlignment)
		}

		if childSize > part.Size {
			return nil, 0, &pipeline.CapacityError{
				What:      fmt.Sprintf("partition %s source %s", part.Name, part.SourceImage),
				Required:  childSize,
				Available: part.Size,
			}
		}

		alignedSize := childSize
		if childSize > kdAlignment {
			alignedSize = roundUp(childSize, kdAlignment)
		}

		entry.size = uint32(alignedSize)
		entry.maxSize = uint32(part.Size)

		if record, ok := seen[src]; ok {
			logger.DebugKV(ctx, "reusing duplicate partition content",
				"partition", part.Name,
				"source", part.SourceImage)

			entry.contentOffset = record.offset
			entry.contentSize = record.size
			entry.contentSHA = record.sha
			entries = append(entries, entry)

			continue
		}

		if err := insertAt(out, src, writeOffset, alignedSize, pad); err != nil {
			return nil, 0, fmt.Errorf("image %s partition %s: %w", img.Name, part.Name, err)
		}

		sha, err := hashRegion(out, writeOffset, alignedSize)
		if err != nil {
			return nil, 0, err
		}

		entry.contentOffset = uint32(writeOffset)
		entry.contentSize = uint32(alignedSize)
		entry.contentSHA = sha

		seen[src] = contentRecord{
			offset: entry.contentOffset,
			size:   entry.contentSize,
			sha:    sha,
		}

		entries = append(entries, entry)
		writeOffset += roundUp(alignedSize, kdAlignment)
	}

	return entries, writeOffset, nil
}

// encodeKdHeader builds the 512-byte container header. The header CRC is
// computed with its own field zeroed.
func encodeKdHeader(img Image, partCount int, table []byte) []byte {
	header := make([]byte, kdHeaderSize)
	binary.LittleEndian.PutUint32(header[0:], KdHeaderMagic)
	// CRC32 at offset 4 stays zero until the rest is final.
	// Flag at offset 8 stays zero.
	binary.LittleEndian.PutUint32(header[12:], kdHeaderVersion)
	binary.LittleEndian.PutUint32(header[16:], uint32(partCount))
	binary.LittleEndian.PutUint32(header[20:], crc32.ChecksumIEEE(table))
	copy(header[24:55], img.ImageInfo)
	copy(header[56:87], img.ChipInfo)
	copy(header[88:151], img.BoardInfo)

	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(header))

	return header
}

func hashRegion(f *os.File, offset, size int64) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte

	hasher := sha256.New()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return digest, err
	}

	if _, err := io.CopyN(hasher, f, size); err != nil {
		return digest, fmt.Errorf("hash region at 0x%x: %w", offset, err)
	}

	copy(digest[:], hasher.Sum(nil))

	return digest, nil
}
