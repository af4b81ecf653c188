package genimage

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
)

const (
	sectorSize = 512

	// MBR layout inside sector zero.
	mbrDiskSigOffset   = 440
	mbrEntriesOffset   = 446
	mbrSignatureOffset = 510
)

// buildRaw writes a raw disk image: every partition's artifact at its
// byte offset, an MBR partition table when requested, and an optional
// table of contents for the first-stage loader.
func (b *Builder) buildRaw(ctx context.Context, img Image, outPath string) error {
	parts, err := b.resolveRawLayout(&img)
	if err != nil {
		return err
	}

	if err := checkOverlap(img.Name, reservedRawRegions(img, parts)); err != nil {
		return err
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, pipeline.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}

	defer func() {
		_ = out.Close()
	}()

	if err := out.Truncate(img.Size); err != nil {
		return fmt.Errorf("extend %s: %w", outPath, err)
	}

	for _, part := range parts {
		if part.SourceImage == "" {
			// Placeholder region, filled by the device at runtime.
			continue
		}

		src, err := b.sourcePath(part)
		if err != nil {
			return err
		}

		logger.DebugKV(ctx, "inserting partition",
			"partition", part.Name,
			"offset", fmt.Sprintf("0x%x", part.Offset))

		if err := insertAt(out, src, part.Offset, 0, 0); err != nil {
			return fmt.Errorf("image %s partition %s: %w", img.Name, part.Name, err)
		}
	}

	if img.MBRTable {
		if err := writeMBR(out, img, parts); err != nil {
			return fmt.Errorf("image %s: %w", img.Name, err)
		}
	}

	if img.TOC {
		if _, err := out.Seek(img.TOCOfs, io.SeekStart); err != nil {
			return err
		}

		if _, err := out.Write(buildTOC(parts)); err != nil {
			return fmt.Errorf("image %s: write TOC: %w", img.Name, err)
		}
	}

	return out.Close()
}

// resolveRawLayout fills derived partition sizes and offsets and settles
// the image size. Partitions with no explicit offset are packed in order
// after the space reserved for the partition table.
func (b *Builder) resolveRawLayout(img *Image) ([]Partition, error) {
	parts := make([]Partition, len(img.Partitions))
	copy(parts, img.Partitions)

	var cursor int64
	if img.MBRTable {
		cursor = sectorSize
	}

	if img.TOC {
		tocEnd := img.TOCOfs + int64(len(parts))*tocEntrySize
		if tocEnd > cursor {
			cursor = tocEnd
		}
	}

	for i := range parts {
		part := &parts[i]

		align := int64(1)
		if part.InTable {
			align = sectorSize
		}

		if part.SourceImage != "" {
			_, childSize, err := b.sourceSize(*part)
			if err != nil {
				return nil, err
			}

			if part.Size == 0 {
				part.Size = roundUp(childSize, align)
			}

			if childSize > part.Size {
				return nil, &pipeline.CapacityError{
					What:      fmt.Sprintf("partition %s source %s", part.Name, part.SourceImage),
					Required:  childSize,
					Available: part.Size,
				}
			}
		}

		if part.Size == 0 {
			return nil, fmt.Errorf("image %s: partition %s has neither size nor source", img.Name, part.Name)
		}

		if part.Offset == 0 && cursor > 0 {
			part.Offset = roundUp(cursor, align)
		}

		if part.InTable && part.Size%sectorSize != 0 {
			return nil, fmt.Errorf("image %s: partition %s size (0x%x) must be a multiple of %d",
				img.Name, part.Name, part.Size, sectorSize)
		}

		if end := part.Offset + part.Size; end > cursor {
			cursor = end
		}
	}

	if img.Size == 0 {
		img.Size = cursor
	}

	if cursor > img.Size {
		return nil, &pipeline.CapacityError{
			What:      fmt.Sprintf("image %s partition layout", img.Name),
			Required:  cursor,
			Available: img.Size,
		}
	}

	return parts, nil
}

// reservedRawRegions adds the table regions as pseudo-partitions so the
// overlap check also catches layouts that collide with them.
func reservedRawRegions(img Image, parts []Partition) []Partition {
	all := make([]Partition, 0, len(parts)+2)

	if img.MBRTable {
		all = append(all, Partition{Name: "[MBR]", Offset: mbrDiskSigOffset, Size: sectorSize - mbrDiskSigOffset})
	}

	if img.TOC {
		all = append(all, Partition{Name: "[TOC]", Offset: img.TOCOfs, Size: int64(len(parts)) * tocEntrySize})
	}

	return append(all, parts...)
}

// writeMBR writes the disk signature, up to four primary partition
// entries, and the boot signature into sector zero.
func writeMBR(out *os.File, img Image, parts []Partition) error {
	mbr := make([]byte, sectorSize-mbrDiskSigOffset)
	binary.LittleEndian.PutUint32(mbr, img.DiskSig)

	entryOffset := mbrEntriesOffset - mbrDiskSigOffset
	count := 0

	for _, part := range parts {
		if !part.InTable {
			continue
		}

		if count >= 4 {
			return fmt.Errorf("MBR partition table holds at most 4 primary partitions")
		}

		writeMBREntry(mbr[entryOffset:], part)
		entryOffset += 16
		count++
	}

	mbr[mbrSignatureOffset-mbrDiskSigOffset] = 0x55
	mbr[mbrSignatureOffset-mbrDiskSigOffset+1] = 0xAA

	if _, err := out.Seek(mbrDiskSigOffset, io.SeekStart); err != nil {
		return err
	}

	_, err := out.Write(mbr)

	return err
}

func writeMBREntry(entry []byte, part Partition) {
	relative := uint32(part.Offset / sectorSize)
	total := uint32(part.Size / sectorSize)

	if part.Bootable {
		entry[0] = 0x80
	}

	lbaToCHS(relative, entry[1:4])
	entry[4] = part.MBRType
	lbaToCHS(relative+total-1, entry[5:8])
	binary.LittleEndian.PutUint32(entry[8:], relative)
	binary.LittleEndian.PutUint32(entry[12:], total)
}

// lbaToCHS packs a logical block address into the legacy three-byte
// cylinder/head/sector form using the 255-head, 63-sector geometry.
func lbaToCHS(lba uint32, chs []byte) {
	const (
		headsPerCylinder = 255
		sectorsPerTrack  = 63
	)

	s := lba % sectorsPerTrack
	c := lba / sectorsPerTrack
	h := c % headsPerCylinder
	c /= headsPerCylinder

	chs[0] = byte(h)

	sectorBits := byte(0)
	if s != 0 {
		sectorBits = byte(s + 1)
	}

	chs[1] = byte((c&0x300)>>2) | sectorBits
	chs[2] = byte(c & 0xFF)
}
