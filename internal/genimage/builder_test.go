package genimage_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canmv/k230-image-tools/internal/genimage"
	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// writeArtifact drops a source artifact below the build root.
func writeArtifact(t *testing.T, root, rel string, contents []byte) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, contents, 0o644))
}

// TestBuildRawImage checks artifact placement, the MBR, and the TOC of a
// raw image.
func TestBuildRawImage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outDir := t.TempDir()

	splContents := bytes.Repeat([]byte{0xA1}, 600)
	rttContents := bytes.Repeat([]byte{0xB2}, 1500)
	writeArtifact(t, root, "uboot/swap_fn_u-boot-spl.bin", splContents)
	writeArtifact(t, root, "opensbi/opensbi_rtt_system.bin", rttContents)

	img := genimage.Image{
		Name:     "sysimage-sdcard.img",
		Format:   genimage.FormatRaw,
		Size:     1 << 20,
		MBRTable: true,
		DiskSig:  0xCAFEBABE,
		TOC:      true,
		TOCOfs:   0x1000,
		Partitions: []genimage.Partition{
			{Name: "uboot_spl_1", Offset: 0x2000, Size: 0x1000, SourceImage: "uboot/swap_fn_u-boot-spl.bin", InTable: false},
			{Name: "rtt", Offset: 0x4000, Size: 0x2000, SourceImage: "opensbi/opensbi_rtt_system.bin", InTable: true, Bootable: true, MBRType: 0x83, Load: true, Boot: 1},
		},
	}

	builder := &genimage.Builder{RootDir: root, OutputDir: outDir}

	outPath, err := builder.Build(context.Background(), img)
	require.NoError(t, err)

	image, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Len(t, image, 1<<20)

	// Artifacts land at their declared offsets.
	require.Equal(t, splContents, image[0x2000:0x2000+len(splContents)])
	require.Equal(t, rttContents, image[0x4000:0x4000+len(rttContents)])

	// MBR: disk signature, boot signature, and the single table entry.
	require.Equal(t, uint32(0xCAFEBABE), binary.LittleEndian.Uint32(image[440:444]))
	require.Equal(t, byte(0x55), image[510])
	require.Equal(t, byte(0xAA), image[511])

	entry := image[446 : 446+16]
	require.Equal(t, byte(0x80), entry[0])
	require.Equal(t, byte(0x83), entry[4])
	require.Equal(t, uint32(0x4000/512), binary.LittleEndian.Uint32(entry[8:12]))
	require.Equal(t, uint32(0x2000/512), binary.LittleEndian.Uint32(entry[12:16]))

	// TOC: one 64-byte entry per partition.
	toc := image[0x1000:]
	require.Equal(t, []byte("uboot_spl_1"), toc[:len("uboot_spl_1")])
	require.Equal(t, uint64(0x2000), binary.LittleEndian.Uint64(toc[32:40]))

	second := toc[64:]
	require.Equal(t, []byte("rtt"), second[:3])
	require.Equal(t, uint64(0x4000), binary.LittleEndian.Uint64(second[32:40]))
	require.Equal(t, byte(1), second[48])
	require.Equal(t, byte(1), second[49])
}

// TestBuildRawRejectsOverlap checks the overlap diagnostic names both
// partitions.
func TestBuildRawRejectsOverlap(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "a.bin", make([]byte, 512))
	writeArtifact(t, root, "b.bin", make([]byte, 512))

	img := genimage.Image{
		Name:   "overlap.img",
		Format: genimage.FormatRaw,
		Size:   1 << 20,
		Partitions: []genimage.Partition{
			{Name: "first", Offset: 0x1000, Size: 0x2000, SourceImage: "a.bin", InTable: false},
			{Name: "second", Offset: 0x2000, Size: 0x1000, SourceImage: "b.bin", InTable: false},
		},
	}

	builder := &genimage.Builder{RootDir: root, OutputDir: t.TempDir()}

	_, err := builder.Build(context.Background(), img)
	require.Error(t, err)
	require.Contains(t, err.Error(), "first")
	require.Contains(t, err.Error(), "second")
	require.Contains(t, err.Error(), "overlaps")
}

// TestBuildRawMissingArtifact checks the error type for an absent source.
func TestBuildRawMissingArtifact(t *testing.T) {
	t.Parallel()

	img := genimage.Image{
		Name:   "missing.img",
		Format: genimage.FormatRaw,
		Size:   1 << 20,
		Partitions: []genimage.Partition{
			{Name: "uboot", Offset: 0x1000, Size: 0x1000, SourceImage: "uboot/absent.bin", InTable: false},
		},
	}

	builder := &genimage.Builder{RootDir: t.TempDir(), OutputDir: t.TempDir()}

	_, err := builder.Build(context.Background(), img)

	var missing *pipeline.MissingArtifactError
	require.ErrorAs(t, err, &missing)
}

// TestBuildRawSourceLargerThanPartition checks the capacity diagnostic.
func TestBuildRawSourceLargerThanPartition(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "big.bin", make([]byte, 0x3000))

	img := genimage.Image{
		Name:   "tight.img",
		Format: genimage.FormatRaw,
		Size:   1 << 20,
		Partitions: []genimage.Partition{
			{Name: "small", Offset: 0x1000, Size: 0x1000, SourceImage: "big.bin", InTable: false},
		},
	}

	builder := &genimage.Builder{RootDir: root, OutputDir: t.TempDir()}

	_, err := builder.Build(context.Background(), img)

	var capacity *pipeline.CapacityError
	require.ErrorAs(t, err, &capacity)
	require.Equal(t, int64(0x3000), capacity.Required)
	require.Equal(t, int64(0x1000), capacity.Available)
}

// TestBuildKdImage checks the container header, partition table, and
// content placement of a kdimg, including duplicate-source reuse.
func TestBuildKdImage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outDir := t.TempDir()

	splContents := bytes.Repeat([]byte{0x5A}, 5000)
	writeArtifact(t, root, "uboot/swap_fn_u-boot-spl.bin", splContents)

	img := genimage.Image{
		Name:      "sysimage-sdcard.kdimg",
		Format:    genimage.FormatKd,
		ImageInfo: "canmv_v1.0",
		ChipInfo:  "k230",
		BoardInfo: "canmv",
		Medium:    genimage.MediumMMC,
		Partitions: []genimage.Partition{
			{Name: "uboot_spl_1", Offset: 0x0, Size: 0x80000, SourceImage: "uboot/swap_fn_u-boot-spl.bin"},
			{Name: "uboot_spl_2", Offset: 0x80000, Size: 0x80000, SourceImage: "uboot/swap_fn_u-boot-spl.bin"},
		},
	}

	builder := &genimage.Builder{RootDir: root, OutputDir: outDir}

	outPath, err := builder.Build(context.Background(), img)
	require.NoError(t, err)

	image, err := os.ReadFile(outPath)
	require.NoError(t, err)

	// Header.
	require.Equal(t, genimage.KdHeaderMagic, binary.LittleEndian.Uint32(image[0:4]))

	headerCRC := binary.LittleEndian.Uint32(image[4:8])
	scratch := make([]byte, 512)
	copy(scratch, image[:512])
	binary.LittleEndian.PutUint32(scratch[4:], 0)
	require.Equal(t, crc32.ChecksumIEEE(scratch), headerCRC)

	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(image[12:16]))
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(image[16:20]))
	require.Equal(t, []byte("canmv_v1.0"), image[24:24+10])
	require.Equal(t, []byte("k230"), image[56:60])
	require.Equal(t, []byte("canmv"), image[88:93])

	table := image[512 : 512+2*256]
	require.Equal(t, crc32.ChecksumIEEE(table), binary.LittleEndian.Uint32(image[20:24]))

	// First entry carries the content, aligned up to 4 KiB.
	first := table[:256]
	require.Equal(t, genimage.KdPartitionMagic, binary.LittleEndian.Uint32(first[0:4]))
	require.Equal(t, uint32(0x2000), binary.LittleEndian.Uint32(first[8:12]))
	require.Equal(t, uint32(0x80000), binary.LittleEndian.Uint32(first[16:20]))
	require.Equal(t, uint32(64*1024), binary.LittleEndian.Uint32(first[32:36]))
	require.Equal(t, uint32(0x2000), binary.LittleEndian.Uint32(first[36:40]))
	require.Equal(t, []byte("uboot_spl_1"), first[72:72+11])

	// Content region: artifact then zero padding to the aligned size.
	content := image[64*1024 : 64*1024+0x2000]
	require.Equal(t, splContents, content[:len(splContents)])
	require.Equal(t, bytes.Repeat([]byte{0x00}, 0x2000-len(splContents)), content[len(splContents):])

	digest := sha256.Sum256(content)
	require.Equal(t, digest[:], first[40:72])

	// Second entry reuses the first content region.
	second := table[256:]
	require.Equal(t, uint32(0x80000), binary.LittleEndian.Uint32(second[4:8]))
	require.Equal(t, uint32(64*1024), binary.LittleEndian.Uint32(second[32:36]))
	require.Equal(t, digest[:], second[40:72])

	// Duplicate content is stored once: the file ends after one region.
	require.Len(t, image, 64*1024+0x2000)
}
