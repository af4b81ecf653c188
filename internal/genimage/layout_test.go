package genimage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canmv/k230-image-tools/internal/genimage"
)

const sampleLayout = `
# K230 SD card layout
image sysimage-sdcard.img {
	hdimage {
		partition-table-type = "mbr"
		disk-signature = 0x12345678
		toc = true
		toc-offset = 0x100000
	}

	size = 16M

	partition uboot_spl_1 {
		in-partition-table = "false"
		offset = 0x200000
		size = 0x80000
		image = "uboot/swap_fn_u-boot-spl.bin"
	}

	partition rtt {
		offset = 0xA00000
		size = 4M
		image = "opensbi/opensbi_rtt_system.bin"
		bootable = true
		partition-type = 0x83
		load = true
		boot = 1
	}
}

image sysimage-sdcard.kdimg {
	kdimage {
		image_info = "canmv_v1.0"
		chip_info = "k230"
		board_info = "canmv"
		medium-type = "mmc"
	}

	partition uboot_spl_1 {
		offset = 0
		size = 0x80000
		image = "uboot/swap_fn_u-boot-spl.bin"
	}
}
`

// TestParseLayout checks that both container blocks of a realistic
// layout parse with their options and partitions.
func TestParseLayout(t *testing.T) {
	t.Parallel()

	layout, err := genimage.Parse(sampleLayout)
	require.NoError(t, err)
	require.Len(t, layout.Images, 2)

	raw := layout.Images[0]
	require.Equal(t, "sysimage-sdcard.img", raw.Name)
	require.Equal(t, genimage.FormatRaw, raw.Format)
	require.True(t, raw.MBRTable)
	require.Equal(t, uint32(0x12345678), raw.DiskSig)
	require.True(t, raw.TOC)
	require.Equal(t, int64(0x100000), raw.TOCOfs)
	require.Equal(t, int64(16<<20), raw.Size)
	require.Len(t, raw.Partitions, 2)

	spl := raw.Partitions[0]
	require.False(t, spl.InTable)
	require.Equal(t, int64(0x200000), spl.Offset)
	require.Equal(t, "uboot/swap_fn_u-boot-spl.bin", spl.SourceImage)

	rtt := raw.Partitions[1]
	require.True(t, rtt.InTable)
	require.True(t, rtt.Bootable)
	require.Equal(t, byte(0x83), rtt.MBRType)
	require.True(t, rtt.Load)
	require.Equal(t, int64(1), rtt.Boot)
	require.Equal(t, int64(4<<20), rtt.Size)

	kd := layout.Images[1]
	require.Equal(t, genimage.FormatKd, kd.Format)
	require.Equal(t, "canmv_v1.0", kd.ImageInfo)
	require.Equal(t, "k230", kd.ChipInfo)
	require.Equal(t, "canmv", kd.BoardInfo)
	require.Equal(t, genimage.MediumMMC, kd.Medium)
}

// TestParseRejectsMissingTypeBlock checks that an image without a
// container type fails to parse.
func TestParseRejectsMissingTypeBlock(t *testing.T) {
	t.Parallel()

	_, err := genimage.Parse("image broken.img {\n size = 1M\n}\n")
	require.Error(t, err)
}

// TestParseRejectsKdWithoutInfo checks the kdimage identity requirements.
func TestParseRejectsKdWithoutInfo(t *testing.T) {
	t.Parallel()

	_, err := genimage.Parse("image x.kdimg {\n kdimage {\n image-info = \"v1\"\n }\n}\n")
	require.Error(t, err)
}

// TestParseRejectsBadDiskUUID checks disk UUID validation.
func TestParseRejectsBadDiskUUID(t *testing.T) {
	t.Parallel()

	_, err := genimage.Parse("image x.img {\n hdimage {\n disk-uuid = \"nonsense\"\n }\n}\n")
	require.Error(t, err)
}

// TestParseSize checks the size grammar.
func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  int64
	}{
		{"0", 0},
		{"512", 512},
		{"4K", 4096},
		{"16M", 16 << 20},
		{"2G", 2 << 30},
		{"0x80000", 0x80000},
		{"1.5M", 3 << 19},
		{"9007199254740995", 9007199254740995},
	}

	for _, tt := range tests {
		got, err := genimage.ParseSize(tt.input)
		require.NoError(t, err, tt.input)
		require.Equal(t, tt.want, got, tt.input)
	}

	for _, input := range []string{"bogus", "1e3", "1.5"} {
		_, err := genimage.ParseSize(input)
		require.Error(t, err, input)
	}
}
