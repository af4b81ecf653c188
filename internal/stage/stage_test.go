package stage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canmv/k230-image-tools/internal/firmware"
	"github.com/canmv/k230-image-tools/internal/pipeline"
	"github.com/canmv/k230-image-tools/internal/privgzip"
	"github.com/canmv/k230-image-tools/internal/stage"
	"github.com/canmv/k230-image-tools/internal/uimage"
)

// TestStampFirmwareOnly checks the SPL flow: firmware header straight
// over the raw binary.
func TestStampFirmwareOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "u-boot-spl.bin")
	dst := filepath.Join(dir, "fn_u-boot-spl.bin")
	require.NoError(t, os.WriteFile(src, []byte("spl binary"), 0o644))

	err := stage.Stamp(context.Background(), src, dst, stage.StampOptions{})
	require.NoError(t, err)

	image, err := os.ReadFile(dst)
	require.NoError(t, err)

	decoded, err := firmware.Parse(image)
	require.NoError(t, err)
	require.Equal(t, []byte("spl binary"), decoded.Payload)
}

// TestStampGzipAndWrap checks the full U-Boot proper flow: private gzip,
// legacy header, firmware header, all reversible.
func TestStampGzipAndWrap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "u-boot.bin")
	dst := filepath.Join(dir, "fn_ug_u-boot.bin")
	require.NoError(t, os.WriteFile(src, []byte("u-boot proper binary"), 0o644))

	err := stage.Stamp(context.Background(), src, dst, stage.StampOptions{
		Gzip: true,
		Wrap: &uimage.Params{
			OS:         uimage.OSUBoot,
			Arch:       uimage.ArchRISCV,
			Type:       uimage.TypeFirmware,
			Comp:       uimage.CompGzip,
			LoadAddr:   0x80000000,
			EntryPoint: 0x80000000,
			Name:       "uboot",
		},
	})
	require.NoError(t, err)

	image, err := os.ReadFile(dst)
	require.NoError(t, err)

	decoded, err := firmware.Parse(image)
	require.NoError(t, err)

	header, data, err := uimage.Parse(decoded.Payload)
	require.NoError(t, err)
	require.Equal(t, "uboot", header.Name)

	restored, err := privgzip.Decompress(data)
	require.NoError(t, err)
	require.Equal(t, []byte("u-boot proper binary"), restored)
}

// TestStampMissingSource checks the error type for an absent stage binary.
func TestStampMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := stage.Stamp(context.Background(),
		filepath.Join(dir, "absent.bin"), filepath.Join(dir, "out.bin"), stage.StampOptions{})

	var missing *pipeline.MissingArtifactError
	require.ErrorAs(t, err, &missing)
}

// TestComposePlacesPayloadAtOffset checks the read-back property of the
// composed blob: the payload sits at exactly the requested offset with a
// zero gap before it.
func TestComposePlacesPayloadAtOffset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "fw_jump.bin")
	payload := filepath.Join(dir, "rtsmart.bin")
	dst := filepath.Join(dir, "composite.bin")

	require.NoError(t, os.WriteFile(base, []byte("opensbi jump"), 0o644))
	require.NoError(t, os.WriteFile(payload, []byte("rt-smart kernel"), 0o644))

	const offset = 0x20000

	require.NoError(t, stage.Compose(context.Background(), base, payload, dst, offset))

	composite, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Len(t, composite, offset+len("rt-smart kernel"))

	require.Equal(t, []byte("opensbi jump"), composite[:len("opensbi jump")])
	require.Equal(t, []byte("rt-smart kernel"), composite[offset:])

	for _, b := range composite[len("opensbi jump"):offset] {
		require.Zero(t, b)
	}
}

// TestComposeBaseTooLarge checks that an oversized base fails with a
// CapacityError before any output exists.
func TestComposeBaseTooLarge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "fw_jump.bin")
	payload := filepath.Join(dir, "rtsmart.bin")
	dst := filepath.Join(dir, "composite.bin")

	require.NoError(t, os.WriteFile(base, make([]byte, 0x9000), 0o644))
	require.NoError(t, os.WriteFile(payload, []byte("kernel"), 0o644))

	err := stage.Compose(context.Background(), base, payload, dst, 0x8000)

	var capacity *pipeline.CapacityError
	require.ErrorAs(t, err, &capacity)
	require.Equal(t, int64(0x9000), capacity.Required)
	require.Equal(t, int64(0x8000), capacity.Available)

	_, statErr := os.Stat(dst)
	require.True(t, os.IsNotExist(statErr))
}
