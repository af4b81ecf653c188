package genopensbi_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canmv/k230-image-tools/internal/firmware"
	"github.com/canmv/k230-image-tools/internal/pipeline"
	"github.com/canmv/k230-image-tools/internal/privgzip"
	"github.com/canmv/k230-image-tools/internal/service/genopensbi"
	"github.com/canmv/k230-image-tools/internal/uimage"
)

// kernelOffset mirrors the fixture configuration: the RT-Smart window
// starts 128 KiB past the base load address.
const kernelOffset = 0x20000

// newFixture builds an SDK-shaped tree whose board configuration puts
// the kernel window kernelOffset bytes past the base load address.
func newFixture(t *testing.T) (settings, imagesDir, inputsDir string) {
	t.Helper()

	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	imagesDir = filepath.Join(root, "images")
	inputsDir = filepath.Join(root, "inputs")

	for _, dir := range []string{srcDir, imagesDir, inputsDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	boardConfig := `CONFIG_BOARD="k230_canmv"
CONFIG_MEM_BASE_ADDR=0x0
CONFIG_MEM_RTSMART_BASE=0x0
CONFIG_RTSMART_OPENSIB_MEMORY_SIZE=0x20000
CONFIG_UBOOT_ENV_FILE="uboot.env"
`
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, ".config"), []byte(boardConfig), 0o644))

	settings = filepath.Join(root, "settings.yaml")
	contents := fmt.Sprintf("source_dir: %s\nimages_dir: %s\n", srcDir, imagesDir)
	require.NoError(t, os.WriteFile(settings, []byte(contents), 0o644))

	return settings, imagesDir, inputsDir
}

// TestRun composes the firmware and kernel at the configured offset and
// unwinds the stamped image back to the composite.
func TestRun(t *testing.T) {
	t.Parallel()

	settings, imagesDir, inputsDir := newFixture(t)

	base := bytes.Repeat([]byte{0xB0}, 64*1024)
	basePath := filepath.Join(inputsDir, "fw_jump.bin")
	require.NoError(t, os.WriteFile(basePath, base, 0o644))

	kernel := bytes.Repeat([]byte{0xC1}, 200000)
	kernelPath := filepath.Join(inputsDir, "rtthread.bin")
	require.NoError(t, os.WriteFile(kernelPath, kernel, 0o644))

	err := genopensbi.Run(context.Background(), &genopensbi.Options{
		ConfigPath:  settings,
		OpenSBIPath: basePath,
		RTSmartPath: kernelPath,
	})
	require.NoError(t, err)

	stamped, err := os.ReadFile(filepath.Join(imagesDir, pipeline.OpenSBISubdir, pipeline.OpenSBIImageName))
	require.NoError(t, err)

	image, err := firmware.Parse(stamped)
	require.NoError(t, err)

	header, data, err := uimage.Parse(image.Payload)
	require.NoError(t, err)
	require.Equal(t, "rtt", header.Name)
	require.Equal(t, uimage.OSOpenSBI, header.OS)
	require.Equal(t, uimage.TypeMulti, header.Type)
	require.Equal(t, uimage.CompGzip, header.Comp)
	require.Equal(t, uint32(0), header.LoadAddr)

	// Multi images prefix the payload with a zero-terminated size table.
	compressedSize := binary.BigEndian.Uint32(data[0:4])
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(data[4:8]))

	compressed := data[8 : 8+int(compressedSize)]

	composite, err := privgzip.Decompress(compressed)
	require.NoError(t, err)
	require.Len(t, composite, kernelOffset+len(kernel))
	require.Equal(t, base, composite[:len(base)])
	require.Equal(t, bytes.Repeat([]byte{0x00}, kernelOffset-len(base)), composite[len(base):kernelOffset])
	require.Equal(t, kernel, composite[kernelOffset:])
}

// TestRunBaseTooLarge reports required and available bytes when the
// firmware does not fit below the kernel window, writing nothing.
func TestRunBaseTooLarge(t *testing.T) {
	t.Parallel()

	settings, imagesDir, inputsDir := newFixture(t)

	base := bytes.Repeat([]byte{0xB0}, kernelOffset+0x1000)
	basePath := filepath.Join(inputsDir, "fw_jump.bin")
	require.NoError(t, os.WriteFile(basePath, base, 0o644))

	kernelPath := filepath.Join(inputsDir, "rtthread.bin")
	require.NoError(t, os.WriteFile(kernelPath, []byte("kernel"), 0o644))

	err := genopensbi.Run(context.Background(), &genopensbi.Options{
		ConfigPath:  settings,
		OpenSBIPath: basePath,
		RTSmartPath: kernelPath,
	})

	var capacity *pipeline.CapacityError

	require.ErrorAs(t, err, &capacity)
	require.Equal(t, int64(len(base)), capacity.Required)
	require.Equal(t, int64(kernelOffset), capacity.Available)

	require.NoFileExists(t, filepath.Join(imagesDir, pipeline.OpenSBISubdir, pipeline.OpenSBIImageName))
}
