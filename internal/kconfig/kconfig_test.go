package kconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParse verifies symbol extraction, quoting, unset markers and env expansion.
func TestParse(t *testing.T) {
	t.Setenv("KCONFIG_TEST_DIR", "/opt/board")

	contents := `#
# Automatically generated file; DO NOT EDIT.
#
CONFIG_BOARD_NAME="canmv"
CONFIG_MEM_BASE_ADDR=0x00000000
CONFIG_RTSMART_OPENSIB_MEMORY_SIZE=0x20000
CONFIG_UBOOT_ENV_FILE="${KCONFIG_TEST_DIR}/uboot.env"
CONFIG_FAST_BOOT_CONFIGURATION=y
# CONFIG_UBOOT_ENABLE_SECURE_BOOT is not set
`

	path := filepath.Join(t.TempDir(), ".config")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	values, err := Parse(path)
	require.NoError(t, err)

	board, ok := values.String("CONFIG_BOARD_NAME")
	require.True(t, ok)
	require.Equal(t, "canmv", board)

	base, err := values.Int("CONFIG_MEM_BASE_ADDR")
	require.NoError(t, err)
	require.Zero(t, base)

	size, err := values.Int("CONFIG_RTSMART_OPENSIB_MEMORY_SIZE")
	require.NoError(t, err)
	require.EqualValues(t, 0x20000, size)

	env, ok := values.String("CONFIG_UBOOT_ENV_FILE")
	require.True(t, ok)
	require.Equal(t, "/opt/board/uboot.env", env)

	require.True(t, values.Bool("CONFIG_FAST_BOOT_CONFIGURATION"))
	require.False(t, values.Bool("CONFIG_UBOOT_ENABLE_SECURE_BOOT"))

	_, ok = values.String("CONFIG_UBOOT_ENABLE_SECURE_BOOT")
	require.False(t, ok)
}

// TestParseInt covers decimal, hexadecimal and malformed inputs.
func TestParseInt(t *testing.T) {
	t.Parallel()

	value, err := ParseInt("0x80000000")
	require.NoError(t, err)
	require.EqualValues(t, 0x80000000, value)

	value, err = ParseInt("  131072 ")
	require.NoError(t, err)
	require.EqualValues(t, 131072, value)

	_, err = ParseInt("banana")
	require.Error(t, err)
}
