package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/canmv/k230-image-tools/internal/kconfig"
	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// Resolved is the typed, immutable view of the board's Kconfig symbols.
// It is constructed and fully validated once at pipeline start and passed
// by parameter into every stage; stages never consult the symbol table
// themselves.
type Resolved struct {
	// Board is the board/target identifier, e.g. "k230_canmv".
	Board string
	// MemBaseAddr is the load address of the privileged-firmware composite.
	MemBaseAddr int64
	// MemRTSmartBase is the base of the RT-Smart memory region.
	MemRTSmartBase int64
	// OpenSBIMemorySize is the window reserved for OpenSBI ahead of the kernel.
	OpenSBIMemorySize int64
	// UBootTextBase is where the bootloader proper is linked to run.
	UBootTextBase int64
	// UBootEnvFile is the board's U-Boot environment source text.
	UBootEnvFile string
	// FastBoot enables packaging a real fast-boot application image.
	FastBoot bool
	// FastBootAppPath is the application binary packaged when FastBoot is set.
	FastBootAppPath string
	// FastBootDeleteOriginal removes the source app after packaging.
	FastBootDeleteOriginal bool
}

// defaultUBootTextBase is used when the U-Boot build tree has no .config,
// matching the bootloader's default link address.
const defaultUBootTextBase = 0x80000000

// Symbol names consumed from the resolved .config.
const (
	symBoard             = "CONFIG_BOARD"
	symMemBaseAddr       = "CONFIG_MEM_BASE_ADDR"
	symMemRTSmartBase    = "CONFIG_MEM_RTSMART_BASE"
	symOpenSBIMemorySize = "CONFIG_RTSMART_OPENSIB_MEMORY_SIZE"
	symUBootEnvFile      = "CONFIG_UBOOT_ENV_FILE"
	symSysTextBase       = "CONFIG_SYS_TEXT_BASE"
	symSecureBoot        = "CONFIG_UBOOT_ENABLE_SECURE_BOOT"
	symSecureBootType    = "CONFIG_UBOOT_SECURE_BOOT_TYPE"
	symFastBoot          = "CONFIG_FAST_BOOT_CONFIGURATION"
	symFastBootFilePath  = "CONFIG_FAST_BOOT_FILE_PATH"
	// The misspelling is the symbol's actual name in shipped board configs.
	symFastBootDeleteOriginal = "CONFIG_FAST_BOOT_DELETE_ORIGIIN_FILE"
)

var errSecureBootUnsupported = errors.New("secure-boot image signing is handled by upstream tooling")

// Resolve builds the validated configuration view from the board symbol
// table. ubootConfigPath points at the U-Boot build tree's .config; when
// that file does not exist the default text base is used.
func Resolve(values kconfig.Values, ubootConfigPath string) (*Resolved, error) {
	board, ok := values.String(symBoard)
	if !ok {
		return nil, pipeline.NewConfigError(symBoard, nil)
	}

	memBase, err := values.Int(symMemBaseAddr)
	if err != nil {
		return nil, pipeline.NewConfigError(symMemBaseAddr, err)
	}

	rtsmartBase, err := values.Int(symMemRTSmartBase)
	if err != nil {
		return nil, pipeline.NewConfigError(symMemRTSmartBase, err)
	}

	opensbiSize, err := values.Int(symOpenSBIMemorySize)
	if err != nil {
		return nil, pipeline.NewConfigError(symOpenSBIMemorySize, err)
	}

	envFile, ok := values.String(symUBootEnvFile)
	if !ok {
		return nil, pipeline.NewConfigError(symUBootEnvFile, nil)
	}

	if values.Bool(symSecureBoot) {
		if bootType, typeErr := values.Int(symSecureBootType); typeErr != nil || bootType != 0 {
			return nil, pipeline.NewConfigError(symSecureBootType, errSecureBootUnsupported)
		}
	}

	textBase, err := resolveUBootTextBase(ubootConfigPath)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{
		Board:             board,
		MemBaseAddr:       memBase,
		MemRTSmartBase:    rtsmartBase,
		OpenSBIMemorySize: opensbiSize,
		UBootTextBase:     textBase,
		UBootEnvFile:      envFile,
	}

	if values.Bool(symFastBoot) {
		resolved.FastBoot = true
		resolved.FastBootAppPath, _ = values.String(symFastBootFilePath)
		resolved.FastBootDeleteOriginal = values.Bool(symFastBootDeleteOriginal)
	}

	return resolved, nil
}

// OpenSBIJumpAddr is the address at which control transfers from the
// privileged firmware into the RT-Smart kernel.
func (r *Resolved) OpenSBIJumpAddr() int64 {
	return r.MemRTSmartBase + r.OpenSBIMemorySize
}

// resolveUBootTextBase reads the bootloader's link address from the U-Boot
// build's .config, falling back to the default when U-Boot was not built.
func resolveUBootTextBase(ubootConfigPath string) (int64, error) {
	if ubootConfigPath == "" {
		return defaultUBootTextBase, nil
	}

	if _, err := os.Stat(ubootConfigPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultUBootTextBase, nil
		}

		return 0, fmt.Errorf("stat U-Boot config: %w", err)
	}

	values, err := kconfig.Parse(ubootConfigPath)
	if err != nil {
		return 0, err
	}

	textBase, err := values.Int(symSysTextBase)
	if err != nil {
		return 0, pipeline.NewConfigError(symSysTextBase, err)
	}

	return textBase, nil
}
