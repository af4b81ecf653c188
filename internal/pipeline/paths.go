package pipeline

import (
	"errors"
	"os"
	"path/filepath"
)

// Per-stage subdirectories under the images directory.
const (
	UBootSubdir   = "uboot"
	OpenSBISubdir = "opensbi"
	RTAppSubdir   = "rtapp"
)

// Well-known artifact names consumed across stages. The fn_ prefix marks a
// firmware-stamped image, ug_ marks a uimage-wrapped gzip payload; the next
// stage locates artifacts by these names instead of re-deriving transforms.
const (
	EnvImageName        = "env.bin"
	SPLImageName        = "fn_u-boot-spl.bin"
	SPLSwappedImageName = "swap_fn_u-boot-spl.bin"
	UBootImageName      = "fn_ug_u-boot.bin"
	OpenSBIImageName    = "opensbi_rtt_system.bin"
	RTAppImageName      = "rtapp.elf.gz"
)

// DefaultFileMode is used when producing artifacts for distribution.
const DefaultFileMode os.FileMode = 0o644

// StageDir returns the per-stage output directory under imagesDir,
// creating it if needed.
func StageDir(imagesDir, subdir string) (string, error) {
	dir := filepath.Join(imagesDir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	return dir, nil
}

// RequireArtifact verifies that a required upstream artifact exists,
// returning a MissingArtifactError naming the exact path otherwise.
func RequireArtifact(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &MissingArtifactError{Path: path}
		}

		return err
	}

	return nil
}
