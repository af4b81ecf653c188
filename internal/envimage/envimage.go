package envimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// crcSize is the checksum prefix length.
const crcSize = 4

// Defaults used for the U-Boot environment partition.
const (
	DefaultSize    = 0x10000
	DefaultPadByte = 0x00
)

var (
	ErrTooLarge = errors.New("environment text does not fit the partition size")
	errBadSize  = errors.New("environment partition size must exceed the checksum prefix")
)

// parseText flattens key=value text into the NUL-separated form U-Boot
// stores in flash. Lines starting with # are comments, empty lines are
// skipped, and a backslash before a newline embeds the newline in the
// value. capacity bounds the result including its final NUL terminator.
func parseText(content []byte, capacity int) ([]byte, error) {
	env := make([]byte, 0, len(content))
	atLineStart := true

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if atLineStart && ch == '#' {
			for i < len(content) && content[i] != '\n' {
				i++
			}

			continue
		}

		if ch == '\n' {
			if atLineStart {
				continue
			}

			if env[len(env)-1] == '\\' {
				// Line continuation keeps the newline inside the value.
				env[len(env)-1] = '\n'
				atLineStart = false

				continue
			}

			env = append(env, 0)
			atLineStart = true

			continue
		}

		env = append(env, ch)
		atLineStart = false
	}

	if len(env) == 0 || env[len(env)-1] != 0 {
		env = append(env, 0)
	}

	// The environment block ends with an empty variable name.
	env = append(env, 0)

	if len(env) > capacity {
		return nil, ErrTooLarge
	}

	return env, nil
}

// Build produces a complete environment partition image of exactly size
// bytes: a little-endian CRC32 of the environment area followed by the
// flattened variables, padded with padByte. The checksum covers the
// padding, so the pad byte is part of the image identity.
func Build(text []byte, size int, padByte byte) ([]byte, error) {
	if size <= crcSize {
		return nil, errBadSize
	}

	env, err := parseText(text, size-crcSize)
	if err != nil {
		return nil, err
	}

	image := make([]byte, size)
	for i := crcSize; i < size; i++ {
		image[i] = padByte
	}

	copy(image[crcSize:], env)

	binary.LittleEndian.PutUint32(image, crc32.ChecksumIEEE(image[crcSize:]))

	return image, nil
}

// BuildFile reads the environment text at src and writes the partition
// image to dst.
func BuildFile(src, dst string, size int, padByte byte) error {
	if err := pipeline.RequireArtifact(src); err != nil {
		return err
	}

	text, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	image, err := Build(text, size, padByte)
	if err != nil {
		return fmt.Errorf("build environment image from %s: %w", src, err)
	}

	if err := os.WriteFile(dst, image, pipeline.DefaultFileMode); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}

	return nil
}

// Verify checks the checksum of an environment partition image.
func Verify(image []byte) error {
	if len(image) <= crcSize {
		return errBadSize
	}

	want := binary.LittleEndian.Uint32(image)
	if crc32.ChecksumIEEE(image[crcSize:]) != want {
		return errors.New("environment image checksum mismatch")
	}

	return nil
}
