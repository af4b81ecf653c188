package genimage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Format selects the output container written for an image block.
type Format int

const (
	// FormatKd is the kdimg flashing container understood by the burn tool.
	FormatKd Format = iota
	// FormatRaw is a raw disk image written sector for sector.
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatKd:
		return "kdimage"
	case FormatRaw:
		return "hdimage"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Medium is the storage medium a kdimg targets. It selects the padding
// byte: NAND and NOR erase to 0xFF, eMMC reads back zeros.
type Medium int

const (
	MediumMMC Medium = iota
	MediumSPINAND
	MediumSPINOR
)

// Partition is one region of an image block.
type Partition struct {
	Name string
	// Offset and Size are in bytes on the target medium. A zero Size is
	// derived from the source artifact during the build.
	Offset int64
	Size   int64
	// SourceImage names the artifact inserted into the region, relative
	// to the build root. Empty means a placeholder region.
	SourceImage string
	InTable     bool
	Bootable    bool
	// MBRType is the partition type byte for the MBR entry.
	MBRType byte
	// EraseSize and Flag are carried into kdimg partition entries.
	EraseSize int64
	Flag      uint64
	// Load and Boot are carried into TOC entries.
	Load bool
	Boot int64
}

// Image is one image block of a layout.
type Image struct {
	Name   string
	Format Format
	Size   int64

	// kdimg identification strings.
	ImageInfo string
	ChipInfo  string
	BoardInfo string
	Medium    Medium

	// Raw image table options.
	MBRTable bool
	DiskUUID string
	DiskSig  uint32
	TOC      bool
	TOCOfs   int64

	Partitions []Partition
}

// Layout is a parsed partition-layout description.
type Layout struct {
	Images []Image
}

// ParseLayout reads and parses a layout file.
func ParseLayout(path string) (*Layout, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}

	layout, err := Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse layout %s: %w", path, err)
	}

	return layout, nil
}

// Parse parses a layout description. The dialect is line oriented:
//
//	image sdcard.img {
//	    kdimage {
//	        image-info = "v1.0"
//	        ...
//	    }
//	    partition uboot_spl_1 {
//	        offset = 0
//	        image = "uboot/swap_fn_u-boot-spl.bin"
//	    }
//	}
//
// Comments run from # to end of line. Sizes accept decimal, hex, and
// K/M/G/T suffixes.
func Parse(content string) (*Layout, error) {
	lines := splitLines(content)
	layout := &Layout{}

	for i := 0; i < len(lines); {
		fields := strings.Fields(lines[i])
		if len(fields) != 3 || fields[0] != "image" || fields[2] != "{" {
			return nil, fmt.Errorf("line %q: expected `image <name> {`", lines[i])
		}

		img, next, err := parseImageBlock(lines, i+1, fields[1])
		if err != nil {
			return nil, err
		}

		layout.Images = append(layout.Images, img)
		i = next
	}

	return layout, nil
}

// splitLines strips comments and blank lines, keeping the order.
func splitLines(content string) []string {
	var lines []string

	for _, raw := range strings.Split(content, "\n") {
		if idx := strings.IndexByte(raw, '#'); idx >= 0 {
			raw = raw[:idx]
		}

		raw = strings.TrimSpace(raw)
		if raw != "" {
			lines = append(lines, raw)
		}
	}

	return lines
}

func parseImageBlock(lines []string, start int, name string) (Image, int, error) {
	img := Image{Name: name, Format: -1}
	i := start

	for i < len(lines) {
		line := lines[i]

		switch {
		case line == "}":
			if img.Format < 0 {
				return Image{}, 0, fmt.Errorf("image %s: missing container type block", name)
			}

			return img, i + 1, nil

		case strings.HasPrefix(line, "partition "):
			fields := strings.Fields(line)
			if len(fields) != 3 || fields[2] != "{" {
				return Image{}, 0, fmt.Errorf("line %q: expected `partition <name> {`", line)
			}

			kvs, next, err := parseKVBlock(lines, i+1)
			if err != nil {
				return Image{}, 0, err
			}

			part, err := buildPartition(fields[1], kvs)
			if err != nil {
				return Image{}, 0, fmt.Errorf("image %s: %w", name, err)
			}

			img.Partitions = append(img.Partitions, part)
			i = next

		case strings.HasSuffix(line, "{"):
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return Image{}, 0, fmt.Errorf("line %q: expected `<type> {`", line)
			}

			kvs, next, err := parseKVBlock(lines, i+1)
			if err != nil {
				return Image{}, 0, err
			}

			if err := applyTypeConfig(&img, fields[0], kvs); err != nil {
				return Image{}, 0, fmt.Errorf("image %s: %w", name, err)
			}

			i = next

		case strings.Contains(line, "="):
			key, value := splitKV(line)
			if err := applyImageConfig(&img, key, value); err != nil {
				return Image{}, 0, fmt.Errorf("image %s: %w", name, err)
			}

			i++

		default:
			return Image{}, 0, fmt.Errorf("image %s: unexpected line %q", name, line)
		}
	}

	return Image{}, 0, fmt.Errorf("image %s: unterminated block", name)
}

func parseKVBlock(lines []string, start int) (map[string]string, int, error) {
	kvs := make(map[string]string)

	for i := start; i < len(lines); i++ {
		line := lines[i]
		if line == "}" {
			return kvs, i + 1, nil
		}

		if !strings.Contains(line, "=") {
			return nil, 0, fmt.Errorf("unexpected line %q inside block", line)
		}

		key, value := splitKV(line)
		kvs[key] = value
	}

	return nil, 0, fmt.Errorf("unterminated block starting at %q", lines[start-1])
}

// splitKV splits `key = value`, unquoting the value and normalizing
// underscores in the key so image_info and image-info mean the same.
func splitKV(line string) (string, string) {
	key, value, _ := strings.Cut(line, "=")
	key = strings.ReplaceAll(strings.TrimSpace(key), "_", "-")
	value = strings.Trim(strings.TrimSpace(value), `"'`)

	return key, value
}

func applyImageConfig(img *Image, key, value string) error {
	switch key {
	case "size":
		size, err := ParseSize(value)
		if err != nil {
			return err
		}

		img.Size = size
	}

	// Unknown image-level keys are tolerated so layouts written for the
	// full genimage tool keep parsing.
	return nil
}

func applyTypeConfig(img *Image, typeName string, kvs map[string]string) error {
	switch typeName {
	case "kdimage":
		img.Format = FormatKd
	case "hdimage":
		img.Format = FormatRaw
	default:
		return fmt.Errorf("unsupported image type %q", typeName)
	}

	for key, value := range kvs {
		if err := applyTypeKV(img, key, value); err != nil {
			return fmt.Errorf("%s option %s: %w", typeName, key, err)
		}
	}

	if img.Format == FormatKd {
		if img.ImageInfo == "" || img.ChipInfo == "" || img.BoardInfo == "" {
			return fmt.Errorf("kdimage requires image-info, chip-info and board-info")
		}
	}

	return nil
}

func applyTypeKV(img *Image, key, value string) error {
	switch key {
	case "image-info":
		img.ImageInfo = value
	case "chip-info":
		img.ChipInfo = value
	case "board-info":
		img.BoardInfo = value

	case "medium-type":
		switch value {
		case "mmc":
			img.Medium = MediumMMC
		case "spi_nand":
			img.Medium = MediumSPINAND
		case "spi_nor":
			img.Medium = MediumSPINOR
		default:
			return fmt.Errorf("%q is not a valid medium type", value)
		}

	case "partition-table-type":
		switch value {
		case "none":
			img.MBRTable = false
		case "mbr", "dos":
			img.MBRTable = true
		default:
			return fmt.Errorf("unsupported partition table type %q", value)
		}

	case "disk-uuid":
		if _, err := uuid.Parse(value); err != nil {
			return fmt.Errorf("invalid disk UUID %q: %w", value, err)
		}

		img.DiskUUID = value

	case "disk-signature":
		if value == "random" {
			img.DiskSig = randomDiskSig()

			return nil
		}

		sig, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid disk signature %q", value)
		}

		img.DiskSig = uint32(sig)

	case "toc":
		img.TOC = value == "true"

	case "toc-offset":
		ofs, err := ParseSize(value)
		if err != nil {
			return err
		}

		img.TOCOfs = ofs
	}

	return nil
}

func randomDiskSig() uint32 {
	u := uuid.New()

	return uint32(u[0]) | uint32(u[1])<<8 | uint32(u[2])<<16 | uint32(u[3])<<24
}

func buildPartition(name string, kvs map[string]string) (Partition, error) {
	part := Partition{Name: name, InTable: true}

	for key, value := range kvs {
		switch key {
		case "offset":
			ofs, err := ParseSize(value)
			if err != nil {
				return Partition{}, fmt.Errorf("partition %s offset: %w", name, err)
			}

			part.Offset = ofs

		case "size":
			size, err := ParseSize(value)
			if err != nil {
				return Partition{}, fmt.Errorf("partition %s size: %w", name, err)
			}

			part.Size = size

		case "image":
			part.SourceImage = value

		case "in-partition-table":
			part.InTable = value == "true"

		case "bootable":
			part.Bootable = value == "true"

		case "partition-type":
			t, err := strconv.ParseUint(value, 0, 8)
			if err != nil {
				return Partition{}, fmt.Errorf("partition %s type %q", name, value)
			}

			part.MBRType = byte(t)

		case "erase-size":
			size, err := ParseSize(value)
			if err != nil {
				return Partition{}, fmt.Errorf("partition %s erase-size: %w", name, err)
			}

			part.EraseSize = size

		case "flag":
			flag, err := strconv.ParseUint(value, 0, 64)
			if err != nil {
				return Partition{}, fmt.Errorf("partition %s flag %q", name, value)
			}

			part.Flag = flag

		case "load":
			part.Load = value == "true"

		case "boot":
			boot, err := strconv.ParseInt(value, 0, 64)
			if err != nil {
				return Partition{}, fmt.Errorf("partition %s boot %q", name, value)
			}

			part.Boot = boot
		}
	}

	return part, nil
}

// ParseSize parses a size value: plain bytes, 0x hex, or a number with a
// K/M/G/T binary suffix.
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hexadecimal size %q", s)
		}

		return v, nil
	}

	multiplier := int64(1)

	switch s[len(s)-1] {
	case 'k':
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		multiplier = 1 << 30
		s = s[:len(s)-1]
	case 't':
		multiplier = 1 << 40
		s = s[:len(s)-1]
	}

	// Fractional values only make sense together with a unit suffix.
	if multiplier > 1 && strings.Contains(s, ".") {
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q", s)
		}

		return int64(num * float64(multiplier)), nil
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	return num * multiplier, nil
}
