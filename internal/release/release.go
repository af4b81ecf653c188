package release

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// RunMode distinguishes the two shapes a deliverable can take.
type RunMode int

const (
	// ModeFullStack ships the complete application stack.
	ModeFullStack RunMode = iota
	// ModeBareRTOS ships only the RTOS system image.
	ModeBareRTOS
)

func (m RunMode) String() string {
	switch m {
	case ModeBareRTOS:
		return "rtsmart"
	default:
		return "canmv"
	}
}

// LocalRevision is the revision descriptor of interactive runs. CI runs
// carry a tag-distance-dirty descriptor from source control instead.
const LocalRevision = "local"

// nncaseVersionRE matches the versioned constant in both the C header
// and assignment forms the SDK has used.
var nncaseVersionRE = regexp.MustCompile(`NNCASE_VERSION[^"']*["']([0-9][^"']*)["']`)

// ParseNncaseVersion extracts the inference-runtime version string from
// the versioned-constant source file at path.
func ParseNncaseVersion(path string) (string, error) {
	if err := pipeline.RequireArtifact(path); err != nil {
		return "", err
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := nncaseVersionRE.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1], nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan %s: %w", path, err)
	}

	return "", fmt.Errorf("no NNCASE_VERSION constant found in %s", path)
}

// Descriptor returns the source revision descriptor for the deliverable
// name: the provided describe value under CI, the literal local token
// otherwise.
func Descriptor(ci bool, gitDescribe string) string {
	if ci && gitDescribe != "" {
		return strings.TrimSpace(gitDescribe)
	}

	return LocalRevision
}

// DeliverableName composes the canonical deliverable base name.
func DeliverableName(board string, mode RunMode, revision, nncaseVersion string) string {
	return fmt.Sprintf("%s_%s_%s_nncase_%s", board, mode, revision, nncaseVersion)
}

// GzipKeep compresses path into a .gz sibling, keeping the original, and
// returns the compressed path. Deliverables use regular gzip framing so
// standard tools can unpack them.
func GzipKeep(path string) (string, error) {
	if err := pipeline.RequireArtifact(path); err != nil {
		return "", err
	}

	in, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = in.Close()
	}()

	dst := path + ".gz"

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, pipeline.DefaultFileMode)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}

	writer, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		_ = out.Close()

		return "", err
	}

	writer.Name = filepath.Base(path)

	if _, err := io.Copy(writer, in); err != nil {
		_ = out.Close()

		return "", fmt.Errorf("compress %s: %w", path, err)
	}

	if err := writer.Close(); err != nil {
		_ = out.Close()

		return "", fmt.Errorf("finish %s: %w", dst, err)
	}

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}

	return dst, nil
}
