package release

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// Revisions maps component names to their source revisions. It is
// passed and returned by value so callers never observe writes made by
// packaging steps.
type Revisions map[string]string

// With returns a copy of r with the component revision set.
func (r Revisions) With(component, revision string) Revisions {
	out := make(Revisions, len(r)+1)
	for k, v := range r {
		out[k] = v
	}

	out[component] = revision

	return out
}

// WriteRevisionManifest renders the revision map as YAML at path.
func WriteRevisionManifest(revisions Revisions, path string) error {
	data, err := yaml.Marshal(revisions)
	if err != nil {
		return fmt.Errorf("marshal revisions: %w", err)
	}

	if err := os.WriteFile(path, data, pipeline.DefaultFileMode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

// HashFile returns the hex SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// WriteChecksumManifest writes sha256sum-compatible lines for the given
// files at manifestPath. Entries carry base names so the manifest stays
// valid after the deliverable directory moves.
func WriteChecksumManifest(paths []string, manifestPath string) error {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	var builder strings.Builder

	for _, path := range sorted {
		if err := pipeline.RequireArtifact(path); err != nil {
			return err
		}

		digest, err := HashFile(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(&builder, "%s  %s\n", digest, filepath.Base(path))
	}

	if err := os.WriteFile(manifestPath, []byte(builder.String()), pipeline.DefaultFileMode); err != nil {
		return fmt.Errorf("write %s: %w", manifestPath, err)
	}

	return nil
}

// VerifyChecksumManifest recomputes every entry of a sha256sum-format
// manifest against the files next to it and reports the first mismatch.
func VerifyChecksumManifest(manifestPath string) error {
	f, err := os.Open(filepath.Clean(manifestPath))
	if err != nil {
		return fmt.Errorf("open %s: %w", manifestPath, err)
	}

	defer func() {
		_ = f.Close()
	}()

	dir := filepath.Dir(manifestPath)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		digest, name, ok := strings.Cut(line, "  ")
		if !ok {
			return fmt.Errorf("malformed checksum line %q in %s", line, manifestPath)
		}

		actual, err := HashFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}

		if actual != digest {
			return fmt.Errorf("checksum mismatch for %s: manifest %s, file %s", name, digest, actual)
		}
	}

	return scanner.Err()
}
