package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// ClearStaleOutputs removes files under dir matching any of the glob
// patterns and returns the removed paths. A cancelled previous run leaves
// partial artifacts behind; clearing them up front keeps a later lookup
// from ever seeing an output this run did not produce.
func ClearStaleOutputs(dir string, patterns ...string) ([]string, error) {
	var removed []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("match stale outputs %q: %w", pattern, err)
		}

		for _, match := range matches {
			if err := os.Remove(match); err != nil {
				return nil, fmt.Errorf("remove stale output: %w", err)
			}

			removed = append(removed, match)
		}
	}

	return removed, nil
}

// TempFilePath returns a unique scratch file path with the given prefix and
// suffix inside the system temporary directory.
func TempFilePath(prefix, suffix string) (string, error) {
	file, err := os.CreateTemp("", prefix+"*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}

	path := file.Name()
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close scratch file: %w", err)
	}

	return path, nil
}
