package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/canmv/k230-image-tools/internal/logger"
)

// LockFilename is the advisory lock file created in the output
// directory for the duration of a run.
const LockFilename = ".k230-image.lock"

// ErrHeld is reported when another live process owns the lock.
var ErrHeld = errors.New("output directory is locked by another run")

// Lock is an acquired advisory lock. Release it when the run finishes.
type Lock struct {
	path string
}

// Acquire takes the advisory lock for outputDir. A lock file owned by a
// live process fails the acquisition; a lock left behind by a dead
// process is broken and re-taken.
func Acquire(ctx context.Context, outputDir string) (*Lock, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outputDir, err)
	}

	path := filepath.Join(outputDir, LockFilename)

	for {
		err := writeLock(path)
		if err == nil {
			return &Lock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		ownerPID, readErr := readOwner(path)
		if readErr != nil {
			return nil, readErr
		}

		alive, aliveErr := processAlive(ownerPID)
		if aliveErr != nil {
			return nil, aliveErr
		}

		if alive {
			return nil, fmt.Errorf("%w: pid %d holds %s", ErrHeld, ownerPID, path)
		}

		logger.InfoKV(ctx, "breaking stale run lock", "path", path, "pid", ownerPID)

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
}

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}

	err := os.Remove(l.path)
	l.path = ""

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}

	return nil
}

// writeLock creates the lock file with this process's PID, failing with
// os.ErrExist when the file is already present.
func writeLock(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return fmt.Errorf("write lock %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close lock %s: %w", path, err)
	}

	return nil
}

func readOwner(path string) (int, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Owner released between our create attempt and this read.
			return 0, nil
		}

		return 0, fmt.Errorf("read lock %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Unparseable content means an interrupted write, treat the
		// lock as stale.
		return 0, nil
	}

	return pid, nil
}

// processAlive reports whether a process with the given PID exists.
func processAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("look up pid %d: %w", pid, err)
	}

	return process != nil, nil
}
