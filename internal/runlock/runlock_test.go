package runlock_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canmv/k230-image-tools/internal/runlock"
)

// TestAcquireRelease takes and releases the lock, leaving no file
// behind.
func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	lock, err := runlock.Acquire(context.Background(), dir)
	require.NoError(t, err)

	path := filepath.Join(dir, runlock.LockFilename)
	require.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	require.NoError(t, lock.Release())
	require.NoFileExists(t, path)
	require.NoError(t, lock.Release())
}

// TestAcquireHeldByLiveProcess fails while the owner is alive. This
// test's own PID stands in for the concurrent owner.
func TestAcquireHeldByLiveProcess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, runlock.LockFilename)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	_, err := runlock.Acquire(context.Background(), dir)
	require.ErrorIs(t, err, runlock.ErrHeld)
	require.FileExists(t, path)
}

// TestAcquireBreaksStaleLock re-takes a lock left behind by a dead
// process.
func TestAcquireBreaksStaleLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, runlock.LockFilename)

	// PIDs wrap well below this value on every supported platform.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	lock, err := runlock.Acquire(context.Background(), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	require.NoError(t, lock.Release())
}

// TestAcquireBreaksUnparseableLock treats interrupted lock writes as
// stale.
func TestAcquireBreaksUnparseableLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, runlock.LockFilename)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	lock, err := runlock.Acquire(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

// TestAcquireCreatesOutputDir creates the output directory when it does
// not exist yet.
func TestAcquireCreatesOutputDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "images", "sdcard")

	lock, err := runlock.Acquire(context.Background(), dir)
	require.NoError(t, err)
	require.DirExists(t, dir)
	require.NoError(t, lock.Release())
}
