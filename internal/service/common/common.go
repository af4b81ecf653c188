package common

import (
	"context"
	"path/filepath"

	"github.com/canmv/k230-image-tools/internal/config"
	"github.com/canmv/k230-image-tools/internal/kconfig"
	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/runlock"
)

// BoardConfigFilename is the resolved Kconfig symbol table in the SDK
// checkout root.
const BoardConfigFilename = ".config"

// Run is the shared state every image tool starts from: validated
// settings, the typed board configuration and the advisory run lock.
type Run struct {
	Config   *config.Config
	Resolved *config.Resolved
	lock     *runlock.Lock
}

// Setup loads the settings file, resolves the board configuration from
// the SDK's .config and takes the run lock on the images directory.
// Callers must Close the returned Run.
func Setup(ctx context.Context, configPath string) (*Run, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	values, err := kconfig.Parse(filepath.Join(cfg.SourceDir, BoardConfigFilename))
	if err != nil {
		return nil, err
	}

	resolved, err := config.Resolve(values, filepath.Join(cfg.UBootBuildDir, BoardConfigFilename))
	if err != nil {
		return nil, err
	}

	lock, err := runlock.Acquire(ctx, cfg.ImagesDir)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "run configured",
		"board", resolved.Board,
		"images_dir", cfg.ImagesDir)

	return &Run{Config: cfg, Resolved: resolved, lock: lock}, nil
}

// Close releases the run lock.
func (r *Run) Close() error {
	return r.lock.Release()
}
