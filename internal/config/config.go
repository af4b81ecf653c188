package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds run-wide paths shared by the image tools.
type Config struct {
	// SourceDir is the SDK checkout root containing the resolved .config.
	SourceDir string `yaml:"source_dir"`
	// ImagesDir is where every stage writes its output artifacts.
	ImagesDir string `yaml:"images_dir"`
	// UBootBuildDir is the U-Boot build tree; its .config provides the text base.
	UBootBuildDir string `yaml:"uboot_build_dir"`
	// BoardDir holds board-specific inputs such as the U-Boot env source file.
	BoardDir string `yaml:"board_dir"`
}

const (
	// DefaultConfigFilename is the default filename for pipeline settings.
	DefaultConfigFilename = "image-tools-settings.yaml"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errSourceDirRequired is returned when the SDK source directory is missing.
	errSourceDirRequired = errors.New("source directory must be provided")
	// errImagesDirRequired is returned when the images directory is missing.
	errImagesDirRequired = errors.New("images directory must be provided")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and directory existence.
func Validate(cfg *Config) error {
	if cfg.SourceDir == "" {
		return errSourceDirRequired
	}

	if cfg.ImagesDir == "" {
		return errImagesDirRequired
	}

	for _, dir := range []string{cfg.SourceDir, cfg.ImagesDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("invalid directory %s: %w", dir, err)
		}

		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}

	// Set default U-Boot build dir if not specified.
	if cfg.UBootBuildDir == "" {
		cfg.UBootBuildDir = filepath.Join(cfg.SourceDir, "output", "uboot")
	}

	// Set default board dir if not specified.
	if cfg.BoardDir == "" {
		cfg.BoardDir = filepath.Join(cfg.SourceDir, "board")
	}

	return nil
}
