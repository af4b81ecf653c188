package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/pipeline"
)

const (
	imageSuffix   = ".img"
	otaSuffix     = "-ota.img"
	revisionsName = "revision.yaml"
	checksumsName = "sha256sums.txt"
	downloadsName = "README_DOWNLOAD.txt"
)

// Options describes one packaging run.
type Options struct {
	// OutputDir receives the deliverable directory.
	OutputDir string
	// Board is the target board identifier.
	Board string
	// Mode selects the deliverable shape.
	Mode RunMode
	// NncaseVersionFile is the source file carrying the versioned
	// inference-runtime constant.
	NncaseVersionFile string
	// CI marks continuous-integration runs.
	CI bool
	// GitDescribe is the source-control descriptor used under CI.
	GitDescribe string
	// Revisions carries the per-component revision map.
	Revisions Revisions
	// Image is the composite image to package.
	Image string
	// OTAImage is the over-the-air variant image. Empty or absent
	// skips the variant.
	OTAImage string
	// Assets are extra payload files copied into the deliverable.
	Assets []string
	// RestrictedAssets names the subset of Assets stripped from CI
	// deliverables.
	RestrictedAssets []string
	// DownloadInstructions is the text substituted for stripped assets.
	DownloadInstructions string
}

// Result reports what a packaging run produced.
type Result struct {
	// Name is the deliverable base name.
	Name string
	// Dir is the deliverable directory.
	Dir string
	// Checksums is the path of the checksum manifest.
	Checksums string
}

// Package assembles a deliverable directory: the composite image plus
// its gzip form, the revision manifest, payload assets and a checksum
// manifest covering everything.
func Package(ctx context.Context, opts Options) (*Result, error) {
	nncaseVersion, err := ParseNncaseVersion(opts.NncaseVersionFile)
	if err != nil {
		return nil, err
	}

	revision := Descriptor(opts.CI, opts.GitDescribe)
	name := DeliverableName(opts.Board, opts.Mode, revision, nncaseVersion)
	dir := filepath.Join(opts.OutputDir, name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	logger.InfoKV(ctx, "packaging deliverable",
		"name", name,
		"revision", revision,
		"nncase", nncaseVersion)

	covered, err := placeImages(ctx, opts, dir, name)
	if err != nil {
		return nil, err
	}

	revisions := opts.Revisions.With("nncase", nncaseVersion).With("image", revision)

	revisionsPath := filepath.Join(dir, revisionsName)
	if err := WriteRevisionManifest(revisions, revisionsPath); err != nil {
		return nil, err
	}

	covered = append(covered, revisionsPath)

	assetPaths, err := placeAssets(ctx, opts, dir)
	if err != nil {
		return nil, err
	}

	covered = append(covered, assetPaths...)

	checksums := filepath.Join(dir, checksumsName)
	if err := WriteChecksumManifest(covered, checksums); err != nil {
		return nil, err
	}

	return &Result{Name: name, Dir: dir, Checksums: checksums}, nil
}

// placeImages copies the composite image plus the optional OTA variant
// into the deliverable directory and compresses each, returning both
// the raw and compressed paths.
func placeImages(ctx context.Context, opts Options, dir, name string) ([]string, error) {
	raw := filepath.Join(dir, name+imageSuffix)
	if err := copyFile(opts.Image, raw); err != nil {
		return nil, err
	}

	compressed, err := GzipKeep(raw)
	if err != nil {
		return nil, err
	}

	logImageSize(ctx, raw, compressed)

	covered := []string{raw, compressed}

	otaSource, err := resolveOTAImage(opts.OTAImage)

	switch {
	case errors.Is(err, pipeline.ErrOptionalLayoutAbsent):
		logger.Info(ctx, "over-the-air layout absent, skipping variant image")

		return covered, nil
	case err != nil:
		return nil, err
	}

	otaRaw := filepath.Join(dir, name+otaSuffix)
	if err := copyFile(otaSource, otaRaw); err != nil {
		return nil, err
	}

	otaCompressed, err := GzipKeep(otaRaw)
	if err != nil {
		return nil, err
	}

	logImageSize(ctx, otaRaw, otaCompressed)

	return append(covered, otaRaw, otaCompressed), nil
}

// resolveOTAImage reports ErrOptionalLayoutAbsent when the variant is
// not configured or its image was never built.
func resolveOTAImage(path string) (string, error) {
	if path == "" {
		return "", pipeline.ErrOptionalLayoutAbsent
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", pipeline.ErrOptionalLayoutAbsent
		}

		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	return path, nil
}

// placeAssets copies payload assets into the deliverable. CI runs strip
// the restricted subset and substitute download instructions.
func placeAssets(ctx context.Context, opts Options, dir string) ([]string, error) {
	restricted := make(map[string]bool, len(opts.RestrictedAssets))
	for _, asset := range opts.RestrictedAssets {
		restricted[asset] = true
	}

	var (
		placed   []string
		stripped bool
	)

	for _, asset := range opts.Assets {
		if opts.CI && restricted[asset] {
			logger.InfoKV(ctx, "stripping restricted asset from CI deliverable",
				"asset", filepath.Base(asset))

			stripped = true

			continue
		}

		dst := filepath.Join(dir, filepath.Base(asset))
		if err := copyFile(asset, dst); err != nil {
			return nil, err
		}

		placed = append(placed, dst)
	}

	if stripped {
		instructions := filepath.Join(dir, downloadsName)
		if err := os.WriteFile(instructions, []byte(opts.DownloadInstructions), pipeline.DefaultFileMode); err != nil {
			return nil, fmt.Errorf("write %s: %w", instructions, err)
		}

		placed = append(placed, instructions)
	}

	return placed, nil
}

func logImageSize(ctx context.Context, raw, compressed string) {
	rawInfo, rawErr := os.Stat(raw)
	gzInfo, gzErr := os.Stat(compressed)

	if rawErr != nil || gzErr != nil {
		return
	}

	logger.InfoKV(ctx, "deliverable image ready",
		"image", filepath.Base(raw),
		"size", humanize.IBytes(uint64(rawInfo.Size())),
		"compressed", humanize.IBytes(uint64(gzInfo.Size())))
}

func copyFile(src, dst string) error {
	if err := pipeline.RequireArtifact(src); err != nil {
		return err
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, pipeline.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("copy %s: %w", src, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	return nil
}
