package release

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/canmv/k230-image-tools/internal/logger"
	"github.com/canmv/k230-image-tools/internal/release"
	"github.com/canmv/k230-image-tools/internal/service/common"
)

// Options contains inputs for the release packager.
type Options struct {
	// ConfigPath is the path to the pipeline settings file.
	ConfigPath string
	// OutputDir receives the deliverable. Defaults to a release
	// directory next to the images.
	OutputDir string
	// Image is the composite image to package. Defaults to the
	// sdcard image under the images directory.
	Image string
	// OTAImage is the variant image. Defaults to the "-ota" sibling
	// of Image; a sibling that was never built is skipped.
	OTAImage string
	// BareRTOS packages the RTOS-only deliverable shape.
	BareRTOS bool
	// NncaseVersionFile carries the inference-runtime version constant.
	NncaseVersionFile string
	// CI marks a continuous-integration run.
	CI bool
	// GitDescribe is the source-control descriptor passed in by CI.
	GitDescribe string
	// Revisions are component=revision pairs for the revision manifest.
	Revisions []string
	// Assets are extra payload files copied into the deliverable.
	Assets []string
	// RestrictedAssets names the assets stripped from CI deliverables.
	RestrictedAssets []string
}

// DefaultImageName is the composite image packaged when none is given.
const DefaultImageName = "sysimage-sdcard.img"

// defaultInstructions replaces stripped sample assets in CI builds.
const defaultInstructions = "Sample models and data are not bundled in CI builds.\n" +
	"Download them from the board vendor's release page and place them\n" +
	"next to this file before flashing.\n"

// Run assembles the deliverable from the built images.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "k230-release")

	run, err := common.Setup(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = run.Close()
	}()

	revisions, err := parseRevisions(opts.Revisions)
	if err != nil {
		return err
	}

	mode := release.ModeFullStack
	if opts.BareRTOS {
		mode = release.ModeBareRTOS
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(run.Config.ImagesDir, "release")
	}

	image := opts.Image
	if image == "" {
		image = filepath.Join(run.Config.ImagesDir, DefaultImageName)
	}

	otaImage := opts.OTAImage
	if otaImage == "" {
		otaImage = otaSibling(image)
	}

	result, err := release.Package(ctx, release.Options{
		OutputDir:            outputDir,
		Board:                run.Resolved.Board,
		Mode:                 mode,
		NncaseVersionFile:    opts.NncaseVersionFile,
		CI:                   opts.CI,
		GitDescribe:          opts.GitDescribe,
		Revisions:            revisions,
		Image:                image,
		OTAImage:             otaImage,
		Assets:               opts.Assets,
		RestrictedAssets:     opts.RestrictedAssets,
		DownloadInstructions: defaultInstructions,
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "deliverable ready", "name", result.Name, "dir", result.Dir)

	return nil
}

// otaSibling names the over-the-air variant next to a composite image,
// matching the name the image builder produces. The variant is optional,
// so a sibling that was never built is simply skipped downstream.
func otaSibling(image string) string {
	ext := filepath.Ext(image)

	return strings.TrimSuffix(image, ext) + "-ota" + ext
}

// parseRevisions turns component=revision pairs into the revision map.
func parseRevisions(pairs []string) (release.Revisions, error) {
	revisions := release.Revisions{}

	for _, pair := range pairs {
		component, revision, ok := strings.Cut(pair, "=")
		if !ok || component == "" {
			return nil, fmt.Errorf("malformed revision %q, expected component=revision", pair)
		}

		revisions = revisions.With(component, revision)
	}

	return revisions, nil
}
