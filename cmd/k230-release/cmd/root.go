package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canmv/k230-image-tools/internal/config"
	"github.com/canmv/k230-image-tools/internal/service/release"
	"github.com/canmv/k230-image-tools/internal/version"
)

var (
	// configPath to the pipeline settings YAML file.
	configPath string
	// outputDir receiving the deliverable directory.
	outputDir string
	// imagePath to the composite image to package.
	imagePath string
	// otaImagePath to the over-the-air variant image.
	otaImagePath string
	// bareRTOS selects the RTOS-only deliverable shape.
	bareRTOS bool
	// nncaseVersionFile carrying the inference-runtime version constant.
	nncaseVersionFile string
	// ciRun marks a continuous-integration run.
	ciRun bool
	// gitDescribe is the source-control descriptor passed in by CI.
	gitDescribe string
	// revisions are component=revision pairs for the revision manifest.
	revisions []string
	// assets are extra payload files copied into the deliverable.
	assets []string
	// restrictedAssets are stripped from CI deliverables.
	restrictedAssets []string

	// rootCmd represents the base command for the release packager.
	rootCmd = &cobra.Command{
		Use:   "k230-release",
		Short: "Assemble the distributable deliverable from built images.",
		Long: `Assembles a deliverable directory named after the board, run mode,
source revision and inference-runtime version. The composite image is
copied in and gzip-compressed keeping the original, the revision map is
rendered as YAML, and a sha256sum-format manifest covers every file.
CI runs strip restricted sample assets and substitute download
instructions. The over-the-air image is packaged when it exists.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &release.Options{
				ConfigPath:        configPath,
				OutputDir:         outputDir,
				Image:             imagePath,
				OTAImage:          otaImagePath,
				BareRTOS:          bareRTOS,
				NncaseVersionFile: nncaseVersionFile,
				CI:                ciRun,
				GitDescribe:       gitDescribe,
				Revisions:         revisions,
				Assets:            assets,
				RestrictedAssets:  restrictedAssets,
			}

			return release.Run(ctx, options)
		},
	}
)

// Execute runs the k230-release CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory receiving the deliverable")
	rootCmd.Flags().StringVarP(&imagePath, "image", "i", "", "composite image to package")
	rootCmd.Flags().StringVar(&otaImagePath, "ota-image", "", "over-the-air variant image")
	rootCmd.Flags().BoolVar(&bareRTOS, "bare-rtos", false, "package the RTOS-only deliverable")
	rootCmd.Flags().StringVarP(&nncaseVersionFile, "nncase-version-file", "n", "", "file carrying the nncase version constant")
	rootCmd.Flags().BoolVar(&ciRun, "ci", false, "continuous-integration run")
	rootCmd.Flags().StringVar(&gitDescribe, "git-describe", "", "source revision descriptor for CI runs")
	rootCmd.Flags().StringArrayVar(&revisions, "revision", nil, "component=revision pair, repeatable")
	rootCmd.Flags().StringArrayVar(&assets, "asset", nil, "payload file copied into the deliverable, repeatable")
	rootCmd.Flags().StringArrayVar(&restrictedAssets, "restricted-asset", nil, "asset stripped from CI deliverables, repeatable")

	_ = rootCmd.MarkFlagRequired("nncase-version-file")
}
