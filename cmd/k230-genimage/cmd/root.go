package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canmv/k230-image-tools/internal/config"
	"github.com/canmv/k230-image-tools/internal/service/genimage"
	"github.com/canmv/k230-image-tools/internal/version"
)

var (
	// configPath to the pipeline settings YAML file.
	configPath string
	// layoutPath to the partition layout file.
	layoutPath string
	// otaLayoutPath to the over-the-air variant layout file.
	otaLayoutPath string

	// rootCmd represents the base command for the partition image builder.
	rootCmd = &cobra.Command{
		Use:   "k230-genimage",
		Short: "Build partition images from a declarative layout.",
		Long: `Builds every image the layout declares: kdimage blocks become .kdimg
flashing containers, hdimage blocks become raw disk images with an MBR
partition table and an optional table of contents. Partition source
artifacts are resolved under the images directory; stale container files
are removed before building. When the over-the-air layout file exists, a
second set of images is built with the -ota name suffix.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &genimage.Options{
				ConfigPath:    configPath,
				LayoutPath:    layoutPath,
				OTALayoutPath: otaLayoutPath,
			}

			return genimage.Run(ctx, options)
		},
	}
)

// Execute runs the k230-genimage CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
	rootCmd.Flags().StringVarP(&layoutPath, "layout", "l", "", "path to the partition layout file")
	rootCmd.Flags().StringVar(&otaLayoutPath, "ota-layout", "", "path to the over-the-air layout file")

	_ = rootCmd.MarkFlagRequired("layout")
}
