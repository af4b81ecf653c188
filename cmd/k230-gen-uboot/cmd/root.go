package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canmv/k230-image-tools/internal/config"
	"github.com/canmv/k230-image-tools/internal/service/genuboot"
	"github.com/canmv/k230-image-tools/internal/version"
)

var (
	// configPath to the pipeline settings YAML file.
	configPath string
	// splPath to the raw U-Boot SPL binary.
	splPath string
	// ubootPath to the raw U-Boot proper binary.
	ubootPath string

	// rootCmd represents the base command for the U-Boot image generator.
	rootCmd = &cobra.Command{
		Use:   "k230-gen-uboot",
		Short: "Build the U-Boot stage images for the K230 boot chain.",
		Long: `Builds the three U-Boot stage artifacts under the images directory:

The environment text is flattened into env.bin with its CRC prefix.
The SPL binary is stamped with the boot ROM firmware header and a
byte-swapped sibling is written next to it. U-Boot proper is compressed,
wrapped in a legacy image header at the configured text base, and stamped.
Binary paths default to the configured U-Boot build tree.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &genuboot.Options{
				ConfigPath: configPath,
				SPLPath:    splPath,
				UBootPath:  ubootPath,
			}

			return genuboot.Run(ctx, options)
		},
	}
)

// Execute runs the k230-gen-uboot CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
	rootCmd.Flags().StringVarP(&splPath, "spl", "s", "", "path to the U-Boot SPL binary")
	rootCmd.Flags().StringVarP(&ubootPath, "uboot", "u", "", "path to the U-Boot binary")
}
