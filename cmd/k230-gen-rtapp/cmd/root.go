package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canmv/k230-image-tools/internal/config"
	"github.com/canmv/k230-image-tools/internal/service/genrtapp"
	"github.com/canmv/k230-image-tools/internal/version"
)

var (
	// configPath to the pipeline settings YAML file.
	configPath string

	// rootCmd represents the base command for the fast-boot application packager.
	rootCmd = &cobra.Command{
		Use:   "k230-gen-rtapp",
		Short: "Package the fast-boot application image.",
		Long: `Packages the configured fast-boot application binary into a compressed,
wrapped and stamped image. When fast boot is disabled or the binary is
missing, a zero-filled placeholder is packaged instead so partition
layouts always have an image to place, and the preload marker is cleared.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return genrtapp.Run(ctx, &genrtapp.Options{ConfigPath: configPath})
		},
	}
)

// Execute runs the k230-gen-rtapp CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
}
