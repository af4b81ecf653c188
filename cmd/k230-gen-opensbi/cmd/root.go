package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canmv/k230-image-tools/internal/config"
	"github.com/canmv/k230-image-tools/internal/service/genopensbi"
	"github.com/canmv/k230-image-tools/internal/version"
)

var (
	// configPath to the pipeline settings YAML file.
	configPath string
	// opensbiPath to the OpenSBI jump firmware binary.
	opensbiPath string
	// rtsmartPath to the RT-Smart kernel binary.
	rtsmartPath string

	// rootCmd represents the base command for the system image generator.
	rootCmd = &cobra.Command{
		Use:   "k230-gen-opensbi",
		Short: "Compose OpenSBI and the RT-Smart kernel into the system image.",
		Long: `Places the OpenSBI firmware at the base load address and the RT-Smart
kernel at the configured jump offset, with a sparse zero gap between them.
The composite is compressed, wrapped in a legacy multi image header, and
stamped with the boot ROM firmware header. The firmware refuses to fit a
base binary larger than the kernel offset.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &genopensbi.Options{
				ConfigPath:  configPath,
				OpenSBIPath: opensbiPath,
				RTSmartPath: rtsmartPath,
			}

			return genopensbi.Run(ctx, options)
		},
	}
)

// Execute runs the k230-gen-opensbi CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
	rootCmd.Flags().StringVarP(&opensbiPath, "opensbi", "o", "", "path to the OpenSBI jump binary")
	rootCmd.Flags().StringVarP(&rtsmartPath, "rtsmart", "r", "", "path to the RT-Smart kernel binary")

	_ = rootCmd.MarkFlagRequired("opensbi")
	_ = rootCmd.MarkFlagRequired("rtsmart")
}
