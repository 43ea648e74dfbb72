package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/inference-runtime/internal/config"
	"github.com/oshokin/inference-runtime/internal/service/server"
	"github.com/oshokin/inference-runtime/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// metricsAddress overrides the Prometheus endpoint address.
	metricsAddress string
	// dataDir overrides the directory holding installs and pid records.
	dataDir string

	// rootCmd represents the base command for running the runtime daemon.
	rootCmd = &cobra.Command{
		Use:   "runtimed [listen-address]",
		Short: "Run the inference runtime daemon.",
		Long: `Starts the gRPC daemon that installs and supervises inference servers.

The daemon downloads llama.cpp and Ollama release archives into the data
directory, launches the servers on loopback ports and streams their logs.
Listen address can be provided as argument to override config (e.g., 127.0.0.1:50051).
Servers keep running when the daemon stops and are recovered from their pid
records on the next start.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:       configPath,
				ListenAddress:    listenAddress,
				MetricsAddress:   metricsAddress,
				DataDir:          dataDir,
				ApplyLogSettings: true,
			})
		},
	}
)

// Execute runs the runtimed CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&metricsAddress, "metrics", "m", "", "Prometheus endpoint address, overrides config")
	rootCmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "data directory, overrides config")
}
