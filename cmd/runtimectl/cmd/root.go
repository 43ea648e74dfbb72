package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/inference-runtime/internal/config"
	"github.com/oshokin/inference-runtime/internal/service/client"
	"github.com/oshokin/inference-runtime/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the daemon address from config.
	serverAddress string

	// rootCmd represents the base command for talking to runtimed.
	rootCmd = &cobra.Command{
		Use:   "runtimectl",
		Short: "Control the inference runtime daemon.",
		Long: `Installs, starts and inspects inference servers through a running runtimed.

The daemon address is read from the configuration file unless --server is given.`,
		SilenceUsage: true,
	}
)

// Execute runs the runtimectl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run executes a client action with signal-aware context.
func run(cmd *cobra.Command, action client.Command) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return client.Run(ctx, &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
		Out:           cmd.OutOrStdout(),
	}, action)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&serverAddress, "server", "s", "", "daemon address, overrides config")
}
