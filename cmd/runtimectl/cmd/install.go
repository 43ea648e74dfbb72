package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/oshokin/inference-runtime/internal/service/client"
)

var (
	// installOS overrides the target operating system.
	installOS string
	// resolveOS is the operating system of the resolved asset.
	resolveOS string
	// resolveArch is the architecture of the resolved asset.
	resolveArch string
	// resolveTag pins the release tag.
	resolveTag string

	// resolveCmd prints the asset URL of a platform.
	resolveCmd = &cobra.Command{
		Use:   "resolve <server> <variant>",
		Short: "Print the release asset URL for a platform.",
		Args:  cobra.ExactArgs(2), //nolint:mnd // Server and variant.
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, client.Resolve(args[0], resolveOS, resolveArch, args[1], resolveTag))
		},
	}

	// installCmd downloads and unpacks a server.
	installCmd = &cobra.Command{
		Use:   "install <server> <variant>",
		Short: "Download and install a server variant.",
		Long: `Downloads the release archive of the server variant into the daemon data
directory and unpacks it, printing progress as it goes. Interrupted downloads
resume from the partial file on the next run.`,
		Args: cobra.ExactArgs(2), //nolint:mnd // Server and variant.
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, client.Install(args[0], args[1], installOS))
		},
	}

	// installedCmd reports whether a variant is installed.
	installedCmd = &cobra.Command{
		Use:   "installed <server> <variant>",
		Short: "Report whether a server variant is installed.",
		Args:  cobra.ExactArgs(2), //nolint:mnd // Server and variant.
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, client.Installed(args[0], args[1]))
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	resolveCmd.Flags().StringVar(&resolveOS, "os", runtime.GOOS, "target operating system")
	resolveCmd.Flags().StringVar(&resolveArch, "arch", runtime.GOARCH, "target architecture")
	resolveCmd.Flags().StringVar(&resolveTag, "tag", "", "release tag, defaults to the pinned one")

	installCmd.Flags().StringVar(&installOS, "os", "", "target operating system, defaults to the daemon host")

	rootCmd.AddCommand(resolveCmd, installCmd, installedCmd)
}
