package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/inference-runtime/internal/service/client"
	"github.com/oshokin/inference-runtime/internal/service/common"
)

// defaultPort is the llama.cpp server default.
const defaultPort = 8080

var (
	// startModel is a model path or "hf:" reference.
	startModel string
	// startPort is the loopback port.
	startPort int
	// startFlags are extra launch flags as name=value.
	startFlags []string
	// startEnv are extra environment variables as NAME=value.
	startEnv []string

	// startCmd launches a server.
	startCmd = &cobra.Command{
		Use:   "start <server> <variant>",
		Short: "Start an installed server.",
		Long: `Starts the server on 127.0.0.1 with the given model and port.
A running server of the same kind is stopped first.`,
		Args: cobra.ExactArgs(2), //nolint:mnd // Server and variant.
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := client.ParseOverrides(startFlags, startEnv)
			if err != nil {
				return err
			}

			return run(cmd, client.Start(common.StartParams{
				Server:  args[0],
				Variant: args[1],
				Model:   startModel,
				Port:    startPort,
				Options: overrides,
			}))
		},
	}

	// stopCmd terminates a server.
	stopCmd = &cobra.Command{
		Use:   "stop <server>",
		Short: "Stop a server and its child processes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, client.Stop(args[0]))
		},
	}

	// statusCmd prints server state.
	statusCmd = &cobra.Command{
		Use:   "status <server>",
		Short: "Show server process state and install sessions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, client.Status(args[0]))
		},
	}

	// logsCmd follows server output.
	logsCmd = &cobra.Command{
		Use:   "logs <server>",
		Short: "Follow server output until interrupted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, client.Logs(args[0]))
		},
	}

	// usageCmd prints host usage.
	usageCmd = &cobra.Command{
		Use:   "usage",
		Short: "Show daemon host CPU and memory usage.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, client.Usage())
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	startCmd.Flags().StringVarP(&startModel, "model", "m", "", "model path or hf:<repo> reference")
	startCmd.Flags().IntVarP(&startPort, "port", "p", defaultPort, "loopback port")
	startCmd.Flags().StringArrayVar(&startFlags, "flag", nil, "extra launch flag as name=value, repeatable")
	startCmd.Flags().StringArrayVar(&startEnv, "env", nil, "extra environment variable as NAME=value, repeatable")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, logsCmd, usageCmd)
}
