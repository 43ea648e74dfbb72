package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/inference-runtime/internal/config"
	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
	"github.com/oshokin/inference-runtime/internal/service/common"
)

// Options configures how runtimectl reaches the daemon.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides the daemon address from config when specified.
	ServerAddress string

	// Out receives command output, defaults to stdout.
	Out io.Writer
}

// Command is one runtimectl action executed over an open client.
type Command func(ctx context.Context, client *common.Client, out io.Writer) error

// errInvalidPair is returned when an override is not in key=value form.
var errInvalidPair = errors.New("expected key=value")

// Run connects to the daemon and executes command.
func Run(ctx context.Context, opts *Options, command Command) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "runtimectl")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ListenAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Identify current user and hostname for the daemon audit log.
	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	client, err := common.Dial(ctx, serverAddress,
		common.WithCallTimeout(cfg.Timeout),
		common.WithActor(actor))
	if err != nil {
		return err
	}

	// Close connection on function exit.
	defer func() {
		_ = client.Close()
	}()

	logger.DebugKV(ctx, "Connected to runtime daemon", "server_address", serverAddress)

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	return command(ctx, client, out)
}

// Resolve prints the asset URL for an explicit platform.
func Resolve(server, hostOS, arch, variant, tag string) Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		url, format, err := client.ResolveAssetURL(ctx, server, hostOS, arch, variant, tag)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "%s (%s)\n", url, format)

		return err
	}
}

// Install downloads and unpacks a server, printing each progress update.
func Install(server, variant, osOverride string) Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		path, err := client.StartInstall(ctx, server, variant, osOverride, func(p common.Progress) {
			_, _ = fmt.Fprintf(out, "[%3d%%] %s\n", p.Percent, p.Message)
		})
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "Installed to %s\n", path)

		return err
	}
}

// Installed prints whether a variant is installed.
func Installed(server, variant string) Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		installed, err := client.IsInstalled(ctx, server, variant)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "%s/%s installed: %t\n", server, variant, installed)

		return err
	}
}

// Start launches a server and prints its pid.
func Start(params common.StartParams) Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		pid, err := client.StartServer(ctx, params)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "%s started on 127.0.0.1:%d (pid %d)\n", params.Server, params.Port, pid)

		return err
	}
}

// Stop terminates a server.
func Stop(server string) Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		if err := client.StopServer(ctx, server); err != nil {
			return err
		}

		_, err := fmt.Fprintf(out, "%s stopped\n", server)

		return err
	}
}

// Status prints the process state and install sessions of a server.
func Status(server string) Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		status, err := client.GetStatus(ctx, server)
		if err != nil {
			return err
		}

		_, err = io.WriteString(out, formatStatus(status))

		return err
	}
}

// Logs follows server output until ctx is done.
func Logs(server string) Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		return client.StreamLogs(ctx, server, func(line common.LogLine) {
			_, _ = fmt.Fprintf(out, "[%s] %s\n", line.Stream, line.Line)
		})
	}
}

// Usage prints the daemon host CPU and memory usage.
func Usage() Command {
	return func(ctx context.Context, client *common.Client, out io.Writer) error {
		usage, err := client.GetSystemUsage(ctx)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "cpu: %.1f%%, memory: %s of %s\n",
			usage.CPUPercent,
			backend.FormatSize(usage.MemUsedBytes),
			backend.FormatSize(usage.MemTotalBytes))

		return err
	}
}

// ParseOverrides builds a launch overrides tree from "name=value" flags and
// "NAME=value" environment pairs. Flag values "true" and "false" become
// booleans and numeric values become numbers.
func ParseOverrides(flags, env []string) (*structpb.Struct, error) {
	if len(flags) == 0 && len(env) == 0 {
		return nil, nil //nolint:nilnil // No overrides is a valid result.
	}

	flagTree := make(map[string]any, len(flags))

	for _, pair := range flags {
		name, value, err := splitPair(pair)
		if err != nil {
			return nil, err
		}

		flagTree[name] = scalar(value)
	}

	envTree := make(map[string]any, len(env))

	for _, pair := range env {
		name, value, err := splitPair(pair)
		if err != nil {
			return nil, err
		}

		envTree[name] = value
	}

	tree, err := structpb.NewStruct(map[string]any{
		"flags": flagTree,
		"env":   envTree,
	})
	if err != nil {
		return nil, fmt.Errorf("build overrides: %w", err)
	}

	return tree, nil
}

// splitPair splits key=value.
func splitPair(pair string) (string, string, error) {
	name, value, ok := strings.Cut(pair, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("%q: %w", pair, errInvalidPair)
	}

	return name, value, nil
}

// scalar converts flag text to a bool, number or string.
func scalar(value string) any {
	if value == "true" || value == "false" {
		return value == "true"
	}

	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}

	return value
}

// formatStatus renders a status report.
func formatStatus(status *common.ServerStatus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %s", status.Server, status.State)

	if status.PID > 0 {
		fmt.Fprintf(&b, " (pid %d", status.PID)

		if status.Port > 0 {
			fmt.Fprintf(&b, ", port %d", status.Port)
		}

		if status.Variant != "" {
			fmt.Fprintf(&b, ", variant %s", status.Variant)
		}

		if !status.StartedAt.IsZero() {
			fmt.Fprintf(&b, ", since %s", status.StartedAt.Format(time.RFC3339))
		}

		b.WriteString(")")
	}

	b.WriteString("\n")

	for _, session := range status.Sessions {
		fmt.Fprintf(&b, "  install %s: %s, %s", session.Variant, session.Phase, backend.FormatSize(session.Transferred))

		if session.TotalSize > 0 {
			fmt.Fprintf(&b, " of %s", backend.FormatSize(session.TotalSize))
		}

		fmt.Fprintf(&b, ", attempts %d", session.Attempts)

		if session.Error != "" {
			fmt.Fprintf(&b, ", error: %s", session.Error)
		}

		b.WriteString("\n")
	}

	return b.String()
}
