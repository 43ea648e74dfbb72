package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/inference-runtime/internal/api/grpc/runtime"
	"github.com/oshokin/inference-runtime/internal/config"
	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
	"github.com/oshokin/inference-runtime/internal/metrics"
	pb "github.com/oshokin/inference-runtime/internal/pb/v1"
	"github.com/oshokin/inference-runtime/internal/repository/pidfile"
	"github.com/oshokin/inference-runtime/internal/service/download"
	"github.com/oshokin/inference-runtime/internal/service/events"
	"github.com/oshokin/inference-runtime/internal/service/install"
	"github.com/oshokin/inference-runtime/internal/service/supervisor"
	"github.com/oshokin/inference-runtime/internal/service/sysmon"
	"github.com/oshokin/inference-runtime/internal/version"
)

// Options controls the runtimed process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// MetricsAddress provides an optional Prometheus endpoint address override.
	MetricsAddress string
	// DataDir overrides the configured data directory.
	DataDir string
	// ApplyLogSettings installs the configured level and log file as the global logger.
	ApplyLogSettings bool
	// ProcRoot overrides the procfs mount point used for usage sampling.
	ProcRoot string
}

// metricsShutdownTimeout bounds the graceful stop of the metrics endpoint.
const metricsShutdownTimeout = 5 * time.Second

// ErrNoListenAddress indicates missing server configuration.
var ErrNoListenAddress = errors.New("no listen address configured")

// Run starts the gRPC server and blocks until context is canceled or server stops.
// Loads configuration first, then wires installer, supervisor and transport.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "runtimed")

	// Load configuration first to get server settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.ApplyLogSettings {
		applyLogSettings(ctx, settings.Log)
	}

	// Determine listen address: CLI argument overrides config.
	listenAddress, err := resolveListenAddress(settings.ListenAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	dataDir := settings.DataDir
	if opts.DataDir != "" {
		dataDir = opts.DataDir
	}

	metricsAddress := settings.MetricsAddress
	if opts.MetricsAddress != "" {
		metricsAddress = opts.MetricsAddress
	}

	svc, broker, err := buildService(ctx, settings, dataDir, opts.ProcRoot)
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	defer broker.Close()

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	// Create and configure gRPC server with the runtime service.
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryAudit),
		grpc.ChainStreamInterceptor(streamAudit),
	)
	pb.RegisterRuntimeServiceServer(grpcServer, api.NewServer(svc))

	logger.InfoKV(ctx, "Runtime server listening",
		"version", version.Short(),
		"listen_address", lis.Addr().String(),
		"data_dir", dataDir,
		"metrics_address", metricsAddress)

	group, groupCtx := errgroup.WithContext(ctx)

	if metricsAddress != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, metricsAddress)
		})
	}

	group.Go(func() error {
		// Done channel is closed after GracefulStop finishes to ensure we block
		// until the server fully stops before returning.
		done := make(chan struct{})

		go func() {
			<-groupCtx.Done()
			logger.Info(ctx, "Shutting down gRPC server")
			// Streams end when their subscriptions close.
			broker.Close()
			grpcServer.GracefulStop()
			close(done)
		}()

		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}

		<-done
		logger.Info(ctx, "GRPC server stopped")

		return nil
	})

	return group.Wait()
}

// buildService wires the runtime components for dataDir.
func buildService(
	ctx context.Context,
	settings *config.Config,
	dataDir, procRoot string,
) (*service, *events.Broker, error) {
	layout := backend.NewLayout(dataDir)
	broker := events.NewBroker(events.DefaultSubscriberBuffer)

	engine := download.New(download.Options{
		MaxAttempts:    settings.Download.Attempts,
		Backoff:        settings.Download.Backoff,
		ConnectTimeout: settings.Download.ConnectTimeout,
		AttemptTimeout: settings.Download.AttemptTimeout,
		UserAgent:      settings.Download.UserAgent,
	})

	effective := engine.Options()
	logger.DebugKV(ctx, "Download engine ready",
		"attempts", effective.MaxAttempts,
		"backoff", effective.Backoff,
		"attempt_timeout", effective.AttemptTimeout)

	tags := make(map[backend.Kind]string)
	installOpts := make([]install.Option, 0, len(backend.Kinds()))
	supervisorOpts := []supervisor.Option{supervisor.WithPublisher(broker)}

	for _, kind := range backend.Kinds() {
		if tag := settings.ReleaseTag(kind); tag != "" {
			tags[kind] = tag
			installOpts = append(installOpts, install.WithReleaseTag(kind, tag))
		}

		overrides, err := settings.LaunchOverrides(string(kind))
		if err != nil {
			broker.Close()

			return nil, nil, err
		}

		supervisorOpts = append(supervisorOpts, supervisor.WithLaunchOverrides(kind, overrides))
	}

	procs := supervisor.New(layout, pidfile.NewFileRepository(layout), supervisorOpts...)

	// Report servers that outlived a previous daemon.
	for _, kind := range backend.Kinds() {
		if st := procs.Status(ctx, kind); st.State == backend.StateRunning {
			metrics.SetRunning(string(kind), true)
			logger.InfoKV(ctx, "Recovered server record", "server", kind, "pid", st.PID)
		}
	}

	svc := newService(
		install.New(layout, engine, installOpts...),
		procs,
		broker,
		sysmon.NewSampler(procRoot),
		tags,
	)

	return svc, broker, nil
}

// serveMetrics exposes Prometheus metrics until ctx is done.
func serveMetrics(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: metricsShutdownTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnKV(ctx, "Metrics endpoint shutdown failed", "error", err)
		}
	}()

	logger.InfoKV(ctx, "Metrics endpoint listening", "address", address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	return nil
}

// applyLogSettings installs the configured global logger.
func applyLogSettings(ctx context.Context, settings config.Log) {
	ok := logger.Configure(settings.Level, logger.FileSink{
		Path:       settings.File,
		MaxSizeMB:  settings.MaxSizeMB,
		MaxBackups: settings.MaxBackups,
		MaxAgeDays: settings.MaxAgeDays,
	})
	if !ok {
		logger.WarnKV(ctx, "Unknown log level, using info", "level", settings.Level)
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise uses the configured address.
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., "127.0.0.1:9090").
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoListenAddress
	}

	if _, _, err := net.SplitHostPort(configAddr); err != nil {
		return "", fmt.Errorf("invalid listen address format %q: %w", configAddr, err)
	}

	return configAddr, nil
}
