package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
	"github.com/oshokin/inference-runtime/internal/metrics"
	"github.com/oshokin/inference-runtime/internal/repository/pidfile"
	"github.com/oshokin/inference-runtime/internal/service/events"
)

var (
	// ErrInvalidPort is returned for ports outside 1..65535.
	ErrInvalidPort = errors.New("invalid port")
	// ErrModelRequired is returned when llama-server is started without a model.
	ErrModelRequired = errors.New("model reference must be provided")
)

// StartRequest describes a server to launch.
type StartRequest struct {
	// Server is the server kind.
	Server backend.Kind
	// Variant is the installed variant to run.
	Variant backend.Variant
	// Model is a local model path or an "hf:" registry reference.
	Model string
	// Port is the loopback port to listen on.
	Port int
	// Options adds flags and environment variables on top of configured overrides.
	Options *structpb.Struct
}

// Supervisor manages one server process per kind.
type Supervisor struct {
	// layout resolves install directories.
	layout backend.Layout
	// repo persists the last known pid per kind.
	repo pidfile.Repository
	// publisher receives log line events.
	publisher events.Publisher
	// hostOS selects executable names.
	hostOS backend.OS
	// hostArch guards architecture-specific variants.
	hostArch backend.Arch
	// overrides are configured launch option trees per kind.
	overrides map[backend.Kind]*structpb.Struct
	// killTree terminates a process and its descendants.
	killTree func(ctx context.Context, pid int) error

	// mu protects processes.
	mu sync.Mutex
	// processes holds what this supervisor knows about each kind.
	processes map[backend.Kind]*trackedProcess
}

// trackedProcess is the in-memory view of a server.
type trackedProcess struct {
	info backend.ServerProcess
	// exited is closed once the process spawned by this supervisor has been reaped.
	exited chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPublisher sets the log line event publisher.
func WithPublisher(publisher events.Publisher) Option {
	return func(s *Supervisor) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithHost overrides the detected host OS and architecture.
func WithHost(hostOS backend.OS, arch backend.Arch) Option {
	return func(s *Supervisor) {
		if hostOS != "" {
			s.hostOS = hostOS
		}

		if arch != "" {
			s.hostArch = arch
		}
	}
}

// WithLaunchOverrides sets the configured launch option tree of kind.
func WithLaunchOverrides(kind backend.Kind, tree *structpb.Struct) Option {
	return func(s *Supervisor) {
		if tree != nil {
			s.overrides[kind] = tree
		}
	}
}

// New returns a Supervisor for installs under layout.
func New(layout backend.Layout, repo pidfile.Repository, opts ...Option) *Supervisor {
	s := &Supervisor{
		layout:    layout,
		repo:      repo,
		publisher: events.Noop{},
		hostOS:    backend.HostOS(),
		hostArch:  backend.HostArch(),
		overrides: make(map[backend.Kind]*structpb.Struct),
		killTree:  killTree,
		processes: make(map[backend.Kind]*trackedProcess),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Locate returns the installation of (kind, variant) when one is present.
// A placed installer image counts as installed without an executable.
func (s *Supervisor) Locate(kind backend.Kind, variant backend.Variant) (*backend.InstalledServer, bool) {
	dir := s.layout.InstallDir(kind, variant)

	if exe, ok := FindFirst(dir, backend.ExecutableNames(kind, s.hostOS), MaxSearchDepth); ok {
		return &backend.InstalledServer{Server: kind, Variant: variant, InstallDir: dir, Executable: exe}, true
	}

	if markers := backend.InstalledMarkers(kind, s.hostOS); len(markers) > 0 {
		if _, ok := FindFirst(dir, markers, MaxSearchDepth); ok {
			return &backend.InstalledServer{Server: kind, Variant: variant, InstallDir: dir}, true
		}
	}

	return nil, false
}

// Start launches the server described by req and records its pid.
// Nothing is spawned or recorded when any check fails.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (*backend.ServerProcess, error) {
	ctx = logger.WithKV(ctx, "server", req.Server, "variant", req.Variant)

	proc, err := s.start(ctx, req)
	metrics.ObserveStart(string(req.Server), err)

	if err != nil {
		logger.ErrorKV(ctx, "Failed to start server", "error", err)

		return nil, err
	}

	return proc, nil
}

// start performs the checks and the spawn of Start.
func (s *Supervisor) start(ctx context.Context, req StartRequest) (*backend.ServerProcess, error) {
	installed, ok := s.Locate(req.Server, req.Variant)
	if !ok || installed.Executable == "" {
		return nil, fmt.Errorf("%w: %s %s in %s",
			backend.ErrExecutableNotFound, req.Server, req.Variant, s.layout.InstallDir(req.Server, req.Variant))
	}

	if req.Variant.RequiresARM() && !s.hostArch.IsARM() {
		return nil, fmt.Errorf("%w: %s requires aarch64, host is %s",
			backend.ErrUnsupportedArchitecture, req.Variant, s.hostArch)
	}

	plan, err := buildLaunch(req, s.overrides[req.Server], req.Options)
	if err != nil {
		return nil, err
	}

	s.setState(req.Server, backend.StateStarting)

	//nolint:gosec // The executable comes from the managed install directory.
	cmd := exec.Command(installed.Executable, plan.args...)
	cmd.Dir = installed.InstallDir
	cmd.Env = append(os.Environ(), plan.env...)
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(req.Server, backend.StateNotRunning)

		return nil, backend.NewSpawnError(installed.Executable, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setState(req.Server, backend.StateNotRunning)

		return nil, backend.NewSpawnError(installed.Executable, err)
	}

	logger.InfoKV(ctx, "Starting server", "executable", installed.Executable, "args", plan.args, "port", req.Port)

	if err = cmd.Start(); err != nil {
		s.setState(req.Server, backend.StateNotRunning)

		return nil, backend.NewSpawnError(installed.Executable, err)
	}

	pid := cmd.Process.Pid

	if err = s.repo.Save(ctx, req.Server, pid); err != nil {
		_ = cmd.Process.Kill() //nolint:errcheck // The save error is reported.
		_ = cmd.Wait()         //nolint:errcheck // Reap the child.

		s.setState(req.Server, backend.StateNotRunning)

		return nil, backend.NewIOError("record pid", s.layout.PIDFile(req.Server), err)
	}

	tracked := &trackedProcess{
		info: backend.ServerProcess{
			PID:       pid,
			Server:    req.Server,
			Variant:   req.Variant,
			Port:      req.Port,
			State:     backend.StateRunning,
			StartedAt: time.Now(),
		},
		exited: make(chan struct{}),
	}

	info := tracked.info

	s.mu.Lock()
	s.processes[req.Server] = tracked
	s.mu.Unlock()

	metrics.SetRunning(string(req.Server), true)
	logger.InfoKV(ctx, "Server started", "pid", pid)

	go s.supervise(context.WithoutCancel(ctx), cmd, tracked, stdout, stderr)

	return &info, nil
}

// supervise pumps both pipes until EOF and reaps the child.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd, tracked *trackedProcess, stdout, stderr io.Reader) {
	defer close(tracked.exited)

	kind := tracked.info.Server

	var group errgroup.Group

	group.Go(func() error {
		return s.pump(kind, backend.StreamStdout, stdout)
	})
	group.Go(func() error {
		return s.pump(kind, backend.StreamStderr, stderr)
	})

	if err := group.Wait(); err != nil {
		logger.WarnKV(ctx, "Server output stream failed", "error", err)
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	tracked.info.State = backend.StateNotRunning
	s.mu.Unlock()

	logger.InfoKV(ctx, "Server exited", "pid", tracked.info.PID, "result", exitResult(waitErr))
}

// pump forwards the lines of one output stream as events.
func (s *Supervisor) pump(kind backend.Kind, stream backend.Stream, r io.Reader) error {
	return splitLines(r, MaxLineBytes, func(line string) {
		metrics.IncLogLine(string(kind), string(stream))
		s.publisher.Publish(events.NewLogLine(backend.LogLineEvent{Server: kind, Stream: stream, Line: line}))
	})
}

// Stop terminates the recorded process tree of kind and clears the record.
// It never fails: problems are logged and the record is removed regardless.
func (s *Supervisor) Stop(ctx context.Context, kind backend.Kind) {
	ctx = logger.WithKV(ctx, "server", kind)

	pid, err := s.repo.Load(ctx, kind)

	switch {
	case errors.Is(err, pidfile.ErrNotFound):
		logger.Debug(ctx, "No pid record, nothing to stop")
		s.markStopped(kind)

		return
	case errors.Is(err, pidfile.ErrEmptyRecord), errors.Is(err, pidfile.ErrInvalidRecord):
		logger.WarnKV(ctx, "Discarding unusable pid record", "error", err)
		s.clearRecord(ctx, kind)
		s.markStopped(kind)

		return
	case err != nil:
		logger.ErrorKV(ctx, "Failed to read pid record", "error", err)
		s.clearRecord(ctx, kind)
		s.markStopped(kind)

		return
	}

	s.setState(kind, backend.StateStopping)
	logger.InfoKV(ctx, "Stopping server", "pid", pid)

	if err = s.killTree(ctx, pid); err != nil {
		logger.WarnKV(ctx, "Failed to terminate server process tree", "error", backend.NewStopError(pid, err))
	}

	s.clearRecord(ctx, kind)
	s.markStopped(kind)
}

// Status reports the state of kind. The pid record decides whether a server
// is running; a record matching a process this supervisor saw exit reports
// not running.
func (s *Supervisor) Status(ctx context.Context, kind backend.Kind) backend.ServerProcess {
	s.mu.Lock()

	var tracked *backend.ServerProcess

	if t, ok := s.processes[kind]; ok {
		info := t.info
		tracked = &info
	}

	s.mu.Unlock()

	pid, err := s.repo.Load(ctx, kind)
	if err != nil {
		if tracked != nil && (tracked.State == backend.StateStarting || tracked.State == backend.StateStopping) {
			return backend.ServerProcess{Server: kind, State: tracked.State}
		}

		return backend.ServerProcess{Server: kind, State: backend.StateNotRunning}
	}

	if tracked != nil && tracked.PID == pid {
		return *tracked
	}

	return backend.ServerProcess{PID: pid, Server: kind, State: backend.StateRunning}
}

// Wait blocks until the process of kind spawned by this supervisor has been
// reaped or ctx is done. It returns immediately when none is tracked.
func (s *Supervisor) Wait(ctx context.Context, kind backend.Kind) error {
	s.mu.Lock()
	tracked := s.processes[kind]
	s.mu.Unlock()

	if tracked == nil {
		return nil
	}

	select {
	case <-tracked.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setState updates the in-memory state of kind.
func (s *Supervisor) setState(kind backend.Kind, state backend.ProcessState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, ok := s.processes[kind]
	if !ok {
		tracked = &trackedProcess{
			info:   backend.ServerProcess{Server: kind},
			exited: make(chan struct{}),
		}
		close(tracked.exited)
		s.processes[kind] = tracked
	}

	tracked.info.State = state
}

// markStopped records that kind has no running process.
func (s *Supervisor) markStopped(kind backend.Kind) {
	s.setState(kind, backend.StateNotRunning)
	metrics.SetRunning(string(kind), false)
}

// clearRecord removes the pid record, logging failures.
func (s *Supervisor) clearRecord(ctx context.Context, kind backend.Kind) {
	if err := s.repo.Delete(ctx, kind); err != nil {
		logger.ErrorKV(ctx, "Failed to remove pid record", "error", err)
	}
}

// exitResult renders a Wait error for logs.
func exitResult(err error) string {
	if err == nil {
		return "exit status 0"
	}

	return err.Error()
}
