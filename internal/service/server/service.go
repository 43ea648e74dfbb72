package server

import (
	"context"
	"sync"

	api "github.com/oshokin/inference-runtime/internal/api/grpc/runtime"
	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
	"github.com/oshokin/inference-runtime/internal/service/events"
	"github.com/oshokin/inference-runtime/internal/service/install"
	"github.com/oshokin/inference-runtime/internal/service/resolver"
	"github.com/oshokin/inference-runtime/internal/service/supervisor"
	"github.com/oshokin/inference-runtime/internal/service/sysmon"
)

// service orchestrates installs, processes and usage sampling behind the transport.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// installer downloads and unpacks server binaries.
	installer *install.Service
	// supervisor runs server processes.
	supervisor *supervisor.Supervisor
	// broker fans progress and log events out to subscribers.
	broker *events.Broker
	// sampler reads host usage.
	sampler *sysmon.Sampler
	// tags pins release tags per kind.
	tags map[backend.Kind]string
	// locks serialize start and stop per kind, since pid records are not locked on disk.
	locks map[backend.Kind]*sync.Mutex
}

// newService wires the runtime components together.
func newService(
	installer *install.Service,
	procs *supervisor.Supervisor,
	broker *events.Broker,
	sampler *sysmon.Sampler,
	tags map[backend.Kind]string,
) *service {
	locks := make(map[backend.Kind]*sync.Mutex, len(backend.Kinds()))
	for _, kind := range backend.Kinds() {
		locks[kind] = new(sync.Mutex)
	}

	if tags == nil {
		tags = make(map[backend.Kind]string)
	}

	return &service{
		installer:  installer,
		supervisor: procs,
		broker:     broker,
		sampler:    sampler,
		tags:       tags,
		locks:      locks,
	}
}

// ResolveAsset resolves a release asset, applying the pinned tag when none is given.
func (s *service) ResolveAsset(_ context.Context, req resolver.Request) (*resolver.Asset, error) {
	if req.Tag == "" {
		req.Tag = s.tags[req.Server]
	}

	return resolver.Resolve(req)
}

// Install runs an install, publishing progress to the broker and to publisher.
func (s *service) Install(ctx context.Context, req install.Request, publisher events.Publisher) (string, error) {
	return s.installer.Install(ctx, req, events.Tee{s.broker, publisher})
}

// IsInstalled reports whether the variant has an executable or installer on disk.
func (s *service) IsInstalled(_ context.Context, kind backend.Kind, variant backend.Variant) bool {
	_, ok := s.supervisor.Locate(kind, variant)

	return ok
}

// StartServer launches a server. A server of the same kind that is still
// recorded is stopped first, since only one pid is tracked per kind.
func (s *service) StartServer(ctx context.Context, req supervisor.StartRequest) (*backend.ServerProcess, error) {
	unlock := s.lock(req.Server)
	defer unlock()

	if current := s.supervisor.Status(ctx, req.Server); current.State == backend.StateRunning {
		logger.InfoKV(ctx, "Replacing running server", "server", req.Server, "pid", current.PID)
		s.supervisor.Stop(ctx, req.Server)
	}

	return s.supervisor.Start(ctx, req)
}

// StopServer stops the server of kind. It never fails.
func (s *service) StopServer(ctx context.Context, kind backend.Kind) {
	unlock := s.lock(kind)
	defer unlock()

	s.supervisor.Stop(ctx, kind)
}

// Status returns the process view and install sessions of kind.
func (s *service) Status(ctx context.Context, kind backend.Kind) api.Status {
	return api.Status{
		Process:  s.supervisor.Status(ctx, kind),
		Sessions: s.installer.Sessions(kind),
	}
}

// Subscribe registers an event subscriber.
func (s *service) Subscribe(filter events.Filter) (<-chan events.Event, func()) {
	return s.broker.Subscribe(filter)
}

// SystemUsage returns a host usage snapshot.
func (s *service) SystemUsage(context.Context) (sysmon.Usage, error) {
	return s.sampler.Usage()
}

// lock acquires the mutex of kind and returns its release.
func (s *service) lock(kind backend.Kind) func() {
	mu, ok := s.locks[kind]
	if !ok {
		return func() {}
	}

	mu.Lock()

	return mu.Unlock
}
