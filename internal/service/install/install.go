package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
	"github.com/oshokin/inference-runtime/internal/metrics"
	"github.com/oshokin/inference-runtime/internal/service/archive"
	"github.com/oshokin/inference-runtime/internal/service/download"
	"github.com/oshokin/inference-runtime/internal/service/events"
	"github.com/oshokin/inference-runtime/internal/service/resolver"
)

const (
	// downloadShare is the composite percent reached when the transfer ends.
	downloadShare = 50
	// unknownTotalPercent is reported while the declared size is unknown.
	unknownTotalPercent = 25
	// donePercent is the terminal progress value.
	donePercent = 100

	// messageStarting opens every install.
	messageStarting = "Starting download..."
	// messageExtracting separates the two phases.
	messageExtracting = "Extracting archive..."
	// messageInstalled closes a successful install.
	messageInstalled = "Binaries installed successfully"
)

// Fetcher downloads a URL into a file, resuming partial data.
type Fetcher interface {
	Fetch(ctx context.Context, url, destination string, options ...download.FetchOption) (string, error)
}

// Request describes one install.
type Request struct {
	// Server is the server kind.
	Server backend.Kind
	// Variant is the hardware build flavour.
	Variant backend.Variant
	// OS overrides the host operating system when set.
	OS backend.OS
}

// sessionKey identifies the single active session of a kind and variant.
type sessionKey struct {
	server  backend.Kind
	variant backend.Variant
}

// Service runs installs and tracks their download sessions.
type Service struct {
	layout   backend.Layout
	fetcher  Fetcher
	tags     map[backend.Kind]string
	hostOS   backend.OS
	hostArch backend.Arch

	mu       sync.Mutex
	sessions map[sessionKey]*backend.DownloadSession
}

// Option configures a Service.
type Option func(*Service)

// WithReleaseTag pins the release tag of kind.
func WithReleaseTag(kind backend.Kind, tag string) Option {
	return func(s *Service) {
		if tag != "" {
			s.tags[kind] = tag
		}
	}
}

// WithHost overrides the detected host OS and architecture.
func WithHost(hostOS backend.OS, arch backend.Arch) Option {
	return func(s *Service) {
		if hostOS != "" {
			s.hostOS = hostOS
		}

		if arch != "" {
			s.hostArch = arch
		}
	}
}

// New returns a Service installing under layout with fetcher.
func New(layout backend.Layout, fetcher Fetcher, opts ...Option) *Service {
	s := &Service{
		layout:   layout,
		fetcher:  fetcher,
		tags:     make(map[backend.Kind]string),
		hostOS:   backend.HostOS(),
		hostArch: backend.HostArch(),
		sessions: make(map[sessionKey]*backend.DownloadSession),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Resolve returns the release asset of req for the host architecture.
func (s *Service) Resolve(req Request) (*resolver.Asset, error) {
	hostOS := req.OS
	if hostOS == "" {
		hostOS = s.hostOS
	}

	return resolver.Resolve(resolver.Request{
		Server:  req.Server,
		OS:      hostOS,
		Arch:    s.hostArch,
		Variant: req.Variant,
		Tag:     s.tags[req.Server],
	})
}

// Install downloads and unpacks the asset of req, reporting progress to
// publisher, and returns the install directory. The partial download is kept
// on failure so the next call resumes it.
func (s *Service) Install(ctx context.Context, req Request, publisher events.Publisher) (string, error) {
	ctx = logger.WithKV(ctx, "server", req.Server, "variant", req.Variant)

	asset, err := s.Resolve(req)
	if err != nil {
		return "", err
	}

	session, err := s.claim(req, asset)
	if err != nil {
		return "", err
	}

	sink := events.NewAsync(publisher, events.DefaultAsyncBuffer)
	progress := newReporter(req.Server, req.Variant, sink)

	path, err := s.run(ctx, session, asset, progress)

	sink.Close()
	s.finish(session, err)
	metrics.ObserveInstall(string(req.Server), string(req.Variant), err)

	if err != nil {
		logger.ErrorKV(ctx, "Install failed", "error", err)

		return "", err
	}

	logger.InfoKV(ctx, "Install completed", "path", path)

	return path, nil
}

// run performs the download and the unpack of one session.
func (s *Service) run(
	ctx context.Context,
	session *backend.DownloadSession,
	asset *resolver.Asset,
	progress *reporter,
) (string, error) {
	progress.report(backend.PhaseDownload, 0, messageStarting)
	s.update(session, func(ds *backend.DownloadSession) { ds.Phase = backend.SessionInProgress })

	_, err := s.fetcher.Fetch(ctx, asset.URL, session.TempPath,
		download.WithLabel(string(session.Server)),
		download.WithAttemptHook(func(attempt int) {
			s.update(session, func(ds *backend.DownloadSession) { ds.Attempts = attempt })
		}),
		download.WithProgress(func(p download.Progress) {
			s.update(session, func(ds *backend.DownloadSession) {
				ds.Transferred = p.Downloaded
				ds.TotalSize = p.Total
			})

			progress.report(backend.PhaseDownload, downloadPercent(p), downloadMessage(p))
		}))
	if err != nil {
		return "", err
	}

	s.update(session, func(ds *backend.DownloadSession) { ds.Phase = backend.SessionVerifying })
	progress.report(backend.PhaseExtract, downloadShare, messageExtracting)

	err = archive.Install(ctx, archive.Request{
		ArchivePath: session.TempPath,
		Format:      asset.Format,
		TargetDir:   session.TargetPath,
		AssetName:   asset.FileName,
	}, func(step archive.Step) {
		progress.report(backend.PhaseExtract, extractPercent(step), step.Message)
	})
	if err != nil {
		return "", err
	}

	discardDownload(ctx, asset.Format, session.TempPath)

	progress.report(backend.PhaseExtract, donePercent, messageInstalled)

	return session.TargetPath, nil
}

// discardDownload removes the downloaded file once it has been unpacked.
// Files of unknown format are left as they are, being the only copy.
func discardDownload(ctx context.Context, format backend.Format, path string) {
	if format == backend.FormatUnknown {
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove temporary download", "path", path, "error", err)
	}
}

// claim registers a new session for req, refusing a second active one.
func (s *Service) claim(req Request, asset *resolver.Asset) (*backend.DownloadSession, error) {
	key := sessionKey{server: req.Server, variant: req.Variant}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[key]; ok && active(existing.Phase) {
		return nil, fmt.Errorf("%w: %s %s", backend.ErrInstallInProgress, req.Server, req.Variant)
	}

	session := &backend.DownloadSession{
		Server:     req.Server,
		Variant:    req.Variant,
		URL:        asset.URL,
		TempPath:   s.layout.TempFile(req.Server, req.Variant, backend.TempExtension(asset.FileName)),
		TargetPath: s.layout.InstallDir(req.Server, req.Variant),
		Phase:      backend.SessionPending,
	}
	s.sessions[key] = session

	return session, nil
}

// finish records the outcome of a session.
func (s *Service) finish(session *backend.DownloadSession, err error) {
	s.update(session, func(ds *backend.DownloadSession) {
		if err != nil {
			ds.Phase = backend.SessionFailed
			ds.Err = err.Error()

			return
		}

		ds.Phase = backend.SessionCompleted
	})
}

// update mutates a session under the lock.
func (s *Service) update(session *backend.DownloadSession, fn func(*backend.DownloadSession)) {
	s.mu.Lock()
	fn(session)
	s.mu.Unlock()
}

// Session returns a copy of the latest session of kind and variant.
func (s *Service) Session(kind backend.Kind, variant backend.Variant) (backend.DownloadSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionKey{server: kind, variant: variant}]
	if !ok {
		return backend.DownloadSession{}, false
	}

	return *session, true
}

// Sessions returns copies of the latest sessions of kind ordered by variant.
func (s *Service) Sessions(kind backend.Kind) []backend.DownloadSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []backend.DownloadSession

	for key, session := range s.sessions {
		if key.server == kind {
			out = append(out, *session)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Variant < out[j].Variant })

	return out
}

// active reports whether a session in phase still owns its temp file.
func active(phase backend.SessionPhase) bool {
	return phase != backend.SessionCompleted && phase != backend.SessionFailed
}
