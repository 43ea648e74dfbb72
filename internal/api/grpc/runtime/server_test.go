package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	pb "github.com/oshokin/inference-runtime/internal/pb/v1"
	"github.com/oshokin/inference-runtime/internal/service/events"
	"github.com/oshokin/inference-runtime/internal/service/install"
	"github.com/oshokin/inference-runtime/internal/service/resolver"
	"github.com/oshokin/inference-runtime/internal/service/supervisor"
	"github.com/oshokin/inference-runtime/internal/service/sysmon"
)

// fakeService implements Service for unit testing the transport.
type fakeService struct {
	broker     *events.Broker
	installFn  func(ctx context.Context, req install.Request, publisher events.Publisher) (string, error)
	startFn    func(ctx context.Context, req supervisor.StartRequest) (*backend.ServerProcess, error)
	stopped    []backend.Kind
	installed  bool
	usageErr   error
	lastStart  supervisor.StartRequest
	lastTarget resolver.Request
}

// ResolveAsset implements Service with the real resolver.
func (f *fakeService) ResolveAsset(_ context.Context, req resolver.Request) (*resolver.Asset, error) {
	f.lastTarget = req

	return resolver.Resolve(req)
}

// Install implements Service.
func (f *fakeService) Install(ctx context.Context, req install.Request, publisher events.Publisher) (string, error) {
	return f.installFn(ctx, req, publisher)
}

// IsInstalled implements Service.
func (f *fakeService) IsInstalled(context.Context, backend.Kind, backend.Variant) bool {
	return f.installed
}

// StartServer implements Service.
func (f *fakeService) StartServer(ctx context.Context, req supervisor.StartRequest) (*backend.ServerProcess, error) {
	f.lastStart = req

	return f.startFn(ctx, req)
}

// StopServer implements Service.
func (f *fakeService) StopServer(_ context.Context, kind backend.Kind) {
	f.stopped = append(f.stopped, kind)
}

// Status implements Service.
func (f *fakeService) Status(_ context.Context, kind backend.Kind) Status {
	return Status{
		Process: backend.ServerProcess{PID: 42, Server: kind, Variant: backend.VariantCPU, Port: 8080, State: backend.StateRunning},
		Sessions: []backend.DownloadSession{{
			Server:  kind,
			Variant: backend.VariantCPU,
			Phase:   backend.SessionFailed,
			Err:     "HTTP error: 404 Not Found",
		}},
	}
}

// Subscribe implements Service.
func (f *fakeService) Subscribe(filter events.Filter) (<-chan events.Event, func()) {
	return f.broker.Subscribe(filter)
}

// SystemUsage implements Service.
func (f *fakeService) SystemUsage(context.Context) (sysmon.Usage, error) {
	if f.usageErr != nil {
		return sysmon.Usage{}, f.usageErr
	}

	return sysmon.Usage{CPUPercent: 12.5, MemUsedBytes: 1024, MemTotalBytes: 4096}, nil
}

// fakeStream collects messages sent on a server stream.
type fakeStream struct {
	grpc.ServerStream

	ctx  context.Context //nolint:containedctx // Stream contexts are part of the gRPC API.
	sent chan *structpb.Struct
}

// newFakeStream returns a stream bound to ctx.
func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{ctx: ctx, sent: make(chan *structpb.Struct, 64)}
}

// Context implements grpc.ServerStream.
func (s *fakeStream) Context() context.Context { return s.ctx }

// Send implements grpc.ServerStreamingServer.
func (s *fakeStream) Send(msg *structpb.Struct) error {
	s.sent <- msg

	return nil
}

// drain returns every message sent so far.
func (s *fakeStream) drain() []*structpb.Struct {
	var out []*structpb.Struct

	for {
		select {
		case msg := <-s.sent:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// request builds a request message from string fields.
func request(fields ...string) *structpb.Struct {
	msg := pb.NewMessage()
	for i := 0; i+1 < len(fields); i += 2 {
		msg.String(fields[i], fields[i+1])
	}

	return msg.Proto()
}

// TestServer_Validation ensures malformed requests return InvalidArgument errors.
func TestServer_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeService{})
	ctx := context.Background()

	_, err := s.IsInstalled(ctx, nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.IsInstalled(ctx, request(pb.FieldServer, "vllm", pb.FieldVariant, "cpu"))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.IsInstalled(ctx, request(pb.FieldServer, "ollama", pb.FieldVariant, "metal"))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "invalid variant")

	_, err = s.ResolveAssetURL(ctx, request(
		pb.FieldServer, "ollama", pb.FieldVariant, "cpu", pb.FieldOS, "plan9", pb.FieldArch, "x86_64"))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_ResolveAssetURL checks alias normalization and the resolved URL.
func TestServer_ResolveAssetURL(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := NewServer(svc)

	resp, err := s.ResolveAssetURL(context.Background(), request(
		pb.FieldServer, "llama-cpp", pb.FieldVariant, "vulkan", pb.FieldOS, "win", pb.FieldArch, "amd64"))
	require.NoError(t, err)
	require.Equal(t,
		"https://github.com/ggml-org/llama.cpp/releases/download/b6134/llama-b6134-bin-win-vulkan-x64.zip",
		pb.GetString(resp, pb.FieldURL))
	require.Equal(t, string(backend.FormatZip), pb.GetString(resp, pb.FieldFormat))
	require.Equal(t, backend.OSWindows, svc.lastTarget.OS)
	require.Equal(t, backend.ArchX8664, svc.lastTarget.Arch)

	_, err = s.ResolveAssetURL(context.Background(), request(
		pb.FieldServer, "llama-cpp", pb.FieldVariant, "cpu_arm", pb.FieldOS, "linux", pb.FieldArch, "x86_64"))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_StartInstall streams progress and ends with the done message.
func TestServer_StartInstall(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		installFn: func(_ context.Context, req install.Request, publisher events.Publisher) (string, error) {
			require.Equal(t, backend.OSMacOS, req.OS)

			publisher.Publish(events.NewProgress(backend.ProgressEvent{Percent: 10, Message: "Downloaded 1 B of 10 B"}))
			publisher.Publish(events.NewLogLine(backend.LogLineEvent{Line: "ignored"}))
			publisher.Publish(events.NewProgress(backend.ProgressEvent{Percent: 100, Message: "Binaries installed successfully"}))

			return "/data/runtime/ollama/cpu", nil
		},
	}
	s := NewServer(svc)
	stream := newFakeStream(context.Background())

	err := s.StartInstall(request(pb.FieldServer, "ollama", pb.FieldVariant, "cpu", pb.FieldOS, "darwin"), stream)
	require.NoError(t, err)

	sent := stream.drain()
	require.Len(t, sent, 3)
	require.EqualValues(t, 10, pb.GetInt(sent[0], pb.FieldProgress))
	require.Equal(t, "Binaries installed successfully", pb.GetString(sent[1], pb.FieldMessage))
	require.True(t, pb.GetBool(sent[2], pb.FieldDone))
	require.Equal(t, "/data/runtime/ollama/cpu", pb.GetString(sent[2], pb.FieldPath))
}

// TestServer_StartInstall_ErrorCodes maps install failures to status codes with their text.
func TestServer_StartInstall_ErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code codes.Code
	}{
		{&backend.HTTPStatusError{StatusCode: 503}, codes.Unavailable},
		{fmt.Errorf("%w: ollama cpu", backend.ErrInstallInProgress), codes.AlreadyExists},
		{backend.NewArchiveError("open zip", "/tmp/x.zip", errors.New("not a zip")), codes.Internal},
		{context.Canceled, codes.Canceled},
	}

	for _, tc := range cases {
		svc := &fakeService{
			installFn: func(context.Context, install.Request, events.Publisher) (string, error) {
				return "", tc.err
			},
		}

		err := NewServer(svc).StartInstall(
			request(pb.FieldServer, "ollama", pb.FieldVariant, "cpu"),
			newFakeStream(context.Background()))
		require.Equal(t, tc.code, status.Code(err), tc.err.Error())
		require.Equal(t, tc.err.Error(), status.Convert(err).Message())
	}
}

// TestServer_StartServer passes the request through and maps precondition failures.
func TestServer_StartServer(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		startFn: func(_ context.Context, req supervisor.StartRequest) (*backend.ServerProcess, error) {
			if req.Variant == backend.VariantCPUArm {
				return nil, fmt.Errorf("%w: cpu_arm requires aarch64", backend.ErrUnsupportedArchitecture)
			}

			return &backend.ServerProcess{PID: 1234, Server: req.Server, Port: req.Port, State: backend.StateRunning}, nil
		},
	}
	s := NewServer(svc)

	options, err := structpb.NewStruct(map[string]any{"flags": map[string]any{"--threads": 4}})
	require.NoError(t, err)

	in := pb.NewMessage().
		String(pb.FieldServer, "llama-cpp").
		String(pb.FieldVariant, "cpu").
		String(pb.FieldModel, "hf:org/model").
		Int(pb.FieldPort, 8080).
		Struct(pb.FieldOptions, options).
		Proto()

	resp, err := s.StartServer(context.Background(), in)
	require.NoError(t, err)
	require.EqualValues(t, 1234, pb.GetInt(resp, pb.FieldPID))
	require.Equal(t, "hf:org/model", svc.lastStart.Model)
	require.Equal(t, 8080, svc.lastStart.Port)
	require.NotNil(t, svc.lastStart.Options)

	in.Fields[pb.FieldVariant] = structpb.NewStringValue("cpu_arm")

	_, err = s.StartServer(context.Background(), in)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

// TestServer_StopServerAlwaysSucceeds verifies StopServer is OK without a running server.
func TestServer_StopServerAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := NewServer(svc)

	for range 2 {
		_, err := s.StopServer(context.Background(), request(pb.FieldServer, "ollama"))
		require.NoError(t, err)
	}

	require.Equal(t, []backend.Kind{backend.KindOllama, backend.KindOllama}, svc.stopped)
}

// TestServer_StreamLogs forwards lines of the requested kind until cancellation.
func TestServer_StreamLogs(t *testing.T) {
	t.Parallel()

	broker := events.NewBroker(8)
	s := NewServer(&fakeService{broker: broker})

	ctx, cancel := context.WithCancel(context.Background())
	stream := newFakeStream(ctx)
	done := make(chan error, 1)

	go func() {
		done <- s.StreamLogs(request(pb.FieldServer, "llama-cpp"), stream)
	}()

	// Publish until the subscription is registered.
	var first *structpb.Struct

	require.Eventually(t, func() bool {
		broker.Publish(events.NewLogLine(backend.LogLineEvent{Server: backend.KindOllama, Line: "other"}))
		broker.Publish(events.NewLogLine(backend.LogLineEvent{
			Server: backend.KindLlamaCpp,
			Stream: backend.StreamStderr,
			Line:   "main: server is listening",
		}))

		select {
		case first = <-stream.sent:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "main: server is listening", pb.GetString(first, pb.FieldLine))
	require.Equal(t, "stderr", pb.GetString(first, pb.FieldStream))

	cancel()
	require.NoError(t, <-done)
}

// TestServer_GetStatusAndUsage checks status and usage conversion.
func TestServer_GetStatusAndUsage(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	s := NewServer(svc)

	resp, err := s.GetStatus(context.Background(), request(pb.FieldServer, "llama-cpp"))
	require.NoError(t, err)
	require.Equal(t, "running", pb.GetString(resp, pb.FieldState))
	require.EqualValues(t, 42, pb.GetInt(resp, pb.FieldPID))

	sessions := pb.GetList(resp, pb.FieldSessions)
	require.Len(t, sessions, 1)
	require.Equal(t, "failed", pb.GetString(sessions[0], pb.FieldPhase))
	require.Equal(t, "HTTP error: 404 Not Found", pb.GetString(sessions[0], pb.FieldError))

	usage, err := s.GetSystemUsage(context.Background(), nil)
	require.NoError(t, err)
	require.InDelta(t, 12.5, pb.GetFloat(usage, pb.FieldCPUPercent), 0.001)
	require.EqualValues(t, 4096, pb.GetInt(usage, pb.FieldMemTotal))

	svc.usageErr = sysmon.ErrUnsupported

	_, err = s.GetSystemUsage(context.Background(), nil)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}
