package runtime

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
	pb "github.com/oshokin/inference-runtime/internal/pb/v1"
	"github.com/oshokin/inference-runtime/internal/service/events"
	"github.com/oshokin/inference-runtime/internal/service/install"
	"github.com/oshokin/inference-runtime/internal/service/resolver"
	"github.com/oshokin/inference-runtime/internal/service/supervisor"
	"github.com/oshokin/inference-runtime/internal/service/sysmon"
)

// Status is the combined process and install view of a server kind.
type Status struct {
	// Process is the supervisor view.
	Process backend.ServerProcess
	// Sessions are the latest install sessions per variant.
	Sessions []backend.DownloadSession
}

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	ResolveAsset(ctx context.Context, req resolver.Request) (*resolver.Asset, error)
	Install(ctx context.Context, req install.Request, publisher events.Publisher) (string, error)
	IsInstalled(ctx context.Context, kind backend.Kind, variant backend.Variant) bool
	StartServer(ctx context.Context, req supervisor.StartRequest) (*backend.ServerProcess, error)
	StopServer(ctx context.Context, kind backend.Kind)
	Status(ctx context.Context, kind backend.Kind) Status
	Subscribe(filter events.Filter) (<-chan events.Event, func())
	SystemUsage(ctx context.Context) (sysmon.Usage, error)
}

// Server implements the RuntimeService gRPC API.
type Server struct {
	pb.UnimplementedRuntimeServiceServer

	// service provides the runtime operations.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// ResolveAssetURL returns the release asset URL for an explicit platform.
func (s *Server) ResolveAssetURL(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, variant, err := parseTarget(in)
	if err != nil {
		return nil, err
	}

	req := resolver.Request{Server: kind, Variant: variant, Tag: pb.GetString(in, pb.FieldTag)}

	if req.OS, err = backend.ParseOS(pb.GetString(in, pb.FieldOS)); err != nil {
		return nil, toStatus(err)
	}

	if req.Arch, err = backend.ParseArch(pb.GetString(in, pb.FieldArch)); err != nil {
		return nil, toStatus(err)
	}

	asset, err := s.service.ResolveAsset(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}

	return pb.NewMessage().
		String(pb.FieldURL, asset.URL).
		String(pb.FieldFormat, string(asset.Format)).
		Proto(), nil
}

// StartInstall downloads and unpacks a server, streaming progress until the
// final {done, path} message.
func (s *Server) StartInstall(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	kind, variant, err := parseTarget(in)
	if err != nil {
		return err
	}

	req := install.Request{Server: kind, Variant: variant}

	if name := pb.GetString(in, pb.FieldOS); name != "" {
		if req.OS, err = backend.ParseOS(name); err != nil {
			return toStatus(err)
		}
	}

	ctx := logger.WithKV(stream.Context(), "rpc", "StartInstall", "server", kind, "variant", variant)

	// Sends happen on the publisher goroutine until Install returns.
	var sendErr error

	publisher := events.PublisherFunc(func(ev events.Event) {
		if ev.Progress == nil || sendErr != nil {
			return
		}

		sendErr = stream.Send(progressMessage(ev.Progress))
	})

	path, err := s.service.Install(ctx, req, publisher)
	if err != nil {
		return toStatus(err)
	}

	if sendErr != nil {
		logger.WarnKV(ctx, "Progress stream closed early", "error", sendErr)

		return sendErr
	}

	return stream.Send(pb.NewMessage().
		Bool(pb.FieldDone, true).
		String(pb.FieldPath, path).
		Int(pb.FieldProgress, 100). //nolint:mnd // Terminal percent.
		Proto())
}

// IsInstalled reports whether an executable of the variant is present.
func (s *Server) IsInstalled(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, variant, err := parseTarget(in)
	if err != nil {
		return nil, err
	}

	return pb.NewMessage().Bool(pb.FieldInstalled, s.service.IsInstalled(ctx, kind, variant)).Proto(), nil
}

// StartServer launches a server on a loopback port.
func (s *Server) StartServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, variant, err := parseTarget(in)
	if err != nil {
		return nil, err
	}

	proc, err := s.service.StartServer(ctx, supervisor.StartRequest{
		Server:  kind,
		Variant: variant,
		Model:   pb.GetString(in, pb.FieldModel),
		Port:    int(pb.GetInt(in, pb.FieldPort)),
		Options: pb.GetStruct(in, pb.FieldOptions),
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return pb.NewMessage().
		Int(pb.FieldPID, int64(proc.PID)).
		Int(pb.FieldPort, int64(proc.Port)).
		String(pb.FieldState, string(proc.State)).
		Proto(), nil
}

// StopServer terminates a server. It succeeds whether or not one was running.
func (s *Server) StopServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := parseKind(in)
	if err != nil {
		return nil, err
	}

	s.service.StopServer(ctx, kind)

	return pb.NewMessage().Proto(), nil
}

// StreamLogs forwards log lines of a server kind until the client cancels.
func (s *Server) StreamLogs(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	kind, err := parseKind(in)
	if err != nil {
		return err
	}

	lines, cancel := s.service.Subscribe(events.ChannelFilter(backend.LogChannel(kind)))
	defer cancel()

	ctx := stream.Context()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-lines:
			if !ok {
				return nil
			}

			if ev.Log == nil {
				continue
			}

			msg := pb.NewMessage().
				String(pb.FieldLine, ev.Log.Line).
				String(pb.FieldStream, string(ev.Log.Stream)).
				Proto()

			if err = stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// GetStatus returns the process state and install sessions of a kind.
func (s *Server) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := parseKind(in)
	if err != nil {
		return nil, err
	}

	st := s.service.Status(ctx, kind)

	sessions := make([]*structpb.Struct, 0, len(st.Sessions))
	for _, session := range st.Sessions {
		sessions = append(sessions, sessionMessage(session))
	}

	msg := pb.NewMessage().
		String(pb.FieldServer, string(kind)).
		String(pb.FieldState, string(st.Process.State)).
		Int(pb.FieldPID, int64(st.Process.PID)).
		String(pb.FieldVariant, string(st.Process.Variant)).
		Int(pb.FieldPort, int64(st.Process.Port)).
		List(pb.FieldSessions, sessions)

	if !st.Process.StartedAt.IsZero() {
		msg.Int(pb.FieldStartedAt, st.Process.StartedAt.Unix())
	}

	return msg.Proto(), nil
}

// GetSystemUsage returns the host CPU and memory snapshot.
func (s *Server) GetSystemUsage(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	usage, err := s.service.SystemUsage(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return pb.NewMessage().
		Float(pb.FieldCPUPercent, usage.CPUPercent).
		Int(pb.FieldMemUsed, int64(usage.MemUsedBytes)).   //nolint:gosec // Memory sizes fit in int64.
		Int(pb.FieldMemTotal, int64(usage.MemTotalBytes)). //nolint:gosec // Memory sizes fit in int64.
		Proto(), nil
}

// parseKind reads the server field.
func parseKind(in *structpb.Struct) (backend.Kind, error) {
	if in == nil {
		return "", status.Error(codes.InvalidArgument, "request is required")
	}

	kind, err := backend.ParseKind(pb.GetString(in, pb.FieldServer))
	if err != nil {
		return "", toStatus(err)
	}

	return kind, nil
}

// parseTarget reads the server and variant fields.
func parseTarget(in *structpb.Struct) (backend.Kind, backend.Variant, error) {
	kind, err := parseKind(in)
	if err != nil {
		return "", "", err
	}

	variant, err := backend.ParseVariant(pb.GetString(in, pb.FieldVariant))
	if err != nil {
		return "", "", toStatus(fmt.Errorf("%s: %w", kind, err))
	}

	return kind, variant, nil
}

// progressMessage converts a progress event to its wire form.
func progressMessage(ev *backend.ProgressEvent) *structpb.Struct {
	return pb.NewMessage().
		Int(pb.FieldProgress, int64(ev.Percent)).
		String(pb.FieldMessage, ev.Message).
		String(pb.FieldPhase, string(ev.Phase)).
		Proto()
}

// sessionMessage converts a download session to its wire form.
func sessionMessage(session backend.DownloadSession) *structpb.Struct {
	msg := pb.NewMessage().
		String(pb.FieldVariant, string(session.Variant)).
		String(pb.FieldURL, session.URL).
		String(pb.FieldPhase, string(session.Phase)).
		Int(pb.FieldTotalSize, session.TotalSize).
		Int(pb.FieldTransferred, session.Transferred).
		Int(pb.FieldAttempts, int64(session.Attempts))

	if session.Err != "" {
		msg.String(pb.FieldError, session.Err)
	}

	return msg.Proto()
}
