//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/inference-runtime/internal/config"
	pb "github.com/oshokin/inference-runtime/internal/pb/v1"
)

// Client wraps the gRPC RuntimeService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// api is the RuntimeService client interface.
	api pb.RuntimeServiceClient

	// callTimeout is the default timeout for unary RPC calls.
	callTimeout time.Duration
	// actor is sent with every call for audit logs.
	actor string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor sets the user@host sent with every call.
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errInstallIncomplete is returned when a progress stream ends without the final message.
	errInstallIncomplete = errors.New("install stream ended before completion")
)

// Progress is one install progress update.
type Progress struct {
	// Percent is the composite progress, 0..100.
	Percent int
	// Message is a human readable status line.
	Message string
	// Phase is "download" or "extract".
	Phase string
}

// LogLine is one line of server output.
type LogLine struct {
	// Line is the text.
	Line string
	// Stream is "stdout" or "stderr".
	Stream string
}

// StartParams describes a server launch.
type StartParams struct {
	// Server is the server kind.
	Server string
	// Variant is the installed variant.
	Variant string
	// Model is a local path or an "hf:" reference.
	Model string
	// Port is the loopback port.
	Port int
	// Options adds launch flags and environment variables.
	Options *structpb.Struct
}

// Session is the state of one install session.
type Session struct {
	Variant     string
	URL         string
	Phase       string
	TotalSize   int64
	Transferred int64
	Attempts    int
	Error       string
}

// ServerStatus is the daemon view of a server kind.
type ServerStatus struct {
	Server    string
	State     string
	PID       int
	Variant   string
	Port      int
	StartedAt time.Time
	Sessions  []Session
}

// Usage is a host usage snapshot.
type Usage struct {
	CPUPercent    float64
	MemUsedBytes  int64
	MemTotalBytes int64
}

// Dial establishes a gRPC connection to the runtime daemon.
// Note: this uses insecure transport credentials; the daemon listens on
// loopback by default.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial runtime server: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         pb.NewRuntimeServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// ResolveAssetURL returns the asset URL and format for an explicit platform.
func (c *Client) ResolveAssetURL(ctx context.Context, server, hostOS, arch, variant, tag string) (string, string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req := pb.NewMessage().
		String(pb.FieldServer, server).
		String(pb.FieldOS, hostOS).
		String(pb.FieldArch, arch).
		String(pb.FieldVariant, variant)
	if tag != "" {
		req.String(pb.FieldTag, tag)
	}

	resp, err := c.api.ResolveAssetURL(callCtx, req.Proto())
	if err != nil {
		return "", "", fmt.Errorf("resolve asset url: %w", err)
	}

	return pb.GetString(resp, pb.FieldURL), pb.GetString(resp, pb.FieldFormat), nil
}

// StartInstall runs an install and calls onProgress for every update.
// It returns the install directory. Only ctx bounds the call.
func (c *Client) StartInstall(
	ctx context.Context,
	server, variant, osOverride string,
	onProgress func(Progress),
) (string, error) {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	req := pb.NewMessage().String(pb.FieldServer, server).String(pb.FieldVariant, variant)
	if osOverride != "" {
		req.String(pb.FieldOS, osOverride)
	}

	stream, err := c.api.StartInstall(c.withActor(ctx), req.Proto())
	if err != nil {
		return "", fmt.Errorf("start install: %w", err)
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", errInstallIncomplete
		}

		if err != nil {
			return "", fmt.Errorf("start install: %w", err)
		}

		if pb.GetBool(msg, pb.FieldDone) {
			return pb.GetString(msg, pb.FieldPath), nil
		}

		onProgress(Progress{
			Percent: int(pb.GetInt(msg, pb.FieldProgress)),
			Message: pb.GetString(msg, pb.FieldMessage),
			Phase:   pb.GetString(msg, pb.FieldPhase),
		})
	}
}

// IsInstalled reports whether the variant is installed.
func (c *Client) IsInstalled(ctx context.Context, server, variant string) (bool, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.IsInstalled(callCtx,
		pb.NewMessage().String(pb.FieldServer, server).String(pb.FieldVariant, variant).Proto())
	if err != nil {
		return false, fmt.Errorf("is installed: %w", err)
	}

	return pb.GetBool(resp, pb.FieldInstalled), nil
}

// StartServer launches a server and returns its pid.
func (c *Client) StartServer(ctx context.Context, params StartParams) (int, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req := pb.NewMessage().
		String(pb.FieldServer, params.Server).
		String(pb.FieldVariant, params.Variant).
		String(pb.FieldModel, params.Model).
		Int(pb.FieldPort, int64(params.Port)).
		Struct(pb.FieldOptions, params.Options)

	resp, err := c.api.StartServer(callCtx, req.Proto())
	if err != nil {
		return 0, fmt.Errorf("start server: %w", err)
	}

	return int(pb.GetInt(resp, pb.FieldPID)), nil
}

// StopServer stops a server; it succeeds when none is running.
func (c *Client) StopServer(ctx context.Context, server string) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.StopServer(callCtx, pb.NewMessage().String(pb.FieldServer, server).Proto()); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	return nil
}

// StreamLogs calls onLine for every log line until ctx is done or the daemon closes the stream.
func (c *Client) StreamLogs(ctx context.Context, server string, onLine func(LogLine)) error {
	stream, err := c.api.StreamLogs(c.withActor(ctx), pb.NewMessage().String(pb.FieldServer, server).Proto())
	if err != nil {
		return fmt.Errorf("stream logs: %w", err)
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}

		if err != nil {
			return fmt.Errorf("stream logs: %w", err)
		}

		onLine(LogLine{Line: pb.GetString(msg, pb.FieldLine), Stream: pb.GetString(msg, pb.FieldStream)})
	}
}

// GetStatus returns the process state and install sessions of a server kind.
func (c *Client) GetStatus(ctx context.Context, server string) (*ServerStatus, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.GetStatus(callCtx, pb.NewMessage().String(pb.FieldServer, server).Proto())
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	status := &ServerStatus{
		Server:  pb.GetString(resp, pb.FieldServer),
		State:   pb.GetString(resp, pb.FieldState),
		PID:     int(pb.GetInt(resp, pb.FieldPID)),
		Variant: pb.GetString(resp, pb.FieldVariant),
		Port:    int(pb.GetInt(resp, pb.FieldPort)),
	}

	if started := pb.GetInt(resp, pb.FieldStartedAt); started > 0 {
		status.StartedAt = time.Unix(started, 0)
	}

	for _, item := range pb.GetList(resp, pb.FieldSessions) {
		status.Sessions = append(status.Sessions, Session{
			Variant:     pb.GetString(item, pb.FieldVariant),
			URL:         pb.GetString(item, pb.FieldURL),
			Phase:       pb.GetString(item, pb.FieldPhase),
			TotalSize:   pb.GetInt(item, pb.FieldTotalSize),
			Transferred: pb.GetInt(item, pb.FieldTransferred),
			Attempts:    int(pb.GetInt(item, pb.FieldAttempts)),
			Error:       pb.GetString(item, pb.FieldError),
		})
	}

	return status, nil
}

// GetSystemUsage returns the daemon host usage.
func (c *Client) GetSystemUsage(ctx context.Context) (*Usage, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.GetSystemUsage(callCtx, pb.NewMessage().Proto())
	if err != nil {
		return nil, fmt.Errorf("get system usage: %w", err)
	}

	return &Usage{
		CPUPercent:    pb.GetFloat(resp, pb.FieldCPUPercent),
		MemUsedBytes:  pb.GetInt(resp, pb.FieldMemUsed),
		MemTotalBytes: pb.GetInt(resp, pb.FieldMemTotal),
	}, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = c.withActor(ctx)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// withActor attaches the actor metadata when one is set.
func (c *Client) withActor(ctx context.Context) context.Context {
	if c.actor == "" {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, ActorMetadataKey, c.actor)
}
