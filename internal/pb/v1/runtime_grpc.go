package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "runtime.v1.RuntimeService"

// Full method names.
const (
	FullMethodResolveAssetURL = "/" + ServiceName + "/ResolveAssetURL"
	FullMethodStartInstall    = "/" + ServiceName + "/StartInstall"
	FullMethodIsInstalled     = "/" + ServiceName + "/IsInstalled"
	FullMethodStartServer     = "/" + ServiceName + "/StartServer"
	FullMethodStopServer      = "/" + ServiceName + "/StopServer"
	FullMethodStreamLogs      = "/" + ServiceName + "/StreamLogs"
	FullMethodGetStatus       = "/" + ServiceName + "/GetStatus"
	FullMethodGetSystemUsage  = "/" + ServiceName + "/GetSystemUsage"
)

// Stream indexes into RuntimeServiceDesc.Streams.
const (
	streamStartInstall = iota
	streamStreamLogs
)

// RuntimeServiceClient is the client API of RuntimeService.
type RuntimeServiceClient interface {
	ResolveAssetURL(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	StartInstall(
		ctx context.Context,
		in *structpb.Struct,
		opts ...grpc.CallOption,
	) (grpc.ServerStreamingClient[structpb.Struct], error)
	IsInstalled(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	StartServer(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	StopServer(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	StreamLogs(
		ctx context.Context,
		in *structpb.Struct,
		opts ...grpc.CallOption,
	) (grpc.ServerStreamingClient[structpb.Struct], error)
	GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetSystemUsage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// runtimeServiceClient calls RuntimeService over a connection.
type runtimeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRuntimeServiceClient returns a client using cc.
func NewRuntimeServiceClient(cc grpc.ClientConnInterface) RuntimeServiceClient {
	return &runtimeServiceClient{cc: cc}
}

// unary invokes a unary method.
func (c *runtimeServiceClient) unary(
	ctx context.Context,
	method string,
	in *structpb.Struct,
	opts []grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)

	callOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}

	return out, nil
}

// serverStream opens a server streaming method and sends its single request.
func (c *runtimeServiceClient) serverStream(
	ctx context.Context,
	index int,
	method string,
	in *structpb.Struct,
	opts []grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	callOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)

	stream, err := c.cc.NewStream(ctx, &RuntimeServiceDesc.Streams[index], method, callOpts...)
	if err != nil {
		return nil, err
	}

	client := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}

	if err = client.SendMsg(in); err != nil {
		return nil, err
	}

	if err = client.CloseSend(); err != nil {
		return nil, err
	}

	return client, nil
}

// ResolveAssetURL implements RuntimeServiceClient.
func (c *runtimeServiceClient) ResolveAssetURL(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return c.unary(ctx, FullMethodResolveAssetURL, in, opts)
}

// StartInstall implements RuntimeServiceClient.
func (c *runtimeServiceClient) StartInstall(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return c.serverStream(ctx, streamStartInstall, FullMethodStartInstall, in, opts)
}

// IsInstalled implements RuntimeServiceClient.
func (c *runtimeServiceClient) IsInstalled(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return c.unary(ctx, FullMethodIsInstalled, in, opts)
}

// StartServer implements RuntimeServiceClient.
func (c *runtimeServiceClient) StartServer(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return c.unary(ctx, FullMethodStartServer, in, opts)
}

// StopServer implements RuntimeServiceClient.
func (c *runtimeServiceClient) StopServer(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return c.unary(ctx, FullMethodStopServer, in, opts)
}

// StreamLogs implements RuntimeServiceClient.
func (c *runtimeServiceClient) StreamLogs(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return c.serverStream(ctx, streamStreamLogs, FullMethodStreamLogs, in, opts)
}

// GetStatus implements RuntimeServiceClient.
func (c *runtimeServiceClient) GetStatus(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return c.unary(ctx, FullMethodGetStatus, in, opts)
}

// GetSystemUsage implements RuntimeServiceClient.
func (c *runtimeServiceClient) GetSystemUsage(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return c.unary(ctx, FullMethodGetSystemUsage, in, opts)
}

// RuntimeServiceServer is the server API of RuntimeService.
// Implementations must embed UnimplementedRuntimeServiceServer.
type RuntimeServiceServer interface {
	ResolveAssetURL(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	StartInstall(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
	IsInstalled(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	StartServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	StopServer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	StreamLogs(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
	GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetSystemUsage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	mustEmbedUnimplementedRuntimeServiceServer()
}

// UnimplementedRuntimeServiceServer answers every method with codes.Unimplemented.
type UnimplementedRuntimeServiceServer struct{}

// ResolveAssetURL implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) ResolveAssetURL(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ResolveAssetURL not implemented")
}

// StartInstall implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) StartInstall(
	*structpb.Struct,
	grpc.ServerStreamingServer[structpb.Struct],
) error {
	return status.Error(codes.Unimplemented, "method StartInstall not implemented")
}

// IsInstalled implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) IsInstalled(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method IsInstalled not implemented")
}

// StartServer implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) StartServer(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method StartServer not implemented")
}

// StopServer implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) StopServer(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method StopServer not implemented")
}

// StreamLogs implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) StreamLogs(
	*structpb.Struct,
	grpc.ServerStreamingServer[structpb.Struct],
) error {
	return status.Error(codes.Unimplemented, "method StreamLogs not implemented")
}

// GetStatus implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

// GetSystemUsage implements RuntimeServiceServer.
func (UnimplementedRuntimeServiceServer) GetSystemUsage(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSystemUsage not implemented")
}

func (UnimplementedRuntimeServiceServer) mustEmbedUnimplementedRuntimeServiceServer() {}

// RegisterRuntimeServiceServer registers srv on s.
func RegisterRuntimeServiceServer(s grpc.ServiceRegistrar, srv RuntimeServiceServer) {
	s.RegisterService(&RuntimeServiceDesc, srv)
}

// unaryHandler adapts a unary server method to a grpc.MethodDesc handler.
func unaryHandler(
	fullMethod string,
	call func(srv RuntimeServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(RuntimeServiceServer) //nolint:errcheck // HandlerType guarantees the interface.

		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			msg, _ := req.(*structpb.Struct) //nolint:errcheck // Decoded above.

			return call(server, ctx, msg)
		}

		return interceptor(ctx, in, info, handler)
	}
}

// streamHandler adapts a server streaming method to a grpc.StreamDesc handler.
func streamHandler(
	call func(srv RuntimeServiceServer, in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error,
) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}

		server, _ := srv.(RuntimeServiceServer) //nolint:errcheck // HandlerType guarantees the interface.

		return call(server, in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
	}
}

// RuntimeServiceDesc describes RuntimeService for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are static tables.
var RuntimeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuntimeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ResolveAssetURL",
			Handler:    unaryHandler(FullMethodResolveAssetURL, RuntimeServiceServer.ResolveAssetURL),
		},
		{
			MethodName: "IsInstalled",
			Handler:    unaryHandler(FullMethodIsInstalled, RuntimeServiceServer.IsInstalled),
		},
		{
			MethodName: "StartServer",
			Handler:    unaryHandler(FullMethodStartServer, RuntimeServiceServer.StartServer),
		},
		{
			MethodName: "StopServer",
			Handler:    unaryHandler(FullMethodStopServer, RuntimeServiceServer.StopServer),
		},
		{
			MethodName: "GetStatus",
			Handler:    unaryHandler(FullMethodGetStatus, RuntimeServiceServer.GetStatus),
		},
		{
			MethodName: "GetSystemUsage",
			Handler:    unaryHandler(FullMethodGetSystemUsage, RuntimeServiceServer.GetSystemUsage),
		},
	},
	Streams: []grpc.StreamDesc{
		streamStartInstall: {
			StreamName:    "StartInstall",
			Handler:       streamHandler(RuntimeServiceServer.StartInstall),
			ServerStreams: true,
		},
		streamStreamLogs: {
			StreamName:    "StreamLogs",
			Handler:       streamHandler(RuntimeServiceServer.StreamLogs),
			ServerStreams: true,
		},
	},
	Metadata: "runtime/v1/runtime.proto",
}
