package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/oshokin/inference-runtime/internal/logger"
	"github.com/oshokin/inference-runtime/internal/service/common"
)

// unaryAudit logs every unary call with its actor, code and duration.
func unaryAudit(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	ctx = logger.WithKV(ctx, "method", info.FullMethod, "actor", common.ActorFromContext(ctx))
	started := time.Now()

	resp, err := handler(ctx, req)
	logCall(ctx, started, err)

	return resp, err
}

// streamAudit logs every streaming call once it ends.
func streamAudit(
	srv any,
	stream grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	ctx := logger.WithKV(stream.Context(), "method", info.FullMethod, "actor", common.ActorFromContext(stream.Context()))
	started := time.Now()

	err := handler(srv, stream)
	logCall(ctx, started, err)

	return err
}

// logCall writes the audit line.
func logCall(ctx context.Context, started time.Time, err error) {
	code := status.Code(err)
	elapsed := time.Since(started)

	if err != nil {
		logger.WarnKV(ctx, "RPC failed", "code", code.String(), "duration", elapsed, "error", err)

		return
	}

	logger.DebugKV(ctx, "RPC completed", "code", code.String(), "duration", elapsed)
}
