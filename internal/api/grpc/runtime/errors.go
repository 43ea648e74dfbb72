package runtime

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/service/supervisor"
	"github.com/oshokin/inference-runtime/internal/service/sysmon"
)

// codeRules maps error categories to status codes, first match wins.
//
//nolint:gochecknoglobals // Static lookup table.
var codeRules = []struct {
	target error
	code   codes.Code
}{
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{backend.ErrUnsupportedPlatform, codes.InvalidArgument},
	{backend.ErrUnsupportedVariant, codes.InvalidArgument},
	{backend.ErrUnknownServer, codes.InvalidArgument},
	{backend.ErrModelNotFound, codes.InvalidArgument},
	{supervisor.ErrInvalidPort, codes.InvalidArgument},
	{supervisor.ErrModelRequired, codes.InvalidArgument},
	{backend.ErrExecutableNotFound, codes.FailedPrecondition},
	{backend.ErrUnsupportedArchitecture, codes.FailedPrecondition},
	{backend.ErrInstallInProgress, codes.AlreadyExists},
	{backend.ErrNetwork, codes.Unavailable},
	{backend.ErrHTTPStatus, codes.Unavailable},
	{backend.ErrSizeMismatch, codes.Unavailable},
	{sysmon.ErrUnsupported, codes.Unimplemented},
}

// toStatus converts a domain error to a gRPC status error carrying its text.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	for _, rule := range codeRules {
		if errors.Is(err, rule.target) {
			return status.Error(rule.code, err.Error())
		}
	}

	return status.Error(codes.Internal, err.Error())
}
