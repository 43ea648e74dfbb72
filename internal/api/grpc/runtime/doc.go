// Package runtime implements the gRPC transport for the runtime service.
//
// It converts Struct messages to domain requests, calls into a provided
// business-service interface and maps domain errors to status codes.
package runtime
