// Package common holds helpers shared by several services.
//
// It provides a lightweight gRPC client wrapper for the runtime daemon with
// call timeouts, and utilities to detect and transport the calling actor
// (username@hostname) for audit logs.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
