// Package version exposes build metadata for runtimed and runtimectl.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags and default to development values.
package version
