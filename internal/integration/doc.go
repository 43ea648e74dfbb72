// Package integration holds end-to-end tests that run runtimed in-process
// and talk to it over gRPC.
package integration
