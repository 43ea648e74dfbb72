// Package client implements the runtimectl actions.
//
// Each action connects to the runtime daemon, performs one RPC and prints
// a human readable result.
package client
