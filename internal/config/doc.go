// Package config defines the settings shared by runtimed and runtimectl and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the daemon gRPC address, the data directory,
// download tuning, release tag pins, logging and per-server launch options.
package config
