// Package options merges parameter trees and renders them as command line
// flags and environment variables.
//
// Trees are google.protobuf.Value documents: objects merge key by key and
// every other value (scalar, list, null) replaces what it overrides.
package options
