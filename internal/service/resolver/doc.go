// Package resolver maps a server kind, host platform and variant to the
// download URL of the matching release asset. It performs no I/O.
package resolver
