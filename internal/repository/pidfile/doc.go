// Package pidfile persists the last known process id of each server kind.
//
// A record is a plain text file holding only the decimal pid. It is the sole
// source of truth for whether a server is running and survives restarts of
// the manager, so a later stop can terminate a server started earlier.
package pidfile
