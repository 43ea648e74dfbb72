// Package backend holds the domain model of the runtime manager: server
// kinds, build variants, host platforms, the on-disk layout, progress and
// log events, process and download session records, and the error taxonomy
// shared by the resolver, the download engine, the archive installer and the
// process supervisor.
package backend
