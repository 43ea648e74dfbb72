// Package metrics declares the Prometheus collectors of the runtime manager
// and small helpers used by the download engine, the installer and the
// process supervisor. Collectors are registered with the default registry
// and served by the daemon on its metrics address.
package metrics
