// Package download transfers a release asset to a local file with
// resumption of partial files, a bounded retry budget and throttled
// progress reporting.
//
// The engine keeps no locks: one caller owns a destination path at a time.
package download
