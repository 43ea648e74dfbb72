// Package install turns a server kind and variant into an unpacked install.
//
// Install resolves the release asset, downloads it through a Fetcher and
// extracts it into the install directory. Progress of both phases is folded
// into one 0..100 scale: the download covers the first half, extraction the
// second. One install session per kind and variant runs at a time.
package install
