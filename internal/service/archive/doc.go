// Package archive unpacks downloaded release assets into an install
// directory. Zip archives report per-entry progress, gzip-compressed tar
// archives are streamed in a single pass, installer images are placed
// verbatim and unknown payloads are left untouched.
//
// Failures leave whatever was already written in place; a reinstall
// overwrites it.
package archive
