package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var (
	// ErrUnsupportedPlatform is returned when no asset exists for the host OS or architecture.
	ErrUnsupportedPlatform = errors.New("platform is not supported")
	// ErrUnsupportedVariant is returned when a variant is not offered for the platform.
	ErrUnsupportedVariant = errors.New("invalid variant")
	// ErrUnknownServer is returned for server kinds outside the supported set.
	ErrUnknownServer = errors.New("unknown server")
	// ErrNetwork classifies connection and mid-stream transfer failures.
	ErrNetwork = errors.New("network error")
	// ErrHTTPStatus classifies responses that are neither 200 nor 206.
	ErrHTTPStatus = errors.New("http status error")
	// ErrSizeMismatch classifies transfers that ended short of the declared size.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrArchive classifies unreadable or malformed archives.
	ErrArchive = errors.New("archive error")
	// ErrIO classifies local filesystem failures.
	ErrIO = errors.New("io error")
	// ErrExecutableNotFound is returned when no known executable exists in the install dir.
	ErrExecutableNotFound = errors.New("executable not found")
	// ErrUnsupportedArchitecture is returned when the variant cannot run on the host CPU.
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	// ErrSpawn classifies failures to start the child process.
	ErrSpawn = errors.New("spawn error")
	// ErrStop classifies failures to terminate a process tree. It is only logged.
	ErrStop = errors.New("stop error")
	// ErrModelNotFound is returned when a local model path does not exist.
	ErrModelNotFound = errors.New("model file not found")
	// ErrInstallInProgress is returned when an install for the same kind and variant is running.
	ErrInstallInProgress = errors.New("install already in progress")
)

// NetworkError is a failed request or a failed transfer of the response body.
type NetworkError struct {
	// Op is "request" for connection failures, "read" or "write" for body transfer failures.
	Op string
	// Err is the underlying transport error.
	Err error
}

// Error implements error.
func (e *NetworkError) Error() string {
	switch e.Op {
	case "read":
		return "Data read error: " + e.Err.Error()
	case "write":
		return "Write error: " + e.Err.Error()
	default:
		return "Request error: " + e.Err.Error()
	}
}

// Unwrap exposes both the category and the transport error.
func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// HTTPStatusError is a response status other than 200 or 206.
type HTTPStatusError struct {
	// StatusCode is the received status.
	StatusCode int
}

// Error implements error.
func (e *HTTPStatusError) Error() string {
	return "HTTP error: " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

// Unwrap exposes the category.
func (e *HTTPStatusError) Unwrap() error {
	return ErrHTTPStatus
}

// SizeMismatchError is a transfer that ended before the declared total.
type SizeMismatchError struct {
	// Downloaded is the number of bytes on disk.
	Downloaded int64
	// Expected is the declared total.
	Expected int64
}

// Error implements error.
func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("Downloaded %s of %s, attempting to resume...",
		FormatSize(e.Downloaded), FormatSize(e.Expected))
}

// Unwrap exposes the category.
func (e *SizeMismatchError) Unwrap() error {
	return ErrSizeMismatch
}

// PathError wraps a filesystem, archive, spawn or stop failure with its category.
type PathError struct {
	// Kind is one of ErrIO, ErrArchive, ErrSpawn or ErrStop.
	Kind error
	// Op describes the failed operation.
	Op string
	// Path is the file or executable involved.
	Path string
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

// Unwrap exposes both the category and the underlying error.
func (e *PathError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewIOError wraps a filesystem failure.
func NewIOError(op, path string, err error) error {
	return &PathError{Kind: ErrIO, Op: op, Path: path, Err: err}
}

// NewArchiveError wraps a malformed archive failure.
func NewArchiveError(op, path string, err error) error {
	return &PathError{Kind: ErrArchive, Op: op, Path: path, Err: err}
}

// NewSpawnError wraps a failure to start a child process.
func NewSpawnError(path string, err error) error {
	return &PathError{Kind: ErrSpawn, Op: "start", Path: path, Err: err}
}

// NewStopError wraps a failure to terminate a process tree.
func NewStopError(pid int, err error) error {
	return &PathError{Kind: ErrStop, Op: "kill", Path: "pid " + strconv.Itoa(pid), Err: err}
}

// IsRetryable reports whether a download error may succeed on another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrHTTPStatus) || errors.Is(err, ErrSizeMismatch)
}
