package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
	"github.com/oshokin/inference-runtime/internal/metrics"
)

const (
	// partialFilePermissions is the mode of partial download files.
	partialFilePermissions = 0o644
	// dirPermissions is the mode of created parent directories.
	dirPermissions = 0o755
)

var (
	// errEmptyURL is returned when Fetch is called without a source.
	errEmptyURL = errors.New("download URL must be provided")
	// errEmptyDestination is returned when Fetch is called without a target file.
	errEmptyDestination = errors.New("download destination must be provided")
	// errTooManyRedirects stops redirect loops.
	errTooManyRedirects = errors.New("stopped after too many redirects")
	// errRangeMismatch is returned when a partial response starts past the local file.
	errRangeMismatch = errors.New("partial content starts beyond the local file")
)

// Engine downloads files over HTTP with resume and retry.
type Engine struct {
	client *http.Client
	opts   Options
	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an Engine with its own keep-alive transport.
func New(opts Options) *Engine {
	opts = opts.withDefaults()

	//nolint:exhaustruct // Remaining dialer fields keep net defaults.
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: opts.KeepAlive,
	}

	//nolint:exhaustruct // Remaining transport fields keep net/http defaults.
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		IdleConnTimeout:     opts.KeepAlive,
		MaxIdleConnsPerHost: 1,
		ForceAttemptHTTP2:   true,
	}

	//nolint:exhaustruct // Timeouts are applied per attempt through the request context.
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}

			return nil
		},
	}

	return &Engine{
		client: client,
		opts:   opts,
		sleep:  sleepContext,
	}
}

// Options returns the effective engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// transfer is the state of one attempt.
type transfer struct {
	downloaded int64
	total      int64
}

// Fetch downloads url into destination, resuming a non-empty partial file.
// It retries network, status and size failures up to the attempt budget and
// then returns the last attempt's error unchanged. Filesystem failures on the
// destination are returned immediately.
func (e *Engine) Fetch(ctx context.Context, url, destination string, options ...FetchOption) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", errEmptyURL
	}

	if strings.TrimSpace(destination) == "" {
		return "", errEmptyDestination
	}

	cfg := newFetchConfig(options)

	destination = filepath.Clean(destination)
	if err := os.MkdirAll(filepath.Dir(destination), dirPermissions); err != nil {
		return "", backend.NewIOError("create directory", filepath.Dir(destination), err)
	}

	var lastErr error

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		cfg.onAttempt(attempt)

		state, err := e.attempt(ctx, url, destination, &cfg)
		metrics.ObserveDownloadAttempt(cfg.label, err)

		if err == nil {
			cfg.onProgress(Progress{Downloaded: state.downloaded, Total: state.total, Done: true})

			return destination, nil
		}

		lastErr = err

		if ctx.Err() != nil || !backend.IsRetryable(err) {
			return "", err
		}

		logger.WarnKV(ctx, "Download attempt failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", e.opts.MaxAttempts,
			"error", err)

		if attempt == e.opts.MaxAttempts {
			break
		}

		if err = e.sleep(ctx, e.opts.Backoff); err != nil {
			return "", lastErr
		}
	}

	return "", lastErr
}

// attempt performs one ranged or full GET into destination.
func (e *Engine) attempt(ctx context.Context, url, destination string, cfg *fetchConfig) (transfer, error) {
	var state transfer

	existing, err := partialSize(destination)
	if err != nil {
		return state, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return state, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", e.opts.UserAgent)

	if existing > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(existing, 10)+"-")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return state, &backend.NetworkError{Op: "request", Err: err}
	}

	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Body is fully consumed or abandoned.
	}()

	var file *os.File

	switch code := resp.StatusCode; {
	case code == http.StatusPartialContent:
		start, total := parseContentRange(resp.Header.Get("Content-Range"))
		if start > existing {
			_ = os.Remove(destination) //nolint:errcheck // Restart from zero next attempt.

			return state, &backend.NetworkError{Op: "read", Err: errRangeMismatch}
		}

		if start < 0 {
			start = existing
		}

		if total <= 0 && resp.ContentLength > 0 {
			total = start + resp.ContentLength
		}

		file, err = openAt(destination, start)
		state = transfer{downloaded: start, total: total}
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		// Any other success ignores the range and restarts from zero.
		file, err = openAt(destination, 0)
		state = transfer{downloaded: 0, total: max(resp.ContentLength, 0)}
	case code == http.StatusRequestedRangeNotSatisfiable:
		if _, total := parseContentRange(resp.Header.Get("Content-Range")); existing > 0 && total == existing {
			return transfer{downloaded: existing, total: total}, nil
		}

		_ = os.Remove(destination) //nolint:errcheck // Restart from zero next attempt.

		return state, &backend.HTTPStatusError{StatusCode: resp.StatusCode}
	default:
		return state, &backend.HTTPStatusError{StatusCode: resp.StatusCode}
	}

	if err != nil {
		return state, err
	}

	copyErr := e.copyBody(resp.Body, file, &state, cfg)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		return state, copyErr
	case closeErr != nil:
		return state, &backend.NetworkError{Op: "write", Err: closeErr}
	case state.total > 0 && state.downloaded < state.total:
		return state, &backend.SizeMismatchError{Downloaded: state.downloaded, Expected: state.total}
	default:
		return state, nil
	}
}

// copyBody streams body into file, reporting throttled progress.
func (e *Engine) copyBody(body io.Reader, file *os.File, state *transfer, cfg *fetchConfig) error {
	var (
		buf           = make([]byte, copyBufferSize)
		lastEmit      = time.Now()
		lastEmitBytes = state.downloaded
	)

	cfg.onProgress(Progress{Downloaded: state.downloaded, Total: state.total})

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return &backend.NetworkError{Op: "write", Err: err}
			}

			state.downloaded += int64(n)
			metrics.AddDownloadedBytes(cfg.label, n)

			if time.Since(lastEmit) >= e.opts.ProgressInterval || state.downloaded-lastEmitBytes >= e.opts.ProgressBytes {
				cfg.onProgress(Progress{Downloaded: state.downloaded, Total: state.total})
				lastEmit = time.Now()
				lastEmitBytes = state.downloaded
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}

		if readErr != nil {
			return &backend.NetworkError{Op: "read", Err: readErr}
		}
	}
}

// partialSize returns the size of an existing partial file, zero when absent.
func partialSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, backend.NewIOError("stat", path, err)
	}

	if info.IsDir() {
		return 0, backend.NewIOError("stat", path, errors.New("destination is a directory"))
	}

	return info.Size(), nil
}

// openAt opens path for writing, truncated to offset and positioned at its end.
func openAt(path string, offset int64) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, partialFilePermissions)
	if err != nil {
		return nil, backend.NewIOError("open", path, err)
	}

	if err = file.Truncate(offset); err != nil {
		_ = file.Close() //nolint:errcheck // Truncate error wins.

		return nil, backend.NewIOError("truncate", path, err)
	}

	if _, err = file.Seek(offset, io.SeekStart); err != nil {
		_ = file.Close() //nolint:errcheck // Seek error wins.

		return nil, backend.NewIOError("seek", path, err)
	}

	return file, nil
}

// parseContentRange extracts the start offset and total size from a
// Content-Range header ("bytes a-b/total" or "bytes */total").
// Unknown parts are returned as -1 and 0.
func parseContentRange(header string) (start, total int64) {
	start = -1

	value, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return start, 0
	}

	rng, size, ok := strings.Cut(value, "/")
	if !ok {
		return start, 0
	}

	if parsed, err := strconv.ParseInt(strings.TrimSpace(size), 10, 64); err == nil {
		total = parsed
	}

	if first, _, found := strings.Cut(rng, "-"); found {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64); err == nil {
			start = parsed
		}
	}

	return start, total
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
