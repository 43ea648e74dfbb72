package download

import "time"

const (
	// DefaultMaxAttempts is the total number of transfer attempts.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the pause between attempts.
	DefaultBackoff = 2 * time.Second
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 20 * time.Second
	// DefaultAttemptTimeout bounds one attempt from request to last byte.
	DefaultAttemptTimeout = 10 * time.Minute
	// DefaultKeepAlive is the TCP keep-alive period and idle connection lifetime.
	DefaultKeepAlive = 30 * time.Second
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "Mozilla/5.0"
	// DefaultProgressInterval is the minimum time between progress callbacks.
	DefaultProgressInterval = 30 * time.Millisecond
	// DefaultProgressBytes forces a progress callback after this much new data.
	DefaultProgressBytes = 8 << 20
	// maxRedirects caps redirect chains of release hosts.
	maxRedirects = 10
	// copyBufferSize is the read chunk of the transfer loop.
	copyBufferSize = 64 << 10
)

// Options tunes the engine. Zero fields take their defaults.
type Options struct {
	// MaxAttempts is the total number of attempts per Fetch.
	MaxAttempts int
	// Backoff is the pause between attempts.
	Backoff time.Duration
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// AttemptTimeout bounds a whole attempt.
	AttemptTimeout time.Duration
	// KeepAlive is the TCP keep-alive period.
	KeepAlive time.Duration
	// UserAgent is the request User-Agent header.
	UserAgent string
	// ProgressInterval is the minimum time between progress callbacks.
	ProgressInterval time.Duration
	// ProgressBytes forces a callback after this many new bytes.
	ProgressBytes int64
}

// withDefaults returns a copy of o with zero fields filled in.
func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}

	if o.Backoff < 0 {
		o.Backoff = 0
	} else if o.Backoff == 0 {
		o.Backoff = DefaultBackoff
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}

	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}

	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}

	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}

	if o.ProgressBytes <= 0 {
		o.ProgressBytes = DefaultProgressBytes
	}

	return o
}

// Progress is a snapshot of a running transfer.
type Progress struct {
	// Downloaded is the number of bytes on disk.
	Downloaded int64
	// Total is the declared size, zero when the server did not declare one.
	Total int64
	// Done is set on the single completion callback of a successful Fetch.
	Done bool
}

// FetchOption configures one Fetch call.
type FetchOption func(*fetchConfig)

// fetchConfig collects per-call settings.
type fetchConfig struct {
	onProgress func(Progress)
	onAttempt  func(attempt int)
	label      string
}

// WithProgress registers a throttled progress callback.
func WithProgress(fn func(Progress)) FetchOption {
	return func(c *fetchConfig) {
		if fn != nil {
			c.onProgress = fn
		}
	}
}

// WithAttemptHook registers a callback invoked before every attempt with its 1-based number.
func WithAttemptHook(fn func(attempt int)) FetchOption {
	return func(c *fetchConfig) {
		if fn != nil {
			c.onAttempt = fn
		}
	}
}

// WithLabel sets the metrics label of the transfer, usually the server kind.
func WithLabel(label string) FetchOption {
	return func(c *fetchConfig) {
		c.label = label
	}
}

// Hooks are the callbacks selected by a set of FetchOptions.
type Hooks struct {
	// OnProgress receives transfer snapshots.
	OnProgress func(Progress)
	// OnAttempt receives the 1-based attempt number.
	OnAttempt func(attempt int)
	// Label is the metrics label.
	Label string
}

// CollectHooks applies options over no-op callbacks. Fetchers other than
// Engine use it to honour the same options.
func CollectHooks(options ...FetchOption) Hooks {
	cfg := newFetchConfig(options)

	return Hooks{OnProgress: cfg.onProgress, OnAttempt: cfg.onAttempt, Label: cfg.label}
}

// newFetchConfig applies options over the defaults.
func newFetchConfig(options []FetchOption) fetchConfig {
	cfg := fetchConfig{
		onProgress: func(Progress) {},
		onAttempt:  func(int) {},
		label:      "unknown",
	}

	for _, opt := range options {
		opt(&cfg)
	}

	return cfg
}
