package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
)

// Config holds the settings shared by runtimed and runtimectl.
type Config struct {
	// ListenAddress is the gRPC address of the daemon.
	ListenAddress string `yaml:"listen_addr"`
	// MetricsAddress is the Prometheus endpoint address; empty disables it.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// DataDir is the root of installs, partial downloads and pid records.
	DataDir string `yaml:"data_dir"`
	// Timeout bounds unary RPC calls of the client.
	Timeout time.Duration `yaml:"timeout"`
	// Download tunes the download engine.
	Download Download `yaml:"download,omitempty"`
	// ReleaseTags pins release tags per server kind.
	ReleaseTags map[string]string `yaml:"release_tags,omitempty"`
	// Log configures the daemon logger.
	Log Log `yaml:"log,omitempty"`
	// ServerOptions holds launch option trees per server kind, with "flags"
	// and "env" objects merged over the launch defaults.
	ServerOptions map[string]map[string]any `yaml:"server_options,omitempty"`
}

// Download tunes the download engine. Zero values take the engine defaults.
type Download struct {
	// Attempts is the total number of attempts per download.
	Attempts int `yaml:"attempts,omitempty"`
	// Backoff is the pause between attempts.
	Backoff time.Duration `yaml:"backoff,omitempty"`
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	// AttemptTimeout bounds one attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`
	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent,omitempty"`
}

// Log configures the logger.
type Log struct {
	// Level is the minimum level name.
	Level string `yaml:"level,omitempty"`
	// File enables a rotating log file when set.
	File string `yaml:"file,omitempty"`
	// MaxSizeMB is the size that triggers rotation.
	MaxSizeMB int `yaml:"max_size_mb,omitempty"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups,omitempty"`
	// MaxAgeDays is the age after which rotated files are removed.
	MaxAgeDays int `yaml:"max_age_days,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "inference-runtime.yaml"

	// DefaultDataDir is the default root of managed files.
	DefaultDataDir = "inference-runtime-data"

	// DefaultTimeout is the default duration for unary RPC calls.
	DefaultTimeout = 30 * time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errListenAddressRequired is returned when the daemon address is missing.
	errListenAddressRequired = errors.New("listen address must be provided")
	// errInvalidLogLevel is returned for unknown level names.
	errInvalidLogLevel = errors.New("invalid log level")
	// errNegativeDownloadSetting is returned for negative download tuning values.
	errNegativeDownloadSetting = errors.New("download settings must not be negative")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting
// and fills in defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ListenAddress == "" {
		return errListenAddressRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	// Set defaults if not specified.
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.DataDir == "" {
		settings.DataDir = DefaultDataDir
	}

	if settings.Log.Level == "" {
		settings.Log.Level = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(settings.Log.Level); !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, settings.Log.Level)
	}

	d := settings.Download
	if d.Attempts < 0 || d.Backoff < 0 || d.ConnectTimeout < 0 || d.AttemptTimeout < 0 {
		return errNegativeDownloadSetting
	}

	for name := range settings.ReleaseTags {
		if _, err := backend.ParseKind(name); err != nil {
			return fmt.Errorf("release_tags: %w", err)
		}
	}

	for name := range settings.ServerOptions {
		if _, err := settings.LaunchOverrides(name); err != nil {
			return err
		}
	}

	return nil
}

// ReleaseTag returns the pinned tag of kind, empty when unset.
func (c *Config) ReleaseTag(kind backend.Kind) string {
	for name, tag := range c.ReleaseTags {
		if parsed, err := backend.ParseKind(name); err == nil && parsed == kind {
			return tag
		}
	}

	return ""
}

// LaunchOverrides converts the option tree configured under name to a Struct.
// It returns nil without error when nothing is configured.
func (c *Config) LaunchOverrides(name string) (*structpb.Struct, error) {
	if _, err := backend.ParseKind(name); err != nil {
		return nil, fmt.Errorf("server_options: %w", err)
	}

	tree, ok := c.ServerOptions[name]
	if !ok || len(tree) == 0 {
		return nil, nil //nolint:nilnil // Absent overrides are not an error.
	}

	s, err := structpb.NewStruct(normalize(tree))
	if err != nil {
		return nil, fmt.Errorf("server_options.%s: %w", name, err)
	}

	return s, nil
}

// normalize converts YAML-decoded maps with interface keys into string-keyed maps.
func normalize(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		out[key] = normalizeValue(value)
	}

	return out
}

// normalizeValue converts one YAML-decoded value.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return normalize(v)
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalizeValue(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}

		return out
	default:
		return v
	}
}
