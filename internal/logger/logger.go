package logger

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// global is the shared logger used by every package of the runtime manager.
	//nolint:gochecknoglobals // The daemon and the CLI share one logger.
	global *zap.SugaredLogger
	// defaultLevel is the atomic level shared by all cores built by New.
	//nolint:gochecknoglobals // Level changes must reach every core at once.
	defaultLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() { //nolint:gochecknoinits // Packages log before the CLI applies its flags.
	setLogger(New(defaultLevel))
}

// FileSink describes a rotating log file written next to the console output.
type FileSink struct {
	// Path is the log file location. Empty disables the sink.
	Path string
	// MaxSizeMB is the size that triggers a rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept on disk.
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int
}

// New creates a *zap.SugaredLogger writing to stdout in console format.
// When sinks are given, every non-empty one is teed with the console core.
func New(level zapcore.LevelEnabler, sinks ...FileSink) *zap.SugaredLogger {
	if level == nil {
		level = defaultLevel
	}

	encoder := newEncoder()
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	for _, sink := range sinks {
		if sink.Path == "" {
			continue
		}

		//nolint:exhaustruct // Compression and local time keep lumberjack defaults.
		writer := &lumberjack.Logger{
			Filename:   sink.Path,
			MaxSize:    sink.MaxSizeMB,
			MaxBackups: sink.MaxBackups,
			MaxAge:     sink.MaxAgeDays,
		}

		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...)).Sugar()
}

// newEncoder returns the console encoder shared by stdout and file cores.
//
//nolint:ireturn // zapcore.Encoder is the type zap expects.
func newEncoder() zapcore.Encoder {
	//nolint:exhaustruct // Name and function keys are intentionally omitted.
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		TimeKey:          "time",
		CallerKey:        "caller",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: ", ",
	})
}

// ParseLogLevel converts string input to zap log level.
func ParseLogLevel(s string) (zapcore.Level, bool) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel, false
	}

	return level, true
}

// setLogger replaces the global logger.
// This function is not thread-safe.
func setLogger(l *zap.SugaredLogger) {
	global = l
}

// Configure installs a global logger for the given level name and file sink.
// An unknown level name keeps the info level and is reported as false.
func Configure(levelName string, sink FileSink) bool {
	level, ok := ParseLogLevel(levelName)

	defaultLevel.SetLevel(level)
	setLogger(New(defaultLevel, sink))

	return ok
}

// Debug writes a debug level message using the logger from the context.
func Debug(ctx context.Context, args ...any) {
	FromContext(ctx).Debug(args...)
}

// DebugKV writes a message and key-value pairs
// at the debug level using the logger from the context.
func DebugKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Debugw(message, kvs...)
}

// Info writes an information level message using the logger from the context.
func Info(ctx context.Context, args ...any) {
	FromContext(ctx).Info(args...)
}

// InfoKV writes a message and key-value pairs
// at the information level using the logger from the context.
func InfoKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Infow(message, kvs...)
}

// WarnKV writes a message and key-value pairs
// at the warning level using the logger from the context.
func WarnKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Warnw(message, kvs...)
}

// ErrorKV writes a message and key-value pairs
// at the error level using the logger from the context.
func ErrorKV(ctx context.Context, message string, kvs ...any) {
	FromContext(ctx).Errorw(message, kvs...)
}
