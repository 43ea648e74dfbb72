// Package logger wraps zap with a global console logger, an optional
// rotating file sink and context helpers (FromContext, WithName,
// WithKV).
//
// Services take a context and log through it, so named scopes and key-value
// pairs added by callers show up in every message below them.
package logger
