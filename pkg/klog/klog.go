// Package klog wraps github.com/pion/logging behind a leveled-logger
// convention: every subsystem constructor takes a
// logging.LeveledLogger, obtained from a LoggerFactory built by
// NewFactory (kconfig.NewSessionConfig builds a fresh one per call).
package klog

import (
	"github.com/pion/logging"
)

// NewFactory returns a logging.LoggerFactory whose scope levels are all
// set to level, matching pion/logging's NewDefaultLoggerFactory shape but
// driven by our own KASPEAK_LOG_LEVEL parsing (pkg/kconfig) rather than
// pion's own PION_LOG_* environment variables.
func NewFactory(level logging.LogLevel) *logging.DefaultLoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	return f
}

// ForScope is a convenience wrapper over LoggerFactory.NewLogger, used by
// constructors that only need a single named logger (e.g. "session",
// "ingestion", "pipeline").
func ForScope(factory logging.LoggerFactory, scope string) logging.LeveledLogger {
	return factory.NewLogger(scope)
}

// ParseLevel maps the KASPEAK_LOG_LEVEL string values to pion's
// logging.LogLevel enum; unrecognized values fall back to LogLevelWarn.
func ParseLevel(s string) logging.LogLevel {
	switch s {
	case "trace":
		return logging.LogLevelTrace
	case "debug":
		return logging.LogLevelDebug
	case "info":
		return logging.LogLevelInfo
	case "warn", "warning":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	case "disable", "disabled", "off":
		return logging.LogLevelDisabled
	default:
		return logging.LogLevelWarn
	}
}
