// Package kconfig loads process environment configuration and defines
// the functional-options config structs the session façade accepts: a
// plain struct populated by With* option functions rather than a
// generic options map.
package kconfig

import (
	"os"

	"github.com/pion/logging"

	"github.com/kaspeak/kaspeak-go/pkg/klog"
)

// EnvLogLevel is the environment variable name read by LoadEnv.
const EnvLogLevel = "KASPEAK_LOG_LEVEL"

// Env holds process-wide configuration sourced from the environment.
type Env struct {
	LogLevel logging.LogLevel
}

// LoadEnv reads KASPEAK_LOG_LEVEL (default "warn") and returns the
// resulting Env.
func LoadEnv() Env {
	raw := os.Getenv(EnvLogLevel)
	if raw == "" {
		raw = "warn"
	}
	return Env{LogLevel: klog.ParseLevel(raw)}
}

// SessionConfig configures a session.Session. Zero value is invalid;
// build one with NewSessionConfig and With* options.
type SessionConfig struct {
	Network             string
	PrefixFilterEnabled bool
	VerifySignatures    bool
	DedupCapacity       int
	LoggerFactory       logging.LoggerFactory
}

// SessionOption mutates a SessionConfig during construction.
type SessionOption func(*SessionConfig)

// NewSessionConfig returns a SessionConfig with the protocol defaults:
// signature verification on, default dedup capacity, and a logger
// factory built from the current environment.
func NewSessionConfig(opts ...SessionOption) SessionConfig {
	env := LoadEnv()
	cfg := SessionConfig{
		Network:             "mainnet",
		PrefixFilterEnabled: true,
		VerifySignatures:    true,
		DedupCapacity:       0, // 0 => dedup.DefaultCapacity
		LoggerFactory:       klog.NewFactory(env.LogLevel),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithNetwork overrides the target network name (e.g. "testnet-10").
func WithNetwork(network string) SessionOption {
	return func(c *SessionConfig) { c.Network = network }
}

// WithPrefixFilter toggles the ingestion prefix filter; disabling it
// lets a session observe traffic tagged for other applications.
func WithPrefixFilter(enabled bool) SessionOption {
	return func(c *SessionConfig) { c.PrefixFilterEnabled = enabled }
}

// WithVerifySignatures toggles signature verification during ingestion;
// disabling it is intended for trusted test fixtures only.
func WithVerifySignatures(verify bool) SessionOption {
	return func(c *SessionConfig) { c.VerifySignatures = verify }
}

// WithDedupCapacity overrides the ingestion dedup set's capacity.
func WithDedupCapacity(capacity int) SessionOption {
	return func(c *SessionConfig) { c.DedupCapacity = capacity }
}

// WithLoggerFactory overrides the logger factory, e.g. to inject a
// test-capturing logger.
func WithLoggerFactory(factory logging.LoggerFactory) SessionOption {
	return func(c *SessionConfig) { c.LoggerFactory = factory }
}
