package reqpool

import (
	"crypto/tls"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// defaultUserAgent matches the original engine's default, kept for
// round-trip parity with the retrieved reference implementation's test
// suite (test_http.py asserts on a User-Agent-bearing request).
const defaultUserAgent = "uvhttp/2.0 (+https://github.com/olliebarrick/uvhttp)"

// PoolConfig configures one endpoint's Pool, following the teacher's
// DefaultPoolConfig() constructor pattern (shockwave/pkg/shockwave/client).
type PoolConfig struct {
	// ConnLimit is the capacity N from spec.md §3 — the max live
	// Connections for this (scheme, host, port).
	ConnLimit int

	// DialTimeout bounds opening the underlying transport.
	DialTimeout time.Duration

	// RequestTimeout is carried in the configuration (and loaded from
	// UVHTTP_REQUEST_TIMEOUT_MS), but Pool and Connection do not read it:
	// no read or write deadline is applied to a request's round trip, and
	// only opening the transport is bounded (by DialTimeout).
	RequestTimeout time.Duration

	// KeepAliveIdleTimeout bounds how long a released, unleased Connection
	// may sit idle in the Pool before its background reaper closes the
	// underlying transport (the slot itself is kept, per spec.md §9 — the
	// next lease simply redials). Zero disables idle reaping entirely.
	KeepAliveIdleTimeout time.Duration

	// UserAgent is the default User-Agent header (spec.md §4.3);
	// caller-supplied headers may still override it per request.
	UserAgent string

	// TLSConfig is used for https endpoints. A nil value uses a
	// tls.Config whose only set field is ServerName (the endpoint host):
	// system root CAs, no client certs.
	TLSConfig *tls.Config

	// Logger receives structured diagnostics (pool growth, redials,
	// transport/protocol failures). A nil Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// DefaultPoolConfig returns the engine's defaults, matching spec.md's
// design notes: a lazy-dialing pool with a generous but bounded timeout.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ConnLimit:            10,
		DialTimeout:          10 * time.Second,
		RequestTimeout:       30 * time.Second,
		KeepAliveIdleTimeout: 90 * time.Second,
		UserAgent:            defaultUserAgent,
	}
}

func (c PoolConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// SessionConfig configures a Session: the shared per-endpoint cap plus the
// ambient pieces (logging, TLS, timeouts) every Pool it creates inherits.
type SessionConfig struct {
	// ConnLimit is the per-endpoint connection cap N shared by every Pool
	// the Session owns (spec.md §3 Session data model).
	ConnLimit            int
	DialTimeout          time.Duration
	RequestTimeout       time.Duration
	KeepAliveIdleTimeout time.Duration
	UserAgent            string
	TLSConfig            *tls.Config
	Logger               *zap.Logger
}

// DefaultSessionConfig returns sane defaults for a Session.
func DefaultSessionConfig() SessionConfig {
	d := DefaultPoolConfig()
	return SessionConfig{
		ConnLimit:            d.ConnLimit,
		DialTimeout:          d.DialTimeout,
		RequestTimeout:       d.RequestTimeout,
		KeepAliveIdleTimeout: d.KeepAliveIdleTimeout,
		UserAgent:            d.UserAgent,
	}
}

// NewSessionConfigFromEnv loads a SessionConfig from environment variables,
// falling back to DefaultSessionConfig for anything unset or unparsable.
// This mirrors the small os.Getenv-driven loaders used throughout the
// retrieval pack (e.g. streamnzb/pkg/config, Sergey-Bar-Alfred's gateway
// config) rather than pulling in a configuration-file library for four
// scalar knobs (see DESIGN.md).
func NewSessionConfigFromEnv() SessionConfig {
	cfg := DefaultSessionConfig()

	if v := os.Getenv("UVHTTP_CONN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConnLimit = n
		}
	}
	if v := os.Getenv("UVHTTP_DIAL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DialTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("UVHTTP_REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("UVHTTP_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}

	return cfg
}

func (c SessionConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func (c SessionConfig) poolConfig() PoolConfig {
	return PoolConfig{
		ConnLimit:            c.ConnLimit,
		DialTimeout:          c.DialTimeout,
		RequestTimeout:       c.RequestTimeout,
		KeepAliveIdleTimeout: c.KeepAliveIdleTimeout,
		UserAgent:            c.UserAgent,
		TLSConfig:            c.TLSConfig,
		Logger:               c.Logger,
	}
}
