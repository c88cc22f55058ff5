package reqpool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/olliebarrick/uvhttp/pkg/reqpool/httpwire"
)

// Session is the top-level façade (spec.md §4.4): it parses URLs, demuxes
// requests to the right Pool by EndpointKey, and drives each request's
// HTTPRequest state machine through the header phase before handing the
// Response back to the caller.
//
// URL parsing itself is treated as the external black box spec.md §6
// names; net/url is the natural provider here (no third-party URL parser
// appears anywhere in the retrieval pack).
type Session struct {
	cfg    SessionConfig
	logger *zap.Logger

	mu    sync.Mutex
	pools map[EndpointKey]*Pool

	urls *urlCache

	closed bool
}

// NewSession constructs a Session with the given per-endpoint connection
// cap, following the original engine's Session(conn_limit, loop) signature
// (spec.md §6).
func NewSession(connLimit int) *Session {
	cfg := DefaultSessionConfig()
	cfg.ConnLimit = connLimit
	return NewSessionWithConfig(cfg)
}

// NewSessionWithConfig constructs a Session from a fully specified
// SessionConfig, for callers that need TLS, timeout, or logging control
// beyond the connection cap.
func NewSessionWithConfig(cfg SessionConfig) *Session {
	return &Session{
		cfg:    cfg,
		logger: cfg.logger(),
		pools:  make(map[EndpointKey]*Pool),
		urls:   newURLCache(defaultURLCacheSize),
	}
}

// Request parses url, routes to the Pool for its endpoint, leases a
// Connection, and drives the request through Writing and ReadingHeaders
// (spec.md §4.4). The returned Response has StatusCode/Headers populated;
// the caller reads the body via Content/Text/JSON, or lets a later call do
// so lazily.
//
// A keep-alive Connection the peer has already closed surfaces as ErrEOF:
// the Connection is released with its transport closed, so the next lease
// redials it and the caller may retry (RequestWithRetry retries once).
func (s *Session) Request(ctx context.Context, method, rawURL string, headers *httpwire.Headers) (*Response, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	scheme, host, port, path, useTLS, err := s.resolveURL(rawURL)
	if err != nil {
		return nil, err
	}

	key := newEndpointKey(scheme, host, port)
	pool := s.getOrCreatePool(key, host, port, useTLS)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp := newResponse(conn, key, method, s.logger)
	hostHeader := host
	if !isDefaultPort(scheme, port) {
		hostHeader = host + ":" + strconv.Itoa(port)
	}

	if err := resp.writeAndReadHeaders(path, hostHeader, s.cfg.UserAgent, headers); err != nil {
		return nil, err
	}
	return resp, nil
}

// RequestWithRetry performs Request and, if the first attempt fails with
// ErrEOF, retries exactly once on the same Pool. This mirrors the retry
// idiom the original engine's test harness expects of callers
// (test_session_low_keepalives: "try/except EOFError: continue") without
// turning it into general automatic-retry-on-transport-failure, which
// remains a Non-goal (spec.md §1).
func (s *Session) RequestWithRetry(ctx context.Context, method, rawURL string, headers *httpwire.Headers) (*Response, error) {
	resp, err := s.Request(ctx, method, rawURL, headers)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrEOF) {
		return s.Request(ctx, method, rawURL, headers)
	}
	return nil, err
}

// Connections sums Pool.Stats() across every Pool the Session owns
// (spec.md §4.4), satisfying the invariant connections() <= k*N for k
// distinct endpoints.
func (s *Session) Connections() int {
	s.mu.Lock()
	pools := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.Unlock()

	total := 0
	for _, p := range pools {
		total += p.Stats()
	}
	return total
}

// Close tears down every Pool the Session owns. Safe to call once; a
// closed Session's Request calls return ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, p := range s.pools {
		p.Close()
	}
}

// getOrCreatePool makes the pool-map insert race-free when Request is called
// concurrently (spec.md §4.4 step 3): one mutex guards both the lookup and
// the insert, so concurrent first requests to a new endpoint create exactly
// one Pool.
func (s *Session) getOrCreatePool(key EndpointKey, host string, port int, useTLS bool) *Pool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pools[key]; ok {
		return p
	}

	p := newPool(key, host, port, useTLS, s.cfg.poolConfig())
	s.pools[key] = p
	s.logger.Debug("created pool for endpoint", zap.String("endpoint", string(key)))
	return p
}

// resolveURL is the cached front end to parseRequestURL: repeated requests
// against the same URL string skip net/url.Parse entirely on a cache hit.
func (s *Session) resolveURL(rawURL string) (scheme, host string, port int, path string, useTLS bool, err error) {
	if entry := s.urls.get(rawURL); entry != nil {
		return entry.scheme, entry.host, entry.port, entry.path, entry.useTLS, nil
	}

	scheme, host, port, path, useTLS, err = parseRequestURL(rawURL)
	if err != nil {
		return "", "", 0, "", false, err
	}
	s.urls.put(rawURL, scheme, host, port, path, useTLS)
	return scheme, host, port, path, useTLS, nil
}

// parseRequestURL resolves a URL into the (scheme, host, port, path)
// quadruple spec.md §6 names, defaulting port 80 for http and 443 for
// https (spec.md §4.4 step 1).
func parseRequestURL(rawURL string) (scheme, host string, port int, path string, useTLS bool, err error) {
	u, perr := url.Parse(rawURL)
	if perr != nil {
		return "", "", 0, "", false, fmt.Errorf("reqpool: invalid URL %q: %w", rawURL, perr)
	}

	scheme = u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	useTLS = scheme == "https"

	host = u.Hostname()
	if host == "" {
		return "", "", 0, "", false, fmt.Errorf("reqpool: URL %q has no host", rawURL)
	}

	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", "", 0, "", false, fmt.Errorf("reqpool: invalid port in URL %q: %w", rawURL, err)
		}
	} else if useTLS {
		port = 443
	} else {
		port = 80
	}

	path = u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return scheme, host, port, path, useTLS, nil
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}
