package reqpool

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/olliebarrick/uvhttp/pkg/reqpool/httpwire"
)

// state tracks the HTTPRequest state machine in spec.md §4.3. Transitions
// are forward-only except for the Failed sink, matching the state table
// there exactly.
type state int

const (
	stateInit state = iota
	stateWriting
	stateReadingHeaders
	stateReadingBody
	stateReleased
	stateFailed
)

// Response is both the HTTPRequest state machine driver of spec.md §4.3 and
// the public Response object of spec.md §6 — the original engine's
// HTTPRequest and its response are the same object (original_source/uvhttp
// returns the request itself from body()/text/content), and this port keeps
// that shape rather than inventing a second type that just forwards to it.
//
// A Response is single-use: constructed leased over one Connection, driven
// through Writing and ReadingHeaders by Session.Request, and released
// exactly once — lazily on first call to Content/Text/JSON, immediately
// after the headers of a HEAD response, or immediately on a header-phase
// failure.
type Response struct {
	conn     *Connection
	endpoint EndpointKey
	method   string
	logger   *zap.Logger

	mu    sync.Mutex
	state state

	statusCode int
	headers    *httpwire.Headers
	body       *bytebufferpool.ByteBuffer

	framing httpwire.Framing
	skip    bool // true for HEAD: no body is ever read

	err error
}

func newResponse(conn *Connection, endpoint EndpointKey, method string, logger *zap.Logger) *Response {
	return &Response{
		conn:     conn,
		endpoint: endpoint,
		method:   method,
		logger:   logger,
		state:    stateInit,
		headers:  httpwire.NewHeaders(16),
		body:     bufferPool.Get(),
		skip:     httpwire.IsHead(method),
	}
}

var bufferPool bytebufferpool.Pool

// --- httpwire.Sink implementation: parser callbacks mutate state fields
// (spec.md §9 design note "Parser callbacks → state updates"). ---

func (r *Response) OnStatus(code int) error {
	r.statusCode = code
	return nil
}

func (r *Response) OnHeader(name, value []byte) error {
	r.headers.Add(name, value)
	return nil
}

func (r *Response) OnHeadersComplete() error {
	r.state = stateReadingBody
	return nil
}

func (r *Response) OnBody(chunk []byte) error {
	r.body.Write(chunk)
	return nil
}

func (r *Response) OnMessageComplete() error {
	return nil
}

// writeAndReadHeaders drives Init -> Writing -> ReadingHeaders, per
// spec.md §4.4 step 5. It is called once by Session.Request and never by
// callers directly.
func (r *Response) writeAndReadHeaders(path, host, userAgent string, extra *httpwire.Headers) error {
	r.state = stateWriting

	buf := bufferPool.Get()
	defer bufferPool.Put(buf)
	httpwire.WriteRequest(buf, r.method, path, host, userAgent, extra)

	if err := r.conn.Send(buf.B); err != nil {
		// A write failure once the transport is open usually means the
		// peer dropped a keep-alive connection the Pool still believed
		// was good — the same "stale reused connection" condition a
		// clean read-side EOF signals, so callers retry it the same way
		// (spec.md §7, SPEC_FULL.md §4 retry idiom). Every "send"
		// failure maps to ErrEOF, whether the transport was reused or
		// opened by this very Send. A failure during the dial itself is
		// a distinct, non-retryable error.
		var te *TransportError
		if errors.As(err, &te) && te.Op == "send" {
			return r.failEOF()
		}
		return r.fail(err)
	}

	r.state = stateReadingHeaders
	framing, err := httpwire.ReadResponseHead(r.conn.BufReader(), r)
	if err != nil {
		if isStaleConnectionError(err) {
			// ReadResponseHead reads off the Connection's bufio.Reader
			// directly, bypassing Connection.Read's own markClosed
			// bookkeeping — do it here so the next Acquire redials
			// instead of handing back a dead transport.
			r.conn.markClosed()
			return r.failEOF()
		}
		r.conn.markClosed()
		return r.fail(&ProtocolError{Endpoint: r.endpoint, Err: err})
	}
	r.framing = framing

	if r.skip {
		// HEAD: body_done is set on entry and release happens
		// immediately (spec.md §4.3) rather than waiting for a
		// caller to touch Content/Text/JSON that will never exist.
		r.state = stateReadingBody
		return r.ensureBody()
	}
	return nil
}

// StatusCode returns the parsed status code. Valid once Session.Request has
// returned successfully (spec.md §4.3: status code is reported "once the
// status line is parsed").
func (r *Response) StatusCode() int {
	return r.statusCode
}

// Headers returns the accumulated, case-preserving header multimap.
func (r *Response) Headers() *httpwire.Headers {
	return r.headers
}

// Content returns the full response body, reading and releasing the
// Connection on first call (spec.md §4.4: "the caller is responsible for
// invoking the body-read step... or letting the object do it on first
// access to content / body").
func (r *Response) Content() ([]byte, error) {
	if err := r.ensureBody(); err != nil {
		return nil, err
	}
	return r.body.B, nil
}

// Text returns the body decoded as a string, transparently gunzipping when
// Content-Encoding: gzip is present (spec.md §8 scenario 5; SPEC_FULL.md §3
// on github.com/klauspost/compress/gzip).
func (r *Response) Text() (string, error) {
	content, err := r.Content()
	if err != nil {
		return "", err
	}

	if enc, ok := r.headers.Get("Content-Encoding"); ok && containsGzipToken(enc) {
		gz, gerr := gzip.NewReader(bytes.NewReader(content))
		if gerr != nil {
			return "", &ProtocolError{Endpoint: r.endpoint, Err: gerr}
		}
		defer gz.Close()
		decoded, rerr := io.ReadAll(gz)
		if rerr != nil {
			return "", &ProtocolError{Endpoint: r.endpoint, Err: rerr}
		}
		return string(decoded), nil
	}

	return string(content), nil
}

// JSON decodes the (gzip-aware) response body into v, using
// github.com/goccy/go-json (SPEC_FULL.md §3) in place of encoding/json.
func (r *Response) JSON(v interface{}) error {
	text, err := r.Text()
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return &ProtocolError{Endpoint: r.endpoint, Err: err}
	}
	return nil
}

// isStaleConnectionError reports whether err indicates the transport died
// before any response bytes arrived — a clean io.EOF, or a network-level
// error (connection reset, broken pipe) from a connection the Pool believed
// was still usable. Both collapse to ErrEOF: from the caller's vantage point
// there is no response to recover, only a fresh connection to retry on.
func isStaleConnectionError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func containsGzipToken(contentEncoding string) bool {
	for i := 0; i+4 <= len(contentEncoding); i++ {
		if equalFoldASCII(contentEncoding[i:i+4], "gzip") {
			return true
		}
	}
	return false
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ensureBody drives ReadingBody -> Released exactly once, idempotently
// (spec.md §8 "calling release through the scoped acquisition path always
// runs exactly once per successful acquire").
func (r *Response) ensureBody() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateReleased, stateFailed:
		return r.err
	}

	skip := r.skip || httpwire.IsHead(r.method)
	if err := httpwire.StreamBody(r.conn.BufReader(), r.framing, skip, r); err != nil {
		r.conn.markClosed()
		var ferr error = &TransportError{Endpoint: r.endpoint, Op: "read", Err: err}
		if errors.Is(err, httpwire.ErrInvalidChunkSize) || errors.Is(err, httpwire.ErrChunkFraming) {
			ferr = &ProtocolError{Endpoint: r.endpoint, Err: err}
		}
		r.failLocked(ferr)
		return r.err
	}

	r.releaseLocked()
	return nil
}

func (r *Response) releaseLocked() {
	if r.state == stateReleased || r.state == stateFailed {
		return
	}
	r.state = stateReleased
	if err := r.conn.Release(); err != nil {
		r.logger.Warn("double release suppressed", zap.String("endpoint", string(r.endpoint)), zap.Error(err))
	}
}

func (r *Response) failLocked(err error) {
	if r.state == stateReleased || r.state == stateFailed {
		return
	}
	r.state = stateFailed
	r.err = err
	r.logger.Warn("request failed", zap.String("endpoint", string(r.endpoint)), zap.Error(err))
	if rerr := r.conn.Release(); rerr != nil {
		r.logger.Warn("double release suppressed", zap.String("endpoint", string(r.endpoint)), zap.Error(rerr))
	}
}

// fail transitions to Failed from the header-reading path (writeAndReadHeaders
// is called before any lock is needed, since no other goroutine can observe
// this Response yet).
func (r *Response) fail(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLocked(err)
	return r.err
}

func (r *Response) failEOF() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLocked(ErrEOF)
	return r.err
}

// Close releases the underlying buffer back to its pool. Callers that never
// read the body (e.g. discard a HEAD response after checking StatusCode)
// should still call Close to avoid leaking the pooled buffer; Content/Text/
// JSON already drive release of the Connection itself.
func (r *Response) Close() {
	if r.body != nil {
		bufferPool.Put(r.body)
		r.body = nil
	}
}
