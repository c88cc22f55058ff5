package reqpool

import (
	"errors"
	"fmt"
)

// Sentinel and typed errors implementing the taxonomy in spec.md §7. Callers
// branch on these with errors.Is / errors.As rather than string matching.
var (
	// ErrEOF indicates the peer closed the connection before a complete
	// response header block arrived. The Connection is released (and its
	// transport marked closed) so the Pool re-dials it on the next lease;
	// spec.md §7 calls this "recoverable at the caller level".
	ErrEOF = errors.New("reqpool: peer closed connection before headers completed")

	// ErrCancelled is returned when the context passed to Pool.Acquire
	// (or Session.Request) is cancelled while waiting on a Pool's capacity
	// semaphore; no permit is consumed. Transport I/O does not observe the
	// context, so a send or read in progress is not interrupted by it.
	ErrCancelled = errors.New("reqpool: request cancelled")

	// ErrPoolClosed is returned by Pool.Acquire after the Pool has been
	// torn down.
	ErrPoolClosed = errors.New("reqpool: pool closed")

	// ErrSessionClosed is returned by Session.Request after the Session
	// has been torn down.
	ErrSessionClosed = errors.New("reqpool: session closed")

	// ErrAlreadyReleased indicates a Connection.Release call on a
	// Connection that is not currently leased — spec.md §4.1 calls this
	// "a defect" rather than a recoverable condition, so it is surfaced
	// distinctly from ordinary transport errors.
	ErrAlreadyReleased = errors.New("reqpool: connection released twice")
)

// TransportError wraps a low-level I/O failure on connect/send/read
// (spec.md §7). When it comes back from Session.Request or a Response body
// accessor, the Connection has already been released and its transport
// marked closed. Connection.Send and Connection.Read return it with the
// transport closed but the lease still held.
type TransportError struct {
	Endpoint EndpointKey
	Op       string // "dial", "send", or "read"
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("reqpool: transport error on %s during %s: %v", e.Endpoint, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError indicates the response parser rejected the response bytes
// (spec.md §7). The Connection is released and marked closed — reusing a
// stream in an undefined framing state is never safe.
type ProtocolError struct {
	Endpoint EndpointKey
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("reqpool: protocol error on %s: %v", e.Endpoint, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
