// Package httpwire implements the wire-level half of the engine: request-line
// and header serialization, and the incremental HTTP/1.1 response parser that
// HTTPRequest drives. It knows nothing about connection pooling or leases.
package httpwire

import "errors"

var (
	// ErrInvalidStatusLine indicates the status line could not be parsed.
	// Format expected: "HTTP/1.1 200 OK\r\n".
	ErrInvalidStatusLine = errors.New("httpwire: invalid status line")

	// ErrInvalidHeaderLine indicates a header line has no ':' separator.
	ErrInvalidHeaderLine = errors.New("httpwire: invalid header line")

	// ErrHeadersTooLarge indicates the header block exceeded MaxHeaderBytes.
	ErrHeadersTooLarge = errors.New("httpwire: header block too large")

	// ErrInvalidContentLength indicates a malformed or conflicting Content-Length header.
	ErrInvalidContentLength = errors.New("httpwire: invalid Content-Length")

	// ErrInvalidChunkSize indicates a chunk-size line could not be parsed as hex.
	ErrInvalidChunkSize = errors.New("httpwire: invalid chunk size")

	// ErrChunkFraming indicates a chunk was not terminated by the expected CRLF.
	ErrChunkFraming = errors.New("httpwire: malformed chunk framing")
)

// MaxHeaderBytes bounds the status line + header block read before ReadResponseHead
// gives up, guarding against a peer that never sends a terminating blank line.
const MaxHeaderBytes = 64 * 1024
