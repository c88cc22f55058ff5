// Package reqpool implements a client-side HTTP/1.1 connection-pool and
// request-multiplexing engine: a capped number of live TCP connections per
// (scheme, host, port) endpoint, each handed to exactly one in-flight
// request for the duration of its request/response cycle, recycled on
// close or keep-alive expiry.
//
// Three layers, leaves first: Connection (conn.go) wraps one TCP/TLS
// stream and its lease latch; Pool (pool.go) bounds the live Connection
// count per endpoint with a weighted semaphore; Session (session.go) is
// the public façade that demultiplexes requests across Pools by endpoint.
// The wire-level half — request serialization and the incremental
// response parser — lives in the httpwire subpackage.
package reqpool
