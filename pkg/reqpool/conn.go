package reqpool

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// healthProbeTimeout bounds the zero-byte liveness read probeIfIdle performs
// against an already-dialed, reused Connection.
const healthProbeTimeout = 1 * time.Millisecond

// Connection is a handle around one TCP (or TLS) stream to a single remote
// endpoint (spec.md §4.1). Its mutex doubles as the exclusive-access latch:
// holding the lock IS holding the lease, which makes the "true iff leased"
// invariant in spec.md §3 structurally enforced rather than merely
// convention.
type Connection struct {
	key  EndpointKey
	host string
	port int
	tls  bool

	dialTimeout time.Duration
	tlsConfig   *tls.Config
	logger      *zap.Logger

	// pool is used only to return this Connection's capacity permit on
	// Release — spec.md §3's "pool-capacity token handle".
	pool *Pool

	leaseMu sync.Mutex // held for the duration of one request; doubles as the lease latch
	leased  atomic.Bool

	netConn   net.Conn
	bufReader *bufio.Reader

	dialCount    atomic.Int64
	lastReleased atomic.Int64 // UnixNano; read by the Pool's idle reaper
}

func newConnection(key EndpointKey, host string, port int, useTLS bool, pool *Pool, cfg PoolConfig) *Connection {
	return &Connection{
		key:         key,
		host:        host,
		port:        port,
		tls:         useTLS,
		dialTimeout: cfg.DialTimeout,
		tlsConfig:   cfg.TLSConfig,
		logger:      cfg.logger(),
		pool:        pool,
	}
}

// tryLease attempts to claim the Connection without blocking, returning
// false if it is already held by another request. Pool.Acquire uses this
// to scan the slot array for a free Connection (spec.md §4.2 step 2).
func (c *Connection) tryLease() bool {
	if !c.leaseMu.TryLock() {
		return false
	}
	c.leased.Store(true)
	return true
}

// leaseNew claims a brand new Connection unconditionally. Safe to call only
// immediately after construction, before the Connection is published to any
// other goroutine (Pool.claimOrCreate holds the slot-array lock while doing
// so).
func (c *Connection) leaseNew() {
	c.leaseMu.Lock()
	c.leased.Store(true)
}

// Locked reports whether the Connection is currently leased, matching the
// `conn.locked` assertions in the retrieved reference test suite.
func (c *Connection) Locked() bool {
	return c.leased.Load()
}

// DialCount returns the number of times the underlying transport has been
// (re)opened, for diagnostics and tests (spec.md §4.1).
func (c *Connection) DialCount() int64 {
	return c.dialCount.Load()
}

// Release clears the lease and returns one permit to the owning Pool's
// capacity semaphore (spec.md §4.1). Calling Release on a Connection that
// is not leased is a defect, reported as ErrAlreadyReleased rather than
// silently ignored or panicking, so HTTPRequest's idempotency guard (which
// never double-calls this under correct use) is independently verifiable
// in tests.
func (c *Connection) Release() error {
	if !c.leased.CompareAndSwap(true, false) {
		return ErrAlreadyReleased
	}
	c.lastReleased.Store(time.Now().UnixNano())
	c.leaseMu.Unlock()
	if c.pool != nil {
		c.pool.releasePermit()
	}
	return nil
}

// tryMaintenanceLock claims the lease latch for the Pool's background idle
// reaper without touching the leased flag or returning a capacity permit —
// both belong to the request-lease protocol, not to housekeeping that runs
// between requests. Returns false if a real request currently holds the
// lease, in which case the reaper skips this Connection for the round.
func (c *Connection) tryMaintenanceLock() bool {
	return c.leaseMu.TryLock()
}

func (c *Connection) maintenanceUnlock() {
	c.leaseMu.Unlock()
}

// idleLongerThan reports whether this Connection has sat released for
// longer than d. A Connection that has never been released (lastReleased
// still zero) is never considered idle.
func (c *Connection) idleLongerThan(d time.Duration) bool {
	last := c.lastReleased.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) > d
}

// dial opens the transport if it is not already open, incrementing
// DialCount. Called lazily by Send on first use or after a remote-initiated
// close, per spec.md §4.1's design notes.
func (c *Connection) dial() error {
	if c.netConn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	dialer := &net.Dialer{Timeout: c.dialTimeout}

	var conn net.Conn
	var err error
	if c.tls {
		tlsCfg := c.tlsConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: c.host}
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return &TransportError{Endpoint: c.key, Op: "dial", Err: err}
	}

	c.netConn = conn
	c.bufReader = bufio.NewReader(conn)
	c.dialCount.Add(1)
	c.logger.Debug("dialed connection", zap.String("endpoint", string(c.key)), zap.Int64("dial_count", c.dialCount.Load()))
	return nil
}

// Send writes all of data to the transport, opening it first if needed.
// Precondition: leased by the caller (spec.md §4.1). On transport error the
// transport is closed so the next Send re-dials; the Connection itself
// remains leased so the caller decides whether to Release.
func (c *Connection) Send(data []byte) error {
	if err := c.dial(); err != nil {
		return err
	}
	if _, err := c.netConn.Write(data); err != nil {
		c.markClosed()
		return &TransportError{Endpoint: c.key, Op: "send", Err: err}
	}
	return nil
}

// Read returns up to maxN bytes from the transport. A zero-length, nil-error
// return indicates EOF (the peer closed the connection) per spec.md §4.1.
func (c *Connection) Read(maxN int) ([]byte, error) {
	if c.bufReader == nil {
		if err := c.dial(); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, maxN)
	n, err := c.bufReader.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == io.EOF {
		c.markClosed()
		return buf[:0], nil
	}
	if err != nil {
		c.markClosed()
		return nil, &TransportError{Endpoint: c.key, Op: "read", Err: err}
	}
	return buf[:0], nil
}

// BufReader exposes the Connection's buffered reader so httpwire's
// incremental parser can drive status-line/header/body parsing directly
// off the transport without a second layer of buffering.
func (c *Connection) BufReader() *bufio.Reader {
	return c.bufReader
}

// probeIfIdle performs a brief liveness check on an already-dialed
// Connection pulled back out of the Pool's slot array (spec.md §9 design
// notes don't require this, but a keep-alive connection the remote closed
// while it sat unleased would otherwise only surface as a failed Send on the
// next request — this catches it one step earlier so the caller redials
// instead of paying for a doomed write). A fresh, never-dialed Connection
// (netConn == nil) has nothing to probe.
func (c *Connection) probeIfIdle() {
	if c.netConn == nil {
		return
	}
	if !connAppearsAlive(c.netConn) {
		c.markClosed()
	}
}

// connAppearsAlive performs a zero-byte read with a short deadline: a
// timeout means no data is available and the socket is still open
// (healthy, idle keep-alive); EOF or any other error means the peer is
// gone. Unexpectedly available data (a stray byte from a pipelined
// response) is treated as unhealthy rather than silently consumed here,
// since it does not belong to this probe.
func connAppearsAlive(conn net.Conn) bool {
	if err := conn.SetReadDeadline(time.Now().Add(healthProbeTimeout)); err != nil {
		return false
	}
	defer conn.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	_, err := conn.Read(one)
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return false
}

// markClosed marks the transport closed; the next dial() call re-opens it
// and increments DialCount. The slot itself is never vacated (spec.md §9
// open question resolution): permits + leased must stay equal to N.
func (c *Connection) markClosed() {
	if c.netConn != nil {
		c.netConn.Close()
	}
	c.netConn = nil
	c.bufReader = nil
}
