package reqpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool is a bounded collection of Connections for one (scheme, host, port)
// endpoint (spec.md §4.2). Capacity is enforced by a weighted semaphore
// (golang.org/x/sync/semaphore — see SPEC_FULL.md §3 for why this replaces
// a hand-rolled token channel): each successful lease consumes one permit,
// each Release returns it, and the semaphore's context-aware Acquire gives
// spec.md §5's cancellation contract ("permit not consumed on cancellation")
// directly from the library instead of bespoke unwinding logic.
type Pool struct {
	key      EndpointKey
	host     string
	port     int
	useTLS   bool
	capacity int

	sem *semaphore.Weighted

	mu    sync.Mutex
	slots []*Connection // fixed size `capacity`; nil entries are empty slots

	cfg    PoolConfig
	logger *zap.Logger

	stopReaper chan struct{}
	reaperDone chan struct{}

	closed bool
}

// newPool constructs a Pool for key with no Connections yet dialed — slots
// are populated lazily, exactly as spec.md §3 specifies.
func newPool(key EndpointKey, host string, port int, useTLS bool, cfg PoolConfig) *Pool {
	p := &Pool{
		key:      key,
		host:     host,
		port:     port,
		useTLS:   useTLS,
		capacity: cfg.ConnLimit,
		sem:      semaphore.NewWeighted(int64(cfg.ConnLimit)),
		slots:    make([]*Connection, cfg.ConnLimit),
		cfg:      cfg,
		logger:   cfg.logger(),
	}

	if cfg.KeepAliveIdleTimeout > 0 {
		p.stopReaper = make(chan struct{})
		p.reaperDone = make(chan struct{})
		go p.reapIdleConnections(cfg.KeepAliveIdleTimeout)
	}

	return p
}

// reapIdleConnections periodically closes the transport of any released,
// unleased Connection that has sat idle longer than idleTimeout — grounded
// on the teacher's own idle-cleaner goroutine pattern
// (shockwave/pkg/shockwave/client/pool.go). The slot stays occupied (spec.md
// §9): the next lease redials it lazily, exactly like any other
// transport failure.
func (p *Pool) reapIdleConnections(idleTimeout time.Duration) {
	defer close(p.reaperDone)

	interval := idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.mu.Lock()
			slots := make([]*Connection, len(p.slots))
			copy(slots, p.slots)
			p.mu.Unlock()

			for _, c := range slots {
				if c == nil || !c.tryMaintenanceLock() {
					continue // empty slot, or a request currently holds the lease
				}
				if c.idleLongerThan(idleTimeout) {
					c.markClosed()
					p.logger.Debug("reaped idle connection", zap.String("endpoint", string(p.key)))
				}
				c.maintenanceUnlock()
			}
		}
	}
}

// Acquire returns a leased Connection belonging to this Pool, suspending
// until one is available (spec.md §4.2). The algorithm:
//  1. Acquire one capacity permit (suspends if none available; honors ctx
//     cancellation without consuming a permit, per semaphore.Weighted).
//  2. Scan the slot array for a free Connection and claim it.
//  3. If none is free but an empty slot exists, construct a new Connection
//     into it (its transport is dialed lazily on first Send).
//
// Per spec.md §4.2 step 4, steps 2-3 together always succeed once a permit
// is held, because permits-available + leased-count == capacity and slots
// are never vacated while the Pool lives.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, ErrCancelled
	}

	conn, err := p.claimOrCreate()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return conn, nil
}

// claimOrCreate implements spec.md §4.2 steps 2-3 under the slot-array lock.
func (p *Pool) claimOrCreate() (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.slots {
		if c != nil && c.tryLease() {
			c.probeIfIdle()
			return c, nil
		}
	}

	for i, c := range p.slots {
		if c == nil {
			conn := newConnection(p.key, p.host, p.port, p.useTLS, p, p.cfg)
			conn.leaseNew()
			p.slots[i] = conn
			p.logger.Debug("pool grew",
				zap.String("endpoint", string(p.key)),
				zap.Int("slot", i),
				zap.Int("capacity", p.capacity),
			)
			return conn, nil
		}
	}

	// Unreachable under the pool's own invariants (spec.md §4.2 step 4):
	// holding a permit guarantees a free or empty slot exists.
	return nil, ErrPoolClosed
}

// releasePermit returns one permit to the capacity semaphore. Called by
// Connection.Release, never directly by callers.
func (p *Pool) releasePermit() {
	p.sem.Release(1)
}

// Stats returns the number of non-empty slots — Connections constructed
// into the slot array, whether or not their transport has been dialed yet
// (spec.md §4.2), used by tests to assert that pool growth stabilizes at
// the expected count.
func (p *Pool) Stats() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, c := range p.slots {
		if c != nil {
			n++
		}
	}
	return n
}

// Close marks the Pool closed and closes every dialed Connection's
// transport. Existing leases are not forcibly revoked; Close is meant for
// Session teardown once all requests have completed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, c := range p.slots {
		if c != nil {
			c.markClosed()
		}
	}
	p.mu.Unlock()

	if p.stopReaper != nil {
		close(p.stopReaper)
		<-p.reaperDone
	}
}
