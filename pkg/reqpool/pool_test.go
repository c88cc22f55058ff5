package reqpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testPoolConfig(connLimit int) PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.ConnLimit = connLimit
	cfg.Logger = zap.NewNop()
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAliveIdleTimeout = 0 // idle reaping is exercised by its own test
	return cfg
}

func TestPoolAcquireGrowsSlotsUpToCapacity(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr().String())

	p := newPool(newEndpointKey("http", host, port), host, port, false, testPoolConfig(3))

	conns := make([]*Connection, 0, 3)
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		conns = append(conns, c)
	}

	if got := p.Stats(); got != 3 {
		t.Fatalf("Stats() = %d, want 3", got)
	}

	for _, c := range conns {
		if err := c.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	// Re-acquiring should reuse the 3 existing slots, not grow further.
	for i := 0; i < 3; i++ {
		if _, err := p.Acquire(context.Background()); err != nil {
			t.Fatalf("re-Acquire %d: %v", i, err)
		}
	}
	if got := p.Stats(); got != 3 {
		t.Fatalf("Stats() after reuse = %d, want 3 (no further growth)", got)
	}
}

func TestPoolAcquireBlocksAtCapacityAndUnblocksOnRelease(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr().String())

	p := newPool(newEndpointKey("http", host, port), host, port, false, testPoolConfig(1))

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan *Connection, 1)
	go func() {
		c2, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		acquired <- c2
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before capacity was freed")
	case <-time.After(100 * time.Millisecond):
	}

	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire did not unblock after Release")
	}

	if got := p.Stats(); got != 1 {
		t.Fatalf("Stats() = %d, want 1 (single slot reused, not grown)", got)
	}
}

func TestPoolAcquireCancellationDoesNotConsumePermit(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr().String())

	p := newPool(newEndpointKey("http", host, port), host, port, false, testPoolConfig(1))

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Acquire(ctx); err != ErrCancelled {
		t.Fatalf("Acquire with cancelled ctx = %v, want ErrCancelled", err)
	}

	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// The cancelled Acquire must not have consumed a permit: a fresh
	// Acquire should succeed immediately.
	done := make(chan struct{})
	go func() {
		if _, err := p.Acquire(context.Background()); err != nil {
			t.Errorf("Acquire after cancellation: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire after a cancelled Acquire should not block (permit was leaked)")
	}
}

func TestPoolConcurrentAcquireRespectsCapacity(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr().String())

	const capacity = 5
	p := newPool(newEndpointKey("http", host, port), host, port, false, testPoolConfig(capacity))

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0
	current := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			current++
			if current > maxObserved {
				maxObserved = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			c.Release()
		}()
	}
	wg.Wait()

	if maxObserved > capacity {
		t.Fatalf("observed %d concurrently leased connections, want <= %d", maxObserved, capacity)
	}
	if got := p.Stats(); got != capacity {
		t.Fatalf("Stats() = %d, want %d (slot array stabilizes at capacity)", got, capacity)
	}
}

func TestPoolReapsIdleConnectionAfterTimeout(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr().String())

	cfg := testPoolConfig(1)
	cfg.KeepAliveIdleTimeout = 50 * time.Millisecond
	p := newPool(newEndpointKey("http", host, port), host, port, false, cfg)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Send([]byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// The reaper's tick interval floors at one second regardless of how
	// short KeepAliveIdleTimeout is, so the first reap pass lands around
	// the one-second mark; give it two ticks of headroom.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.netConn == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if c.netConn != nil {
		t.Fatal("idle connection was not reaped within the deadline")
	}

	// The slot is still occupied (spec.md §9): the next Acquire reuses it
	// and redials rather than growing the pool further.
	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-Acquire after reap: %v", err)
	}
	if c2 != c {
		t.Fatal("re-Acquire after reap should reuse the same Connection slot")
	}
	if got := p.Stats(); got != 1 {
		t.Fatalf("Stats() = %d, want 1 (reaping never vacates the slot)", got)
	}
}

func TestPoolAcquireAfterCloseReturnsErrPoolClosed(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()
	host, port := splitHostPort(t, ln.Addr().String())

	p := newPool(newEndpointKey("http", host, port), host, port, false, testPoolConfig(2))
	p.Close()

	if _, err := p.Acquire(context.Background()); err != ErrPoolClosed {
		t.Fatalf("Acquire after Close = %v, want ErrPoolClosed", err)
	}
}
