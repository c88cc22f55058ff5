package reqpool

import "sync"

// urlCacheEntry holds one parsed URL's (scheme, host, port, path, useTLS)
// tuple plus its position in the LRU list.
type urlCacheEntry struct {
	scheme string
	host   string
	port   int
	path   string
	useTLS bool

	prev, next *urlCacheEntry
	key        string
}

// urlCache is a bounded, thread-safe LRU cache mapping a raw request URL to
// its already-parsed (scheme, host, port, path, useTLS) tuple. Session
// routes every Request call through parseRequestURL, and a hot endpoint hit
// thousands of times a second shouldn't pay net/url.Parse's allocations on
// every call when the URL string repeats (spec.md §4.4 step 1 runs once per
// request regardless of how many times the same path has been requested).
type urlCache struct {
	mu sync.RWMutex

	entries map[string]*urlCacheEntry
	pool    sync.Pool

	head, tail *urlCacheEntry
	maxSize    int
	size       int

	hits, misses uint64
}

const defaultURLCacheSize = 1024

func newURLCache(maxSize int) *urlCache {
	return &urlCache{
		entries: make(map[string]*urlCacheEntry, maxSize),
		maxSize: maxSize,
		pool: sync.Pool{
			New: func() interface{} { return &urlCacheEntry{} },
		},
	}
}

// get returns a copy of the cached entry for rawURL, or nil on a miss. The
// copy is taken under the lock, so a concurrent eviction that recycles the
// cached entry cannot change what the caller reads.
func (c *urlCache) get(rawURL string) *urlCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[rawURL]
	if !ok {
		c.misses++
		return nil
	}

	c.hits++
	c.moveToFront(entry)
	snapshot := *entry
	return &snapshot
}

func (c *urlCache) put(rawURL, scheme, host string, port int, path string, useTLS bool) *urlCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[rawURL]; ok {
		c.moveToFront(entry)
		return entry
	}

	if c.size >= c.maxSize {
		c.evictLRU()
	}

	entry := c.pool.Get().(*urlCacheEntry)
	entry.key = rawURL
	entry.scheme = scheme
	entry.host = host
	entry.port = port
	entry.path = path
	entry.useTLS = useTLS

	c.entries[rawURL] = entry
	c.size++
	c.addToFront(entry)
	return entry
}

func (c *urlCache) moveToFront(entry *urlCacheEntry) {
	if entry == c.head {
		return
	}
	if entry.prev != nil {
		entry.prev.next = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	}
	if entry == c.tail {
		c.tail = entry.prev
	}

	entry.prev = nil
	entry.next = c.head
	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry
	if c.tail == nil {
		c.tail = entry
	}
}

func (c *urlCache) addToFront(entry *urlCacheEntry) {
	entry.prev = nil
	entry.next = c.head
	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry
	if c.tail == nil {
		c.tail = entry
	}
}

func (c *urlCache) evictLRU() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.size--

	evicted := c.tail
	c.tail = evicted.prev
	if c.tail != nil {
		c.tail.next = nil
	} else {
		c.head = nil
	}

	evicted.prev = nil
	evicted.next = nil
	evicted.key = ""
	c.pool.Put(evicted)
}

// stats reports cache hit/miss counters and current size, for tests and
// diagnostics.
func (c *urlCache) stats() (hits, misses uint64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, c.size
}
