package reqpool

import "testing"

func TestURLCachePutThenGetHits(t *testing.T) {
	c := newURLCache(4)

	c.put("http://example.com/a", "http", "example.com", 80, "/a", false)

	entry := c.get("http://example.com/a")
	if entry == nil {
		t.Fatal("expected cache hit after put")
	}
	if entry.host != "example.com" || entry.port != 80 || entry.path != "/a" {
		t.Errorf("entry = %+v", entry)
	}

	hits, misses, size := c.stats()
	if hits != 1 || size != 1 {
		t.Errorf("stats = (hits=%d misses=%d size=%d), want (1, %d, 1)", hits, misses, size, misses)
	}
}

func TestURLCacheMissReportedForUnknownKey(t *testing.T) {
	c := newURLCache(4)
	if entry := c.get("http://nope.example/"); entry != nil {
		t.Fatal("expected cache miss for never-put key")
	}
	_, misses, _ := c.stats()
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
}

func TestURLCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newURLCache(2)

	c.put("a", "http", "a.example", 80, "/", false)
	c.put("b", "http", "b.example", 80, "/", false)
	// Touch "a" so "b" becomes the least recently used entry.
	c.get("a")
	c.put("c", "http", "c.example", 80, "/", false)

	if entry := c.get("b"); entry != nil {
		t.Fatal("expected \"b\" to have been evicted")
	}
	if entry := c.get("a"); entry == nil {
		t.Fatal("expected \"a\" to survive eviction (recently touched)")
	}
	if entry := c.get("c"); entry == nil {
		t.Fatal("expected \"c\" to be present (just inserted)")
	}

	_, _, size := c.stats()
	if size != 2 {
		t.Errorf("size = %d, want 2 (capacity never exceeded)", size)
	}
}

func TestSessionResolveURLCachesAcrossCalls(t *testing.T) {
	s := testSession(1)
	defer s.Close()

	raw := "http://example.com:9999/path?x=1"
	scheme1, host1, port1, path1, tls1, err := s.resolveURL(raw)
	if err != nil {
		t.Fatalf("resolveURL: %v", err)
	}
	scheme2, host2, port2, path2, tls2, err := s.resolveURL(raw)
	if err != nil {
		t.Fatalf("resolveURL (cached): %v", err)
	}

	if scheme1 != scheme2 || host1 != host2 || port1 != port2 || path1 != path2 || tls1 != tls2 {
		t.Fatalf("cached resolveURL mismatch: (%q %q %d %q %v) vs (%q %q %d %q %v)",
			scheme1, host1, port1, path1, tls1, scheme2, host2, port2, path2, tls2)
	}

	hits, _, _ := s.urls.stats()
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (second resolveURL call should hit cache)", hits)
	}
}
