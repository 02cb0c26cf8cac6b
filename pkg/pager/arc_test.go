// pkg/pager/arc_test.go
package pager

import "testing"

func arcKey(pageNo uint32) CacheKey {
	return CacheKey{PageNo: pageNo, CommitSeq: 1}
}

func TestARCHitPromotesToT2(t *testing.T) {
	c := NewARCCache(4)

	p := NewPage(1, 64)
	c.Insert(arcKey(1), p)

	got, ok := c.Get(arcKey(1))
	if !ok || got != p {
		t.Fatal("inserted page not found")
	}

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("hits: got %d, want 1", stats.Hits)
	}
	if _, ok := c.Get(arcKey(99)); ok {
		t.Error("unknown key reported as hit")
	}
	if c.Stats().Misses != 1 {
		t.Errorf("misses: got %d, want 1", c.Stats().Misses)
	}
}

func TestARCMVCCKeysAreDistinct(t *testing.T) {
	c := NewARCCache(8)

	old := NewPage(1, 64)
	newer := NewPage(1, 64)
	c.Insert(CacheKey{PageNo: 1, CommitSeq: 1}, old)
	c.Insert(CacheKey{PageNo: 1, CommitSeq: 2}, newer)

	gotOld, ok := c.Get(CacheKey{PageNo: 1, CommitSeq: 1})
	if !ok || gotOld != old {
		t.Error("old version lost")
	}
	gotNew, ok := c.Get(CacheKey{PageNo: 1, CommitSeq: 2})
	if !ok || gotNew != newer {
		t.Error("new version lost")
	}
}

func TestARCEvictionIsPureMemory(t *testing.T) {
	c := NewARCCache(4)

	evicted := 0
	c.SetEvictHook(func(key CacheKey) { evicted++ })

	for i := uint32(1); i <= 16; i++ {
		c.Insert(arcKey(i), NewPage(i, 64))
	}

	if c.Len() > 4 {
		t.Errorf("resident entries %d exceed capacity", c.Len())
	}
	if evicted == 0 {
		t.Error("expected evictions past capacity")
	}
	// Eviction is observable only through the hook and counters; no
	// I/O interface exists for it to call.
	if c.Stats().Evictions == 0 {
		t.Error("eviction counter not advanced")
	}
}

// Pinned hot pages survive a one-pass scan of cold pages.
func TestARCScanResistance(t *testing.T) {
	c := NewARCCache(4)

	a, b := NewPage(1, 64), NewPage(2, 64)
	c.Insert(arcKey(1), a)
	c.Insert(arcKey(2), b)

	// Promote both to T2 and pin them like a reader would.
	c.Get(arcKey(1))
	c.Get(arcKey(2))
	c.Pin(arcKey(1))
	c.Pin(arcKey(2))

	// Scan eight cold pages once each.
	for i := uint32(10); i < 18; i++ {
		c.Insert(arcKey(i), NewPage(i, 64))
	}

	if _, ok := c.Get(arcKey(1)); !ok {
		t.Error("pinned hot page 1 evicted by scan")
	}
	if _, ok := c.Get(arcKey(2)); !ok {
		t.Error("pinned hot page 2 evicted by scan")
	}
}

func TestARCGhostHitGrowsRecencyTarget(t *testing.T) {
	c := NewARCCache(2)

	// Page 1 into T2, page 2 into T1, then page 3 forces a replacement
	// that ghosts page 2 into B1.
	c.Insert(arcKey(1), NewPage(1, 64))
	c.Get(arcKey(1))
	c.Insert(arcKey(2), NewPage(2, 64))
	c.Insert(arcKey(3), NewPage(3, 64))

	// Re-inserting the ghosted key is a history hit: it lands in T2
	// and counts as a ghost hit.
	c.Insert(arcKey(2), NewPage(2, 64))

	if c.Stats().GhostHits == 0 {
		t.Error("expected a ghost hit on re-insert of evicted key")
	}
	if _, ok := c.Get(arcKey(2)); !ok {
		t.Error("ghost-promoted key must be resident")
	}
}

func TestARCAllPinnedOverflows(t *testing.T) {
	c := NewARCCache(2)

	c.Insert(arcKey(1), NewPage(1, 64))
	c.Insert(arcKey(2), NewPage(2, 64))
	c.Pin(arcKey(1))
	c.Pin(arcKey(2))

	// Nothing evictable: the insert is tolerated and counted.
	c.Insert(arcKey(3), NewPage(3, 64))
	c.Insert(arcKey(4), NewPage(4, 64))

	if _, ok := c.Get(arcKey(1)); !ok {
		t.Error("pinned page evicted")
	}
	if _, ok := c.Get(arcKey(2)); !ok {
		t.Error("pinned page evicted")
	}
}
