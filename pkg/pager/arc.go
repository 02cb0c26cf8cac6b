// pkg/pager/arc.go
package pager

import (
	"container/list"
	"sync"
)

// CacheKey identifies one version of one page in the ARC cache. Two
// versions of the same page are distinct cache entries. The pager keys
// every lookup and insert with its current commit sequence, which is 0
// until the first SetCommitSeq.
type CacheKey struct {
	PageNo    uint32
	CommitSeq uint64
}

// arcEntry is what each ARC list node carries.
type arcEntry struct {
	key    CacheKey
	page   *Page
	pinned int // live-reader pin count, mirrors Page.pinned for eviction purposes
	ghost  bool
}

// ARCStats reports cache behavior for diagnostics and the testable
// "zero write I/O per eviction" property.
type ARCStats struct {
	Hits             uint64
	Misses           uint64
	Evictions        uint64
	GhostHits        uint64
	CapacityOverflow uint64 // times eviction had no unpinned candidate
}

// ARCCache is an Adaptive Replacement Cache with MVCC-aware keys. It
// tracks four ordered sets: T1 (recent, seen once), T2 (frequent, seen
// twice or more), and their ghost histories B1/B2. The adaptive target
// p shifts towards whichever list is producing more ghost hits.
//
// Eviction never performs I/O: a victim page is simply dropped from the
// in-memory structure. The caller is responsible for writing dirty data
// through the pager/WAL path before a page can become evictable.
type ARCCache struct {
	mu sync.Mutex

	capacity int
	p        int // adaptive target size of T1

	t1 *list.List // *arcEntry, MRU at front
	t2 *list.List
	b1 *list.List // ghost keys only
	b2 *list.List

	index map[CacheKey]*list.Element // key -> element in t1/t2/b1/b2

	stats ARCStats

	// newer reports, for a given page number, whether a strictly newer
	// committed version than a candidate CommitSeq exists elsewhere (the
	// pager fills this in); used to prefer evicting superseded versions.
	newer func(pageNo uint32, commitSeq uint64) bool

	// onEvict, if set, is called synchronously whenever a resident page
	// is dropped from T1/T2 (demoted to a ghost or discarded outright).
	// The pager uses this to release memory-budget tracking.
	onEvict func(key CacheKey)
}

// SetEvictHook installs the callback ARC invokes whenever a resident
// page is evicted from T1/T2.
func (c *ARCCache) SetEvictHook(f func(key CacheKey)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = f
}

// NewARCCache creates an ARC cache with the given capacity in entries.
func NewARCCache(capacity int) *ARCCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ARCCache{
		capacity: capacity,
		t1:       list.New(),
		t2:       list.New(),
		b1:       list.New(),
		b2:       list.New(),
		index:    make(map[CacheKey]*list.Element),
	}
}

// SetNewerVersionHook installs the callback ARC uses to prefer evicting
// superseded page versions over the newest one for a page.
func (c *ARCCache) SetNewerVersionHook(f func(pageNo uint32, commitSeq uint64) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newer = f
}

// Get looks up key, promoting it per the ARC algorithm. The second
// return is false whenever key is not resident in T1/T2; a key that
// is only a ghost in B1/B2 counts as a miss.
func (c *ARCCache) Get(key CacheKey) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		ent := elem.Value.(*arcEntry)
		if !ent.ghost {
			// In T1 or T2: move to T2 MRU.
			c.removeFromList(elem)
			ent.ghost = false
			c.index[key] = c.t2.PushFront(ent)
			c.stats.Hits++
			return ent.page, true
		}
	}
	c.stats.Misses++
	return nil, false
}

// Insert adds a newly-fetched or newly-written page version to the
// cache, running the full ARC replacement algorithm.
func (c *ARCCache) Insert(key CacheKey, page *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok && !elem.Value.(*arcEntry).ghost {
		// Already resident; just refresh to T2 MRU.
		ent := elem.Value.(*arcEntry)
		ent.page = page
		c.removeFromList(elem)
		c.index[key] = c.t2.PushFront(ent)
		return
	}

	if elem, inB1 := c.findInGhost(c.b1, key); inB1 {
		// Case II: hit in B1 history. Grow T1's target.
		delta := 1
		if c.b2.Len() > c.b1.Len() && c.b1.Len() > 0 {
			delta = c.b2.Len() / c.b1.Len()
		}
		c.p = min(c.p+delta, c.capacity)
		c.replace(key)
		c.b1.Remove(elem)
		delete(c.index, key)
		c.stats.GhostHits++
		c.index[key] = c.t2.PushFront(&arcEntry{key: key, page: page})
		return
	}

	if elem, inB2 := c.findInGhost(c.b2, key); inB2 {
		// Case III: hit in B2 history. Shrink T1's target.
		delta := 1
		if c.b1.Len() > c.b2.Len() && c.b2.Len() > 0 {
			delta = c.b1.Len() / c.b2.Len()
		}
		c.p = max(c.p-delta, 0)
		c.replace(key)
		c.b2.Remove(elem)
		delete(c.index, key)
		c.stats.GhostHits++
		c.index[key] = c.t2.PushFront(&arcEntry{key: key, page: page})
		return
	}

	// Case IV: true miss.
	total := c.t1.Len() + c.b1.Len()
	if total == c.capacity {
		if c.t1.Len() < c.capacity {
			c.trimGhost(c.b1)
			c.replace(key)
		} else {
			// T1 at capacity: drop its LRU unpinned entry outright
			// (no ghost). If every entry is pinned, tolerate a bounded
			// overflow instead of evicting under a reader.
			evicted := false
			for elem := c.t1.Back(); elem != nil; elem = elem.Prev() {
				ent := elem.Value.(*arcEntry)
				if ent.pinned > 0 {
					continue
				}
				c.t1.Remove(elem)
				delete(c.index, ent.key)
				c.stats.Evictions++
				if c.onEvict != nil {
					c.onEvict(ent.key)
				}
				evicted = true
				break
			}
			if !evicted {
				c.stats.CapacityOverflow++
			}
		}
	} else if total < c.capacity && (c.t1.Len()+c.t2.Len()+c.b1.Len()+c.b2.Len()) >= c.capacity {
		if c.t1.Len()+c.t2.Len()+c.b1.Len()+c.b2.Len() == 2*c.capacity {
			c.trimGhost(c.b2)
		}
		c.replace(key)
	}

	c.index[key] = c.t1.PushFront(&arcEntry{key: key, page: page})
}

// replace evicts one entry from T1 or T2 per the adaptive target p,
// preferring an unpinned, superseded page version. It is a pure memory
// operation: it never issues I/O.
func (c *ARCCache) replace(requestedKey CacheKey) {
	preferT1 := c.t1.Len() > 0 && (c.t1.Len() > c.p || (c.isGhost(c.b2, requestedKey) && c.t1.Len() == c.p))

	evictFrom := func(l *list.List, ghosts *list.List) bool {
		var victim *list.Element
		for elem := l.Back(); elem != nil; elem = elem.Prev() {
			ent := elem.Value.(*arcEntry)
			if ent.pinned > 0 {
				continue
			}
			if victim == nil {
				victim = elem // LRU-most unpinned entry is the fallback
			}
			superseded := c.newer != nil && c.newer(ent.key.PageNo, ent.key.CommitSeq)
			if superseded || elem == l.Back() {
				victim = elem
				break
			}
		}
		if victim == nil {
			return false
		}
		ent := victim.Value.(*arcEntry)
		l.Remove(victim)
		delete(c.index, ent.key)
		c.index[ent.key] = ghosts.PushFront(&arcEntry{key: ent.key, ghost: true})
		c.stats.Evictions++
		if c.onEvict != nil {
			c.onEvict(ent.key)
		}
		return true
	}

	if preferT1 {
		if !evictFrom(c.t1, c.b1) {
			if !evictFrom(c.t2, c.b2) {
				c.stats.CapacityOverflow++
			}
		}
		return
	}
	if !evictFrom(c.t2, c.b2) {
		if !evictFrom(c.t1, c.b1) {
			c.stats.CapacityOverflow++
		}
	}
}

// Pin/Unpin adjust the live-reader pin count of a resident key so
// eviction can skip pages still pinned by a reader's snapshot.
func (c *ARCCache) Pin(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.index[key]; ok && !elem.Value.(*arcEntry).ghost {
		elem.Value.(*arcEntry).pinned++
	}
}

func (c *ARCCache) Unpin(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.index[key]; ok && !elem.Value.(*arcEntry).ghost {
		ent := elem.Value.(*arcEntry)
		if ent.pinned > 0 {
			ent.pinned--
		}
	}
}

// Stats returns a snapshot of cache counters.
func (c *ARCCache) Stats() ARCStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of non-ghost resident entries.
func (c *ARCCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t1.Len() + c.t2.Len()
}

func (c *ARCCache) removeFromList(elem *list.Element) {
	// elem currently lives in whichever of t1/t2 holds it; list.Remove
	// on the wrong list is a no-op in container/list only if we track
	// the owning list, so find it explicitly.
	for _, l := range []*list.List{c.t1, c.t2} {
		for e := l.Front(); e != nil; e = e.Next() {
			if e == elem {
				l.Remove(e)
				return
			}
		}
	}
}

func (c *ARCCache) findInGhost(l *list.List, key CacheKey) (*list.Element, bool) {
	if elem, ok := c.index[key]; ok {
		for e := l.Front(); e != nil; e = e.Next() {
			if e == elem {
				return e, true
			}
		}
	}
	return nil, false
}

func (c *ARCCache) isGhost(l *list.List, key CacheKey) bool {
	_, ok := c.findInGhost(l, key)
	return ok
}

// trimGhost drops the LRU ghost entry of l when ghost history grows
// past capacity.
func (c *ARCCache) trimGhost(l *list.List) {
	if l.Len() == 0 {
		return
	}
	back := l.Back()
	ent := back.Value.(*arcEntry)
	l.Remove(back)
	delete(c.index, ent.key)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
