// pkg/pager/swizzle.go
package pager

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// PageTemperature is the decay automaton deciding which pages are
// worth swizzling. Accessing a page heats it; a cool sweep (run by the
// pager as cache misses accumulate) steps quiet pages back down:
//
//	Cold    -- access --> Hot
//	Cooling -- access --> Hot
//	Hot     -- sweep  --> Cooling
//	Cooling -- sweep  --> Cold
//
// plus identity (Hot stays Hot on access, Cold stays Cold on sweep).
// Only Hot pages are swizzle-eligible, so a page that goes quiet loses
// its eligibility after two sweeps instead of holding it forever.
type PageTemperature int

const (
	TemperatureCold PageTemperature = iota
	TemperatureCooling
	TemperatureHot
)

// String returns the temperature name.
func (t PageTemperature) String() string {
	switch t {
	case TemperatureHot:
		return "Hot"
	case TemperatureCooling:
		return "Cooling"
	default:
		return "Cold"
	}
}

// SwizzlePtr is a tagged pointer slot: it holds either a page number (the
// unswizzled form every on-disk child reference starts as) or a direct
// pointer to the resident Page (the swizzled form, used once the parent
// node has proven the child is being traversed repeatedly). Transitions
// are performed with compare-and-swap so concurrent readers never
// observe a half-updated slot.
type SwizzlePtr struct {
	state unsafe.Pointer // *Page when swizzled, nil when unswizzled
	raw   uint32         // page number, valid when state == nil
}

// PageNo returns the unswizzled page number. If the pointer is currently
// swizzled the caller should prefer Swizzled() instead.
func (s *SwizzlePtr) PageNo() uint32 {
	return atomic.LoadUint32(&s.raw)
}

// Swizzled returns the resident page and true if this slot currently
// points directly at memory rather than a page number.
func (s *SwizzlePtr) Swizzled() (*Page, bool) {
	p := atomic.LoadPointer(&s.state)
	if p == nil {
		return nil, false
	}
	return (*Page)(p), true
}

// TrySwizzle CASes the slot from unswizzled (holding pageNo) to swizzled
// (holding page). It fails harmlessly if another goroutine already
// swizzled or unswizzled the slot first.
func (s *SwizzlePtr) TrySwizzle(pageNo uint32, page *Page) bool {
	if atomic.LoadUint32(&s.raw) != pageNo {
		return false
	}
	if !atomic.CompareAndSwapPointer(&s.state, nil, unsafe.Pointer(page)) {
		return false
	}
	return true
}

// Unswizzle CASes the slot back to holding a bare page number. Called
// when a page is evicted from the cache so stale pointers are never
// followed.
func (s *SwizzlePtr) Unswizzle(pageNo uint32) bool {
	old := atomic.LoadPointer(&s.state)
	if old == nil {
		return false
	}
	if !atomic.CompareAndSwapPointer(&s.state, old, nil) {
		return false
	}
	atomic.StoreUint32(&s.raw, pageNo)
	return true
}

// NewSwizzlePtr creates an unswizzled pointer referencing pageNo.
func NewSwizzlePtr(pageNo uint32) *SwizzlePtr {
	return &SwizzlePtr{raw: pageNo}
}

// registryEntry tracks per-page swizzle bookkeeping independent of any
// single parent slot, since a page can be reached through more than one
// swizzled reference during a tree rebalance.
type registryEntry struct {
	temperature PageTemperature
	refs        int32 // number of SwizzlePtr slots currently swizzled to this page
}

// SwizzleRegistry tracks swizzle-eligibility state across all pages in a
// pager. It does not own the SwizzlePtr slots themselves (those live in
// the B-tree's interior nodes); it only records temperature and active
// reference counts so the pager can veto unswizzling a page that's still
// directly pointed to, and can pick hot pages to swizzle opportunistically.
type SwizzleRegistry struct {
	mu      sync.Mutex
	entries map[uint32]*registryEntry
}

// NewSwizzleRegistry creates an empty registry.
func NewSwizzleRegistry() *SwizzleRegistry {
	return &SwizzleRegistry{entries: make(map[uint32]*registryEntry)}
}

// RecordAccess heats a page: Cold and Cooling both jump straight to
// Hot. Call this on every cursor traversal through the page.
func (r *SwizzleRegistry) RecordAccess(pageNo uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[pageNo]
	if e == nil {
		e = &registryEntry{}
		r.entries[pageNo] = e
	}
	e.temperature = TemperatureHot
}

// CoolSweep steps every page one transition towards Cold: Hot becomes
// Cooling, Cooling becomes Cold. Cold entries with no swizzled
// references are dropped so the registry does not grow without bound.
// The pager runs a sweep after a run of cache misses, so a scan that
// displaces the working set also demotes pages the scan never touched
// again.
func (r *SwizzleRegistry) CoolSweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pageNo, e := range r.entries {
		switch e.temperature {
		case TemperatureHot:
			e.temperature = TemperatureCooling
		case TemperatureCooling:
			e.temperature = TemperatureCold
		default:
			if e.refs == 0 {
				delete(r.entries, pageNo)
			}
		}
	}
}

// Temperature reports a page's current temperature.
func (r *SwizzleRegistry) Temperature(pageNo uint32) PageTemperature {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[pageNo]
	if e == nil {
		return TemperatureCold
	}
	return e.temperature
}

// Eligible reports whether pageNo is currently hot enough to be worth
// swizzling; Cooling and Cold pages are not.
func (r *SwizzleRegistry) Eligible(pageNo uint32) bool {
	return r.Temperature(pageNo) == TemperatureHot
}

// MarkSwizzled/MarkUnswizzled maintain the active-reference count used to
// veto eviction of a page some interior node still points to directly.
func (r *SwizzleRegistry) MarkSwizzled(pageNo uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[pageNo]
	if e == nil {
		e = &registryEntry{}
		r.entries[pageNo] = e
	}
	e.refs++
}

func (r *SwizzleRegistry) MarkUnswizzled(pageNo uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[pageNo]
	if e == nil {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
}

// HasSwizzledRefs reports whether any interior node currently points
// directly at pageNo; the pager must unswizzle those pointers before the
// page can be evicted.
func (r *SwizzleRegistry) HasSwizzledRefs(pageNo uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[pageNo]
	return e != nil && e.refs > 0
}

// Forget drops all bookkeeping for a page, used when a page is freed.
func (r *SwizzleRegistry) Forget(pageNo uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, pageNo)
}
