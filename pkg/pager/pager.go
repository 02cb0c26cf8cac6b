// pkg/pager/pager.go
package pager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fsqlite/pkg/cache"
	"fsqlite/pkg/dbfile"
	"fsqlite/pkg/vfs"
	"fsqlite/pkg/wal"
)

var (
	ErrInvalidHeader   = errors.New("invalid database header")
	ErrPageNotFound    = errors.New("page not found")
	ErrNoTransaction   = errors.New("no active transaction")
	ErrTxAlreadyActive = errors.New("transaction already active")
)

// Options configures the pager
type Options struct {
	PageSize  int  // Page size in bytes (default 4096)
	CacheSize int  // Number of pages to cache (default 1000)
	ReadOnly  bool // Open in read-only mode
}

// Pager manages database pages and caching. The page cache is an ARC
// (Adaptive Replacement Cache) keyed by (page number, commit sequence),
// so a reader holding an old snapshot and a writer building a new
// version of the same page can be resident at once without clobbering
// each other.
type Pager struct {
	mu        sync.RWMutex
	store     Storage
	path      string // Database file path
	inMemory  bool
	pageSize  int
	pageCount uint32

	header *dbfile.Header // the 100-byte file header, kept in sync with pageSize/pageCount/freelist

	arc       *ARCCache
	cacheSize int

	// commitSeq is the sequence number new page lookups are tagged with.
	// The MVCC layer advances it via SetCommitSeq on every commit so that
	// the cache can hold multiple versions of the same page.
	commitSeq uint64

	// swizzle tracks in-memory pointer swizzling state per page.
	// missStreak counts cache misses since the last cool sweep; a long
	// enough run of misses means the working set shifted, so quiet
	// pages step towards Cold.
	swizzle    *SwizzleRegistry
	missStreak int

	// WAL support
	wal           *wal.WAL
	walBackend    WalBackend
	inTransaction bool
	dirtyPages    map[uint32][]byte // Page number -> original data (for rollback)

	// Freelist support
	freelist *Freelist

	// Memory budget tracking
	memoryBudget *cache.MemoryBudget
}

// Transaction represents an active write transaction
type Transaction struct {
	pager *Pager
}

// Open opens or creates a database file
func Open(path string, opts Options) (*Pager, error) {
	return OpenWithBudget(path, opts, nil)
}

// OpenWithBudget opens or creates a database file with memory budget tracking
func OpenWithBudget(path string, opts Options, budget *cache.MemoryBudget) (*Pager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = dbfile.DefaultPageSize
	}

	cacheSize := opts.CacheSize
	if cacheSize == 0 {
		cacheSize = 1000
	}

	// Try to open existing file first
	mf, err := OpenMmapFile(path, int64(pageSize))
	if err != nil {
		return nil, err
	}

	p := newPager(mf, path, pageSize, cacheSize, budget)

	// Open or create WAL file
	walPath := path + "-wal"
	w, err := wal.Open(vfs.NewHostVFS(), walPath, wal.Options{PageSize: p.pageSize})
	if err != nil {
		mf.Close()
		return nil, err
	}

	// If WAL has frames, recover them
	if w.FrameCount() > 0 {
		_, err = w.Recover(context.Background(), path)
		if err != nil {
			w.Close()
			mf.Close()
			return nil, err
		}
	}

	p.wal = w
	p.walBackend = NewWalBackend(w)

	return p, nil
}

// OpenWithStorage opens a pager over a caller-supplied storage backend
// (a :memory: database uses MemoryStorage). No WAL is attached: the
// backend is the whole database, so crash recovery has nothing to
// replay and transactions resolve purely in memory.
func OpenWithStorage(store Storage, opts Options) (*Pager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = dbfile.DefaultPageSize
	}
	cacheSize := opts.CacheSize
	if cacheSize == 0 {
		cacheSize = 1000
	}

	p := newPager(store, ":memory:", pageSize, cacheSize, nil)
	p.inMemory = true
	return p, nil
}

// HasWAL reports whether a write-ahead log is attached; in-memory
// pagers run without one.
func (p *Pager) HasWAL() bool {
	return p.wal != nil
}

// newPager builds a pager over store, adopting an existing header or
// initializing a fresh one.
func newPager(store Storage, path string, pageSize, cacheSize int, budget *cache.MemoryBudget) *Pager {
	p := &Pager{
		store:        store,
		path:         path,
		pageSize:     pageSize,
		arc:          NewARCCache(cacheSize),
		cacheSize:    cacheSize,
		swizzle:      NewSwizzleRegistry(),
		dirtyPages:   make(map[uint32][]byte),
		freelist:     NewFreelist(pageSize),
		memoryBudget: budget,
	}
	p.arc.SetEvictHook(func(key CacheKey) {
		p.releaseCacheMemory(key.PageNo)
	})

	// Register with memory budget if provided
	if budget != nil {
		budget.RegisterComponent("page_cache")
	}

	// Check if this is a new file or existing database
	raw := store.Slice(0, dbfile.HeaderSize)
	if h, err := dbfile.DecodeHeader(raw); err == nil {
		// Existing database - adopt the on-disk header.
		p.header = h
		p.pageSize = int(h.PageSize)
		p.pageCount = h.PageCount

		p.loadFreelist(h.FreeListHead, h.FreeListCount)
	} else {
		// New database - initialize header.
		p.header = dbfile.NewHeader()
		p.header.PageSize = uint32(p.pageSize)
		p.pageCount = 1 // Header page is page 0
		p.header.PageCount = p.pageCount
		p.writeHeader()
	}
	return p
}

// IsInMemory reports whether the pager runs over a memory backend.
func (p *Pager) IsInMemory() bool {
	return p.inMemory
}

// writeHeader writes the database header to page 0 via the shared
// dbfile.Header codec, so the on-disk format stays byte-compatible with
// the reference file format regardless of which package wrote it last.
func (p *Pager) writeHeader() {
	p.header.PageSize = uint32(p.pageSize)
	p.header.PageCount = p.pageCount

	if p.freelist != nil {
		p.header.FreeListHead = p.freelist.HeadPage()
		p.header.FreeListCount = p.freelist.FreeCount()
	}

	dst := p.store.Slice(0, dbfile.HeaderSize)
	copy(dst, p.header.Encode())
}

// PageSize returns the page size
func (p *Pager) PageSize() int {
	return p.pageSize
}

// PageCount returns the number of pages
func (p *Pager) PageCount() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pageCount
}

// SetCommitSeq advances the sequence number tagging subsequent cache
// lookups and insertions. The MVCC transaction manager calls this after
// every commit so new readers see the page versions written by that
// commit while older snapshots keep their own cached versions alive.
func (p *Pager) SetCommitSeq(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitSeq = seq
}

// CommitSeq returns the sequence number currently tagging cache lookups.
func (p *Pager) CommitSeq() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.commitSeq
}

// Allocate creates a new page
func (p *Pager) Allocate() (*Page, error) {
	return p.AllocateContext(context.Background())
}

// AllocateContext creates a new page; growing the backing file
// observes the caller's cancellation context.
func (p *Pager) AllocateContext(ctx context.Context) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pageNo uint32

	// Try to allocate from freelist first
	if p.freelist != nil && p.freelist.FreeCount() > 0 {
		if freedPage, ok := p.allocateFromFreelistPersistent(); ok {
			pageNo = freedPage
			// Page already exists in file, just need to get it
			return p.getPageLocked(pageNo)
		}
	}

	// Freelist empty - grow the file
	pageNo = p.pageCount
	p.pageCount++

	// Ensure file is large enough
	requiredSize := int64(p.pageCount) * int64(p.pageSize)
	if requiredSize > p.store.Size() {
		// Grow by at least 10% or to required size
		newSize := p.store.Size() + p.store.Size()/10
		if newSize < requiredSize {
			newSize = requiredSize
		}
		if err := p.store.Grow(ctx, newSize); err != nil {
			return nil, err
		}
		// After remap, all cached page data slices are invalid
		// Clear the cache to force re-fetching from new mmap
		p.invalidateCache()
	}

	// Update header with new page count
	p.writeHeader()

	// Create page backed by mmap
	offset := int(pageNo) * p.pageSize
	data := p.store.Slice(offset, p.pageSize)
	page := NewPageWithData(pageNo, data)
	page.Pin()

	// Clear the page data (newly allocated pages should be zeroed)
	for i := range data {
		data[i] = 0
	}

	// Add to ARC cache at the current commit sequence
	key := CacheKey{PageNo: pageNo, CommitSeq: p.commitSeq}
	p.arc.Insert(key, page)
	p.arc.Pin(key)

	// Track memory usage
	p.trackCacheMemory(pageNo, int64(p.pageSize))

	return page, nil
}

// allocateFromFreelistPersistent allocates a page from the freelist and updates disk.
// Returns leaf pages first (LIFO), then trunk pages when empty.
func (p *Pager) allocateFromFreelistPersistent() (uint32, bool) {
	if len(p.freelist.trunks) == 0 {
		return 0, false
	}

	trunk := p.freelist.trunks[0]
	currentHead := p.freelist.headPage

	// Try to pop a leaf page first
	if leafPage, ok := trunk.PopLeaf(); ok {
		p.freelist.freeCount--

		// Update trunk on disk
		offset := int(currentHead) * p.pageSize
		data := p.store.Slice(offset, p.pageSize)
		trunk.Encode(data)

		// Update header
		p.writeHeader()

		return leafPage, true
	}

	// No more leaves - return the trunk page itself
	// Move to next trunk
	nextTrunk := trunk.NextTrunk
	p.freelist.freeCount--

	if nextTrunk != 0 && len(p.freelist.trunks) > 1 {
		// Move to next trunk
		p.freelist.trunks = p.freelist.trunks[1:]
		p.freelist.headPage = nextTrunk
	} else if nextTrunk != 0 {
		// Load next trunk from disk
		offset := int(nextTrunk) * p.pageSize
		data := p.store.Slice(offset, p.pageSize)
		loadedTrunk := DecodeFreelistTrunkPage(data)
		p.freelist.trunks = []*FreelistTrunkPage{loadedTrunk}
		p.freelist.headPage = nextTrunk
	} else {
		// No more trunks - freelist is empty
		p.freelist.trunks = nil
		p.freelist.headPage = 0
	}

	// Update header
	p.writeHeader()

	return currentHead, true
}

// Get retrieves the page version visible at the pager's current commit
// sequence.
func (p *Pager) Get(pageNo uint32) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := CacheKey{PageNo: pageNo, CommitSeq: p.commitSeq}
	p.swizzle.RecordAccess(pageNo)

	// Check ARC cache first
	if page, ok := p.arc.Get(key); ok {
		page.Pin()
		p.arc.Pin(key)
		p.recordCacheAccess(pageNo)
		p.missStreak = 0
		return page, nil
	}
	p.noteCacheMiss()

	// Check bounds
	if pageNo >= p.pageCount {
		return nil, ErrPageNotFound
	}

	// Load from mmap
	offset := int(pageNo) * p.pageSize
	data := p.store.Slice(offset, p.pageSize)
	if data == nil {
		return nil, ErrPageNotFound
	}

	page := NewPageWithData(pageNo, data)
	page.Pin()

	p.arc.Insert(key, page)
	p.arc.Pin(key)

	// Track memory usage
	p.trackCacheMemory(pageNo, int64(p.pageSize))

	return page, nil
}

// PrefetchHint warms the cache for pageNo without pinning it, matching
// the cursor's one-page-ahead lookahead: it loads the page if absent but
// leaves pin accounting untouched.
func (p *Pager) PrefetchHint(pageNo uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := CacheKey{PageNo: pageNo, CommitSeq: p.commitSeq}
	if _, ok := p.arc.Get(key); ok {
		return
	}
	if pageNo >= p.pageCount {
		return
	}
	offset := int(pageNo) * p.pageSize
	data := p.store.Slice(offset, p.pageSize)
	if data == nil {
		return
	}
	page := NewPageWithData(pageNo, data)
	p.arc.Insert(key, page)
}

// invalidateCache clears all cached pages after mmap regrowth.
// This is necessary because the underlying memory region changes after remap.
func (p *Pager) invalidateCache() {
	if p.memoryBudget != nil {
		// The old ARCCache is discarded wholesale, so release the budget
		// tracking of every page it still holds resident.
		old := p.arc
		old.mu.Lock()
		for e := old.t1.Front(); e != nil; e = e.Next() {
			p.releaseCacheMemory(e.Value.(*arcEntry).key.PageNo)
		}
		for e := old.t2.Front(); e != nil; e = e.Next() {
			p.releaseCacheMemory(e.Value.(*arcEntry).key.PageNo)
		}
		old.mu.Unlock()
	}
	p.arc = NewARCCache(p.cacheSize)
	p.arc.SetEvictHook(func(key CacheKey) {
		p.releaseCacheMemory(key.PageNo)
	})
}

// Release unpins a page.
func (p *Pager) Release(page *Page) {
	page.Unpin()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arc.Unpin(CacheKey{PageNo: page.PageNo(), CommitSeq: p.commitSeq})
}

// CacheStats returns the ARC cache's hit/miss/eviction counters.
func (p *Pager) CacheStats() ARCStats {
	return p.arc.Stats()
}

// Sync flushes all changes to disk
func (p *Pager) Sync() error {
	return p.SyncContext(context.Background())
}

// SyncContext flushes all changes to disk, observing the caller's
// cancellation context.
func (p *Pager) SyncContext(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeHeader()
	return p.store.Sync(ctx)
}

// Close closes the pager
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Close WAL
	if p.wal != nil {
		p.wal.Close()
	}

	// Write header before closing
	p.writeHeader()

	// Sync and close mmap
	if err := p.store.Sync(context.Background()); err != nil {
		p.store.Close()
		return err
	}

	return p.store.Close()
}

// BeginWrite starts a write transaction
func (p *Pager) BeginWrite() (*Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inTransaction {
		return nil, ErrTxAlreadyActive
	}

	// Establish a transaction-bounded view of the log: another
	// connection may have appended since our last look.
	if p.walBackend != nil {
		if err := p.walBackend.BeginTransaction(context.Background()); err != nil {
			return nil, err
		}
	}

	p.inTransaction = true
	p.dirtyPages = make(map[uint32][]byte)

	return &Transaction{pager: p}, nil
}

// InTransaction returns true if a transaction is active
func (p *Pager) InTransaction() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inTransaction
}

// Commit commits the transaction, writing dirty pages to WAL
func (tx *Transaction) Commit() error {
	p := tx.pager
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inTransaction {
		return ErrNoTransaction
	}

	// Write all dirty pages to WAL; the last frame carries the commit
	// marker (the database size in pages after the commit).
	ctx := context.Background()
	dirty := make([]*Page, 0, len(p.dirtyPages))
	for pageNo := range p.dirtyPages {
		page, ok := p.arc.Get(CacheKey{PageNo: pageNo, CommitSeq: p.commitSeq})
		if !ok || !page.IsDirty() {
			continue
		}
		dirty = append(dirty, page)
	}
	for i, page := range dirty {
		if p.walBackend != nil {
			dbSize := uint32(0)
			if i == len(dirty)-1 {
				dbSize = p.pageCount
			}
			// WAL frames number pages from 1; the pager indexes the same
			// pages from 0.
			if err := p.walBackend.Append(ctx, page.PageNo()+1, page.Data(), dbSize); err != nil {
				return err
			}
		}
		page.SetDirty(false)
	}
	if len(dirty) > 0 && p.wal != nil {
		if err := p.wal.Sync(ctx); err != nil {
			return err
		}
	}

	// Clear transaction state
	p.inTransaction = false
	p.dirtyPages = make(map[uint32][]byte)

	return nil
}

// Rollback aborts the transaction, restoring original page data
func (tx *Transaction) Rollback() {
	p := tx.pager
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inTransaction {
		return
	}

	// Restore original page data
	for pageNo, originalData := range p.dirtyPages {
		page, ok := p.arc.Get(CacheKey{PageNo: pageNo, CommitSeq: p.commitSeq})
		if !ok {
			continue
		}

		copy(page.Data(), originalData)
		page.SetDirty(false)
	}

	// Clear transaction state
	p.inTransaction = false
	p.dirtyPages = make(map[uint32][]byte)
}

// MarkDirty records that a page has been modified in the current transaction
func (p *Pager) MarkDirty(page *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inTransaction {
		return
	}

	pageNo := page.PageNo()
	if _, exists := p.dirtyPages[pageNo]; !exists {
		// Save original data for potential rollback
		original := make([]byte, p.pageSize)
		copy(original, page.Data())
		p.dirtyPages[pageNo] = original
	}
}

// Free returns a page to the freelist for reuse
func (p *Pager) Free(pageNo uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Cannot free page 0 (header page)
	if pageNo == 0 {
		return errors.New("cannot free page 0 (header page)")
	}

	// Cannot free page beyond current page count
	if pageNo >= p.pageCount {
		return ErrPageNotFound
	}

	// Add to freelist and persist
	p.addToFreelistPersistent(pageNo)
	p.swizzle.Forget(pageNo)

	// Update header with new freelist info
	p.writeHeader()

	return nil
}

// addToFreelistPersistent adds a page to the freelist and persists to disk.
// We use a simpler approach: the first freed page becomes a trunk, and
// subsequent freed pages are added as leaf entries in that trunk.
// When the trunk is full, we allocate a new trunk from the freelist itself.
func (p *Pager) addToFreelistPersistent(pageNo uint32) {
	// Get current head trunk
	currentHead := p.freelist.HeadPage()

	if currentHead == 0 {
		// No existing trunk - this page becomes the first trunk
		// A trunk with no leaves still counts as 1 free page (the trunk itself)
		trunk := &FreelistTrunkPage{
			NextTrunk: 0,
			LeafPages: []uint32{},
		}
		// Write trunk to the freed page
		offset := int(pageNo) * p.pageSize
		data := p.store.Slice(offset, p.pageSize)
		trunk.Encode(data)

		// Update in-memory freelist - the trunk page itself is a free page
		p.freelist.trunks = []*FreelistTrunkPage{trunk}
		p.freelist.headPage = pageNo
		p.freelist.freeCount = 1
		return
	}

	// We have an existing trunk - add this page as a leaf
	if len(p.freelist.trunks) > 0 {
		trunk := p.freelist.trunks[0]
		if !trunk.IsFull(p.pageSize) {
			// Add as leaf page to current trunk
			trunk.AddLeaf(pageNo)
			p.freelist.freeCount++

			// Write updated trunk to disk
			offset := int(currentHead) * p.pageSize
			data := p.store.Slice(offset, p.pageSize)
			trunk.Encode(data)
			return
		}

		// Current trunk is full of leaves
		// The new page becomes a new trunk, and the old trunk becomes a leaf of the new trunk
		// But this is complex - for simplicity, just make the new page a new trunk pointing to old
		newTrunk := &FreelistTrunkPage{
			NextTrunk: currentHead,
			LeafPages: []uint32{},
		}

		// Write new trunk to the freed page
		offset := int(pageNo) * p.pageSize
		data := p.store.Slice(offset, p.pageSize)
		newTrunk.Encode(data)

		// Update in-memory freelist
		p.freelist.trunks = append([]*FreelistTrunkPage{newTrunk}, p.freelist.trunks...)
		p.freelist.headPage = pageNo
		p.freelist.freeCount++
	}
}

// FreelistInfo returns the freelist trunk head page and declared free
// page count, for structural verification.
func (p *Pager) FreelistInfo() (uint32, uint32) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.freelist == nil {
		return 0, 0
	}
	return p.freelist.HeadPage(), p.freelist.FreeCount()
}

// FreePageCount returns the number of free pages in the freelist
func (p *Pager) FreePageCount() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.freelist == nil {
		return 0
	}
	return p.freelist.FreeCount()
}

// getPageLocked retrieves a page while already holding the lock.
// Used internally by Allocate when reusing a freed page.
func (p *Pager) getPageLocked(pageNo uint32) (*Page, error) {
	key := CacheKey{PageNo: pageNo, CommitSeq: p.commitSeq}

	if page, ok := p.arc.Get(key); ok {
		page.Pin()
		p.arc.Pin(key)
		return page, nil
	}

	// Check bounds
	if pageNo >= p.pageCount {
		return nil, ErrPageNotFound
	}

	// Load from mmap
	offset := int(pageNo) * p.pageSize
	data := p.store.Slice(offset, p.pageSize)
	if data == nil {
		return nil, ErrPageNotFound
	}

	page := NewPageWithData(pageNo, data)
	page.Pin()

	// Clear the page data (reused pages should be zeroed)
	for i := range data {
		data[i] = 0
	}

	p.arc.Insert(key, page)
	p.arc.Pin(key)

	return page, nil
}

// loadFreelist loads the freelist from disk on database open
func (p *Pager) loadFreelist(headPage uint32, freeCount uint32) {
	if headPage == 0 || freeCount == 0 {
		// No freelist to load
		return
	}

	// Load trunk pages directly into freelist structure
	p.freelist.trunks = nil
	p.freelist.headPage = headPage
	p.freelist.freeCount = freeCount

	// Walk the trunk page chain and load all trunks
	currentTrunkPage := headPage

	for currentTrunkPage != 0 {
		// Read trunk page data from mmap
		offset := int(currentTrunkPage) * p.pageSize
		data := p.store.Slice(offset, p.pageSize)
		if data == nil {
			break
		}

		// Decode the trunk page
		trunk := DecodeFreelistTrunkPage(data)
		p.freelist.trunks = append(p.freelist.trunks, trunk)

		// Move to next trunk
		currentTrunkPage = trunk.NextTrunk
	}
}

// MemoryBudget returns the memory budget associated with this pager, if any
func (p *Pager) MemoryBudget() *cache.MemoryBudget {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.memoryBudget
}

// trackCacheMemory tracks memory usage for a cached page
func (p *Pager) trackCacheMemory(pageNo uint32, bytes int64) {
	if p.memoryBudget == nil {
		return
	}

	key := fmt.Sprintf("page_%d", pageNo)
	p.memoryBudget.TrackWithPriority("page_cache", key, bytes, cache.PriorityWarm)
}

// releaseCacheMemory releases memory tracking for a cached page
func (p *Pager) releaseCacheMemory(pageNo uint32) {
	if p.memoryBudget == nil {
		return
	}

	key := fmt.Sprintf("page_%d", pageNo)
	p.memoryBudget.ReleaseItem("page_cache", key)
}

// coolSweepMissRun is the run of consecutive cache misses after which
// the swizzle registry cools one step: a streak that long means the
// working set shifted away from the pages currently marked hot.
const coolSweepMissRun = 32

// noteCacheMiss feeds the temperature decay automaton. Caller holds
// p.mu.
func (p *Pager) noteCacheMiss() {
	p.missStreak++
	if p.missStreak >= coolSweepMissRun {
		p.missStreak = 0
		p.swizzle.CoolSweep()
	}
}

// recordCacheAccess records access to a cached page for priority tracking
func (p *Pager) recordCacheAccess(pageNo uint32) {
	if p.memoryBudget == nil {
		return
	}

	key := fmt.Sprintf("page_%d", pageNo)
	p.memoryBudget.RecordAccess("page_cache", key)
}

// SetNewerVersionHook installs the callback the ARC cache uses to
// prefer evicting page versions superseded by a newer commit.
func (p *Pager) SetNewerVersionHook(f func(pageNo uint32, commitSeq uint64) bool) {
	p.arc.SetNewerVersionHook(f)
}

// WAL exposes the pager's write-ahead log for checkpoint control and
// sidecar wiring.
func (p *Pager) WAL() *wal.WAL {
	return p.wal
}

// WalBackend exposes the pager-facing log capability bundle; readers
// use it to prefer a newer committed WAL frame over the database file.
func (p *Pager) WalBackend() WalBackend {
	return p.walBackend
}

// Path returns the database file path.
func (p *Pager) Path() string {
	return p.path
}

// Checkpoint backfills committed WAL frames into the database file.
// oldestReaderFrame bounds what current readers permit (0 = no readers).
func (p *Pager) Checkpoint(ctx context.Context, mode wal.CheckpointMode, oldestReaderFrame uint32) (wal.CheckpointResult, error) {
	res, err := p.wal.Checkpoint(ctx, p.path, mode, oldestReaderFrame)
	if err != nil {
		return res, err
	}
	// The mmap'd view and the file were both touched by the backfill;
	// cached pages may now be stale relative to the database file.
	if res.FramesBackfilled > 0 {
		p.mu.Lock()
		p.invalidateCache()
		p.mu.Unlock()
	}
	return res, err
}
