// pkg/mvcc/conflict.go
package mvcc

import "sync"

// PageDelta is one page in a transaction's write set: the pre-image
// snapshotted on first write (the rebase baseline) and the working
// post-image every later write mutates.
type PageDelta struct {
	Pre  []byte
	Post []byte
}

// diffOffsets returns the byte offsets where a and b differ.
func diffOffsets(a, b []byte) []int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var offs []int
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			offs = append(offs, i)
		}
	}
	for i := n; i < len(a) || i < len(b); i++ {
		offs = append(offs, i)
	}
	return offs
}

// WriteSet tracks the pages a transaction has written, pre-image kept
// for commit-time rebase.
type WriteSet struct {
	mu    sync.RWMutex
	pages map[uint32]*PageDelta
}

// NewWriteSet creates an empty write set.
func NewWriteSet() *WriteSet {
	return &WriteSet{pages: make(map[uint32]*PageDelta)}
}

// Put records a write. The first write to a page snapshots pre as the
// rebase baseline; later writes only replace the working image.
func (ws *WriteSet) Put(pageNo uint32, pre, post []byte) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	d := ws.pages[pageNo]
	if d == nil {
		preCopy := make([]byte, len(pre))
		copy(preCopy, pre)
		d = &PageDelta{Pre: preCopy}
		ws.pages[pageNo] = d
	}
	postCopy := make([]byte, len(post))
	copy(postCopy, post)
	d.Post = postCopy
}

// Get returns the working image for a page, or nil.
func (ws *WriteSet) Get(pageNo uint32) []byte {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	d := ws.pages[pageNo]
	if d == nil {
		return nil
	}
	copied := make([]byte, len(d.Post))
	copy(copied, d.Post)
	return copied
}

// Contains reports whether the page is in the write set.
func (ws *WriteSet) Contains(pageNo uint32) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	_, ok := ws.pages[pageNo]
	return ok
}

// Pages returns the written page numbers.
func (ws *WriteSet) Pages() []uint32 {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	out := make([]uint32, 0, len(ws.pages))
	for pn := range ws.pages {
		out = append(out, pn)
	}
	return out
}

// Len returns the number of written pages.
func (ws *WriteSet) Len() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.pages)
}

// Delta returns the delta record for a page, or nil.
func (ws *WriteSet) Delta(pageNo uint32) *PageDelta {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.pages[pageNo]
}

// Remove drops a page from the write set.
func (ws *WriteSet) Remove(pageNo uint32) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	delete(ws.pages, pageNo)
}

// Images returns the post-images keyed by page number, for publication.
func (ws *WriteSet) Images() map[uint32][]byte {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	out := make(map[uint32][]byte, len(ws.pages))
	for pn, d := range ws.pages {
		img := make([]byte, len(d.Post))
		copy(img, d.Post)
		out[pn] = img
	}
	return out
}

// ReadSet tracks the pages a transaction has read, for SSI.
type ReadSet struct {
	mu    sync.RWMutex
	pages map[uint32]struct{}
}

// NewReadSet creates an empty read set.
func NewReadSet() *ReadSet {
	return &ReadSet{pages: make(map[uint32]struct{})}
}

// Add records a page read.
func (rs *ReadSet) Add(pageNo uint32) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.pages[pageNo] = struct{}{}
}

// Contains reports whether the page was read.
func (rs *ReadSet) Contains(pageNo uint32) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.pages[pageNo]
	return ok
}

// Pages returns the read page numbers.
func (rs *ReadSet) Pages() []uint32 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]uint32, 0, len(rs.pages))
	for pn := range rs.pages {
		out = append(out, pn)
	}
	return out
}

// rebase attempts to merge a transaction's delta for one page onto the
// versions committed after its snapshot. The local diff (pre vs post)
// must be byte-disjoint from the diff of every intervening commit; the
// merge applies the local modified bytes onto the newest committed
// image. Returns (merged, true) on success.
//
// The byte-disjointness test is deliberately conservative: a looser
// cell-level test would admit more merges but needs schema awareness.
func rebase(delta *PageDelta, intervening []*PageVersion) ([]byte, bool) {
	if len(intervening) == 0 {
		merged := make([]byte, len(delta.Post))
		copy(merged, delta.Post)
		return merged, true
	}

	localDiff := diffOffsets(delta.Pre, delta.Post)
	local := make(map[int]struct{}, len(localDiff))
	for _, off := range localDiff {
		local[off] = struct{}{}
	}

	// Walk intervening commits oldest-first, diffing each against its
	// predecessor (the transaction's pre-image precedes the first).
	prev := delta.Pre
	for _, v := range intervening {
		cur := v.Data()
		for _, off := range diffOffsets(prev, cur) {
			if _, clash := local[off]; clash {
				return nil, false
			}
		}
		prev = cur
	}

	// prev now holds the newest committed image; graft the local bytes.
	merged := make([]byte, len(prev))
	copy(merged, prev)
	for off := range local {
		if off < len(merged) && off < len(delta.Post) {
			merged[off] = delta.Post[off]
		}
	}
	return merged, true
}
