// pkg/mvcc/store.go
package mvcc

import "sync"

// PageStore is the arena of committed page versions, indexed by page
// number and commit sequence. Every other structure refers to versions
// through (PageNo, CommitSeq) keys rather than pointers, which keeps
// the version-chain / cache / write-set references acyclic.
type PageStore struct {
	mu     sync.RWMutex
	chains map[uint32]*VersionChain
}

// StoreStats reports arena occupancy.
type StoreStats struct {
	Pages    int
	Versions int
}

// NewPageStore creates an empty arena.
func NewPageStore() *PageStore {
	return &PageStore{chains: make(map[uint32]*VersionChain)}
}

// Publish installs a committed write set as new versions at commitSeq.
func (s *PageStore) Publish(commitSeq uint64, pages map[uint32][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pageNo, data := range pages {
		chain := s.chains[pageNo]
		if chain == nil {
			chain = NewVersionChain(pageNo)
			s.chains[pageNo] = chain
		}
		chain.AddVersion(NewPageVersion(pageNo, commitSeq, data))
	}
}

// Read returns the page bytes visible at snapshot, or nil when the
// arena holds no qualifying version (caller falls through to the
// database file).
func (s *PageStore) Read(pageNo uint32, snapshot uint64) []byte {
	s.mu.RLock()
	chain := s.chains[pageNo]
	s.mu.RUnlock()
	return VisibleData(chain, snapshot)
}

// Newest returns the most recent committed version of a page, or nil.
func (s *PageStore) Newest(pageNo uint32) *PageVersion {
	s.mu.RLock()
	chain := s.chains[pageNo]
	s.mu.RUnlock()
	if chain == nil {
		return nil
	}
	return chain.Head()
}

// NewerThan reports whether a version of pageNo exists with a commit
// sequence strictly greater than seq. The pager's ARC cache uses this
// to prefer evicting superseded page versions.
func (s *PageStore) NewerThan(pageNo uint32, seq uint64) bool {
	v := s.Newest(pageNo)
	return v != nil && v.CommitSeq() > seq
}

// VersionsBetween returns the committed versions of pageNo with
// lo < commitSeq <= hi, oldest first. The rebase path walks these to
// accumulate intervening byte diffs.
func (s *PageStore) VersionsBetween(pageNo uint32, lo, hi uint64) []*PageVersion {
	s.mu.RLock()
	chain := s.chains[pageNo]
	s.mu.RUnlock()
	if chain == nil {
		return nil
	}

	var out []*PageVersion
	for cur := chain.Head(); cur != nil; cur = cur.Next() {
		seq := cur.CommitSeq()
		if seq <= lo {
			break
		}
		if seq <= hi {
			out = append(out, cur)
		}
	}
	// Reverse into oldest-first order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Prune drops versions unreachable by every snapshot >= minSnapshot.
// Returns the number of versions removed.
func (s *PageStore) Prune(minSnapshot uint64) int {
	s.mu.RLock()
	chains := make([]*VersionChain, 0, len(s.chains))
	for _, c := range s.chains {
		chains = append(chains, c)
	}
	s.mu.RUnlock()

	pruned := 0
	for _, c := range chains {
		pruned += c.Prune(minSnapshot)
	}
	return pruned
}

// Stats returns arena occupancy counters.
func (s *PageStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := StoreStats{Pages: len(s.chains)}
	for _, c := range s.chains {
		st.Versions += c.Length()
	}
	return st
}
