// pkg/mvcc/visibility.go
package mvcc

// VisibleVersion finds the newest version in a chain with
// commitSeq <= snapshot. Returns nil if the chain holds no version a
// reader at that snapshot may observe (the reader falls through to the
// database file).
func VisibleVersion(chain *VersionChain, snapshot uint64) *PageVersion {
	if chain == nil {
		return nil
	}

	for cur := chain.Head(); cur != nil; cur = cur.Next() {
		if cur.CommitSeq() <= snapshot {
			return cur
		}
	}
	return nil
}

// VisibleData returns a copy of the page bytes visible at snapshot, or
// nil when no committed version qualifies.
func VisibleData(chain *VersionChain, snapshot uint64) []byte {
	v := VisibleVersion(chain, snapshot)
	if v == nil {
		return nil
	}
	return v.Data()
}
