// pkg/pager/wal_adapter.go
package pager

import (
	"context"

	"fsqlite/pkg/wal"
)

// WalBackend is the narrow capability bundle the pager needs from a
// write-ahead log. Expressing it as an interface keeps the pager and
// the concrete WAL decoupled: each side sees only the other's
// operation set.
type WalBackend interface {
	// BeginTransaction establishes a transaction-bounded view of the
	// log: the header is refreshed once so the append position and
	// salt generation are current.
	BeginTransaction(ctx context.Context) error

	// Append writes one page frame; a non-zero dbSize marks the commit
	// frame. The header is re-read first only when an external write
	// marked it dirty.
	Append(ctx context.Context, pageNo uint32, data []byte, dbSize uint32) error

	// ReadPage returns the newest committed image of a page at or
	// below maxFrame (0 means the newest commit), preferring the log
	// over the database file. ok=false when the log has no committed
	// frame for the page.
	ReadPage(ctx context.Context, pageNo, maxFrame uint32) ([]byte, bool)

	// Invalidate drops any cached page-to-frame mapping after a
	// structural mutation or salt-generation change.
	Invalidate(ctx context.Context)
}

// walAdapter implements WalBackend over the concrete WAL file.
type walAdapter struct {
	w *wal.WAL
}

// NewWalBackend wraps a WAL file in the pager-facing capability bundle.
func NewWalBackend(w *wal.WAL) WalBackend {
	return &walAdapter{w: w}
}

func (a *walAdapter) BeginTransaction(ctx context.Context) error {
	return a.w.RefreshHeader(ctx)
}

func (a *walAdapter) Append(ctx context.Context, pageNo uint32, data []byte, dbSize uint32) error {
	// AppendFrame itself refreshes only when the header was marked
	// dirty by a prior external write.
	return a.w.AppendFrame(ctx, pageNo, data, dbSize)
}

func (a *walAdapter) ReadPage(ctx context.Context, pageNo, maxFrame uint32) ([]byte, bool) {
	if maxFrame == 0 {
		maxFrame = a.w.LastCommitFrame()
	}
	idx, err := a.w.FindPageAt(ctx, pageNo, maxFrame)
	if err != nil {
		return nil, false
	}
	frame, err := a.w.ReadFrame(ctx, idx)
	if err != nil {
		return nil, false
	}
	return frame.Data, true
}

func (a *walAdapter) Invalidate(ctx context.Context) {
	// The page index rebuilds from the on-disk header; a salt change
	// discards it wholesale.
	a.w.MarkHeaderDirty()
	_ = a.w.RefreshHeader(ctx)
}
