// pkg/btree/prefetch_test.go
package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"fsqlite/pkg/pager"
)

// A forward scan should leave the next leaf already resident: the
// cursor's prefetch hint warms the cache on every leaf transition.
func TestCursorScanEmitsPrefetchHints(t *testing.T) {
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "test.db"), pager.Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	bt, err := Create(p)
	if err != nil {
		t.Fatal(err)
	}
	// Enough entries for several leaves at 512-byte pages.
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := bt.Insert(key, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if bt.Depth() < 2 {
		t.Skip("tree did not split; no leaf transitions to exercise")
	}

	cur := bt.Cursor()
	defer cur.Close()

	seen := 0
	leaves := make(map[uint32]bool)
	for cur.First(); cur.Valid(); cur.Next() {
		seen++
		leaves[cur.CurrentLeafPage()] = true
	}
	if seen != 300 {
		t.Fatalf("scan visited %d entries, want 300", seen)
	}
	if len(leaves) < 2 {
		t.Fatalf("expected multiple leaves, got %d", len(leaves))
	}

	// Every leaf but the first was hinted before it was read: the hit
	// counters reflect the warmed cache.
	stats := p.CacheStats()
	if stats.Hits == 0 {
		t.Error("expected cache hits from prefetch hints")
	}
}

func TestCurrentLeafPageInvalidCursor(t *testing.T) {
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "test.db"), pager.Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	bt, err := Create(p)
	if err != nil {
		t.Fatal(err)
	}
	cur := bt.Cursor()
	defer cur.Close()

	if got := cur.CurrentLeafPage(); got != 0 {
		t.Errorf("invalid cursor leaf page: got %d, want 0", got)
	}
}
