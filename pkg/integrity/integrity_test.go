// pkg/integrity/integrity_test.go
package integrity

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqlite/pkg/btree"
	"fsqlite/pkg/dbfile"
	"fsqlite/pkg/pager"
)

func newTestDB(t *testing.T) (*pager.Pager, *btree.BTree) {
	t.Helper()
	p, err := pager.Open(filepath.Join(t.TempDir(), "test.db"), pager.Options{PageSize: 4096})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })

	bt, err := btree.Create(p)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, bt.Insert(key, []byte("value")))
	}
	return p, bt
}

func TestCheckCleanDatabaseIsOK(t *testing.T) {
	p, bt := newTestDB(t)

	roots := []Root{{Name: "t1", Page: bt.RootPage()}}
	findings := Check(p, roots, nil, Options{})
	assert.Empty(t, findings, "findings: %v", findings)
	assert.Equal(t, "ok", Report(findings))
}

func TestCheckDetectsCorruptCellPointer(t *testing.T) {
	p, bt := newTestDB(t)

	page, err := p.Get(bt.RootPage())
	require.NoError(t, err)
	// Point cell 0 past the end of the page.
	data := page.Data()
	data[12] = 0xFF
	data[13] = 0xFF
	p.Release(page)

	findings := Check(p, []Root{{Name: "t1", Page: bt.RootPage()}}, nil, Options{})
	require.NotEmpty(t, findings)
	assert.Contains(t, Report(findings), "outside content area")
}

func TestCheckDetectsOutOfOrderCells(t *testing.T) {
	p, bt := newTestDB(t)

	// Swap two cell pointers on a leaf so its keys are out of order.
	// Find a leaf by walking to the first child if the root is interior.
	pageNo := bt.RootPage()
	for {
		page, err := p.Get(pageNo)
		require.NoError(t, err)
		node := btree.LoadNode(page.Data())
		if node.IsLeaf() {
			data := page.Data()
			data[12], data[14] = data[14], data[12]
			data[13], data[15] = data[15], data[13]
			p.Release(page)
			break
		}
		_, childPtr := node.GetCell(0)
		p.Release(page)
		pageNo = uint32(childPtr[0]) | uint32(childPtr[1])<<8 | uint32(childPtr[2])<<16 | uint32(childPtr[3])<<24
	}

	findings := Check(p, []Root{{Name: "t1", Page: bt.RootPage()}}, nil, Options{})
	require.NotEmpty(t, findings)
	assert.Contains(t, Report(findings), "out of order")
}

func TestCheckDetectsOrphanPage(t *testing.T) {
	p, bt := newTestDB(t)

	// Allocate a page nothing references.
	orphan, err := p.Allocate()
	require.NoError(t, err)
	orphanNo := orphan.PageNo()
	p.Release(orphan)

	findings := Check(p, []Root{{Name: "t1", Page: bt.RootPage()}}, nil, Options{})
	require.NotEmpty(t, findings)
	assert.Contains(t, Report(findings), fmt.Sprintf("page %d: never used", orphanNo))
}

func TestCheckFreelistAccountsPages(t *testing.T) {
	p, bt := newTestDB(t)

	// Free a page: it moves to the freelist and stays accounted for.
	extra, err := p.Allocate()
	require.NoError(t, err)
	extraNo := extra.PageNo()
	p.Release(extra)
	require.NoError(t, p.Free(extraNo))

	findings := Check(p, []Root{{Name: "t1", Page: bt.RootPage()}}, nil, Options{})
	assert.Empty(t, findings, "findings: %v", findings)
}

func TestCheckSchemaRecords(t *testing.T) {
	p, bt := newTestDB(t)

	good := (&dbfile.SchemaEntry{
		Type:     dbfile.SchemaEntryTable,
		Name:     "t1",
		RootPage: bt.RootPage(),
		SQL:      "CREATE TABLE t1(a)",
	}).Encode()

	findings := Check(p, []Root{{Name: "t1", Page: bt.RootPage()}}, [][]byte{good}, Options{})
	assert.Empty(t, findings)

	// A truncated record and a bad root page both surface.
	bad := (&dbfile.SchemaEntry{
		Type:     dbfile.SchemaEntryTable,
		Name:     "ghost",
		RootPage: 9999,
		SQL:      "CREATE TABLE ghost(a)",
	}).Encode()
	findings = Check(p, []Root{{Name: "t1", Page: bt.RootPage()}},
		[][]byte{good, bad, {0x01, 0x02}}, Options{})
	report := Report(findings)
	assert.True(t, strings.Contains(report, "invalid root page"), report)
	assert.True(t, strings.Contains(report, "does not parse"), report)
}
