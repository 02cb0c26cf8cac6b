// pkg/integrity/integrity.go
// Package integrity implements the structural database check behind
// PRAGMA integrity_check. Five merged levels run over the file: page
// headers, B-tree cell structure, payload extents, page cross-
// referencing (every page used exactly once), and schema decoding.
// The report is the single line "ok" when everything passes, otherwise
// one human-readable message per finding.
package integrity

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"fsqlite/pkg/dbfile"
	"fsqlite/pkg/encoding"
	"fsqlite/pkg/pager"
)

// Node page header layout, shared with the B-tree package.
const (
	nodeHeaderSize  = 12
	cellPointerSize = 2
	flagLeaf        = 0x01
)

// Root names one B-tree to verify, as recorded in the schema catalog.
type Root struct {
	Name string
	Page uint32
}

// Options bounds a check run.
type Options struct {
	// MaxErrors stops the check after this many findings (default 100,
	// matching the reference behavior).
	MaxErrors int
}

// checker accumulates findings over one run.
type checker struct {
	p         *pager.Pager
	pageSize  int
	pageCount uint32
	maxErrors int

	findings []string

	// refs counts how many structures claim each page.
	refs map[uint32]int
}

// Check runs all five levels. roots are the schema-rooted B-trees;
// schemaRecords are the encoded catalog entries themselves (level 5
// verifies each decodes).
func Check(p *pager.Pager, roots []Root, schemaRecords [][]byte, opts Options) []string {
	maxErrors := opts.MaxErrors
	if maxErrors == 0 {
		maxErrors = 100
	}
	c := &checker{
		p:         p,
		pageSize:  p.PageSize(),
		pageCount: p.PageCount(),
		maxErrors: maxErrors,
		refs:      make(map[uint32]int),
	}

	for _, root := range roots {
		c.checkTree(root)
	}
	c.checkFreelist()
	c.checkCrossRef()
	c.checkSchema(schemaRecords)

	return c.findings
}

// Report formats findings the way the reference does: "ok" on success.
func Report(findings []string) string {
	if len(findings) == 0 {
		return "ok"
	}
	out := findings[0]
	for _, f := range findings[1:] {
		out += "\n" + f
	}
	return out
}

func (c *checker) addf(format string, args ...interface{}) {
	if len(c.findings) < c.maxErrors {
		c.findings = append(c.findings, fmt.Sprintf(format, args...))
	}
}

func (c *checker) full() bool {
	return len(c.findings) >= c.maxErrors
}

// readPage fetches a page's bytes, or nil with a finding.
func (c *checker) readPage(pageNo uint32, what string) []byte {
	if pageNo == 0 || pageNo >= c.pageCount {
		c.addf("%s: page %d out of range (database has %d pages)", what, pageNo, c.pageCount)
		return nil
	}
	page, err := c.p.Get(pageNo)
	if err != nil {
		c.addf("%s: page %d unreadable: %v", what, pageNo, err)
		return nil
	}
	data := make([]byte, c.pageSize)
	copy(data, page.Data())
	c.p.Release(page)
	return data
}

// checkTree walks one B-tree root, running levels 1-3 on every page.
func (c *checker) checkTree(root Root) {
	visited := make(map[uint32]bool)
	c.walk(root, root.Page, visited, nil, nil)
}

// walk recurses through a B-tree, verifying each page and the key
// ordering bounds inherited from the parent.
func (c *checker) walk(root Root, pageNo uint32, visited map[uint32]bool, lower, upper []byte) {
	if c.full() {
		return
	}
	if visited[pageNo] {
		c.addf("btree %s: page %d visited twice within the tree", root.Name, pageNo)
		return
	}
	visited[pageNo] = true
	c.refs[pageNo]++

	data := c.readPage(pageNo, fmt.Sprintf("btree %s", root.Name))
	if data == nil {
		return
	}

	// Level 1: page header sanity.
	flags := data[0]
	if flags != 0 && flags != flagLeaf {
		c.addf("btree %s: page %d has invalid type byte %#x", root.Name, pageNo, flags)
		return
	}
	cellCount := int(binary.LittleEndian.Uint16(data[1:3]))
	freeStart := int(binary.LittleEndian.Uint16(data[3:5]))
	freeEnd := int(binary.LittleEndian.Uint16(data[5:7]))

	wantFreeStart := nodeHeaderSize + cellCount*cellPointerSize
	if freeStart != wantFreeStart {
		c.addf("btree %s: page %d cell pointer array inconsistent (free start %d, %d cells)",
			root.Name, pageNo, freeStart, cellCount)
		return
	}
	if freeEnd < freeStart || freeEnd > c.pageSize {
		c.addf("btree %s: page %d free region invalid (%d..%d)", root.Name, pageNo, freeStart, freeEnd)
		return
	}

	isLeaf := flags&flagLeaf != 0

	// Level 2 and 3: cells in order, inside the content area, payload
	// lengths within bounds, no overlap.
	type extent struct{ start, end int }
	extents := make([]extent, 0, cellCount)
	var prevKey []byte

	for i := 0; i < cellCount; i++ {
		off := int(binary.LittleEndian.Uint16(data[nodeHeaderSize+i*cellPointerSize:]))
		if off < freeEnd || off >= c.pageSize {
			c.addf("btree %s: page %d cell %d offset %d outside content area", root.Name, pageNo, i, off)
			continue
		}

		keyLen, n := encoding.GetVarint(data[off:])
		if n == 0 || off+n+int(keyLen) > c.pageSize {
			c.addf("btree %s: page %d cell %d key overruns page", root.Name, pageNo, i)
			continue
		}
		keyStart := off + n
		key := data[keyStart : keyStart+int(keyLen)]

		valPos := keyStart + int(keyLen)
		valLen, vn := encoding.GetVarint(data[valPos:])
		if vn == 0 || valPos+vn+int(valLen) > c.pageSize {
			c.addf("btree %s: page %d cell %d payload length exceeds page", root.Name, pageNo, i)
			continue
		}
		end := valPos + vn + int(valLen)
		extents = append(extents, extent{start: off, end: end})

		if prevKey != nil && bytes.Compare(prevKey, key) >= 0 {
			c.addf("btree %s: page %d cells %d and %d out of order", root.Name, pageNo, i-1, i)
		}
		prevKey = key

		if lower != nil && bytes.Compare(key, lower) < 0 {
			c.addf("btree %s: page %d cell %d key below parent bound", root.Name, pageNo, i)
		}
		if upper != nil && bytes.Compare(key, upper) >= 0 {
			c.addf("btree %s: page %d cell %d key above parent bound", root.Name, pageNo, i)
		}

		if !isLeaf {
			// Interior cell values carry the left child page number.
			if valLen != 4 {
				c.addf("btree %s: page %d interior cell %d has malformed child pointer", root.Name, pageNo, i)
				continue
			}
			child := binary.LittleEndian.Uint32(data[valPos+vn:])
			var childLower []byte
			if i > 0 {
				childLower, _ = c.cellKey(data, i-1)
			} else {
				childLower = lower
			}
			c.walk(root, child, visited, childLower, key)
		}
	}

	// Overlap detection over the collected extents.
	for i := 0; i < len(extents); i++ {
		for j := i + 1; j < len(extents); j++ {
			a, b := extents[i], extents[j]
			if a.start < b.end && b.start < a.end {
				c.addf("btree %s: page %d cells overlap (%d..%d vs %d..%d)",
					root.Name, pageNo, a.start, a.end, b.start, b.end)
			}
		}
	}

	if !isLeaf {
		right := binary.LittleEndian.Uint32(data[8:12])
		if right == 0 {
			c.addf("btree %s: page %d interior node missing right child", root.Name, pageNo)
		} else {
			var childLower []byte
			if cellCount > 0 {
				childLower, _ = c.cellKey(data, cellCount-1)
			} else {
				childLower = lower
			}
			c.walk(root, right, visited, childLower, upper)
		}
	}
}

// cellKey re-parses cell i's key from raw page bytes.
func (c *checker) cellKey(data []byte, i int) ([]byte, bool) {
	off := int(binary.LittleEndian.Uint16(data[nodeHeaderSize+i*cellPointerSize:]))
	if off <= 0 || off >= c.pageSize {
		return nil, false
	}
	keyLen, n := encoding.GetVarint(data[off:])
	if n == 0 || off+n+int(keyLen) > c.pageSize {
		return nil, false
	}
	return data[off+n : off+n+int(keyLen)], true
}

// checkFreelist walks the freelist trunk chain, claiming every trunk
// and leaf page and verifying the header's count.
func (c *checker) checkFreelist() {
	head, declared := c.p.FreelistInfo()
	if head == 0 {
		if declared != 0 {
			c.addf("freelist: header declares %d free pages but no trunk", declared)
		}
		return
	}

	seen := make(map[uint32]bool)
	counted := uint32(0)
	trunkNo := head
	for trunkNo != 0 {
		if seen[trunkNo] {
			c.addf("freelist: trunk chain cycles at page %d", trunkNo)
			return
		}
		seen[trunkNo] = true
		c.refs[trunkNo]++
		counted++

		data := c.readPage(trunkNo, "freelist")
		if data == nil {
			return
		}
		trunk := pager.DecodeFreelistTrunkPage(data)
		for _, leaf := range trunk.LeafPages {
			if leaf == 0 || leaf >= c.pageCount {
				c.addf("freelist: trunk %d references out-of-range leaf %d", trunkNo, leaf)
				continue
			}
			c.refs[leaf]++
			counted++
		}
		trunkNo = trunk.NextTrunk
	}

	if counted != declared {
		c.addf("freelist: header declares %d free pages, chain holds %d", declared, counted)
	}
}

// checkCrossRef verifies every page is claimed exactly once by the
// union of schema-rooted trees and the freelist. Page 0 holds the file
// header and is exempt.
func (c *checker) checkCrossRef() {
	for pageNo := uint32(1); pageNo < c.pageCount; pageNo++ {
		switch c.refs[pageNo] {
		case 0:
			c.addf("page %d: never used", pageNo)
		case 1:
			// exactly once: correct
		default:
			c.addf("page %d: referenced %d times", pageNo, c.refs[pageNo])
		}
		if c.full() {
			return
		}
	}
}

// checkSchema decodes every catalog record and verifies its root-page
// binding.
func (c *checker) checkSchema(records [][]byte) {
	for i, rec := range records {
		entry, err := dbfile.DecodeSchemaEntry(rec)
		if err != nil {
			c.addf("schema: record %d does not parse: %v", i, err)
			continue
		}
		switch entry.Type {
		case dbfile.SchemaEntryTable, dbfile.SchemaEntryIndex:
			if entry.RootPage == 0 || entry.RootPage >= c.pageCount {
				c.addf("schema: %s %q has invalid root page %d",
					schemaTypeName(entry.Type), entry.Name, entry.RootPage)
			}
		case dbfile.SchemaEntryView, dbfile.SchemaEntryTrigger:
			if entry.RootPage != 0 {
				c.addf("schema: %s %q must not have a root page",
					schemaTypeName(entry.Type), entry.Name)
			}
		default:
			c.addf("schema: record %d has unknown type %d", i, entry.Type)
		}
	}
}

func schemaTypeName(t dbfile.SchemaEntryType) string {
	switch t {
	case dbfile.SchemaEntryTable:
		return "table"
	case dbfile.SchemaEntryIndex:
		return "index"
	case dbfile.SchemaEntryView:
		return "view"
	case dbfile.SchemaEntryTrigger:
		return "trigger"
	default:
		return "object"
	}
}
