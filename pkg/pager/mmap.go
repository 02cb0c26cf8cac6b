// pkg/pager/mmap.go
package pager

import "fsqlite/pkg/vfs"

// MmapFile provides memory-mapped access to the database file. The
// mapping itself is the memory plane (Slice); file-plane operations
// (truncate on grow, close) run through the VFS handle so they observe
// cancellation like every other file I/O in the engine.
// Platform-specific implementations are in mmap_unix.go and mmap_windows.go.
type MmapFile struct {
	file  interface{} // *os.File on Unix, *mmapHandle on Windows (fd for mapping calls)
	vfile vfs.File    // the same descriptor behind the VFS capability bundle
	data  []byte
	size  int64
}

// Size returns the current file size
func (m *MmapFile) Size() int64 {
	return m.size
}

// Slice returns a slice of the mapped memory at the given offset and length
func (m *MmapFile) Slice(offset, length int) []byte {
	if offset+length > len(m.data) {
		return nil
	}
	return m.data[offset : offset+length]
}
