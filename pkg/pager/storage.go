// pkg/pager/storage.go
package pager

import "context"

// Storage is the page-level backing store of the database file. Page
// images are reached through Slice — a view into an established
// mapping or buffer, which is plain memory access — while the
// operations that actually touch the file (flushing, extending) take a
// context and observe cancellation, matching the VFS contract the WAL
// already follows.
type Storage interface {
	// Size returns the current size of the storage in bytes.
	Size() int64

	// Slice returns a view of the storage data at the given offset and
	// length, or nil if the range is out of bounds. This is the memory
	// plane: no I/O happens here.
	Slice(offset, length int) []byte

	// Sync flushes any pending writes to the underlying file. A no-op
	// for in-memory storage.
	Sync(ctx context.Context) error

	// Grow extends the storage to newSize; smaller or equal sizes are
	// a no-op. Existing data is preserved. Cancellation is observed
	// before the file is touched, never between the truncate and the
	// remap, so the mapping stays consistent.
	Grow(ctx context.Context, newSize int64) error

	// Close releases any resources associated with the storage.
	Close() error
}

// storageCtxErr reports ctx's error, tolerating a nil context the way
// the VFS backends do.
func storageCtxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// growCopyChunk bounds how many bytes MemoryStorage copies between
// cancellation checks while growing.
const growCopyChunk = 1 << 20

// MemoryStorage implements Storage over an in-memory byte slice, used
// for the :memory: database mode where no disk I/O is performed.
type MemoryStorage struct {
	data []byte
	size int64
}

// NewMemoryStorage creates a new in-memory storage with the specified initial size.
func NewMemoryStorage(initialSize int64) (*MemoryStorage, error) {
	if initialSize <= 0 {
		initialSize = 4096 // Default to one page
	}

	return &MemoryStorage{
		data: make([]byte, initialSize),
		size: initialSize,
	}, nil
}

// Size returns the current size of the storage in bytes.
func (m *MemoryStorage) Size() int64 {
	return m.size
}

// Slice returns a view of the storage data at the given offset and
// length, or nil if the range is out of bounds.
func (m *MemoryStorage) Slice(offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > len(m.data) {
		return nil
	}
	return m.data[offset : offset+length]
}

// Sync is a no-op for in-memory storage since there's no disk to flush
// to; only the cancellation check remains.
func (m *MemoryStorage) Sync(ctx context.Context) error {
	return storageCtxErr(ctx)
}

// Grow extends the storage to newSize, copying the existing data in
// chunks so a large growth observes cancellation mid-copy.
func (m *MemoryStorage) Grow(ctx context.Context, newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	if err := storageCtxErr(ctx); err != nil {
		return err
	}

	newData := make([]byte, newSize)
	for off := 0; off < len(m.data); off += growCopyChunk {
		if err := storageCtxErr(ctx); err != nil {
			return err
		}
		end := off + growCopyChunk
		if end > len(m.data) {
			end = len(m.data)
		}
		copy(newData[off:end], m.data[off:end])
	}

	m.data = newData
	m.size = newSize
	return nil
}

// Close releases the memory storage.
// After Close, the storage should not be used.
func (m *MemoryStorage) Close() error {
	m.data = nil
	m.size = 0
	return nil
}
