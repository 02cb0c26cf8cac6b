// pkg/vfs/memory.go
package vfs

import (
	"context"
	"sync"
)

// MemoryVFS is an in-memory filesystem for tests and :memory: databases.
// Files persist for the lifetime of the MemoryVFS, so close-and-reopen
// sequences behave like a real filesystem.
type MemoryVFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
}

// memFileData is the shared backing store of one in-memory file; every
// open handle references the same data.
type memFileData struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryVFS creates an empty in-memory filesystem.
func NewMemoryVFS() *MemoryVFS {
	return &MemoryVFS{files: make(map[string]*memFileData)}
}

// Open opens or creates an in-memory file.
func (v *MemoryVFS) Open(path string, flags OpenFlags) (File, OpenFlags, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, ok := v.files[path]
	if !ok {
		if flags&OpenCreate == 0 {
			return nil, 0, ErrNotExist
		}
		data = &memFileData{}
		v.files[path] = data
	} else if flags&OpenCreate != 0 && flags&OpenExclusive != 0 {
		return nil, 0, ErrClosed
	}

	granted := flags &^ OpenExclusive
	return &memFile{data: data, readOnly: flags&OpenReadOnly != 0}, granted, nil
}

// Delete removes a file from the in-memory filesystem.
func (v *MemoryVFS) Delete(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.files, path)
	return nil
}

// Exists reports whether a file exists.
func (v *MemoryVFS) Exists(path string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.files[path]
	return ok, nil
}

// memFile is one open handle onto a memFileData.
type memFile struct {
	data     *memFileData
	readOnly bool
	closed   bool
}

func (f *memFile) ReadAt(ctx context.Context, p []byte, off int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if f.closed {
		return ErrClosed
	}
	f.data.mu.RLock()
	defer f.data.mu.RUnlock()

	if off < 0 || off+int64(len(p)) > int64(len(f.data.data)) {
		return ErrShortRead
	}
	copy(p, f.data.data[off:])
	return nil
}

func (f *memFile) WriteAt(ctx context.Context, p []byte, off int64) error {
	if f.closed {
		return ErrClosed
	}
	if f.readOnly {
		return ErrReadOnly
	}
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	// Long writes are chunked so cancellation is observed mid-write.
	for len(p) > 0 {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		n := len(p)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		end := off + int64(n)
		if end > int64(len(f.data.data)) {
			grown := make([]byte, end)
			copy(grown, f.data.data)
			f.data.data = grown
		}
		copy(f.data.data[off:end], p[:n])
		p = p[n:]
		off = end
	}
	return nil
}

func (f *memFile) Sync(ctx context.Context, flags SyncFlags) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if f.closed {
		return ErrClosed
	}
	return nil
}

func (f *memFile) Truncate(ctx context.Context, size int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if f.closed {
		return ErrClosed
	}
	if f.readOnly {
		return ErrReadOnly
	}
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	if size < int64(len(f.data.data)) {
		f.data.data = f.data.data[:size]
	} else if size > int64(len(f.data.data)) {
		grown := make([]byte, size)
		copy(grown, f.data.data)
		f.data.data = grown
	}
	return nil
}

func (f *memFile) Size(ctx context.Context) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	if f.closed {
		return 0, ErrClosed
	}
	f.data.mu.RLock()
	defer f.data.mu.RUnlock()
	return int64(len(f.data.data)), nil
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}
