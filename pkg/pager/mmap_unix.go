//go:build unix || darwin || linux || freebsd || openbsd || netbsd

// pkg/pager/mmap_unix.go
package pager

import (
	"context"
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"fsqlite/pkg/vfs"
)

// OpenMmapFile opens or creates a memory-mapped file
// If initialSize > 0 and file doesn't exist or is smaller, it will be extended
func OpenMmapFile(path string, initialSize int64) (*MmapFile, error) {
	// The descriptor is opened directly (mapping needs the fd) and then
	// wrapped in the VFS capability bundle for all file-plane I/O.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	vf := vfs.NewHostFile(f)

	ctx := context.Background()
	size, err := vf.Size(ctx)
	if err != nil {
		vf.Close()
		return nil, err
	}

	if initialSize > size {
		// Extend file to initial size
		if err := vf.Truncate(ctx, initialSize); err != nil {
			vf.Close()
			return nil, err
		}
		size = initialSize
	}

	if size == 0 {
		// Can't mmap empty file
		vf.Close()
		return nil, errors.New("cannot mmap empty file")
	}

	// Memory map the file
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		vf.Close()
		return nil, err
	}

	return &MmapFile{
		file:  f,
		vfile: vf,
		data:  data,
		size:  size,
	}, nil
}

// Sync flushes changes to disk
func (m *MmapFile) Sync(ctx context.Context) error {
	if err := storageCtxErr(ctx); err != nil {
		return err
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Grow extends the file and remaps it. Cancellation is observed at
// entry and by the truncate; a truncate failure remaps at the old size
// so the storage is never left without a mapping.
func (m *MmapFile) Grow(ctx context.Context, newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	if err := storageCtxErr(ctx); err != nil {
		return err
	}

	// CRITICAL: Sync dirty pages to disk before unmapping.
	// With MAP_SHARED, writes go to the kernel page cache but may not be
	// flushed to disk yet. We must sync to ensure data is persisted before
	// we unmap and remap the region.
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return err
	}

	// Unmap current mapping
	if err := syscall.Munmap(m.data); err != nil {
		return err
	}

	f := m.file.(*os.File)

	// Extend the file through the VFS handle.
	if err := m.vfile.Truncate(ctx, newSize); err != nil {
		if data, rerr := syscall.Mmap(int(f.Fd()), 0, int(m.size),
			syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED); rerr == nil {
			m.data = data
		}
		return err
	}

	// Remap with new size
	data, err := syscall.Mmap(int(f.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}

	m.data = data
	m.size = newSize
	return nil
}

// Close unmaps and closes the file
func (m *MmapFile) Close() error {
	var firstErr error

	if m.data != nil {
		if err := syscall.Munmap(m.data); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}

	if m.vfile != nil {
		if err := m.vfile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.vfile = nil
		m.file = nil
	}

	return firstErr
}
