//go:build windows

// pkg/pager/mmap_windows.go
package pager

import (
	"context"
	"errors"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"

	"fsqlite/pkg/vfs"
)

// mmapHandle stores Windows-specific handles for memory mapping
type mmapHandle struct {
	file       *os.File
	mapHandle  windows.Handle
	mappedSize int64
}

// OpenMmapFile opens or creates a memory-mapped file
// If initialSize > 0 and file doesn't exist or is smaller, it will be extended
func OpenMmapFile(path string, initialSize int64) (*MmapFile, error) {
	// The descriptor is opened directly (mapping needs the handle) and
	// then wrapped in the VFS capability bundle for file-plane I/O.
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

	// Create file mapping
	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()),
		nil,
		windows.PAGE_READWRITE,
		uint32(size>>32),
		uint32(size&0xFFFFFFFF),
		nil,
	)
	if err != nil {
		vf.Close()
		return nil, err
	}

	// Map view of file
	addr, err := windows.MapViewOfFile(
		mapHandle,
		windows.FILE_MAP_READ|windows.FILE_MAP_WRITE,
		0, 0,
		uintptr(size),
	)
	if err != nil {
		windows.CloseHandle(mapHandle)
		vf.Close()
		return nil, err
	}

	// Create byte slice from mapped memory
	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = int(size)
	header.Cap = int(size)

	handle := &mmapHandle{
		file:       f,
		mapHandle:  mapHandle,
		mappedSize: size,
	}

	return &MmapFile{
		file:  handle,
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
	if len(m.data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)))
}

// Grow extends the file and remaps it. Cancellation is observed at
// entry and by the truncate.
func (m *MmapFile) Grow(ctx context.Context, newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	if err := storageCtxErr(ctx); err != nil {
		return err
	}

	handle := m.file.(*mmapHandle)

	// Flush current mapping
	if len(m.data) > 0 {
		if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data))); err != nil {
			return err
		}
	}

	// Unmap current view
	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
			return err
		}
	}

	// Close current mapping handle
	if err := windows.CloseHandle(handle.mapHandle); err != nil {
		return err
	}

	// Extend the file through the VFS handle.
	if err := m.vfile.Truncate(ctx, newSize); err != nil {
		return err
	}

	// Create new file mapping
	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(handle.file.Fd()),
		nil,
		windows.PAGE_READWRITE,
		uint32(newSize>>32),
		uint32(newSize&0xFFFFFFFF),
		nil,
	)
	if err != nil {
		return err
	}

	// Map view of file
	addr, err := windows.MapViewOfFile(
		mapHandle,
		windows.FILE_MAP_READ|windows.FILE_MAP_WRITE,
		0, 0,
		uintptr(newSize),
	)
	if err != nil {
		windows.CloseHandle(mapHandle)
		return err
	}

	// Update byte slice
	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = int(newSize)
	header.Cap = int(newSize)

	handle.mapHandle = mapHandle
	handle.mappedSize = newSize
	m.data = data
	m.size = newSize

	return nil
}

// Close unmaps and closes the file
func (m *MmapFile) Close() error {
	var firstErr error

	handle, ok := m.file.(*mmapHandle)
	if !ok || handle == nil {
		return nil
	}

	// Unmap view
	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}

	// Close mapping handle
	if handle.mapHandle != 0 {
		if err := windows.CloseHandle(handle.mapHandle); err != nil && firstErr == nil {
			firstErr = err
		}
		handle.mapHandle = 0
	}

	// Close file
	if m.vfile != nil {
		if err := m.vfile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.vfile = nil
	}
	handle.file = nil

	m.file = nil
	return firstErr
}
