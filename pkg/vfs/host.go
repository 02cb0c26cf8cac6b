// pkg/vfs/host.go
package vfs

import (
	"context"
	"io"
	"os"
)

// HostVFS opens files on the host filesystem.
type HostVFS struct{}

// NewHostVFS creates a host-filesystem VFS.
func NewHostVFS() *HostVFS {
	return &HostVFS{}
}

// Open opens or creates a host file.
func (v *HostVFS) Open(path string, flags OpenFlags) (File, OpenFlags, error) {
	osFlags := os.O_RDWR
	if flags&OpenReadOnly != 0 {
		osFlags = os.O_RDONLY
	}
	if flags&OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&OpenExclusive != 0 {
		osFlags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, osFlags, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotExist
		}
		// A read-write request on a read-only file degrades to read-only.
		if flags&OpenReadOnly == 0 && os.IsPermission(err) {
			rf, rerr := os.OpenFile(path, os.O_RDONLY, 0644)
			if rerr == nil {
				return &hostFile{f: rf, readOnly: true}, OpenReadOnly, nil
			}
		}
		return nil, 0, err
	}

	granted := flags &^ OpenExclusive
	return &hostFile{f: f, readOnly: flags&OpenReadOnly != 0}, granted, nil
}

// Delete removes a host file.
func (v *HostVFS) Delete(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists reports whether a host file exists.
func (v *HostVFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// NewHostFile wraps an already-open host file in the File capability
// bundle. The caller keeps the *os.File for descriptor-level access
// (memory mapping needs the fd); all file-plane I/O goes through the
// returned File so it observes cancellation.
func NewHostFile(f *os.File) File {
	return &hostFile{f: f}
}

// hostFile wraps an os.File behind the File capability bundle.
type hostFile struct {
	f        *os.File
	readOnly bool
}

func (h *hostFile) ReadAt(ctx context.Context, p []byte, off int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	n, err := h.f.ReadAt(p, off)
	if err == io.EOF && n == len(p) {
		return nil
	}
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrShortRead
		}
		return err
	}
	return nil
}

func (h *hostFile) WriteAt(ctx context.Context, p []byte, off int64) error {
	if h.readOnly {
		return ErrReadOnly
	}
	// Long writes are chunked so cancellation is observed mid-write.
	for len(p) > 0 {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		n := len(p)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		if _, err := h.f.WriteAt(p[:n], off); err != nil {
			return err
		}
		p = p[n:]
		off += int64(n)
	}
	return nil
}

func (h *hostFile) Sync(ctx context.Context, flags SyncFlags) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return syncFile(h.f, flags)
}

func (h *hostFile) Truncate(ctx context.Context, size int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if h.readOnly {
		return ErrReadOnly
	}
	return h.f.Truncate(size)
}

func (h *hostFile) Size(ctx context.Context) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	info, err := h.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (h *hostFile) Close() error {
	return h.f.Close()
}
