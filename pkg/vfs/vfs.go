// pkg/vfs/vfs.go
// Package vfs abstracts the file operations the pager and WAL need, so
// the same engine can run over a host filesystem or an in-memory file
// for tests and :memory: databases. File operations other than Close
// take a context; opening, deleting and existence checks take none.
package vfs

import (
	"context"
	"errors"
)

// OpenFlags control how a file is opened.
type OpenFlags uint32

const (
	OpenReadOnly  OpenFlags = 1 << iota // open existing, reject writes
	OpenReadWrite                       // open existing for read/write
	OpenCreate                          // create if missing
	OpenExclusive                       // with OpenCreate: fail if the file exists
)

// SyncFlags select the durability level of a Sync call.
type SyncFlags uint32

const (
	// SyncNormal flushes file data.
	SyncNormal SyncFlags = iota
	// SyncFull also flushes file metadata where the platform distinguishes.
	SyncFull
)

var (
	ErrReadOnly  = errors.New("file opened read-only")
	ErrClosed    = errors.New("file is closed")
	ErrNotExist  = errors.New("file does not exist")
	ErrShortRead = errors.New("short read")
)

// File is the capability bundle every backend provides. Offsets are
// absolute; partial reads and writes are surfaced as errors so callers
// never need a retry loop.
type File interface {
	ReadAt(ctx context.Context, p []byte, off int64) error
	WriteAt(ctx context.Context, p []byte, off int64) error
	Sync(ctx context.Context, flags SyncFlags) error
	Truncate(ctx context.Context, size int64) error
	Size(ctx context.Context) (int64, error)
	Close() error
}

// VFS opens files by path. The returned flags report what was actually
// granted (a read-write request on a read-only filesystem degrades).
type VFS interface {
	Open(path string, flags OpenFlags) (File, OpenFlags, error)
	Delete(path string) error
	Exists(path string) (bool, error)
}

// writeChunkSize bounds how many bytes a backend writes between
// cancellation checks.
const writeChunkSize = 1 << 20

// checkCtx reports the context's error, if any.
func checkCtx(ctx context.Context) error {
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
