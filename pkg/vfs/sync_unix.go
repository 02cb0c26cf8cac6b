//go:build linux

package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile flushes f. SyncNormal skips the metadata flush via fdatasync;
// SyncFull always flushes metadata too.
func syncFile(f *os.File, flags SyncFlags) error {
	if flags == SyncNormal {
		return unix.Fdatasync(int(f.Fd()))
	}
	return f.Sync()
}
