//go:build !linux

package vfs

import "os"

// syncFile flushes f. Platforms without fdatasync use the full flush.
func syncFile(f *os.File, flags SyncFlags) error {
	return f.Sync()
}
