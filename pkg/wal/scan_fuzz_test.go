// pkg/wal/scan_fuzz_test.go
package wal

import (
	"context"
	"testing"

	"fsqlite/pkg/vfs"
)

// FuzzScanPrefix checks that corrupting any single byte of a WAL frame
// region stops the scan before that frame and makes it report a reason
// other than ScanOK.
func FuzzScanPrefix(f *testing.F) {
	f.Add(uint32(0), byte(0x01))
	f.Add(uint32(40), byte(0xFF))
	f.Add(uint32(600), byte(0x80))

	f.Fuzz(func(t *testing.T, offset uint32, flip byte) {
		if flip == 0 {
			return // XOR with zero is not a corruption
		}
		const pageSize = 128
		const frames = 8
		fs := vfs.NewMemoryVFS()
		ctx := context.Background()

		w, err := Open(fs, "fuzz.db-wal", Options{PageSize: pageSize})
		if err != nil {
			t.Fatal(err)
		}
		for i := uint32(1); i <= frames; i++ {
			if err := w.AppendFrame(ctx, i, makePage(pageSize, byte(i)), i); err != nil {
				t.Fatal(err)
			}
		}

		frameSize := int64(FrameHeaderSize + pageSize)
		contentLen := int64(frames) * frameSize
		off := int64(HeaderSize) + int64(offset)%contentLen

		fh, _, err := fs.Open("fuzz.db-wal", vfs.OpenReadWrite)
		if err != nil {
			t.Fatal(err)
		}
		orig := make([]byte, 1)
		if err := fh.ReadAt(ctx, orig, off); err != nil {
			t.Fatal(err)
		}
		if err := fh.WriteAt(ctx, []byte{orig[0] ^ flip}, off); err != nil {
			t.Fatal(err)
		}
		fh.Close()

		res, err := w.Scan(ctx)
		if err != nil {
			t.Fatal(err)
		}

		corruptFrame := uint32((off-int64(HeaderSize))/frameSize) + 1
		if res.ValidFrameCount >= corruptFrame {
			t.Errorf("scan accepted corrupt frame %d: %+v", corruptFrame, res)
		}
		if res.Reason == ScanOK {
			t.Errorf("scan reported ok over corruption at frame %d", corruptFrame)
		}
		w.Close()
	})
}
