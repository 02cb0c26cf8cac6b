// pkg/wal/wal_test.go
package wal

import (
	"context"
	"encoding/binary"
	"testing"

	"fsqlite/pkg/vfs"
)

func newTestWAL(t *testing.T, pageSize int) (*WAL, *vfs.MemoryVFS) {
	t.Helper()
	fs := vfs.NewMemoryVFS()
	w, err := Open(fs, "test.db-wal", Options{PageSize: pageSize})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return w, fs
}

func makePage(pageSize int, fill byte) []byte {
	data := make([]byte, pageSize)
	for i := range data {
		data[i] = fill
	}
	return data
}

func TestWALCreate(t *testing.T) {
	w, _ := newTestWAL(t, 4096)
	defer w.Close()

	if w.PageSize() != 4096 {
		t.Errorf("PageSize: got %d, want 4096", w.PageSize())
	}
	if w.FrameCount() != 0 {
		t.Errorf("FrameCount: got %d, want 0", w.FrameCount())
	}
}

func TestWALHeaderFormat(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	w, err := Open(fs, "test.db-wal", Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	w.Close()

	ctx := context.Background()
	f, _, err := fs.Open("test.db-wal", vfs.OpenReadOnly)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	if err := f.ReadAt(ctx, header, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}

	if magic := binary.BigEndian.Uint32(header[0:4]); magic != MagicLE {
		t.Errorf("magic: got %#x, want %#x", magic, uint32(MagicLE))
	}
	if version := binary.BigEndian.Uint32(header[4:8]); version != Version {
		t.Errorf("version: got %d, want %d", version, uint32(Version))
	}
	if ps := binary.BigEndian.Uint32(header[8:12]); ps != 4096 {
		t.Errorf("page size: got %d, want 4096", ps)
	}
}

func TestWALReopenAdoptsFrames(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()

	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := w.AppendFrame(ctx, 2, makePage(512, 0xAA), 0); err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}
	if err := w.AppendFrame(ctx, 3, makePage(512, 0xBB), 3); err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}
	w.Close()

	w2, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer w2.Close()

	if w2.FrameCount() != 2 {
		t.Errorf("FrameCount after reopen: got %d, want 2", w2.FrameCount())
	}
	if w2.LastCommitFrame() != 2 {
		t.Errorf("LastCommitFrame after reopen: got %d, want 2", w2.LastCommitFrame())
	}

	// The reopened WAL must continue the checksum chain correctly.
	if err := w2.AppendFrame(ctx, 4, makePage(512, 0xCC), 4); err != nil {
		t.Fatalf("AppendFrame after reopen failed: %v", err)
	}
	res, err := w2.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if res.Reason != ScanOK || res.ValidFrameCount != 3 {
		t.Errorf("Scan after reopen+append: got %+v", res)
	}
}

func TestWALReadFrame(t *testing.T) {
	w, _ := newTestWAL(t, 512)
	defer w.Close()
	ctx := context.Background()

	data := makePage(512, 0x42)
	if err := w.AppendFrame(ctx, 7, data, 7); err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}

	frame, err := w.ReadFrame(ctx, 1)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.PageNo != 7 {
		t.Errorf("PageNo: got %d, want 7", frame.PageNo)
	}
	if !frame.IsCommit || frame.DbSize != 7 {
		t.Errorf("commit marker: got IsCommit=%v DbSize=%d", frame.IsCommit, frame.DbSize)
	}
	if frame.Data[0] != 0x42 {
		t.Errorf("Data[0]: got %#x, want 0x42", frame.Data[0])
	}

	if _, err := w.ReadFrame(ctx, 2); err != ErrFrameNotFound {
		t.Errorf("ReadFrame(2): got %v, want ErrFrameNotFound", err)
	}
}

func TestWALFindPageSnapshotBound(t *testing.T) {
	w, _ := newTestWAL(t, 512)
	defer w.Close()
	ctx := context.Background()

	// Frame 1: page 5 v1 (commit). Frame 2: page 5 v2 (commit).
	if err := w.AppendFrame(ctx, 5, makePage(512, 0x01), 5); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrame(ctx, 5, makePage(512, 0x02), 5); err != nil {
		t.Fatal(err)
	}

	// Unbounded read sees the newest committed frame.
	idx, err := w.FindPage(ctx, 5)
	if err != nil {
		t.Fatalf("FindPage failed: %v", err)
	}
	if idx != 2 {
		t.Errorf("FindPage: got frame %d, want 2", idx)
	}

	// A reader whose snapshot maps to frame 1 sees only v1.
	idx, err = w.FindPageAt(ctx, 5, 1)
	if err != nil {
		t.Fatalf("FindPageAt failed: %v", err)
	}
	if idx != 1 {
		t.Errorf("FindPageAt: got frame %d, want 1", idx)
	}

	if _, err := w.FindPageAt(ctx, 99, 2); err != ErrPageNotFound {
		t.Errorf("FindPageAt(99): got %v, want ErrPageNotFound", err)
	}
}

func TestWALUncommittedTailInvisible(t *testing.T) {
	w, _ := newTestWAL(t, 512)
	defer w.Close()
	ctx := context.Background()

	if err := w.AppendFrame(ctx, 1, makePage(512, 0x01), 1); err != nil {
		t.Fatal(err)
	}
	// Uncommitted frame for page 2: no commit frame after it.
	if err := w.AppendFrame(ctx, 2, makePage(512, 0x02), 0); err != nil {
		t.Fatal(err)
	}

	if _, err := w.FindPage(ctx, 2); err != ErrPageNotFound {
		t.Errorf("uncommitted page visible: err=%v", err)
	}
}

func TestWALScanStopsAtTornFrame(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}

	for i := uint32(1); i <= 100; i++ {
		if err := w.AppendFrame(ctx, i, makePage(512, byte(i)), i); err != nil {
			t.Fatal(err)
		}
	}

	// Tear the last frame: truncate it at a third of its page payload.
	frameSize := int64(FrameHeaderSize + 512)
	tornAt := int64(HeaderSize) + 99*frameSize + FrameHeaderSize + 512/3
	f, _, err := fs.Open("test.db-wal", vfs.OpenReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(ctx, tornAt); err != nil {
		t.Fatal(err)
	}
	f.Close()
	w.Close()

	w2, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()

	res, err := w2.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if res.ValidFrameCount != 99 {
		t.Errorf("ValidFrameCount: got %d, want 99", res.ValidFrameCount)
	}
	if res.LastCommitFrame != 99 {
		t.Errorf("LastCommitFrame: got %d, want 99", res.LastCommitFrame)
	}
	if res.Reason != ShortFrame {
		t.Errorf("Reason: got %v, want ShortFrame", res.Reason)
	}
}

func TestWALScanDetectsChecksumMismatch(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := uint32(1); i <= 3; i++ {
		if err := w.AppendFrame(ctx, i, makePage(512, byte(i)), i); err != nil {
			t.Fatal(err)
		}
	}

	// Flip a payload byte in frame 2.
	frameSize := int64(FrameHeaderSize + 512)
	off := int64(HeaderSize) + 1*frameSize + FrameHeaderSize + 10
	f, _, err := fs.Open("test.db-wal", vfs.OpenReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteAt(ctx, []byte{0xFF}, off); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := w.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if res.ValidFrameCount != 1 || res.FirstInvalidFrame != 2 {
		t.Errorf("scan: got %+v", res)
	}
	if res.Reason != FrameChecksumMismatch {
		t.Errorf("Reason: got %v, want FrameChecksumMismatch", res.Reason)
	}
}

func TestWALScanDetectsSaltMismatch(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := uint32(1); i <= 3; i++ {
		if err := w.AppendFrame(ctx, i, makePage(512, byte(i)), i); err != nil {
			t.Fatal(err)
		}
	}

	// Corrupt frame 3's salt-1.
	frameSize := int64(FrameHeaderSize + 512)
	off := int64(HeaderSize) + 2*frameSize + 8
	f, _, err := fs.Open("test.db-wal", vfs.OpenReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteAt(ctx, []byte{0xDE, 0xAD, 0xBE, 0xEF}, off); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := w.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if res.ValidFrameCount != 2 || res.FirstInvalidFrame != 3 || res.Reason != SaltMismatch {
		t.Errorf("scan: got %+v", res)
	}
}

func TestWALRepairFrameRestoresChain(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	original := makePage(512, 0x5A)
	if err := w.AppendFrame(ctx, 1, original, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrame(ctx, 2, makePage(512, 0x66), 2); err != nil {
		t.Fatal(err)
	}

	// Damage frame 1's payload, then repair it with the original bytes.
	f, _, err := fs.Open("test.db-wal", vfs.OpenReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteAt(ctx, []byte{0x00, 0x00, 0x00}, int64(HeaderSize+FrameHeaderSize)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, _ := w.Scan(ctx)
	if res.Reason != FrameChecksumMismatch || res.FirstInvalidFrame != 1 {
		t.Fatalf("expected frame 1 corrupt, got %+v", res)
	}

	if err := w.RepairFrame(ctx, 1, original); err != nil {
		t.Fatalf("RepairFrame failed: %v", err)
	}
	res, _ = w.Scan(ctx)
	if res.Reason != ScanOK || res.ValidFrameCount != 2 {
		t.Errorf("after repair: got %+v", res)
	}
}

func writeDBFile(t *testing.T, fs *vfs.MemoryVFS, path string, pages int, pageSize int) {
	t.Helper()
	f, _, err := fs.Open(path, vfs.OpenReadWrite|vfs.OpenCreate)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(context.Background(), int64(pages*pageSize)); err != nil {
		t.Fatal(err)
	}
}

func readDBPage(t *testing.T, fs *vfs.MemoryVFS, path string, pageNo uint32, pageSize int) []byte {
	t.Helper()
	f, _, err := fs.Open(path, vfs.OpenReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data := make([]byte, pageSize)
	if err := f.ReadAt(context.Background(), data, int64(pageNo-1)*int64(pageSize)); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWALCheckpointPassiveRespectsReaders(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	writeDBFile(t, fs, "test.db", 4, 512)

	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// Two commits: frame 1 commits page 1, frame 2 commits page 2.
	if err := w.AppendFrame(ctx, 1, makePage(512, 0x11), 4); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrame(ctx, 2, makePage(512, 0x22), 4); err != nil {
		t.Fatal(err)
	}

	// A reader pinned at frame 1 limits a passive checkpoint.
	res, err := w.Checkpoint(ctx, "test.db", CheckpointPassive, 1)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if res.FramesBackfilled != 1 || res.Busy || res.WalWasReset {
		t.Errorf("passive checkpoint: got %+v", res)
	}
	if got := readDBPage(t, fs, "test.db", 1, 512); got[0] != 0x11 {
		t.Errorf("page 1 not backfilled: %#x", got[0])
	}
	if got := readDBPage(t, fs, "test.db", 2, 512); got[0] != 0x00 {
		t.Errorf("page 2 backfilled past reader: %#x", got[0])
	}

	// Reader gone: the rest backfills.
	res, err = w.Checkpoint(ctx, "test.db", CheckpointPassive, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.FramesBackfilled != 1 {
		t.Errorf("second passive: got %+v", res)
	}
	if got := readDBPage(t, fs, "test.db", 2, 512); got[0] != 0x22 {
		t.Errorf("page 2 not backfilled: %#x", got[0])
	}
}

func TestWALCheckpointFullReportsBusy(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	writeDBFile(t, fs, "test.db", 4, 512)

	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.AppendFrame(ctx, 1, makePage(512, 0x11), 4); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrame(ctx, 2, makePage(512, 0x22), 4); err != nil {
		t.Fatal(err)
	}

	res, err := w.Checkpoint(ctx, "test.db", CheckpointFull, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Busy {
		t.Error("full checkpoint with pinned reader should report busy")
	}
	if res.WalWasReset {
		t.Error("busy checkpoint must not reset the WAL")
	}
}

func TestWALCheckpointRestartRewindsSalts(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	writeDBFile(t, fs, "test.db", 4, 512)

	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	salt1Before, _ := w.Salts()
	if err := w.AppendFrame(ctx, 1, makePage(512, 0x11), 4); err != nil {
		t.Fatal(err)
	}

	res, err := w.Checkpoint(ctx, "test.db", CheckpointRestart, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.WalWasReset || res.FramesBackfilled != 1 {
		t.Errorf("restart checkpoint: got %+v", res)
	}
	salt1After, _ := w.Salts()
	if salt1After != salt1Before+1 {
		t.Errorf("salt1 not incremented: %d -> %d", salt1Before, salt1After)
	}
	if w.FrameCount() != 0 {
		t.Errorf("FrameCount after restart: got %d", w.FrameCount())
	}
}

func TestWALCommitHookObservesGroups(t *testing.T) {
	w, _ := newTestWAL(t, 512)
	defer w.Close()
	ctx := context.Background()

	var groups []CommitGroup
	w.SetCommitHook(func(g CommitGroup) { groups = append(groups, g) })

	if err := w.AppendFrame(ctx, 3, makePage(512, 0x03), 0); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrame(ctx, 4, makePage(512, 0x04), 4); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendFrame(ctx, 5, makePage(512, 0x05), 5); err != nil {
		t.Fatal(err)
	}

	if len(groups) != 2 {
		t.Fatalf("commit groups: got %d, want 2", len(groups))
	}
	if groups[0].EndFrame != 2 || len(groups[0].Pages) != 2 {
		t.Errorf("group 0: %+v", groups[0])
	}
	if groups[1].EndFrame != 3 || len(groups[1].Pages) != 1 {
		t.Errorf("group 1: %+v", groups[1])
	}
	s1, s2 := w.Salts()
	if groups[0].Salt1 != s1 || groups[0].Salt2 != s2 {
		t.Error("commit group salts do not match WAL salts")
	}
}

func TestWALRecoverAppliesCommittedPrefix(t *testing.T) {
	fs := vfs.NewMemoryVFS()
	ctx := context.Background()
	writeDBFile(t, fs, "test.db", 4, 512)

	w, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}

	if err := w.AppendFrame(ctx, 1, makePage(512, 0x11), 4); err != nil {
		t.Fatal(err)
	}
	// Uncommitted tail frame: must not be applied.
	if err := w.AppendFrame(ctx, 2, makePage(512, 0x99), 0); err != nil {
		t.Fatal(err)
	}
	w.Close()

	w2, err := Open(fs, "test.db-wal", Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()

	n, err := w2.Recover(ctx, "test.db")
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered frames: got %d, want 1", n)
	}
	if got := readDBPage(t, fs, "test.db", 1, 512); got[0] != 0x11 {
		t.Errorf("page 1 not recovered: %#x", got[0])
	}
	if got := readDBPage(t, fs, "test.db", 2, 512); got[0] != 0x00 {
		t.Errorf("uncommitted page 2 applied: %#x", got[0])
	}
	if w2.FrameCount() != 0 {
		t.Errorf("WAL not reset after recover: %d frames", w2.FrameCount())
	}
}
