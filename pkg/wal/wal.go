// pkg/wal/wal.go
// Package wal implements a Write-Ahead Log for durability and crash recovery.
//
// # WAL FILE FORMAT
//
// A WAL file consists of a header followed by zero or more "frames".
// Each frame records the revised content of a single page from the
// database file. All changes to the database are recorded by writing
// frames into the WAL. Transactions commit when a frame is written that
// contains a commit marker.
//
// The WAL header is 32 bytes in size and consists of the following
// values:
//
//	0-3:   Magic number (0x377f0682 for little-endian checksums,
//	       0x377f0683 for big-endian)
//	4-7:   File format version (3007000)
//	8-11:  Database page size
//	12-15: Checkpoint sequence number
//	16-19: Salt-1 (random, incremented with each checkpoint)
//	20-23: Salt-2 (random, changed with each checkpoint)
//	24-27: Checksum-1 (first part of header checksum)
//	28-31: Checksum-2 (second part of header checksum)
//
// Each frame consists of a 24-byte frame-header followed by page-size bytes
// of page data:
//
//	0-3:   Page number
//	4-7:   For commit records, the size of the database in pages after commit.
//	       For all other records, zero.
//	8-11:  Salt-1 (copied from header)
//	12-15: Salt-2 (copied from header)
//	16-19: Checksum-1
//	20-23: Checksum-2
//
// The frame checksums chain: the seed for frame i is the cumulative
// (s1, s2) after frame i-1, or the header checksum for the first frame.
// A frame whose salts differ from the header's, or whose checksum does
// not match the chain, terminates replay.
package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"

	"fsqlite/pkg/vfs"
)

const (
	// HeaderSize is the size of the WAL header in bytes
	HeaderSize = 32

	// FrameHeaderSize is the size of each frame header in bytes
	FrameHeaderSize = 24

	// MagicLE identifies a WAL file whose checksums are computed over
	// little-endian words.
	MagicLE = 0x377f0682

	// MagicBE identifies a WAL file whose checksums are computed over
	// big-endian words.
	MagicBE = 0x377f0683

	// Version is the WAL file format version
	Version = 3007000
)

var (
	ErrInvalidMagic   = errors.New("invalid WAL magic number")
	ErrInvalidVersion = errors.New("invalid WAL version")
	ErrChecksumFailed = errors.New("WAL checksum verification failed")
	ErrFrameNotFound  = errors.New("frame not found")
	ErrPageNotFound   = errors.New("page not found in WAL")
	ErrPageSize       = errors.New("page data size mismatch")
)

// InvalidFrameReason says why a recovery scan stopped.
type InvalidFrameReason int

const (
	// ScanOK: every frame in the file validated.
	ScanOK InvalidFrameReason = iota
	// SaltMismatch: a frame's salts differ from the header's, meaning it
	// belongs to an earlier WAL generation.
	SaltMismatch
	// FrameChecksumMismatch: the cumulative checksum chain broke, usually
	// a torn write.
	FrameChecksumMismatch
	// ShortFrame: the file ends mid-frame.
	ShortFrame
)

// String returns the reason name.
func (r InvalidFrameReason) String() string {
	switch r {
	case ScanOK:
		return "ok"
	case SaltMismatch:
		return "salt mismatch"
	case FrameChecksumMismatch:
		return "frame checksum mismatch"
	case ShortFrame:
		return "short frame"
	default:
		return "unknown"
	}
}

// ScanResult reports the outcome of a recovery scan. The replayable
// prefix ends at LastCommitFrame; frames past it (valid or not) are
// uncommitted and discarded on recovery.
type ScanResult struct {
	ValidFrameCount   uint32
	FirstInvalidFrame uint32 // 1-based; 0 when the whole file validated
	LastCommitFrame   uint32 // 1-based; 0 when no commit frame exists
	Reason            InvalidFrameReason
}

// CheckpointMode selects how aggressively a checkpoint reclaims the WAL.
type CheckpointMode int

const (
	// CheckpointPassive backfills as many frames as current readers
	// permit and never blocks or resets.
	CheckpointPassive CheckpointMode = iota
	// CheckpointFull requires the complete committed prefix to backfill;
	// reports busy if a reader pins an older snapshot.
	CheckpointFull
	// CheckpointRestart is Full plus a WAL rewind (new salts) on success.
	CheckpointRestart
	// CheckpointTruncate is Restart plus shrinking the WAL file.
	CheckpointTruncate
)

// CheckpointResult reports what a checkpoint accomplished.
type CheckpointResult struct {
	FramesBackfilled uint32
	WalWasReset      bool
	// Busy is set when a Full/Restart/Truncate checkpoint could not
	// complete because a reader still depends on an unbackfilled frame.
	Busy bool
}

// FramePage is one page image inside a commit group.
type FramePage struct {
	PageNo uint32
	Data   []byte
}

// CommitGroup describes the frames of one committed transaction, handed
// to the commit hook so a sidecar can derive repair symbols.
type CommitGroup struct {
	Salt1    uint32
	Salt2    uint32
	EndFrame uint32 // 1-based index of the commit frame
	Pages    []FramePage
}

// Frame represents a single WAL frame containing a page
type Frame struct {
	Index    uint32 // 1-based frame index
	PageNo   uint32 // Database page number
	DbSize   uint32 // Database size in pages (non-zero for commit frames)
	Data     []byte // Page data
	IsCommit bool   // True if this is a commit frame
}

// Options configures the WAL
type Options struct {
	PageSize int // Database page size
	NoSync   bool
}

// WAL represents a Write-Ahead Log
type WAL struct {
	mu       sync.RWMutex
	fs       vfs.VFS
	file     vfs.File
	path     string
	pageSize int
	salt1    uint32
	salt2    uint32
	ckptSeq  uint32 // Checkpoint sequence number
	noSync   bool

	// Byte order of checksum words, declared by the magic number.
	bigEndian bool

	// Running checksum for frame validation
	checksum1 uint32
	checksum2 uint32

	// Frame tracking
	frameCount      uint32 // Number of valid frames
	lastCommitFrame uint32 // 1-based index of the newest commit frame

	// headerDirty marks that another connection may have appended frames
	// since our last header read; the next append re-reads the header.
	headerDirty bool

	// backfilled counts frames a passive checkpoint has already copied
	// into the database file this WAL generation.
	backfilled uint32

	// Lazy page -> newest-frame index, extended incrementally by reads
	// and fully invalidated on a salt-generation change.
	pageIndex      map[uint32]uint32
	indexedThrough uint32

	// pending accumulates frames appended since the last commit frame.
	pending []FramePage

	// commitHook, if set, observes every commit group as it is appended.
	commitHook func(CommitGroup)
}

// Open opens or creates a WAL file through the given VFS.
func Open(fs vfs.VFS, path string, opts Options) (*WAL, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}

	file, _, err := fs.Open(path, vfs.OpenReadWrite)
	if err != nil {
		if errors.Is(err, vfs.ErrNotExist) {
			return createWAL(fs, path, pageSize, opts.NoSync)
		}
		return nil, err
	}

	w := &WAL{
		fs:        fs,
		file:      file,
		path:      path,
		pageSize:  pageSize,
		noSync:    opts.NoSync,
		pageIndex: make(map[uint32]uint32),
	}

	if err := w.readHeader(context.Background()); err != nil {
		// Invalid or empty WAL, reinitialize
		file.Close()
		if derr := fs.Delete(path); derr != nil {
			return nil, derr
		}
		return createWAL(fs, path, pageSize, opts.NoSync)
	}

	return w, nil
}

// createWAL creates a new WAL file
func createWAL(fs vfs.VFS, path string, pageSize int, noSync bool) (*WAL, error) {
	file, _, err := fs.Open(path, vfs.OpenReadWrite|vfs.OpenCreate)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		fs:        fs,
		file:      file,
		path:      path,
		pageSize:  pageSize,
		noSync:    noSync,
		salt1:     rand.Uint32(),
		salt2:     rand.Uint32(),
		ckptSeq:   1,
		pageIndex: make(map[uint32]uint32),
	}

	if err := w.writeHeaderLocked(context.Background()); err != nil {
		file.Close()
		return nil, err
	}
	if err := w.syncLocked(context.Background()); err != nil {
		file.Close()
		return nil, err
	}

	return w, nil
}

// byteOrder returns the word order the magic declared.
func (w *WAL) byteOrder() binary.ByteOrder {
	if w.bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// writeHeaderLocked serializes and writes the 32-byte WAL header. The
// header checksum always seeds from (0, 0).
func (w *WAL) writeHeaderLocked(ctx context.Context) error {
	header := make([]byte, HeaderSize)

	magic := uint32(MagicLE)
	if w.bigEndian {
		magic = MagicBE
	}
	bo := w.byteOrder()
	binary.BigEndian.PutUint32(header[0:4], magic)
	binary.BigEndian.PutUint32(header[4:8], Version)
	binary.BigEndian.PutUint32(header[8:12], uint32(w.pageSize))
	binary.BigEndian.PutUint32(header[12:16], w.ckptSeq)
	binary.BigEndian.PutUint32(header[16:20], w.salt1)
	binary.BigEndian.PutUint32(header[20:24], w.salt2)

	w.checksum1, w.checksum2 = walChecksum(header[0:24], 0, 0, bo)
	binary.BigEndian.PutUint32(header[24:28], w.checksum1)
	binary.BigEndian.PutUint32(header[28:32], w.checksum2)

	return w.file.WriteAt(ctx, header, 0)
}

// readHeader reads and validates the WAL header, then counts the valid
// frame prefix so appends continue the checksum chain correctly.
func (w *WAL) readHeader(ctx context.Context) error {
	header := make([]byte, HeaderSize)
	if err := w.file.ReadAt(ctx, header, 0); err != nil {
		return ErrInvalidMagic
	}

	magic := binary.BigEndian.Uint32(header[0:4])
	switch magic {
	case MagicLE:
		w.bigEndian = false
	case MagicBE:
		w.bigEndian = true
	default:
		return ErrInvalidMagic
	}

	version := binary.BigEndian.Uint32(header[4:8])
	if version != Version {
		return ErrInvalidVersion
	}

	w.pageSize = int(binary.BigEndian.Uint32(header[8:12]))
	w.ckptSeq = binary.BigEndian.Uint32(header[12:16])
	w.salt1 = binary.BigEndian.Uint32(header[16:20])
	w.salt2 = binary.BigEndian.Uint32(header[20:24])

	storedCksum1 := binary.BigEndian.Uint32(header[24:28])
	storedCksum2 := binary.BigEndian.Uint32(header[28:32])

	computed1, computed2 := walChecksum(header[0:24], 0, 0, w.byteOrder())
	if storedCksum1 != computed1 || storedCksum2 != computed2 {
		return ErrChecksumFailed
	}

	w.checksum1 = storedCksum1
	w.checksum2 = storedCksum2

	res, s1, s2, err := w.scanLocked(ctx)
	if err != nil {
		return err
	}
	w.adoptScan(res, s1, s2)
	return nil
}

// adoptScan moves the WAL's in-memory frame bookkeeping to a scan's
// validated prefix, advancing the running checksum past it.
func (w *WAL) adoptScan(res ScanResult, s1, s2 uint32) {
	w.frameCount = res.ValidFrameCount
	w.lastCommitFrame = res.LastCommitFrame
	w.checksum1, w.checksum2 = s1, s2
	w.pageIndex = make(map[uint32]uint32)
	w.indexedThrough = 0
	w.pending = nil
}

// Scan walks the WAL from the header, validating each frame's salts and
// cumulative checksum. It stops at the first invalid frame and reports
// the longest valid prefix and the last commit frame inside it. The
// scan itself never mutates WAL state.
func (w *WAL) Scan(ctx context.Context) (ScanResult, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	res, _, _, err := w.scanLocked(ctx)
	return res, err
}

// scanLocked returns the scan result plus the cumulative checksum after
// the last valid frame, so callers holding the write lock can adopt it.
func (w *WAL) scanLocked(ctx context.Context) (ScanResult, uint32, uint32, error) {
	res := ScanResult{Reason: ScanOK}

	// The header checksum seeds the chain.
	header := make([]byte, 24)
	if err := w.file.ReadAt(ctx, header, 0); err != nil {
		return res, 0, 0, err
	}
	bo := w.byteOrder()
	cksum1, cksum2 := walChecksum(header, 0, 0, bo)
	// Cumulative checksum after the last valid frame; starts at the
	// header seed when no frame validates.
	good1, good2 := cksum1, cksum2

	fileSize, err := w.file.Size(ctx)
	if err != nil {
		return res, good1, good2, err
	}

	frameSize := int64(FrameHeaderSize) + int64(w.pageSize)
	contentSize := fileSize - int64(HeaderSize)
	if contentSize <= 0 {
		return res, good1, good2, nil
	}

	maxWhole := uint32(contentSize / frameSize)
	truncatedTail := contentSize%frameSize != 0

	frameHeader := make([]byte, FrameHeaderSize)
	pageData := make([]byte, w.pageSize)
	checksumData := make([]byte, 8+w.pageSize)

	for i := uint32(0); i < maxWhole; i++ {
		if err := ctx.Err(); err != nil {
			return res, good1, good2, err
		}
		frameOffset := int64(HeaderSize) + int64(i)*frameSize

		if err := w.file.ReadAt(ctx, frameHeader, frameOffset); err != nil {
			res.FirstInvalidFrame = i + 1
			res.Reason = ShortFrame
			return res, good1, good2, nil
		}

		frameSalt1 := binary.BigEndian.Uint32(frameHeader[8:12])
		frameSalt2 := binary.BigEndian.Uint32(frameHeader[12:16])
		if frameSalt1 != w.salt1 || frameSalt2 != w.salt2 {
			res.FirstInvalidFrame = i + 1
			res.Reason = SaltMismatch
			return res, good1, good2, nil
		}

		if err := w.file.ReadAt(ctx, pageData, frameOffset+FrameHeaderSize); err != nil {
			res.FirstInvalidFrame = i + 1
			res.Reason = ShortFrame
			return res, good1, good2, nil
		}

		copy(checksumData[0:8], frameHeader[0:8])
		copy(checksumData[8:], pageData)
		cksum1, cksum2 = walChecksum(checksumData, cksum1, cksum2, bo)

		storedCksum1 := binary.BigEndian.Uint32(frameHeader[16:20])
		storedCksum2 := binary.BigEndian.Uint32(frameHeader[20:24])
		if cksum1 != storedCksum1 || cksum2 != storedCksum2 {
			res.FirstInvalidFrame = i + 1
			res.Reason = FrameChecksumMismatch
			return res, good1, good2, nil
		}

		res.ValidFrameCount = i + 1
		if binary.BigEndian.Uint32(frameHeader[4:8]) != 0 {
			res.LastCommitFrame = i + 1
		}
		good1, good2 = cksum1, cksum2
	}

	if truncatedTail && res.Reason == ScanOK {
		res.FirstInvalidFrame = maxWhole + 1
		res.Reason = ShortFrame
	}
	return res, good1, good2, nil
}

// walChecksum computes the WAL checksum using the native algorithm:
// two 32-bit accumulators over word pairs, word order per the magic.
func walChecksum(data []byte, s0, s1 uint32, bo binary.ByteOrder) (uint32, uint32) {
	// Pad to an 8-byte boundary if needed
	if len(data)%8 != 0 {
		padded := make([]byte, (len(data)+7)&^7)
		copy(padded, data)
		data = padded
	}

	for i := 0; i < len(data); i += 8 {
		x0 := bo.Uint32(data[i : i+4])
		x1 := bo.Uint32(data[i+4 : i+8])
		s0 += x0 + s1
		s1 += x1 + s0
	}

	return s0, s1
}

// PageSize returns the database page size
func (w *WAL) PageSize() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pageSize
}

// FrameCount returns the number of valid frames in the WAL
func (w *WAL) FrameCount() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.frameCount
}

// LastCommitFrame returns the 1-based index of the newest commit frame,
// or 0 if none exists. This bounds every snapshot read.
func (w *WAL) LastCommitFrame() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastCommitFrame
}

// Salts returns the current WAL generation's salt pair.
func (w *WAL) Salts() (uint32, uint32) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.salt1, w.salt2
}

// SetCommitHook installs the callback invoked with each commit group as
// its commit frame is appended.
func (w *WAL) SetCommitHook(fn func(CommitGroup)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commitHook = fn
}

// MarkHeaderDirty records that another connection may have appended to
// the WAL; the next append refreshes the header and frame count first.
func (w *WAL) MarkHeaderDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.headerDirty = true
}

// RefreshHeader re-reads the on-disk header. If the salt generation
// changed (another connection checkpointed and reset), all in-memory
// frame state including the page index is rebuilt from a fresh scan;
// if the WAL merely grew, the scan extends the validated prefix.
func (w *WAL) RefreshHeader(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refreshHeaderLocked(ctx)
}

func (w *WAL) refreshHeaderLocked(ctx context.Context) error {
	oldSalt1, oldSalt2 := w.salt1, w.salt2
	if err := w.readHeader(ctx); err != nil {
		return err
	}
	if oldSalt1 != w.salt1 || oldSalt2 != w.salt2 {
		// New WAL generation: everything cached about frames is stale.
		w.backfilled = 0
	}
	w.headerDirty = false
	return nil
}

// AppendFrame writes a page to the WAL. A non-zero dbSize marks this as
// a commit frame recording the database size in pages after the commit.
// The frame is not synced; call Sync for durability.
func (w *WAL) AppendFrame(ctx context.Context, pageNo uint32, data []byte, dbSize uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(data) != w.pageSize {
		return ErrPageSize
	}

	// Another connection may have grown the WAL since our last look;
	// re-establish the append offset and checksum seed before writing.
	if w.headerDirty {
		if err := w.refreshHeaderLocked(ctx); err != nil {
			return err
		}
	}

	frameOffset := int64(HeaderSize) + int64(w.frameCount)*(int64(FrameHeaderSize)+int64(w.pageSize))

	frameHeader := make([]byte, FrameHeaderSize)
	binary.BigEndian.PutUint32(frameHeader[0:4], pageNo)
	binary.BigEndian.PutUint32(frameHeader[4:8], dbSize)
	binary.BigEndian.PutUint32(frameHeader[8:12], w.salt1)
	binary.BigEndian.PutUint32(frameHeader[12:16], w.salt2)

	// Checksum covers the first 8 header bytes and the page payload,
	// seeded from the cumulative checksum after the previous frame.
	checksumData := make([]byte, 8+len(data))
	copy(checksumData[0:8], frameHeader[0:8])
	copy(checksumData[8:], data)

	w.checksum1, w.checksum2 = walChecksum(checksumData, w.checksum1, w.checksum2, w.byteOrder())
	binary.BigEndian.PutUint32(frameHeader[16:20], w.checksum1)
	binary.BigEndian.PutUint32(frameHeader[20:24], w.checksum2)

	if err := w.file.WriteAt(ctx, frameHeader, frameOffset); err != nil {
		return err
	}
	if err := w.file.WriteAt(ctx, data, frameOffset+FrameHeaderSize); err != nil {
		return err
	}

	w.frameCount++

	// Track the page image for the FEC commit hook.
	pageCopy := make([]byte, len(data))
	copy(pageCopy, data)
	w.pending = append(w.pending, FramePage{PageNo: pageNo, Data: pageCopy})

	// Keep the lazy page index current if it already covered the tail.
	if w.indexedThrough == w.frameCount-1 {
		w.pageIndex[pageNo] = w.frameCount
		w.indexedThrough = w.frameCount
	}

	if dbSize != 0 {
		w.lastCommitFrame = w.frameCount
		if w.commitHook != nil {
			w.commitHook(CommitGroup{
				Salt1:    w.salt1,
				Salt2:    w.salt2,
				EndFrame: w.frameCount,
				Pages:    w.pending,
			})
		}
		w.pending = nil
	}

	return nil
}

// Sync flushes appended frames to stable storage.
func (w *WAL) Sync(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked(ctx)
}

func (w *WAL) syncLocked(ctx context.Context) error {
	if w.noSync {
		return nil
	}
	return w.file.Sync(ctx, vfs.SyncNormal)
}

// ReadFrame reads a frame by its 1-based index
func (w *WAL) ReadFrame(ctx context.Context, frameIndex uint32) (*Frame, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.readFrameLocked(ctx, frameIndex)
}

func (w *WAL) readFrameLocked(ctx context.Context, frameIndex uint32) (*Frame, error) {
	if frameIndex < 1 || frameIndex > w.frameCount {
		return nil, ErrFrameNotFound
	}

	frameOffset := int64(HeaderSize) + int64(frameIndex-1)*(int64(FrameHeaderSize)+int64(w.pageSize))

	frameHeader := make([]byte, FrameHeaderSize)
	if err := w.file.ReadAt(ctx, frameHeader, frameOffset); err != nil {
		return nil, err
	}

	frameSalt1 := binary.BigEndian.Uint32(frameHeader[8:12])
	frameSalt2 := binary.BigEndian.Uint32(frameHeader[12:16])
	if frameSalt1 != w.salt1 || frameSalt2 != w.salt2 {
		return nil, ErrChecksumFailed
	}

	pageData := make([]byte, w.pageSize)
	if err := w.file.ReadAt(ctx, pageData, frameOffset+FrameHeaderSize); err != nil {
		return nil, err
	}

	pageNo := binary.BigEndian.Uint32(frameHeader[0:4])
	dbSize := binary.BigEndian.Uint32(frameHeader[4:8])

	return &Frame{
		Index:    frameIndex,
		PageNo:   pageNo,
		DbSize:   dbSize,
		Data:     pageData,
		IsCommit: dbSize > 0,
	}, nil
}

// FindPage finds the newest committed frame for a page, bounded by the
// last commit frame. Returns the 1-based frame index.
func (w *WAL) FindPage(ctx context.Context, pageNo uint32) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findPageLocked(ctx, pageNo, w.lastCommitFrame)
}

// FindPageAt finds the newest frame for a page at or below maxFrame,
// supporting snapshot reads: a reader whose snapshot maps to frame S
// passes maxFrame = S and never observes later commits.
func (w *WAL) FindPageAt(ctx context.Context, pageNo, maxFrame uint32) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if maxFrame > w.lastCommitFrame {
		maxFrame = w.lastCommitFrame
	}
	return w.findPageLocked(ctx, pageNo, maxFrame)
}

// findPageLocked consults the lazy page index, extending it towards
// maxFrame as needed. The index maps each page to its newest frame at
// or below indexedThrough, so a bounded lookup may still need a short
// backward scan when the bound precedes older index entries.
func (w *WAL) findPageLocked(ctx context.Context, pageNo, maxFrame uint32) (uint32, error) {
	if maxFrame == 0 {
		return 0, ErrPageNotFound
	}

	// Extend the index forward to the requested bound.
	for w.indexedThrough < maxFrame {
		next := w.indexedThrough + 1
		frameOffset := int64(HeaderSize) + int64(next-1)*(int64(FrameHeaderSize)+int64(w.pageSize))
		hdr := make([]byte, 4)
		if err := w.file.ReadAt(ctx, hdr, frameOffset); err != nil {
			return 0, err
		}
		w.pageIndex[binary.BigEndian.Uint32(hdr)] = next
		w.indexedThrough = next
	}

	if idx, ok := w.pageIndex[pageNo]; ok && idx <= maxFrame {
		return idx, nil
	}

	// The newest indexed occurrence is past the bound (or absent): scan
	// backwards from the bound for an older occurrence.
	frameSize := int64(FrameHeaderSize) + int64(w.pageSize)
	hdr := make([]byte, 4)
	for i := maxFrame; i >= 1; i-- {
		frameOffset := int64(HeaderSize) + int64(i-1)*frameSize
		if err := w.file.ReadAt(ctx, hdr, frameOffset); err != nil {
			return 0, err
		}
		if binary.BigEndian.Uint32(hdr) == pageNo {
			return i, nil
		}
	}

	return 0, ErrPageNotFound
}

// ForEachFrame iterates over all valid frames in the WAL
func (w *WAL) ForEachFrame(ctx context.Context, fn func(*Frame) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for i := uint32(1); i <= w.frameCount; i++ {
		frame, err := w.readFrameLocked(ctx, i)
		if err != nil {
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}

	return nil
}

// ReadFrameRaw reads a frame without salt or checksum validation, for
// the self-healing path: a frame past the valid prefix may still have
// a readable header naming its page, and its payload is the candidate
// input to FEC reconstruction.
func (w *WAL) ReadFrameRaw(ctx context.Context, frameIndex uint32) (*Frame, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if frameIndex < 1 {
		return nil, ErrFrameNotFound
	}
	frameOffset := int64(HeaderSize) + int64(frameIndex-1)*(int64(FrameHeaderSize)+int64(w.pageSize))

	frameHeader := make([]byte, FrameHeaderSize)
	if err := w.file.ReadAt(ctx, frameHeader, frameOffset); err != nil {
		return nil, ErrFrameNotFound
	}
	// A torn tail may cut the payload short; read what the file holds
	// and zero-fill the rest so the digest check downstream rejects a
	// partial payload cleanly.
	pageData := make([]byte, w.pageSize)
	payloadOff := frameOffset + FrameHeaderSize
	if size, err := w.file.Size(ctx); err == nil && size > payloadOff {
		avail := size - payloadOff
		if avail > int64(w.pageSize) {
			avail = int64(w.pageSize)
		}
		if err := w.file.ReadAt(ctx, pageData[:avail], payloadOff); err != nil {
			return nil, err
		}
	}

	pageNo := binary.BigEndian.Uint32(frameHeader[0:4])
	dbSize := binary.BigEndian.Uint32(frameHeader[4:8])
	return &Frame{
		Index:    frameIndex,
		PageNo:   pageNo,
		DbSize:   dbSize,
		Data:     pageData,
		IsCommit: dbSize > 0,
	}, nil
}

// Backfilled returns how many frames of the current generation a
// checkpoint has copied into the database file.
func (w *WAL) Backfilled() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.backfilled
}

// RepairFrame overwrites a frame's page payload in place. Used by the
// self-healing path after a FEC sidecar reconstructs a damaged source
// page: the stored frame checksum is untouched, so a subsequent scan
// validates the repaired payload against the original chain.
func (w *WAL) RepairFrame(ctx context.Context, frameIndex uint32, pageData []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(pageData) != w.pageSize {
		return ErrPageSize
	}
	frameOffset := int64(HeaderSize) + int64(frameIndex-1)*(int64(FrameHeaderSize)+int64(w.pageSize))
	return w.file.WriteAt(ctx, pageData, frameOffset+FrameHeaderSize)
}

// Checkpoint backfills committed frames into the database file.
//
// oldestReaderFrame is the newest frame the oldest live reader's
// snapshot depends on (0 when no readers): frames past it must stay in
// the WAL. A Passive checkpoint simply stops there; the stricter modes
// report Busy. Restart and Truncate additionally rewind the WAL once
// the whole committed prefix is in the database file.
func (w *WAL) Checkpoint(ctx context.Context, dbPath string, mode CheckpointMode, oldestReaderFrame uint32) (CheckpointResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var res CheckpointResult

	limit := w.lastCommitFrame
	if oldestReaderFrame != 0 && oldestReaderFrame < limit {
		if mode != CheckpointPassive {
			res.Busy = true
		}
		limit = oldestReaderFrame
	}

	if limit > w.backfilled {
		n, err := w.backfillLocked(ctx, dbPath, w.backfilled+1, limit)
		res.FramesBackfilled = n
		if err != nil {
			return res, err
		}
		w.backfilled = limit
	}

	// Rewind only when the entire committed prefix is in the database
	// file and the mode asks for it.
	if (mode == CheckpointRestart || mode == CheckpointTruncate) && !res.Busy && w.backfilled == w.lastCommitFrame {
		if err := w.resetLocked(ctx, mode == CheckpointTruncate); err != nil {
			return res, err
		}
		res.WalWasReset = true
	}

	return res, nil
}

// backfillLocked copies the newest version of every page appearing in
// frames [from, to] into the database file, then syncs it.
func (w *WAL) backfillLocked(ctx context.Context, dbPath string, from, to uint32) (uint32, error) {
	if to < from {
		return 0, nil
	}

	dbFile, _, err := w.fs.Open(dbPath, vfs.OpenReadWrite)
	if err != nil {
		return 0, err
	}
	defer dbFile.Close()

	// Newest frame per page within the window; frames before the window
	// were backfilled by an earlier pass.
	latest := make(map[uint32]uint32)
	frameSize := int64(FrameHeaderSize) + int64(w.pageSize)
	hdr := make([]byte, 4)
	for i := from; i <= to; i++ {
		frameOffset := int64(HeaderSize) + int64(i-1)*frameSize
		if err := w.file.ReadAt(ctx, hdr, frameOffset); err != nil {
			return 0, err
		}
		latest[binary.BigEndian.Uint32(hdr)] = i
	}

	pageData := make([]byte, w.pageSize)
	for pageNo, frameIdx := range latest {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		frameOffset := int64(HeaderSize) + int64(frameIdx-1)*frameSize
		if err := w.file.ReadAt(ctx, pageData, frameOffset+FrameHeaderSize); err != nil {
			return 0, err
		}
		// Page numbers are 1-based, file offset is 0-based.
		offset := int64(pageNo-1) * int64(w.pageSize)
		if err := dbFile.WriteAt(ctx, pageData, offset); err != nil {
			return 0, err
		}
	}

	if !w.noSync {
		if err := dbFile.Sync(ctx, vfs.SyncNormal); err != nil {
			return 0, err
		}
	}
	return to - from + 1, nil
}

// resetLocked rewinds the WAL for reuse: new salt generation, frame
// count zeroed, header rewritten. Both modes leave a header-only file;
// truncate mode first cuts the file to zero length.
func (w *WAL) resetLocked(ctx context.Context, truncate bool) error {
	w.ckptSeq++
	w.salt1++
	w.salt2 = rand.Uint32()

	w.frameCount = 0
	w.lastCommitFrame = 0
	w.backfilled = 0
	w.pageIndex = make(map[uint32]uint32)
	w.indexedThrough = 0
	w.pending = nil

	if truncate {
		if err := w.file.Truncate(ctx, 0); err != nil {
			return err
		}
	}
	if err := w.writeHeaderLocked(ctx); err != nil {
		return err
	}
	if !truncate {
		// Drop the stale frames, keeping only the rewritten header.
		if err := w.file.Truncate(ctx, HeaderSize); err != nil {
			return err
		}
	}
	return w.syncLocked(ctx)
}

// Recover applies committed transactions from the WAL to the database
// after a crash. Only frames up to the last commit frame of the valid
// prefix are applied; an invalid or uncommitted tail is discarded.
// Returns the number of frames applied.
func (w *WAL) Recover(ctx context.Context, dbPath string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	res, s1, s2, err := w.scanLocked(ctx)
	if err != nil {
		return 0, err
	}
	w.adoptScan(res, s1, s2)

	if res.LastCommitFrame == 0 {
		// No committed prefix; prune everything.
		if res.ValidFrameCount > 0 || res.Reason != ScanOK {
			if err := w.resetLocked(ctx, false); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}

	if _, err := w.backfillLocked(ctx, dbPath, 1, res.LastCommitFrame); err != nil {
		return 0, err
	}

	recovered := int(res.LastCommitFrame)
	if err := w.resetLocked(ctx, false); err != nil {
		return recovered, err
	}
	return recovered, nil
}

// Close closes the WAL file
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if err := w.syncLocked(context.Background()); err != nil {
			w.file.Close()
			return err
		}
		return w.file.Close()
	}
	return nil
}
