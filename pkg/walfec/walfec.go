// pkg/walfec/walfec.go
// Package walfec maintains the append-only WAL forward-error-correction
// sidecar. On every commit the K source pages of the commit group are
// run through a systematic GF(2^8) Cauchy erasure code and only the R
// repair symbols are stored, together with a metadata record binding
// the group to the WAL generation (salts), the commit frame, and the
// content digest of every source page. When the WAL reports a torn or
// mis-checksummed frame, the sidecar can rebuild the damaged page from
// any K of the K+R symbols.
//
// # SIDECAR FILE FORMAT
//
// All fields are little-endian.
//
//	0-7:  Magic "FSQLWFEC"
//	8-11: Version (1)
//
// followed by zero or more groups:
//
//	metadata record:  u32 length, then that many bytes:
//	    u64 group id (unique per WAL generation)
//	    u32 wal salt-1, u32 wal salt-2
//	    u32 end frame number (the group's commit frame)
//	    u32 symbol size, u8 scheme (OTI)
//	    u16 K, u16 R
//	    K x u32 source page numbers
//	    K x 16-byte xxh3-128 source page digest
//	metadata checksum: u64 xxh3-64 of the metadata bytes
//	R repair records:  u32 length, then u32 ESI and the s2-compressed
//	                   repair symbol
package walfec

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/zeebo/xxh3"

	"fsqlite/pkg/vfs"
	"fsqlite/pkg/wal"
)

const (
	// Magic identifies a sidecar file.
	Magic = "FSQLWFEC"

	// FormatVersion is the sidecar format version.
	FormatVersion = 1

	fileHeaderSize = 12

	// schemeCauchyGF8 is the only OTI scheme currently defined.
	schemeCauchyGF8 = 1

	// maxGroupSources caps K per group; a commit touching more pages is
	// split across several groups sharing the same end frame.
	maxGroupSources = 128
)

var (
	ErrBadMagic       = errors.New("walfec: bad sidecar magic")
	ErrBadVersion     = errors.New("walfec: unsupported sidecar version")
	ErrGroupNotFound  = errors.New("walfec: no group covers the requested frame")
	ErrPageNotInGroup = errors.New("walfec: page not a source of the group")
	ErrUnrecoverable  = errors.New("walfec: fewer than K intact symbols")
	ErrDigestMismatch = errors.New("walfec: reconstructed page fails its digest")
)

// Options configures the sidecar.
type Options struct {
	// RepairSymbols is R, the number of repair symbols per group.
	RepairSymbols int
}

// repairRef locates one stored repair symbol.
type repairRef struct {
	esi    int
	offset int64 // file offset of the compressed payload
	length int   // compressed length
}

// Group is one validated sidecar group.
type Group struct {
	ID         uint64
	Salt1      uint32
	Salt2      uint32
	EndFrame   uint32
	SymbolSize uint32
	K          int
	R          int
	PageNos    []uint32
	Digests    [][16]byte
	repairs    []repairRef
	Retired    bool
}

// ScanReport is the result of walking the sidecar.
type ScanReport struct {
	Groups        int
	TruncatedTail bool
}

// Sidecar is an open .wal-fec file.
type Sidecar struct {
	mu     sync.Mutex
	fs     vfs.VFS
	file   vfs.File
	path   string
	repair int

	groups      []*Group
	groupIDs    map[uint64]struct{}
	nextGroupID uint64
	appendOff   int64
	truncated   bool
}

// Open opens or creates a sidecar file and scans it. A corrupt or
// truncated tail is pruned: the append offset is placed after the last
// fully-validated group.
func Open(fs vfs.VFS, path string, opts Options) (*Sidecar, error) {
	r := opts.RepairSymbols
	if r <= 0 {
		r = 2
	}

	file, _, err := fs.Open(path, vfs.OpenReadWrite|vfs.OpenCreate)
	if err != nil {
		return nil, err
	}

	s := &Sidecar{
		fs:       fs,
		file:     file,
		path:     path,
		repair:   r,
		groupIDs: make(map[uint64]struct{}),
	}

	ctx := context.Background()
	size, err := file.Size(ctx)
	if err != nil {
		file.Close()
		return nil, err
	}

	if size == 0 {
		if err := s.writeFileHeader(ctx); err != nil {
			file.Close()
			return nil, err
		}
		s.appendOff = fileHeaderSize
		return s, nil
	}

	if err := s.scan(ctx); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sidecar) writeFileHeader(ctx context.Context) error {
	hdr := make([]byte, fileHeaderSize)
	copy(hdr, Magic)
	binary.LittleEndian.PutUint32(hdr[8:12], FormatVersion)
	return s.file.WriteAt(ctx, hdr, 0)
}

// scan reads every group sequentially, stopping at the first truncated
// or corrupt record and keeping only the fully-validated prefix.
func (s *Sidecar) scan(ctx context.Context) error {
	hdr := make([]byte, fileHeaderSize)
	if err := s.file.ReadAt(ctx, hdr, 0); err != nil {
		return ErrBadMagic
	}
	if string(hdr[0:8]) != Magic {
		return ErrBadMagic
	}
	if binary.LittleEndian.Uint32(hdr[8:12]) != FormatVersion {
		return ErrBadVersion
	}

	size, err := s.file.Size(ctx)
	if err != nil {
		return err
	}

	off := int64(fileHeaderSize)
	for off < size {
		g, next, ok := s.readGroup(ctx, off, size)
		if !ok {
			s.truncated = true
			break
		}
		if _, dup := s.groupIDs[g.ID]; dup {
			// Duplicate group ids mark a corrupt tail.
			s.truncated = true
			break
		}
		s.groups = append(s.groups, g)
		s.groupIDs[g.ID] = struct{}{}
		if g.ID >= s.nextGroupID {
			s.nextGroupID = g.ID + 1
		}
		off = next
	}

	s.appendOff = off
	return nil
}

// readGroup parses one group at off. ok=false means the record is
// truncated or fails its checksum.
func (s *Sidecar) readGroup(ctx context.Context, off, size int64) (*Group, int64, bool) {
	lenBuf := make([]byte, 4)
	if off+4 > size {
		return nil, 0, false
	}
	if err := s.file.ReadAt(ctx, lenBuf, off); err != nil {
		return nil, 0, false
	}
	metaLen := int64(binary.LittleEndian.Uint32(lenBuf))
	if off+4+metaLen+8 > size {
		return nil, 0, false
	}

	meta := make([]byte, metaLen)
	if err := s.file.ReadAt(ctx, meta, off+4); err != nil {
		return nil, 0, false
	}
	sumBuf := make([]byte, 8)
	if err := s.file.ReadAt(ctx, sumBuf, off+4+metaLen); err != nil {
		return nil, 0, false
	}
	if binary.LittleEndian.Uint64(sumBuf) != xxh3.Hash(meta) {
		return nil, 0, false
	}

	g, ok := decodeMetadata(meta)
	if !ok {
		return nil, 0, false
	}

	// Repair symbol records follow.
	cur := off + 4 + metaLen + 8
	for i := 0; i < g.R; i++ {
		if cur+4 > size {
			return nil, 0, false
		}
		if err := s.file.ReadAt(ctx, lenBuf, cur); err != nil {
			return nil, 0, false
		}
		recLen := int64(binary.LittleEndian.Uint32(lenBuf))
		if recLen < 4 || cur+4+recLen > size {
			return nil, 0, false
		}
		esiBuf := make([]byte, 4)
		if err := s.file.ReadAt(ctx, esiBuf, cur+4); err != nil {
			return nil, 0, false
		}
		g.repairs = append(g.repairs, repairRef{
			esi:    int(binary.LittleEndian.Uint32(esiBuf)),
			offset: cur + 8,
			length: int(recLen - 4),
		})
		cur += 4 + recLen
	}

	return g, cur, true
}

func decodeMetadata(meta []byte) (*Group, bool) {
	const fixed = 8 + 4 + 4 + 4 + 4 + 1 + 2 + 2
	if len(meta) < fixed {
		return nil, false
	}
	g := &Group{
		ID:         binary.LittleEndian.Uint64(meta[0:8]),
		Salt1:      binary.LittleEndian.Uint32(meta[8:12]),
		Salt2:      binary.LittleEndian.Uint32(meta[12:16]),
		EndFrame:   binary.LittleEndian.Uint32(meta[16:20]),
		SymbolSize: binary.LittleEndian.Uint32(meta[20:24]),
	}
	if meta[24] != schemeCauchyGF8 {
		return nil, false
	}
	g.K = int(binary.LittleEndian.Uint16(meta[25:27]))
	g.R = int(binary.LittleEndian.Uint16(meta[27:29]))

	want := fixed + g.K*4 + g.K*16
	if len(meta) != want || g.K == 0 || g.R == 0 {
		return nil, false
	}

	pos := fixed
	g.PageNos = make([]uint32, g.K)
	for i := 0; i < g.K; i++ {
		g.PageNos[i] = binary.LittleEndian.Uint32(meta[pos:])
		pos += 4
	}
	g.Digests = make([][16]byte, g.K)
	for i := 0; i < g.K; i++ {
		copy(g.Digests[i][:], meta[pos:pos+16])
		pos += 16
	}
	return g, true
}

func encodeMetadata(g *Group) []byte {
	const fixed = 8 + 4 + 4 + 4 + 4 + 1 + 2 + 2
	meta := make([]byte, fixed+g.K*4+g.K*16)
	binary.LittleEndian.PutUint64(meta[0:8], g.ID)
	binary.LittleEndian.PutUint32(meta[8:12], g.Salt1)
	binary.LittleEndian.PutUint32(meta[12:16], g.Salt2)
	binary.LittleEndian.PutUint32(meta[16:20], g.EndFrame)
	binary.LittleEndian.PutUint32(meta[20:24], g.SymbolSize)
	meta[24] = schemeCauchyGF8
	binary.LittleEndian.PutUint16(meta[25:27], uint16(g.K))
	binary.LittleEndian.PutUint16(meta[27:29], uint16(g.R))
	pos := fixed
	for _, pn := range g.PageNos {
		binary.LittleEndian.PutUint32(meta[pos:], pn)
		pos += 4
	}
	for _, d := range g.Digests {
		copy(meta[pos:], d[:])
		pos += 16
	}
	return meta
}

// OnCommit derives repair symbols for a commit group and appends the
// sidecar records. Large commits are split so each group stays within
// the field's symbol capacity; every split group shares the commit's
// end frame and salts.
func (s *Sidecar) OnCommit(ctx context.Context, cg wal.CommitGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for start := 0; start < len(cg.Pages); start += maxGroupSources {
		end := start + maxGroupSources
		if end > len(cg.Pages) {
			end = len(cg.Pages)
		}
		if err := s.appendGroup(ctx, cg, cg.Pages[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sidecar) appendGroup(ctx context.Context, cg wal.CommitGroup, pages []wal.FramePage) error {
	k := len(pages)
	if k == 0 {
		return nil
	}

	sources := make([][]byte, k)
	g := &Group{
		ID:         s.nextGroupID,
		Salt1:      cg.Salt1,
		Salt2:      cg.Salt2,
		EndFrame:   cg.EndFrame,
		SymbolSize: uint32(len(pages[0].Data)),
		K:          k,
		R:          s.repair,
		PageNos:    make([]uint32, k),
		Digests:    make([][16]byte, k),
	}
	for i, p := range pages {
		sources[i] = p.Data
		g.PageNos[i] = p.PageNo
		g.Digests[i] = xxh3.Hash128(p.Data).Bytes()
	}

	repairs, err := encodeRepair(sources, g.R)
	if err != nil {
		return err
	}

	meta := encodeMetadata(g)
	buf := make([]byte, 0, 4+len(meta)+8)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(meta)))
	buf = append(buf, meta...)
	buf = binary.LittleEndian.AppendUint64(buf, xxh3.Hash(meta))

	off := s.appendOff
	if err := s.file.WriteAt(ctx, buf, off); err != nil {
		return err
	}
	off += int64(len(buf))

	for i, sym := range repairs {
		compressed := s2.Encode(nil, sym)
		rec := make([]byte, 0, 8+len(compressed))
		rec = binary.LittleEndian.AppendUint32(rec, uint32(4+len(compressed)))
		rec = binary.LittleEndian.AppendUint32(rec, uint32(k+i))
		rec = append(rec, compressed...)
		if err := s.file.WriteAt(ctx, rec, off); err != nil {
			return err
		}
		g.repairs = append(g.repairs, repairRef{
			esi:    k + i,
			offset: off + 8,
			length: len(compressed),
		})
		off += int64(len(rec))
	}

	if err := s.file.Sync(ctx, vfs.SyncNormal); err != nil {
		return err
	}

	s.appendOff = off
	s.groups = append(s.groups, g)
	s.groupIDs[g.ID] = struct{}{}
	s.nextGroupID++
	return nil
}

// Report summarizes the last scan plus groups appended since.
func (s *Sidecar) Report() ScanReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScanReport{Groups: len(s.groups), TruncatedTail: s.truncated}
}

// GroupsFor returns the live groups bound to the given WAL generation
// and commit frame. A commit split across several groups returns them
// all.
func (s *Sidecar) GroupsFor(salt1, salt2, endFrame uint32) []*Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Group
	for _, g := range s.groups {
		if !g.Retired && g.Salt1 == salt1 && g.Salt2 == salt2 && g.EndFrame == endFrame {
			out = append(out, g)
		}
	}
	return out
}

// GroupCovering finds the live group of the given generation whose
// sources include pageNo at commit frame endFrame.
func (s *Sidecar) GroupCovering(salt1, salt2, endFrame, pageNo uint32) (*Group, error) {
	for _, g := range s.GroupsFor(salt1, salt2, endFrame) {
		for _, pn := range g.PageNos {
			if pn == pageNo {
				return g, nil
			}
		}
	}
	return nil, ErrGroupNotFound
}

// GroupCoveringFrame finds the live group of the given generation
// whose commit group contains frameIdx and whose sources include
// pageNo: the group with the smallest EndFrame >= frameIdx.
func (s *Sidecar) GroupCoveringFrame(salt1, salt2, frameIdx, pageNo uint32) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Group
	for _, g := range s.groups {
		if g.Retired || g.Salt1 != salt1 || g.Salt2 != salt2 || g.EndFrame < frameIdx {
			continue
		}
		covers := false
		for _, pn := range g.PageNos {
			if pn == pageNo {
				covers = true
				break
			}
		}
		if !covers {
			continue
		}
		if best == nil || g.EndFrame < best.EndFrame {
			best = g
		}
	}
	if best == nil {
		return nil, ErrGroupNotFound
	}
	return best, nil
}

// Heal reconstructs the source page pageNo of group g. intact supplies
// the still-readable source pages by page number; pages whose content
// does not match the group's recorded digest are ignored. Returns the
// reconstructed page after verifying it against the stored digest.
func (s *Sidecar) Heal(ctx context.Context, g *Group, intact map[uint32][]byte, pageNo uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := -1
	for i, pn := range g.PageNos {
		if pn == pageNo {
			target = i
			break
		}
	}
	if target == -1 {
		return nil, ErrPageNotInGroup
	}

	available := make([]symbol, 0, g.K)
	for i, pn := range g.PageNos {
		data, ok := intact[pn]
		if !ok || len(data) != int(g.SymbolSize) {
			continue
		}
		if xxh3.Hash128(data).Bytes() != g.Digests[i] {
			continue
		}
		available = append(available, symbol{esi: i, data: data})
		if len(available) == g.K {
			break
		}
	}

	// Top up with stored repair symbols.
	for _, ref := range g.repairs {
		if len(available) == g.K {
			break
		}
		compressed := make([]byte, ref.length)
		if err := s.file.ReadAt(ctx, compressed, ref.offset); err != nil {
			continue
		}
		data, err := s2.Decode(nil, compressed)
		if err != nil || len(data) != int(g.SymbolSize) {
			continue
		}
		available = append(available, symbol{esi: ref.esi, data: data})
	}

	if len(available) < g.K {
		return nil, ErrUnrecoverable
	}

	sources, err := decodeSources(g.K, g.R, available)
	if err != nil {
		return nil, ErrUnrecoverable
	}

	page := sources[target]
	if xxh3.Hash128(page).Bytes() != g.Digests[target] {
		return nil, ErrDigestMismatch
	}
	return page, nil
}

// RetireThrough logically retires every group whose commit frame has
// been backfilled into the database file. Groups for frames past the
// backfill point stay live so a partially-backfilled WAL keeps its
// protection. Space reclamation is deferred to a sidecar rewrite.
func (s *Sidecar) RetireThrough(salt1, salt2, backfilledFrame uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, g := range s.groups {
		if !g.Retired && g.Salt1 == salt1 && g.Salt2 == salt2 && g.EndFrame <= backfilledFrame {
			g.Retired = true
			n++
		}
	}
	return n
}

// LiveGroups returns the number of unretired groups.
func (s *Sidecar) LiveGroups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.groups {
		if !g.Retired {
			n++
		}
	}
	return n
}

// Close closes the sidecar file.
func (s *Sidecar) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
