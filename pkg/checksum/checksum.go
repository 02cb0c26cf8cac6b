// pkg/checksum/checksum.go
// Package checksum provides the three digest tiers used across the engine:
// integrity (xxh3), content addressing (BLAKE3), and protocol (CRC32C).
// The tiers are distinguished by purpose, not strength. The 64-bit
// digests (Digest64) carry the algorithm that produced them; the
// 128-bit xxh3 and 256-bit BLAKE3 helpers return bare byte arrays with
// no algorithm tag.
package checksum

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"
	"lukechampine.com/blake3"
)

// Algorithm identifies which hash produced a digest.
type Algorithm uint8

const (
	AlgXXH3   Algorithm = 1 // integrity tier: page trailers, WAL-FEC records
	AlgBLAKE3 Algorithm = 2 // content-addressing tier
	AlgCRC32C Algorithm = 3 // protocol tier
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgXXH3:
		return "xxh3"
	case AlgBLAKE3:
		return "blake3"
	case AlgCRC32C:
		return "crc32c"
	default:
		return "unknown"
	}
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Digest64 is a 64-bit digest tagged with its producing algorithm.
type Digest64 struct {
	Alg Algorithm
	Sum uint64
}

// XXH3Page computes the integrity-tier 64-bit digest of a page's
// checksummed region.
func XXH3Page(data []byte) Digest64 {
	return Digest64{Alg: AlgXXH3, Sum: xxh3.Hash(data)}
}

// XXH3Sum128 computes the 128-bit xxh3 digest used by the WAL-FEC
// sidecar to bind repair symbols to source page content.
func XXH3Sum128(data []byte) [16]byte {
	return xxh3.Hash128(data).Bytes()
}

// BLAKE3Content computes the content-addressing-tier 256-bit digest.
func BLAKE3Content(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// CRC32C computes the protocol-tier Castagnoli CRC.
func CRC32C(data []byte) Digest64 {
	return Digest64{Alg: AlgCRC32C, Sum: uint64(crc32.Checksum(data, castagnoli))}
}

// PageTrailerSize is the number of bytes the integrity trailer occupies
// at the end of a page when the header configures a reserved region.
const PageTrailerSize = 8

// WritePageTrailer stamps the xxh3 integrity trailer into the last 8
// bytes of page, covering everything before the trailer. The page must
// have a reserved region configured; callers pass the full page buffer.
func WritePageTrailer(page []byte) {
	if len(page) <= PageTrailerSize {
		return
	}
	body := page[:len(page)-PageTrailerSize]
	sum := xxh3.Hash(body)
	putUint64LE(page[len(page)-PageTrailerSize:], sum)
}

// VerifyPageTrailer checks the xxh3 integrity trailer. A zero trailer
// means "no checksum" (legacy writer) and verifies as valid.
func VerifyPageTrailer(page []byte) bool {
	if len(page) <= PageTrailerSize {
		return false
	}
	trailer := page[len(page)-PageTrailerSize:]
	stored := getUint64LE(trailer)
	if stored == 0 {
		return true
	}
	return stored == xxh3.Hash(page[:len(page)-PageTrailerSize])
}

func putUint64LE(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

func getUint64LE(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
