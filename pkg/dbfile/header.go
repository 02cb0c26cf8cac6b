// pkg/dbfile/header.go
// Package dbfile implements the on-disk database file header, byte-identical
// with the reference SQLite file format.
package dbfile

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the size of the database file header in bytes.
	// The first 100 bytes of the file (page 0 in the pager's numbering)
	// contain the file header.
	HeaderSize = 100

	// MagicString identifies a valid database file. Exactly 16 bytes,
	// including the trailing NUL, matching the reference format.
	MagicString = "SQLite format 3\x00"

	// DefaultPageSize is the default page size in bytes.
	DefaultPageSize = 4096
)

// Header field offsets, matching the reference on-disk layout exactly.
const (
	offsetMagic              = 0  // 16 bytes: magic string
	offsetPageSize           = 16 // 2 bytes: page size (1 means 65536)
	offsetFormatWriteVersion = 18 // 1 byte: file format write version
	offsetFormatReadVersion  = 19 // 1 byte: file format read version
	offsetReservedPerPage    = 20 // 1 byte: reserved bytes at end of each page
	offsetMaxPayloadFrac     = 21 // 1 byte: max embedded payload fraction
	offsetMinPayloadFrac     = 22 // 1 byte: min embedded payload fraction
	offsetMinLeafPayloadFrac = 23 // 1 byte: min leaf payload fraction
	offsetChangeCounter      = 24 // 4 bytes: file change counter
	offsetPageCount          = 28 // 4 bytes: size of database in pages
	offsetFreeListHead       = 32 // 4 bytes: first freelist trunk page
	offsetFreeListCount      = 36 // 4 bytes: number of freelist pages
	offsetSchemaCookie       = 40 // 4 bytes: schema cookie
	offsetSchemaVersion      = 44 // 4 bytes: schema format version
	offsetDefaultCacheSize   = 48 // 4 bytes: default page cache size
	offsetLargestRootPage    = 52 // 4 bytes: largest root page (autovacuum)
	offsetTextEncoding       = 56 // 4 bytes: 1=UTF-8, 2=UTF-16le, 3=UTF-16be
	offsetUserVersion        = 60 // 4 bytes: user version
	offsetIncrementalVacuum  = 64 // 4 bytes: incremental vacuum mode
	offsetApplicationID      = 68 // 4 bytes: application ID
	// offsetReserved 72..91: 20 bytes reserved for expansion, always zero
	offsetVersionValidFor = 92 // 4 bytes: change counter at last version-number write
	offsetVersionNumber   = 96 // 4 bytes: engine version number that wrote this file
)

// Errors
var (
	ErrInvalidMagic    = errors.New("invalid magic string: not a SQLite-format database")
	ErrHeaderTooShort  = errors.New("header data too short")
	ErrInvalidPageSize = errors.New("invalid page size")
)

// Header represents the 100-byte database file header.
type Header struct {
	PageSize           uint32 // Page size in bytes (512..65536, power of 2)
	FormatWriteVersion uint8  // File format write version
	FormatReadVersion  uint8  // File format read version
	ReservedPerPage    uint8  // Reserved bytes at end of each page
	MaxPayloadFrac     uint8  // Max embedded payload fraction (default 64)
	MinPayloadFrac     uint8  // Min embedded payload fraction (default 32)
	MinLeafPayloadFrac uint8  // Min leaf payload fraction (default 32)
	ChangeCounter      uint32 // Incremented on each change
	PageCount          uint32 // Total number of pages in the database
	FreeListHead       uint32 // Page number of first freelist trunk page (0 if none)
	FreeListCount      uint32 // Total number of freelist pages
	SchemaCookie       uint32 // Schema cookie (incremented on schema change)
	SchemaVersion      uint32 // Schema format version
	DefaultCacheSize   uint32 // Suggested cache size
	LargestRootPage    uint32 // Largest root page (for autovacuum)
	TextEncoding       uint32 // Text encoding (1=UTF-8)
	UserVersion        uint32 // User-defined version
	IncrementalVacuum  uint32 // Incremental vacuum mode
	ApplicationID      uint32 // Application ID
	VersionValidFor    uint32 // Change counter at time of version number
	VersionNumber      uint32 // Engine version number that wrote this file
}

// NewHeader creates a new header with default values.
func NewHeader() *Header {
	return &Header{
		PageSize:           DefaultPageSize,
		FormatWriteVersion: 1,
		FormatReadVersion:  1,
		ReservedPerPage:    0,
		MaxPayloadFrac:     64,
		MinPayloadFrac:     32,
		MinLeafPayloadFrac: 32,
		ChangeCounter:      0,
		PageCount:          1, // Header page itself
		FreeListHead:       0,
		FreeListCount:      0,
		SchemaCookie:       0,
		SchemaVersion:      0,
		DefaultCacheSize:   1000,
		LargestRootPage:    0,
		TextEncoding:       1, // UTF-8
		UserVersion:        0,
		IncrementalVacuum:  0,
		ApplicationID:      0,
		VersionValidFor:    0,
		VersionNumber:      1,
	}
}

// encodedPageSize maps a page size to its on-disk 16-bit field value.
// 65536 is stored as 1 since the field is only 16 bits wide.
func encodedPageSize(pageSize uint32) uint16 {
	if pageSize == 65536 {
		return 1
	}
	return uint16(pageSize)
}

// decodedPageSize is the inverse of encodedPageSize.
func decodedPageSize(v uint16) uint32 {
	if v == 1 {
		return 65536
	}
	return uint32(v)
}

// Encode serializes the header to a 100-byte slice. All multi-byte
// integers are big-endian, matching the reference format.
func (h *Header) Encode() []byte {
	data := make([]byte, HeaderSize)

	copy(data[offsetMagic:], MagicString)

	binary.BigEndian.PutUint16(data[offsetPageSize:], encodedPageSize(h.PageSize))

	data[offsetFormatWriteVersion] = h.FormatWriteVersion
	data[offsetFormatReadVersion] = h.FormatReadVersion

	data[offsetReservedPerPage] = h.ReservedPerPage
	data[offsetMaxPayloadFrac] = h.MaxPayloadFrac
	data[offsetMinPayloadFrac] = h.MinPayloadFrac
	data[offsetMinLeafPayloadFrac] = h.MinLeafPayloadFrac

	binary.BigEndian.PutUint32(data[offsetChangeCounter:], h.ChangeCounter)
	binary.BigEndian.PutUint32(data[offsetPageCount:], h.PageCount)
	binary.BigEndian.PutUint32(data[offsetFreeListHead:], h.FreeListHead)
	binary.BigEndian.PutUint32(data[offsetFreeListCount:], h.FreeListCount)
	binary.BigEndian.PutUint32(data[offsetSchemaCookie:], h.SchemaCookie)
	binary.BigEndian.PutUint32(data[offsetSchemaVersion:], h.SchemaVersion)
	binary.BigEndian.PutUint32(data[offsetDefaultCacheSize:], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(data[offsetLargestRootPage:], h.LargestRootPage)
	binary.BigEndian.PutUint32(data[offsetTextEncoding:], h.TextEncoding)
	binary.BigEndian.PutUint32(data[offsetUserVersion:], h.UserVersion)
	binary.BigEndian.PutUint32(data[offsetIncrementalVacuum:], h.IncrementalVacuum)
	binary.BigEndian.PutUint32(data[offsetApplicationID:], h.ApplicationID)
	// Reserved bytes (72-91) are left as zeros.
	binary.BigEndian.PutUint32(data[offsetVersionValidFor:], h.VersionValidFor)
	binary.BigEndian.PutUint32(data[offsetVersionNumber:], h.VersionNumber)

	return data
}

// DecodeHeader deserializes a header from a byte slice.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrHeaderTooShort
	}

	if string(data[offsetMagic:offsetMagic+16]) != MagicString {
		return nil, ErrInvalidMagic
	}

	h := &Header{
		PageSize:           decodedPageSize(binary.BigEndian.Uint16(data[offsetPageSize:])),
		FormatWriteVersion: data[offsetFormatWriteVersion],
		FormatReadVersion:  data[offsetFormatReadVersion],
		ReservedPerPage:    data[offsetReservedPerPage],
		MaxPayloadFrac:     data[offsetMaxPayloadFrac],
		MinPayloadFrac:     data[offsetMinPayloadFrac],
		MinLeafPayloadFrac: data[offsetMinLeafPayloadFrac],
		ChangeCounter:      binary.BigEndian.Uint32(data[offsetChangeCounter:]),
		PageCount:          binary.BigEndian.Uint32(data[offsetPageCount:]),
		FreeListHead:       binary.BigEndian.Uint32(data[offsetFreeListHead:]),
		FreeListCount:      binary.BigEndian.Uint32(data[offsetFreeListCount:]),
		SchemaCookie:       binary.BigEndian.Uint32(data[offsetSchemaCookie:]),
		SchemaVersion:      binary.BigEndian.Uint32(data[offsetSchemaVersion:]),
		DefaultCacheSize:   binary.BigEndian.Uint32(data[offsetDefaultCacheSize:]),
		LargestRootPage:    binary.BigEndian.Uint32(data[offsetLargestRootPage:]),
		TextEncoding:       binary.BigEndian.Uint32(data[offsetTextEncoding:]),
		UserVersion:        binary.BigEndian.Uint32(data[offsetUserVersion:]),
		IncrementalVacuum:  binary.BigEndian.Uint32(data[offsetIncrementalVacuum:]),
		ApplicationID:      binary.BigEndian.Uint32(data[offsetApplicationID:]),
		VersionValidFor:    binary.BigEndian.Uint32(data[offsetVersionValidFor:]),
		VersionNumber:      binary.BigEndian.Uint32(data[offsetVersionNumber:]),
	}

	return h, nil
}
