// pkg/pager/corruption.go
package pager

import (
	"fmt"

	"fsqlite/pkg/checksum"
)

// CorruptionError reports a page whose integrity trailer does not
// match its contents.
type CorruptionError struct {
	PageNo      uint32
	ExpectedSum uint64
	ActualSum   uint64
	Message     string
}

// Error implements the error interface
func (e *CorruptionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("page %d corruption: %s", e.PageNo, e.Message)
	}
	return fmt.Sprintf("page %d corruption: expected checksum %016x, got %016x",
		e.PageNo, e.ExpectedSum, e.ActualSum)
}

// PageChecksumSize is the number of bytes the integrity trailer
// occupies at the end of each page when the header configures a
// reserved region.
const PageChecksumSize = checksum.PageTrailerSize

// WritePageChecksum stamps the integrity trailer into the last bytes
// of the page.
func WritePageChecksum(data []byte) {
	checksum.WritePageTrailer(data)
}

// VerifyPageChecksum checks the page's integrity trailer. A zero
// trailer means a legacy writer left no checksum and verifies clean.
// Returns nil on success.
func VerifyPageChecksum(pageNo uint32, data []byte) *CorruptionError {
	if len(data) <= PageChecksumSize {
		return &CorruptionError{PageNo: pageNo, Message: "page too small for trailer"}
	}
	if checksum.VerifyPageTrailer(data) {
		return nil
	}
	trailer := data[len(data)-PageChecksumSize:]
	stored := uint64(0)
	for i := PageChecksumSize - 1; i >= 0; i-- {
		stored = stored<<8 | uint64(trailer[i])
	}
	actual := checksum.XXH3Page(data[:len(data)-PageChecksumSize])
	return &CorruptionError{
		PageNo:      pageNo,
		ExpectedSum: stored,
		ActualSum:   actual.Sum,
	}
}
