// pkg/retry/ams.go
package retry

import (
	"encoding/binary"
	"sync"

	"lukechampine.com/blake3"
)

// amsRows is R, the number of independent ±1 sign hashes averaged by
// the sketch.
const amsRows = 8

// AmsSketch is an Alon-Matias-Szegedy F2 sketch over per-page write
// incidence. It estimates M2 = F2 / n², the "collision mass": the
// probability that two uniformly chosen writes touched the same page.
// Each row keeps a running sum of ±1 signs; E[sum²] = F2.
type AmsSketch struct {
	mu    sync.Mutex
	seeds [amsRows]uint64
	sums  [amsRows]int64
	count uint64
}

// NewAmsSketch seeds the R sign hashes from BLAKE3 of
// (dbEpoch, regimeID, windowID, row), so sketches of different epochs,
// regimes, or windows are independent.
func NewAmsSketch(dbEpoch, regimeID, windowID uint64) *AmsSketch {
	s := &AmsSketch{}
	var buf [32]byte
	for r := 0; r < amsRows; r++ {
		binary.LittleEndian.PutUint64(buf[0:8], dbEpoch)
		binary.LittleEndian.PutUint64(buf[8:16], regimeID)
		binary.LittleEndian.PutUint64(buf[16:24], windowID)
		binary.LittleEndian.PutUint64(buf[24:32], uint64(r))
		sum := blake3.Sum256(buf[:])
		s.seeds[r] = binary.LittleEndian.Uint64(sum[0:8])
	}
	return s
}

// splitmix64 is the SplitMix64 finalizer, applied to the seed-mixed
// page number to derive the sign bit.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// sign returns +1 or -1 for a page under row r's hash.
func (s *AmsSketch) sign(r int, pageNo uint32) int64 {
	h := splitmix64(s.seeds[r] ^ uint64(pageNo))
	if h&1 == 0 {
		return 1
	}
	return -1
}

// ObserveWrite folds one page write into the sketch.
func (s *AmsSketch) ObserveWrite(pageNo uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for r := 0; r < amsRows; r++ {
		s.sums[r] += s.sign(r, pageNo)
	}
	s.count++
}

// Count returns the number of observed writes.
func (s *AmsSketch) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// CollisionMass estimates M2 = F2 / count². The estimator averages
// sum² across rows; with no observations it reports zero.
func (s *AmsSketch) CollisionMass() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0
	}
	var f2 float64
	for r := 0; r < amsRows; r++ {
		f2 += float64(s.sums[r]) * float64(s.sums[r])
	}
	f2 /= amsRows
	n := float64(s.count)
	return f2 / (n * n)
}

// Reset clears the sketch for a new observation window.
func (s *AmsSketch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sums = [amsRows]int64{}
	s.count = 0
}
