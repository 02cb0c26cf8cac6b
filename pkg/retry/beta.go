// pkg/retry/beta.go
// Package retry decides, under page-level contention, whether a
// conflicted transaction should fail fast or wait a computed interval
// before retrying. Per (writer-load, contention-skew) regime bucket it
// maintains a Beta-Bernoulli posterior of retry success at each
// candidate wait, picks the action with minimal expected loss, and
// escalates transactions that keep starving.
package retry

import "sync"

// BetaPosterior is a Beta(alpha, beta) distribution over the success
// probability of a retry. Both parameters stay strictly positive; the
// prior is Beta(1, 1), the uniform distribution.
type BetaPosterior struct {
	Alpha float64
	Beta  float64
}

// NewBetaPosterior returns the uniform prior.
func NewBetaPosterior() BetaPosterior {
	return BetaPosterior{Alpha: 1, Beta: 1}
}

// Mean returns alpha / (alpha + beta).
func (p BetaPosterior) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// Observe folds in one Bernoulli outcome.
func (p *BetaPosterior) Observe(success bool) {
	if success {
		p.Alpha++
	} else {
		p.Beta++
	}
}

// BucketKey addresses one posterior: the regime (concurrent-writers
// bucket crossed with collision-mass bucket) and the candidate wait.
type BucketKey struct {
	Writers int // bucketed concurrent writer count
	M2      int // bucketed collision mass
	WaitMs  int
}

// posteriorTable holds the per-bucket posteriors.
type posteriorTable struct {
	mu      sync.Mutex
	buckets map[BucketKey]*BetaPosterior
}

func newPosteriorTable() *posteriorTable {
	return &posteriorTable{buckets: make(map[BucketKey]*BetaPosterior)}
}

// get returns the posterior for key, creating the uniform prior on
// first touch.
func (t *posteriorTable) get(key BucketKey) *BetaPosterior {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.buckets[key]
	if p == nil {
		prior := NewBetaPosterior()
		p = &prior
		t.buckets[key] = p
	}
	return p
}

// snapshot returns a copy of the posterior for key.
func (t *posteriorTable) snapshot(key BucketKey) BetaPosterior {
	return *t.get(key)
}

// observe updates the posterior for key with one outcome.
func (t *posteriorTable) observe(key BucketKey, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.buckets[key]
	if p == nil {
		prior := NewBetaPosterior()
		p = &prior
		t.buckets[key] = p
	}
	p.Observe(success)
}

// writersBucket coarsens a live writer count into a small regime axis.
func writersBucket(writers int) int {
	switch {
	case writers <= 1:
		return 0
	case writers <= 3:
		return 1
	case writers <= 7:
		return 2
	default:
		return 3
	}
}

// m2Bucket coarsens collision mass (squared-incidence skew, in
// [0, 1]) into the other regime axis.
func m2Bucket(m2 float64) int {
	switch {
	case m2 < 0.01:
		return 0
	case m2 < 0.1:
		return 1
	case m2 < 0.5:
		return 2
	default:
		return 3
	}
}
