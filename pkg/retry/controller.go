// pkg/retry/controller.go
package retry

import "sync"

// candidateWaits is the fixed wait menu in milliseconds; each decision
// intersects it with the caller's remaining budget.
var candidateWaits = []int{0, 1, 2, 5, 10, 20, 50, 100}

// StarvationThreshold is the conflict count at which a transaction's
// next decision is forced to the largest feasible wait regardless of
// the argmin.
const StarvationThreshold = 5

// Decision is the controller's advice for one conflict.
type Decision struct {
	Action       Action
	WaitMs       int
	ExpectedLoss float64
	Escalated    bool
}

// Options tunes the loss model.
type Options struct {
	// FailCost is the loss of giving up (surfacing Busy to the caller).
	FailCost float64
	// TryCost is the fixed overhead of one retry attempt.
	TryCost float64
	// LedgerCapacity bounds the evidence ring.
	LedgerCapacity int
}

// Controller is the per-connection retry/conflict policy: a
// Beta-Bernoulli posterior per (writers, M2, wait) bucket, an
// expected-loss argmin over the candidate actions, and starvation
// escalation for transactions that keep losing.
type Controller struct {
	mu sync.Mutex

	failCost float64
	tryCost  float64

	posteriors *posteriorTable
	sketch     *AmsSketch
	ledger     *EvidenceLedger

	// concurrent writer count, reported by the transaction layer
	writers int

	regimeID  uint64
	conflicts map[uint64]int // txn id -> consecutive conflict count
}

// NewController creates a controller with the given loss model.
func NewController(opts Options) *Controller {
	failCost := opts.FailCost
	if failCost == 0 {
		failCost = 100
	}
	tryCost := opts.TryCost
	if tryCost == 0 {
		tryCost = 1
	}
	capacity := opts.LedgerCapacity
	if capacity == 0 {
		capacity = 1024
	}
	return &Controller{
		failCost:   failCost,
		tryCost:    tryCost,
		posteriors: newPosteriorTable(),
		sketch:     NewAmsSketch(0, 0, 0),
		ledger:     NewEvidenceLedger(capacity),
		conflicts:  make(map[uint64]int),
	}
}

// SetRegime re-seeds the sketch for a new (epoch, regime, window).
func (c *Controller) SetRegime(dbEpoch, regimeID, windowID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regimeID = regimeID
	c.sketch = NewAmsSketch(dbEpoch, regimeID, windowID)
}

// ObserveWrite feeds a page write into the collision-mass sketch.
func (c *Controller) ObserveWrite(pageNo uint32) {
	c.sketch.ObserveWrite(pageNo)
}

// SetWriters reports the current concurrent writer count.
func (c *Controller) SetWriters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writers = n
}

// Ledger exposes the evidence ring for the observability layer.
func (c *Controller) Ledger() *EvidenceLedger {
	return c.ledger
}

// ConflictCount reports how many consecutive conflicts txnID has
// accumulated; external consumers poll it alongside the ledger.
func (c *Controller) ConflictCount(txnID uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflicts[txnID]
}

// Decide advises on a conflict for txnID with budgetMs remaining (the
// minimum of the caller's deadline and the busy-timeout setting).
//
// Expected losses:
//
//	EL(FailNow)     = failCost
//	EL(Retry, t_i)  = t_i + tryCost + (1 - pHat_i) * failCost
//
// The argmin wins; ties break towards the smallest wait. A starving
// transaction is forced to the largest feasible wait instead.
func (c *Controller) Decide(txnID uint64, budgetMs int) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conflicts[txnID]++

	m2 := c.sketch.CollisionMass()
	wb := writersBucket(c.writers)
	mb := m2Bucket(m2)

	var feasible []int
	for _, w := range candidateWaits {
		if w <= budgetMs {
			feasible = append(feasible, w)
		}
	}

	ev := Evidence{
		TxnID:            txnID,
		RegimeID:         c.regimeID,
		Writers:          c.writers,
		M2:               m2,
		CandidateWaitsMs: feasible,
	}

	best := Decision{Action: ActionFailNow, ExpectedLoss: c.failCost}
	var largest *Decision

	for _, waitMs := range feasible {
		key := BucketKey{Writers: wb, M2: mb, WaitMs: waitMs}
		post := c.posteriors.snapshot(key)
		pHat := post.Mean()
		loss := float64(waitMs) + c.tryCost + (1-pHat)*c.failCost

		ev.PHat = append(ev.PHat, pHat)
		ev.ExpectedLosses = append(ev.ExpectedLosses, loss)
		ev.Alpha = append(ev.Alpha, post.Alpha)
		ev.Beta = append(ev.Beta, post.Beta)

		// Strict inequality keeps the smallest wait on a tie, since the
		// menu ascends; FailNow loses ties to any equal-loss retry only
		// when the retry is strictly cheaper.
		if loss < best.ExpectedLoss {
			best = Decision{Action: ActionRetry, WaitMs: waitMs, ExpectedLoss: loss}
		}
		largest = &Decision{Action: ActionRetry, WaitMs: waitMs, ExpectedLoss: loss}
	}

	if c.conflicts[txnID] >= StarvationThreshold && largest != nil {
		best = *largest
		best.Escalated = true
	}

	ev.ChosenAction = best.Action
	ev.ChosenWaitMs = best.WaitMs
	ev.StarvationEscalation = best.Escalated
	c.ledger.Append(ev)

	return best
}

// Observe reports the outcome of the advised attempt, updating the
// posterior for the bucket that was tried and clearing the starvation
// counter on success.
func (c *Controller) Observe(txnID uint64, waitMs int, success bool) {
	c.mu.Lock()
	wb := writersBucket(c.writers)
	mb := m2Bucket(c.sketch.CollisionMass())
	if success {
		delete(c.conflicts, txnID)
	}
	c.mu.Unlock()

	c.posteriors.observe(BucketKey{Writers: wb, M2: mb, WaitMs: waitMs}, success)
}

// Forget drops a transaction's starvation counter, on rollback or
// connection close.
func (c *Controller) Forget(txnID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conflicts, txnID)
}
