// pkg/mvcc/manager.go
package mvcc

import (
	"sync"
	"sync/atomic"
)

// TransactionManager manages all transactions over one database file:
// snapshot assignment, the committed page-version arena, writer
// serialization, and commit-time validation (page rebase plus SSI).
type TransactionManager struct {
	mu           sync.RWMutex
	transactions map[uint64]*Transaction
	nextTxID     uint64 // atomic
	commitSeq    uint64 // last assigned CommitSeq, guarded by mu

	// commitMu serializes the commit sequence (validate, persist,
	// publish). It is distinct from mu so that structural state stays
	// readable during the persist I/O: mu is never held across I/O.
	commitMu sync.Mutex

	pages   *PageStore
	witness *WitnessPlane
	graph   *ConflictGraph
	slots   *SlotTable

	ssiEnabled bool

	// writer is the transaction holding the single writer slot
	// (IMMEDIATE, EXCLUSIVE, or an upgraded DEFERRED); 0 when free.
	// CONCURRENT transactions never take it.
	writer uint64

	// base reads a page image below the version arena (the database
	// file through the pager). Nil means absent pages read as missing.
	base func(pageNo uint32) ([]byte, error)

	// persist is invoked under the commit lock with every validated
	// commit's images, in CommitSeq order.
	persist func(commitSeq uint64, pages map[uint32][]byte) error
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		transactions: make(map[uint64]*Transaction),
		nextTxID:     1,
		pages:        NewPageStore(),
		witness:      NewWitnessPlane(),
		graph:        NewConflictGraph(),
		slots:        NewSlotTable(),
		ssiEnabled:   true,
	}
}

// SetSSIEnabled toggles serializable snapshot isolation. With SSI off,
// concurrent transactions settle for snapshot isolation: write skew is
// admitted.
func (m *TransactionManager) SetSSIEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ssiEnabled = on
}

// SSIEnabled reports whether SSI validation runs at commit.
func (m *TransactionManager) SSIEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ssiEnabled
}

// SetBaseReader installs the fallback page source consulted when the
// version arena has no committed version of a page.
func (m *TransactionManager) SetBaseReader(fn func(pageNo uint32) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = fn
}

// SetPersistHook installs the callback that durably persists each
// commit's page images (the pager's WAL path).
func (m *TransactionManager) SetPersistHook(fn func(commitSeq uint64, pages map[uint32][]byte) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persist = fn
}

// Pages exposes the committed version arena (the pager's cache hooks
// read it).
func (m *TransactionManager) Pages() *PageStore {
	return m.pages
}

// CurrentCommitSeq returns the newest assigned commit sequence.
func (m *TransactionManager) CurrentCommitSeq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commitSeq
}

// Begin starts a transaction in the given mode. IMMEDIATE and
// EXCLUSIVE take the writer slot at BEGIN and fail with ErrBusy when
// another writer holds it.
func (m *TransactionManager) Begin(mode BeginMode) (*Transaction, error) {
	txID := atomic.AddUint64(&m.nextTxID, 1) - 1

	m.mu.Lock()
	defer m.mu.Unlock()

	var tx *Transaction
	switch mode {
	case BeginImmediate, BeginExclusive:
		if m.writer != 0 {
			return nil, ErrBusy
		}
		tx = NewTransaction(txID, mode, m.commitSeq, true)
		m.writer = txID
		if mode == BeginExclusive {
			tx.setLockLevel(LockExclusive)
		} else {
			tx.setLockLevel(LockReserved)
		}
	case BeginConcurrent:
		tx = NewTransaction(txID, mode, m.commitSeq, true)
		tx.setLockLevel(LockShared)
	default: // deferred
		tx = NewTransaction(txID, BeginDeferred, 0, false)
	}

	tx.token = m.slots.Acquire(txID)
	m.transactions[txID] = tx
	return tx, nil
}

// Read returns the page image visible to tx: its own write set first,
// then the committed version chain at its snapshot, then the base
// page source.
func (m *TransactionManager) Read(tx *Transaction, pageNo uint32) ([]byte, error) {
	if !tx.IsActive() {
		return nil, ErrNoActiveTransaction
	}

	m.mu.RLock()
	current := m.commitSeq
	base := m.base
	m.mu.RUnlock()

	tx.EnsureSnapshot(current)
	if tx.Mode() == BeginDeferred {
		tx.setLockLevel(LockShared)
	}

	tx.reads.Add(pageNo)
	m.witness.ObserveRead(tx.ID(), pageNo)

	if img := tx.writes.Get(pageNo); img != nil {
		return img, nil
	}
	if img := m.pages.Read(pageNo, tx.Snapshot()); img != nil {
		return img, nil
	}
	if base == nil {
		return nil, &OutOfRangeError{What: "page number", Value: int64(pageNo)}
	}
	return base(pageNo)
}

// Write stages a page image in tx's write set. The first write to a
// page snapshots its pre-image for commit-time rebase. Non-concurrent
// transactions must hold (or here acquire) the writer slot.
func (m *TransactionManager) Write(tx *Transaction, pageNo uint32, data []byte) error {
	if !tx.IsActive() {
		return ErrNoActiveTransaction
	}

	m.mu.Lock()
	current := m.commitSeq
	base := m.base
	if tx.Mode() != BeginConcurrent {
		// DEFERRED upgrades to the single writer slot on first write.
		if m.writer != 0 && m.writer != tx.ID() {
			m.mu.Unlock()
			return ErrBusy
		}
		m.writer = tx.ID()
	}
	m.mu.Unlock()

	tx.EnsureSnapshot(current)
	if tx.Mode() != BeginConcurrent {
		tx.setLockLevel(LockReserved)
	}

	if d := tx.writes.Delta(pageNo); d != nil {
		tx.undo.RecordOverwrite(pageNo, d.Post)
		tx.writes.Put(pageNo, nil, data)
	} else {
		pre, err := m.preImage(tx, pageNo, base)
		if err != nil {
			return err
		}
		tx.undo.RecordFirstWrite(pageNo)
		tx.writes.Put(pageNo, pre, data)
	}

	m.witness.ObserveWrite(tx.ID(), pageNo)
	return nil
}

// preImage fetches the page image at tx's snapshot for use as a rebase
// baseline. A page with no committed version and no readable base
// source (a fresh allocation, or a base read that fails) yields a nil
// pre-image.
func (m *TransactionManager) preImage(tx *Transaction, pageNo uint32, base func(uint32) ([]byte, error)) ([]byte, error) {
	if img := m.pages.Read(pageNo, tx.Snapshot()); img != nil {
		return img, nil
	}
	if base != nil {
		if img, err := base(pageNo); err == nil {
			return img, nil
		}
	}
	return nil, nil
}

// Commit validates and publishes tx. Concurrent-mode transactions run
// page rebase against intervening commits and the SSI dangerous-
// structure check; failures surface as ErrBusySnapshot and abort tx.
func (m *TransactionManager) Commit(tx *Transaction) error {
	if !tx.IsActive() {
		return ErrNoActiveTransaction
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	// Read-only transactions commit at their snapshot with no
	// validation and no new sequence.
	if tx.writes.Len() == 0 {
		if err := tx.markCommitted(tx.Snapshot()); err != nil {
			return err
		}
		m.finish(tx)
		return nil
	}

	images, err := m.validate(tx)
	if err != nil {
		tx.markAborted()
		m.finish(tx)
		return err
	}

	m.mu.RLock()
	seq := m.commitSeq + 1
	persist := m.persist
	m.mu.RUnlock()

	// Durable persistence happens outside mu; commitMu alone orders
	// the sequence assignment.
	if persist != nil {
		if err := persist(seq, images); err != nil {
			tx.markAborted()
			m.finish(tx)
			return err
		}
	}

	m.mu.Lock()
	m.commitSeq = seq
	m.mu.Unlock()
	m.pages.Publish(seq, images)

	if err := tx.markCommitted(seq); err != nil {
		return err
	}
	m.finish(tx)
	return nil
}

// validate runs commit validation under commitMu and returns the
// (possibly rebased) page images to publish.
func (m *TransactionManager) validate(tx *Transaction) (map[uint32][]byte, error) {
	m.mu.RLock()
	current := m.commitSeq
	m.mu.RUnlock()

	images := make(map[uint32][]byte, tx.writes.Len())

	for _, pageNo := range tx.writes.Pages() {
		delta := tx.writes.Delta(pageNo)
		intervening := m.pages.VersionsBetween(pageNo, tx.Snapshot(), current)
		if len(intervening) == 0 {
			images[pageNo] = delta.Post
			continue
		}
		// Intervening versions exist: a CONCURRENT commit landed after
		// this transaction's snapshot. Serialized writers can hit this
		// too, since the writer slot does not exclude concurrent-mode
		// committers. Rebase or fail.
		merged, ok := rebase(delta, intervening)
		if !ok {
			return nil, ErrBusySnapshot
		}
		images[pageNo] = merged
	}

	if tx.Mode() == BeginConcurrent {
		if err := m.checkSSI(tx); err != nil {
			return nil, err
		}
	}

	return images, nil
}

// checkSSI detects the dangerous structure: tx both read a page
// some concurrent committed transaction wrote (incoming rw edge from a
// commit it could not see) and wrote a page some concurrent
// transaction read (outgoing rw edge). The first committer of such a
// pair passes; the pivot that completes the structure aborts. The
// witness plane prefilters; the exact read/write-set comparison
// removes its false positives.
func (m *TransactionManager) checkSSI(tx *Transaction) error {
	readPages := tx.reads.Pages()
	writtenPages := tx.writes.Pages()

	mayIn := m.witness.MayHaveInRW(tx.ID(), readPages)
	mayOut := m.witness.MayHaveOutRW(tx.ID(), writtenPages)

	m.mu.RLock()
	others := make([]*Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		others = append(others, t)
	}
	ssiOn := m.ssiEnabled
	m.mu.RUnlock()

	inRW, outRW := false, false
	if mayIn || mayOut {
		for _, other := range others {
			if other.ID() == tx.ID() {
				continue
			}
			// Incoming edge: a concurrent transaction committed after our
			// snapshot and wrote a page we read.
			if mayIn && !inRW && other.IsCommitted() && other.CommitSeq() > tx.Snapshot() {
				for _, pn := range readPages {
					if other.writes.Contains(pn) {
						inRW = true
						m.graph.AddRWEdge(tx.ID(), other.ID())
						break
					}
				}
			}
			// Outgoing edge: a concurrent transaction (still active, or
			// committed without seeing our write) read a page we wrote.
			if mayOut && !outRW && (other.IsActive() || (other.IsCommitted() && other.CommitSeq() > tx.Snapshot())) {
				for _, pn := range writtenPages {
					if other.reads.Contains(pn) {
						outRW = true
						m.graph.AddRWEdge(other.ID(), tx.ID())
						break
					}
				}
			}
			if inRW && outRW {
				break
			}
		}
	}

	tx.setRWFlags(inRW, outRW)
	if ssiOn && inRW && outRW {
		return ErrBusySnapshot
	}
	return nil
}

// Rollback aborts a transaction
func (m *TransactionManager) Rollback(tx *Transaction) error {
	if !tx.IsActive() {
		return ErrNoActiveTransaction
	}

	tx.markAborted()
	m.finish(tx)
	return nil
}

// finish releases per-transaction manager state after commit or
// abort: the writer slot, the slot-table entry, and (when the system
// quiesces) the witness plane.
func (m *TransactionManager) finish(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer == tx.ID() {
		m.writer = 0
	}
	m.slots.Release(tx.token)
	if tx.IsAborted() {
		m.graph.Remove(tx.ID())
	}

	active := 0
	for _, t := range m.transactions {
		if t.IsActive() {
			active++
		}
	}
	if active == 0 {
		m.witness.Reset()
	}
}

// GetTransaction returns a transaction by ID
func (m *TransactionManager) GetTransaction(txID uint64) *Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactions[txID]
}

// ValidateToken reports whether a slot token still names a live
// transaction; stale tokens from a previous slot occupancy fail.
func (m *TransactionManager) ValidateToken(tok SlotToken) (uint64, bool) {
	return m.slots.Validate(tok)
}

// ActiveTransactions returns all currently active transactions
func (m *TransactionManager) ActiveTransactions() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*Transaction
	for _, tx := range m.transactions {
		if tx.IsActive() {
			active = append(active, tx)
		}
	}
	return active
}

// MinActiveSnapshot returns the oldest snapshot any active transaction
// reads at, or the current commit sequence when none is active. Version
// pruning and checkpoint gating derive their bounds from it.
func (m *TransactionManager) MinActiveSnapshot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	min := m.commitSeq
	for _, tx := range m.transactions {
		if tx.IsActive() && tx.Snapshot() < min {
			min = tx.Snapshot()
		}
	}
	return min
}

// CleanupOldTransactions removes finished transactions that no active
// snapshot can still conflict with. Returns the number removed.
func (m *TransactionManager) CleanupOldTransactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	minSnap := m.commitSeq
	for _, tx := range m.transactions {
		if tx.IsActive() && tx.Snapshot() < minSnap {
			minSnap = tx.Snapshot()
		}
	}

	count := 0
	for txID, tx := range m.transactions {
		if !tx.IsActive() && tx.CommitSeq() <= minSnap {
			m.graph.Remove(txID)
			delete(m.transactions, txID)
			count++
		}
	}
	return count
}
