// pkg/mvcc/transaction.go
package mvcc

import "sync"

// TxState represents the state of a transaction
type TxState int

const (
	TxStateActive TxState = iota
	TxStateCommitted
	TxStateAborted
)

// String returns a string representation of the transaction state
func (s TxState) String() string {
	switch s {
	case TxStateActive:
		return "Active"
	case TxStateCommitted:
		return "Committed"
	case TxStateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// BeginMode selects the locking discipline a transaction starts with.
type BeginMode int

const (
	// BeginDeferred takes no lock; the snapshot is captured on first
	// access and the write lock on first write.
	BeginDeferred BeginMode = iota
	// BeginImmediate takes the reserved (writer) lock at BEGIN.
	BeginImmediate
	// BeginExclusive takes the exclusive lock at BEGIN.
	BeginExclusive
	// BeginConcurrent snapshots at BEGIN and resolves conflicts
	// optimistically at COMMIT with page-level validation.
	BeginConcurrent
)

// String returns the mode keyword.
func (m BeginMode) String() string {
	switch m {
	case BeginDeferred:
		return "DEFERRED"
	case BeginImmediate:
		return "IMMEDIATE"
	case BeginExclusive:
		return "EXCLUSIVE"
	case BeginConcurrent:
		return "CONCURRENT"
	default:
		return "UNKNOWN"
	}
}

// LockLevel orders the file-lock states a transaction can hold.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockExclusive
)

// String returns the lock level name.
func (l LockLevel) String() string {
	switch l {
	case LockNone:
		return "None"
	case LockShared:
		return "Shared"
	case LockReserved:
		return "Reserved"
	case LockExclusive:
		return "Exclusive"
	default:
		return "Unknown"
	}
}

// Savepoint represents a savepoint within a transaction. It records
// the undo-log position at creation; ROLLBACK TO rewinds the write set
// to exactly that point.
type Savepoint struct {
	Name    string
	UndoPos int
}

// Transaction represents a database transaction for MVCC
type Transaction struct {
	mu         sync.RWMutex
	id         uint64
	mode       BeginMode
	lockLevel  LockLevel
	snapshot   uint64 // CommitSeq this transaction reads at
	hasSnap    bool   // snapshot captured (deferred txns capture lazily)
	commitSeq  uint64 // CommitSeq assigned at commit - 0 if uncommitted
	state      TxState
	savepoints []Savepoint // stack, newest at end

	token SlotToken

	writes *WriteSet
	reads  *ReadSet
	undo   *UndoLog

	// SSI flags, filled in during commit validation.
	inRW  bool
	outRW bool
}

// NewTransaction creates a transaction. A concurrent/immediate/
// exclusive transaction has its snapshot fixed at BEGIN; a deferred
// one captures it on first access via EnsureSnapshot.
func NewTransaction(id uint64, mode BeginMode, snapshot uint64, snapAtBegin bool) *Transaction {
	return &Transaction{
		id:       id,
		mode:     mode,
		snapshot: snapshot,
		hasSnap:  snapAtBegin,
		state:    TxStateActive,
		writes:   NewWriteSet(),
		reads:    NewReadSet(),
		undo:     NewUndoLog(),
	}
}

// ID returns the transaction ID
func (tx *Transaction) ID() uint64 {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.id
}

// Mode returns the BEGIN mode.
func (tx *Transaction) Mode() BeginMode {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.mode
}

// LockLevel returns the current lock level.
func (tx *Transaction) LockLevel() LockLevel {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.lockLevel
}

// setLockLevel promotes the lock; locks never demote while active.
func (tx *Transaction) setLockLevel(l LockLevel) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if l > tx.lockLevel {
		tx.lockLevel = l
	}
}

// Snapshot returns the CommitSeq this transaction reads at.
func (tx *Transaction) Snapshot() uint64 {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.snapshot
}

// EnsureSnapshot captures the snapshot on first access for deferred
// transactions; later calls are no-ops.
func (tx *Transaction) EnsureSnapshot(current uint64) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.hasSnap {
		tx.snapshot = current
		tx.hasSnap = true
	}
}

// CommitSeq returns the commit sequence (0 if uncommitted)
func (tx *Transaction) CommitSeq() uint64 {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.commitSeq
}

// State returns the current transaction state
func (tx *Transaction) State() TxState {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state
}

// IsActive returns true if the transaction is still active
func (tx *Transaction) IsActive() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state == TxStateActive
}

// IsCommitted returns true if the transaction has been committed
func (tx *Transaction) IsCommitted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state == TxStateCommitted
}

// IsAborted returns true if the transaction has been aborted
func (tx *Transaction) IsAborted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state == TxStateAborted
}

// HasInRW reports an incoming rw-antidependency found at validation.
func (tx *Transaction) HasInRW() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.inRW
}

// HasOutRW reports an outgoing rw-antidependency found at validation.
func (tx *Transaction) HasOutRW() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.outRW
}

func (tx *Transaction) setRWFlags(in, out bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.inRW = in
	tx.outRW = out
}

// WriteSet returns the transaction's page write set.
func (tx *Transaction) WriteSet() *WriteSet {
	return tx.writes
}

// ReadSet returns the transaction's page read set.
func (tx *Transaction) ReadSet() *ReadSet {
	return tx.reads
}

// markCommitted finalizes the transaction with its commit sequence.
func (tx *Transaction) markCommitted(commitSeq uint64) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxStateActive {
		return ErrNoActiveTransaction
	}
	tx.commitSeq = commitSeq
	tx.state = TxStateCommitted
	tx.savepoints = nil
	tx.undo.Clear()
	return nil
}

// markAborted finalizes the transaction as rolled back.
func (tx *Transaction) markAborted() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state == TxStateActive {
		tx.state = TxStateAborted
		tx.savepoints = nil
		tx.undo.Clear()
	}
}

// SavepointCount returns the number of active savepoints
func (tx *Transaction) SavepointCount() int {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return len(tx.savepoints)
}

// Savepoint creates a new savepoint with the given name
func (tx *Transaction) Savepoint(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxStateActive {
		return ErrNoActiveTransaction
	}

	tx.savepoints = append(tx.savepoints, Savepoint{
		Name:    name,
		UndoPos: tx.undo.Len(),
	})
	return nil
}

// findSavepoint locates a savepoint, searching newest to oldest.
func (tx *Transaction) findSavepoint(name string) int {
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i].Name == name {
			return i
		}
	}
	return -1
}

// RollbackTo rewinds the write set to the named savepoint's position,
// keeps the savepoint itself, and discards all more recent ones. The
// WAL is never touched: only the in-memory write set rewinds.
func (tx *Transaction) RollbackTo(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxStateActive {
		return ErrNoActiveTransaction
	}

	idx := tx.findSavepoint(name)
	if idx == -1 {
		return ErrSavepointNotFound
	}

	tx.undo.RewindTo(tx.savepoints[idx].UndoPos, tx.writes)
	tx.savepoints = tx.savepoints[:idx+1]
	return nil
}

// Release pops the named savepoint and all more recent savepoints,
// keeping their writes.
func (tx *Transaction) Release(name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxStateActive {
		return ErrNoActiveTransaction
	}

	idx := tx.findSavepoint(name)
	if idx == -1 {
		return ErrSavepointNotFound
	}

	tx.savepoints = tx.savepoints[:idx]
	return nil
}
