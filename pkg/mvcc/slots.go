// pkg/mvcc/slots.go
package mvcc

import "sync"

// SlotToken identifies one occupancy of a transaction slot. Reused
// slots bump their epoch, so a token held past its transaction's end
// can never validate against the slot's next occupant.
type SlotToken struct {
	Slot  int
	Epoch uint64
}

type slot struct {
	epoch  uint64
	txnID  uint64
	active bool
}

// SlotTable hands out transaction slots with epoch fencing.
type SlotTable struct {
	mu    sync.Mutex
	slots []slot
	free  []int
}

// NewSlotTable creates a table that grows on demand.
func NewSlotTable() *SlotTable {
	return &SlotTable{}
}

// Acquire assigns a slot to txnID and returns its token.
func (t *SlotTable) Acquire(txnID uint64) SlotToken {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = len(t.slots) - 1
	}

	s := &t.slots[idx]
	s.epoch++
	s.txnID = txnID
	s.active = true
	return SlotToken{Slot: idx, Epoch: s.epoch}
}

// Release frees a slot. The epoch bump happens on the next Acquire, so
// a released token already fails validation.
func (t *SlotTable) Release(tok SlotToken) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tok.Slot < 0 || tok.Slot >= len(t.slots) {
		return
	}
	s := &t.slots[tok.Slot]
	if s.epoch != tok.Epoch {
		return // stale token from a previous occupancy
	}
	s.active = false
	s.txnID = 0
	t.free = append(t.free, tok.Slot)
}

// Validate reports whether tok still names a live occupancy and, if
// so, the transaction holding it.
func (t *SlotTable) Validate(tok SlotToken) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tok.Slot < 0 || tok.Slot >= len(t.slots) {
		return 0, false
	}
	s := t.slots[tok.Slot]
	if !s.active || s.epoch != tok.Epoch {
		return 0, false
	}
	return s.txnID, true
}
