// pkg/mvcc/controller.go
package mvcc

import "sync"

// CtrlState is the SQL-layer transaction state.
type CtrlState int

const (
	CtrlIdle CtrlState = iota
	CtrlActive
	CtrlError
)

// String returns the state name.
func (s CtrlState) String() string {
	switch s {
	case CtrlIdle:
		return "Idle"
	case CtrlActive:
		return "Active"
	case CtrlError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Controller is the SQL-layer transaction state machine for one
// connection: BEGIN/COMMIT/ROLLBACK legality, the savepoint stack, and
// the implicit-transaction rules around SAVEPOINT.
type Controller struct {
	mu    sync.Mutex
	mgr   *TransactionManager
	state CtrlState
	tx    *Transaction

	// implicit marks a transaction opened by SAVEPOINT while idle:
	// releasing its outermost savepoint commits.
	implicit bool
}

// NewController creates an idle controller over a manager.
func NewController(mgr *TransactionManager) *Controller {
	return &Controller{mgr: mgr}
}

// State returns the controller state.
func (c *Controller) State() CtrlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tx returns the current transaction, or nil when idle.
func (c *Controller) Tx() *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx
}

// Begin opens a transaction. Rejected unless idle.
func (c *Controller) Begin(mode BeginMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CtrlIdle {
		return ErrBusy
	}
	tx, err := c.mgr.Begin(mode)
	if err != nil {
		return err
	}
	c.tx = tx
	c.state = CtrlActive
	c.implicit = false
	return nil
}

// Commit ends the transaction. In the error state only ROLLBACK is
// legal; when idle, COMMIT is a no-op (the previous COMMIT already
// ended the transaction).
func (c *Controller) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked()
}

func (c *Controller) commitLocked() error {
	switch c.state {
	case CtrlIdle:
		return nil
	case CtrlError:
		return ErrNoActiveTransaction
	}

	if err := c.mgr.Commit(c.tx); err != nil {
		// The manager aborted the transaction; only ROLLBACK clears.
		c.state = CtrlError
		return err
	}
	c.tx = nil
	c.state = CtrlIdle
	c.implicit = false
	return nil
}

// Rollback is always legal while a transaction is active or failed;
// it resets to idle.
func (c *Controller) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CtrlIdle {
		return ErrNoActiveTransaction
	}
	if c.tx != nil && c.tx.IsActive() {
		if err := c.mgr.Rollback(c.tx); err != nil {
			return err
		}
	}
	c.tx = nil
	c.state = CtrlIdle
	c.implicit = false
	return nil
}

// Savepoint pushes a savepoint, implicitly opening a deferred
// transaction when idle.
func (c *Controller) Savepoint(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CtrlError {
		return ErrNoActiveTransaction
	}
	if c.state == CtrlIdle {
		tx, err := c.mgr.Begin(BeginDeferred)
		if err != nil {
			return err
		}
		c.tx = tx
		c.state = CtrlActive
		c.implicit = true
	}
	return c.tx.Savepoint(name)
}

// Release pops the named savepoint and everything newer. Releasing the
// outermost savepoint of an implicit transaction commits it.
func (c *Controller) Release(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CtrlActive {
		return ErrNoActiveTransaction
	}
	if err := c.tx.Release(name); err != nil {
		return err
	}
	if c.implicit && c.tx.SavepointCount() == 0 {
		return c.commitLocked()
	}
	return nil
}

// RollbackTo rewinds to the named savepoint, clearing a prior error.
func (c *Controller) RollbackTo(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return ErrNoActiveTransaction
	}
	if err := c.tx.RollbackTo(name); err != nil {
		return err
	}
	if c.state == CtrlError {
		c.state = CtrlActive
	}
	return nil
}

// Fail moves an active transaction into the error state; the caller
// surfaces the triggering error, and only ROLLBACK or ROLLBACK TO may
// follow.
func (c *Controller) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CtrlActive {
		c.state = CtrlError
	}
}
