// pkg/mvcc/errors.go
package mvcc

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy: another connection holds the writer lock.
	ErrBusy = errors.New("database is locked")

	// ErrBusySnapshot: a concurrent-mode commit failed validation, either
	// a page conflict that could not be rebased or an SSI pivot abort.
	ErrBusySnapshot = errors.New("database is locked: snapshot conflict")

	// ErrReadOnly: a write was attempted on a read-only connection.
	ErrReadOnly = errors.New("attempt to write a readonly database")

	// ErrNoActiveTransaction: the operation requires an open transaction.
	ErrNoActiveTransaction = errors.New("no active transaction")

	// ErrInternal marks an invariant violation; the connection should be
	// closed.
	ErrInternal = errors.New("internal invariant violation")

	ErrSavepointNotFound = errors.New("savepoint not found")
)

// OutOfRangeError reports a caller-supplied value outside its domain.
type OutOfRangeError struct {
	What  string
	Value int64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s out of range: %d", e.What, e.Value)
}
