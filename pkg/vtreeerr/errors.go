// Package vtreeerr defines the error taxonomy shared by every package in
// this module. Errors are plain sentinel values, wrapped with fmt.Errorf
// where additional context is useful, and compared with errors.Is.
package vtreeerr

import "errors"

var (
	// ErrOutOfBounds covers a cursor past end-of-file, a position outside
	// a DataRange, or any other argument outside its valid range.
	ErrOutOfBounds = errors.New("vtree: position out of bounds")

	// ErrReservedKey is returned when a caller addresses a key in the
	// range reserved for sentinels and internal bookkeeping.
	ErrReservedKey = errors.New("vtree: key is in the reserved range")

	// ErrSelfCopy is returned when copyFrom/replicateFrom targets the
	// same addressable file it reads from.
	ErrSelfCopy = errors.New("vtree: cannot copy a file onto itself")

	// ErrReadOnly is returned when a mutator is invoked on a read-only
	// transaction, file, or a store-resident (frozen) node reached
	// without unfreezing first.
	ErrReadOnly = errors.New("vtree: write attempted on a read-only handle")

	// ErrConsistency signals a detected structural invariant violation,
	// e.g. a duplicate entry in a transaction's deleted-leaf list found
	// at commit time. Always latches a critical stop.
	ErrConsistency = errors.New("vtree: consistency assertion failed")

	// ErrConcurrentModification is returned by an iterator whose backing
	// version stamp no longer matches the tree it was derived from.
	ErrConcurrentModification = errors.New("vtree: concurrent modification detected")

	// ErrNonSequentialVersion is returned by commit when the
	// transaction's base version is no longer the latest version.
	ErrNonSequentialVersion = errors.New("vtree: commit based on non-sequential version")

	// ErrRefCountOverflow is returned by linkLeaf when incrementing would
	// overflow the leaf's store refcount.
	ErrRefCountOverflow = errors.New("vtree: leaf reference count overflow")

	// ErrTreeClosed is returned once a TreeSystem has been closed.
	ErrTreeClosed = errors.New("vtree: tree system is closed")
)

// CriticalStopError wraps the first I/O or out-of-memory failure observed
// by a TreeSystem. Once latched, every subsequent operation on the same
// tree system fails with the same wrapped cause.
type CriticalStopError struct {
	Cause error
}

func (e *CriticalStopError) Error() string {
	return "vtree: critical stop, tree system unusable: " + e.Cause.Error()
}

func (e *CriticalStopError) Unwrap() error { return e.Cause }

// NewCriticalStop wraps cause in a CriticalStopError unless it already is one.
func NewCriticalStop(cause error) *CriticalStopError {
	var cs *CriticalStopError
	if errors.As(cause, &cs) {
		return cs
	}
	return &CriticalStopError{Cause: cause}
}
