package repohelper

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCache         = errors.New("repohelper: cache source is required")
	ErrMissingRemote        = errors.New("repohelper: remote source is required")
	ErrMissingOnErrorReturn = errors.New("repohelper: OnErrorReturn is required")
	ErrMissingToReadResult  = errors.New("repohelper: ToReadResult is required unless R is Result[E]")

	// ErrReadOnlyRemote is returned by the write methods of ReadOnlyRemote.
	ErrReadOnlyRemote = errors.New("repohelper: remote source is read-only")
)

// Op names the coordinator operation that failed.
type Op string

const (
	OpUpsert  Op = "upsert"
	OpDelete  Op = "delete"
	OpRefresh Op = "refresh"
)

// OperationError reports a remote failure during Upsert, Delete or Refresh.
// Err is the remote cause. For writes, RollbackErr is set when putting the
// cache back to its backup failed as well; the cache may then be inconsistent.
type OperationError struct {
	Op       Op
	Key      any
	Value    any
	HasValue bool // Value is meaningful (upsert only)

	Err         error
	RollbackErr error
}

func (e *OperationError) Error() string {
	var msg string
	if e.HasValue {
		msg = fmt.Sprintf("%s failed. key=%v, value=%v", e.Op, e.Key, e.Value)
	} else {
		msg = fmt.Sprintf("%s failed. key=%v", e.Op, e.Key)
	}
	if e.RollbackErr != nil {
		return fmt.Sprintf("%s: %v (rollback failed: %v)", msg, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *OperationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}
