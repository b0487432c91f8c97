package services

import (
	"errors"
	"fmt"
)

// ErrDealBusy: another operation holds the per-deal lock right now.
// The caller may retry; nothing was changed.
var ErrDealBusy = errors.New("deal is locked by another operation, retry later")

// ErrConcurrentUpdate: the status changed between our read and our write.
// Exactly one of the racing operations commits; the other gets this.
var ErrConcurrentUpdate = errors.New("deal was modified concurrently, re-read and retry")

// PreconditionError: a guard failed due to caller misuse (empty feedback,
// schedule time in the past, wallet not confirmed). No state change.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition not met: " + e.Reason
}

// ExternalError wraps a failed RPC/platform call. State is unchanged and the
// event is safe to retry.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external call %s failed: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}
