package commit

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState marks programming errors: unbalanced cursors,
	// writes after ready, double ready, out-of-order allocation. These are
	// never retryable.
	ErrIllegalState = errors.New("illegal state")

	// ErrExecutorStopped is returned when submitting to a stopped executor
	ErrExecutorStopped = errors.New("executor is stopped")

	// ErrCanCommitRejected is the cause used when a cohort votes no
	// without giving a reason
	ErrCanCommitRejected = errors.New("can commit failed, no detailed cause available")
)

// IllegalStatef wraps ErrIllegalState with a formatted message
func IllegalStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}

// Phase names a step of the three-phase commit protocol
type Phase string

const (
	PhaseCanCommit Phase = "canCommit"
	PhasePreCommit Phase = "preCommit"
	PhaseCommit    Phase = "commit"
	PhaseAbort     Phase = "abort"
)

// CommitFailedError is the terminal failure of a transaction
type CommitFailedError struct {
	TxID  string
	Phase Phase
	Cause error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed during %s: %v", e.TxID, e.Phase, e.Cause)
}

func (e *CommitFailedError) Unwrap() error {
	return e.Cause
}

// OptimisticLockError reports that data read by the transaction was
// changed concurrently. The caller should re-read and retry.
type OptimisticLockError struct {
	Cause error
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed: %v", e.Cause)
}

func (e *OptimisticLockError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is an optimistic lock failure
func IsRetryable(err error) bool {
	var ole *OptimisticLockError
	return errors.As(err, &ole)
}

// FailedPhase returns the phase a CommitFailedError occurred in
func FailedPhase(err error) (Phase, bool) {
	var cfe *CommitFailedError
	if errors.As(err, &cfe) {
		return cfe.Phase, true
	}
	return "", false
}
