package tree

import (
	"errors"
	"fmt"

	"github.com/cuemby/canopy/pkg/types"
)

var (
	// ErrSealed is returned when a ready modification is changed again
	ErrSealed = errors.New("modification is sealed")

	// ErrNotReady is returned when an unsealed modification is validated
	ErrNotReady = errors.New("modification is not ready")

	// ErrCursorOpen is returned when a second cursor is requested
	ErrCursorOpen = errors.New("a cursor is already open on this modification")

	// ErrCursorClosed is returned by operations on a closed cursor
	ErrCursorClosed = errors.New("cursor is closed")
)

// ConflictError reports that a concurrent commit changed data this
// modification depends on.
type ConflictError struct {
	Path   types.Path
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting modification for path %s: %s", e.Path, e.Reason)
}

// ValidationError reports a structurally invalid operation
type ValidationError struct {
	Path   types.Path
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid modification at %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid modification at %s: %s", e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err carries a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
