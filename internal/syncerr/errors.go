// Package syncerr defines the tagged error taxonomy every adapter, the
// converter, and the coordinator use to report failures, per the error
// handling design: errors carry a Kind so the coordinator can decide
// whether to retry, abort a batch, or exit cleanly without guessing from
// error text.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind tags the taxonomy of failure a sync operation can report.
type Kind string

const (
	Configuration   Kind = "configuration"
	Connectivity    Kind = "connectivity"
	CaptureSetup    Kind = "capture_setup"
	StaleCheckpoint Kind = "stale_checkpoint"
	Conversion      Kind = "conversion"
	TargetWrite     Kind = "target_write"
	Cancellation    Kind = "cancellation"
)

// Error is a Kind-tagged error. Use As to recover the Kind from a wrapped
// error chain.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a Kind-tagged error around an existing error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err (or any error in its chain) carries the given
// Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
// Returns ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Sentinel errors for conditions the caller may need to compare against
// directly, following the teacher's internal/common/repository/errors.go
// convention of exported sentinels alongside the tagged type.
var (
	ErrStaleCheckpoint = New(StaleCheckpoint, "checkpoint is no longer resumable")
	ErrCaptureExists   = New(CaptureSetup, "capture infrastructure already owned by another invocation")
)
