package backend

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an adapter failure. The orchestrator maps kinds onto its
// terminal error taxonomy and decides whether to continue down the method
// list or to surface the failure.
type Kind int

const (
	// KindOther is the catch-all for unclassified failures.
	KindOther Kind = iota

	// KindNotAvailable means the mechanism cannot work right now: no bus, no
	// focused editable object, missing helper binary, filtered app.
	KindNotAvailable

	// KindTimeout means the attempt exceeded its deadline.
	KindTimeout

	// KindClipboard means a clipboard operation failed mid-sequence. The
	// adapter has already restored the previous clipboard contents.
	KindClipboard

	// KindProcess means an external helper process failed to start or exited
	// non-zero.
	KindProcess

	// KindPermissionDenied means the OS refused the operation, e.g. synthetic
	// input without the required uinput permission.
	KindPermissionDenied
)

// String returns the stable metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotAvailable:
		return "not_available"
	case KindTimeout:
		return "timeout"
	case KindClipboard:
		return "clipboard"
	case KindProcess:
		return "process"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "other"
	}
}

// Error is the failure type returned by adapters. Wrap an underlying cause
// where one exists so callers can still errors.Is/As through it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an [*Error] with the given kind and message.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError constructs an [*Error] wrapping err.
func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the [Kind] from err. Context deadline expiry counts as
// KindTimeout even when the adapter returned the raw context error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindOther
}
