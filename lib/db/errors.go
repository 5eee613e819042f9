package db

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// ErrCode classifies the errors returned by this package.
type ErrCode int

const (
	// CodeEngine is an I/O or integrity failure of the storage engine (closed database,
	// read-only file, missing tree, failed commit, ...).
	CodeEngine ErrCode = iota + 1
	// CodeCustom wraps an error supplied by the caller inside a transaction or compute function.
	CodeCustom
	// CodeAborted marks a transaction that the caller aborted voluntarily with Abort.
	CodeAborted
	// CodeConflict is a compare-and-swap conflict.
	CodeConflict
)

func (c ErrCode) String() string {
	switch c {
	case CodeEngine:
		return "Engine"
	case CodeCustom:
		return "Custom"
	case CodeAborted:
		return "Aborted"
	case CodeConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// Error is the error type of this package. It carries a code, the operation that failed and
// the underlying cause. Use errors.Is with the Err* sentinels to test the code.
type Error struct {
	Code ErrCode // The error code
	Op   string  // The failed operation, e.g. "insert"
	Err  error   // The cause (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ttlkv (code %s): %s", e.Code, e.Op)
	}
	return fmt.Sprintf("ttlkv (code %s): %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrEngine) works for every
// engine error regardless of the operation and cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Op == "" && t.Err == nil
	}
	return false
}

// --------------------------------------------------------------------------
// Sentinels
// --------------------------------------------------------------------------

var (
	ErrEngine   = &Error{Code: CodeEngine}
	ErrCustom   = &Error{Code: CodeCustom}
	ErrAborted  = &Error{Code: CodeAborted}
	ErrConflict = &Error{Code: CodeConflict}

	// ErrClosed is returned by Subscriber.Next after the subscriber was closed.
	ErrClosed = errors.New("ttlkv: subscriber closed")
	// ErrTreeNotFound is the cause of engine errors on a tree that was dropped.
	ErrTreeNotFound = errors.New("tree not found")
)

// NewError creates a new *Error.
func NewError(code ErrCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Abort wraps a caller error so that returning it from a transaction closure rolls the
// transaction back and reports it as aborted. The caller error stays reachable with errors.Is
// and errors.As.
func Abort(err error) error {
	return &Error{Code: CodeAborted, Op: "transaction", Err: err}
}

// Custom wraps a caller error raised inside an engine callback.
func Custom(err error) error {
	return &Error{Code: CodeCustom, Op: "custom", Err: err}
}

func engineError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: CodeEngine, Op: op, Err: err}
}

// --------------------------------------------------------------------------
// Compare and Swap
// --------------------------------------------------------------------------

// CompareAndSwapError is returned by CompareAndSwap when the current value did not match the
// expected one. Current is nil if the key was absent, Proposed is the rejected new value (nil
// for a rejected removal).
type CompareAndSwapError struct {
	Current  []byte
	Proposed []byte
}

func (e *CompareAndSwapError) Error() string {
	return fmt.Sprintf("ttlkv (code %s): compare and swap: current value %q does not match", CodeConflict, e.Current)
}

// Is reports true for ErrConflict.
func (e *CompareAndSwapError) Is(target error) bool {
	return target == ErrConflict
}
