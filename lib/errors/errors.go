// Package errors provides structured error types for the socketpool module.
// Errors returned across collaborator boundaries carry a stable code so
// callers can log and alert on them without string-matching, while the
// handful of contract error strings spec.md fixes (see lib/socketpool)
// are returned verbatim so existing callers that match on them keep working.
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing failures. Ranges loosely follow JSON-RPC
// conventions for the internal codes, since nothing here crosses a wire.
const (
	CodeInternal     = -32603
	CodeInvalidInput = -32602
	CodeTimeout      = -32000
	CodeUnavailable  = -32001
	CodeConnection   = -32002
	CodeState        = -32003
	CodeClosed       = -32004
)

// Sentinel errors for common pool conditions. Use errors.Is to test for them.
var (
	// ErrPoolDisposed indicates an operation was attempted on a disposed pool.
	ErrPoolDisposed = errors.New("socketpool: pool disposed")

	// ErrNoTargets indicates a non-global pool was constructed with zero targets.
	ErrNoTargets = errors.New("socketpool: at least one target is required")

	// ErrCancelled indicates an acquire was cancelled before completion.
	ErrCancelled = errors.New("socketpool: acquire cancelled")

	// ErrExportFailed indicates a socket could not be exported back into the pool.
	ErrExportFailed = errors.New("socketpool: failed to export socket")

	// ErrInvalidSelection indicates a Balancer returned an index already tried,
	// or out of range. This is a balancer-implementation bug, not a runtime condition.
	ErrInvalidSelection = errors.New("socketpool: balancer selected an invalid target")

	// ErrConnectionFailed is the contract error returned when every target has
	// been tried and every connect attempt failed. Its text is part of the
	// public contract (spec.md §7); do not reword it.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrFailedToConnect is the contract error returned when a connect attempt
	// could not even be started (socket allocation failure). Its text is part
	// of the public contract (spec.md §7); do not reword it.
	ErrFailedToConnect = errors.New("failed to connect to host")
)

// Error is a structured error with a code, a safe message, and an optional
// wrapped cause. It implements the error interface.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps err with a code and message, logging the underlying cause at
// debug level so it isn't lost even though Error() may hide it from callers.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{Code: code, Message: message, Err: err}
}

// WrapInternal wraps err with CodeInternal and a generic message, for cases
// where the underlying error might carry details callers shouldn't see.
func WrapInternal(err error) *Error {
	if err != nil {
		log.WithError(err).Debug("wrapping internal error")
	}
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// Is reports whether err's tree contains target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's tree matching target.
func As(err error, target any) bool { return errors.As(err, target) }

// Join combines errors, dropping nils. Returns nil if all are nil.
func Join(errs ...error) error { return errors.Join(errs...) }
