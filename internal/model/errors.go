package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrNoPendingPrompt is returned when input is submitted and no prompt is waiting for it.
	ErrNoPendingPrompt = errors.New("no pending prompt")
)

// ErrorKind is the closed set of failure kinds the orchestrator reasons about.
// Raw error text is never inspected once an error has a kind.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindConnection is a pre-flight connectivity failure.
	ErrorKindConnection
	// ErrorKindPromptTimeout means the operator did not answer a prompt in time.
	ErrorKindPromptTimeout
	// ErrorKindCommandTimeout means a remote command exceeded its timeout.
	ErrorKindCommandTimeout
	// ErrorKindIO is a transport failure on an established session.
	ErrorKindIO
	// ErrorKindRecoverableResource is a resource exhaustion that a remediation may fix.
	ErrorKindRecoverableResource
	// ErrorKindInvariantViolation is a programming error, always fatal.
	ErrorKindInvariantViolation
	// ErrorKindCommandFailed is a remote command that ended with a failure exit code.
	ErrorKindCommandFailed
	// ErrorKindCancelled means the task was cancelled.
	ErrorKindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnection:
		return "connection"
	case ErrorKindPromptTimeout:
		return "prompt_timeout"
	case ErrorKindCommandTimeout:
		return "command_timeout"
	case ErrorKindIO:
		return "io"
	case ErrorKindRecoverableResource:
		return "recoverable_resource"
	case ErrorKindInvariantViolation:
		return "invariant_violation"
	case ErrorKindCommandFailed:
		return "command_failed"
	case ErrorKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is an error with a kind.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewError returns a new kinded error, the message is prefixed to the wrapped error.
func NewError(kind ErrorKind, msg string, err error) *Error {
	if err != nil {
		if msg == "" {
			msg = err.Error()
		} else {
			msg = msg + ": " + err.Error()
		}
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Errorf returns a new kinded error with a formatted message, a %w verb is unwrapped
// like with fmt.Errorf.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: err.Error(), Err: errors.Unwrap(err)}
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first kinded error in the chain, ErrorKindUnknown otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	var kErr *Error
	if errors.As(err, &kErr) {
		return kErr.Kind
	}
	return ErrorKindUnknown
}

// IsKind returns true if the error chain has an error of the kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
