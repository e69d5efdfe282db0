package ipcdir

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind identifies one of the closed set of failures this package produces on
// its own. KindOS marks the other branch: an errno captured from a failed
// system call.
type Kind int

const (
	// KindOS is an operating system failure. The Errno field of the Error
	// holds the captured errno.
	KindOS Kind = 0

	// KindNameTooLong indicates a service name or encoded socket path that
	// does not fit the transport's address capacity.
	KindNameTooLong Kind = 1

	// KindNameInvalid indicates a service name with illegal syntax.
	KindNameInvalid Kind = 2

	// KindArgInvalid indicates a bad argument, such as an unknown Domain.
	KindArgInvalid Kind = 3

	// KindNoMemory indicates an allocation failure. Kept for wire
	// compatibility with existing error codes; Go code does not return it.
	KindNoMemory Kind = 4
)

// errnoOffset keeps wrapped OS errno values clear of the Kind codes when an
// Error is flattened to a single integer with Code().
const errnoOffset = 1000

// Error is the error type returned by every operation in this package. It is
// either a domain failure (Kind != KindOS) or a captured OS failure
// (Kind == KindOS with Errno set).
type Error struct {
	Kind  Kind
	Errno syscall.Errno // only meaningful when Kind == KindOS
	Op    string        // the failing call, ex: "bind"
	Path  string        // the path involved, if any
}

// Error implements error.Error().
func (e *Error) Error() string {
	if e.Kind != KindOS {
		return Strerror(-int(e.Kind))
	}
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Errno)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Errno)
}

// Unwrap allows errors.Is/As to reach the underlying errno.
func (e *Error) Unwrap() error {
	if e.Kind == KindOS {
		return e.Errno
	}
	return nil
}

// Code flattens the error to a single negative integer: -1 to -4 for the
// domain kinds, -(1000+errno) for OS failures.
func (e *Error) Code() int {
	if e.Kind == KindOS {
		return -(errnoOffset + int(e.Errno))
	}
	return -int(e.Kind)
}

// Strerror renders a Code() value as a human readable string. Unrecognized
// codes render as "Unknown error" rather than failing.
func Strerror(code int) string {
	switch Kind(-code) {
	case KindNameTooLong:
		return "The name of a service is too long to fit in a buffer"
	case KindNameInvalid:
		return "Invalid characters in a name"
	case KindArgInvalid:
		return "Invalid argument"
	case KindNoMemory:
		return "Memory allocation failed"
	}
	if code < -errnoOffset {
		return syscall.Errno(-code - errnoOffset).Error()
	}
	return "Unknown error"
}

// osErr captures err, which must originate from a system call, as a KindOS
// Error for operation op on path.
func osErr(op, path string, err error) *Error {
	var errno syscall.Errno
	errors.As(err, &errno)
	return &Error{Kind: KindOS, Errno: errno, Op: op, Path: path}
}
