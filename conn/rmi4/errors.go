// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package rmi4

import "fmt"

// Kind classifies a transport-level failure so callers can branch on the
// taxonomy instead of matching error strings.
type Kind int

// Error kinds, per the transport's error handling design.
const (
	// KindInternal covers sanity/size/underflow/oversize failures, a
	// zero-sized response, or a framing error.
	KindInternal Kind = iota
	// KindTimedOut is an I/O timeout. Distinct from KindInternal so
	// callers can poll past it.
	KindTimedOut
	// KindNotSupported covers ACK retry exhaustion without ALLOW_FAILURE,
	// and an F34 version outside {0,1,2}.
	KindNotSupported
	// KindInvalidData covers a PS/2 read returning the wrong length after
	// retries, or a mismatched reset banner.
	KindInvalidData
	// KindInvalidFile covers a missing expected sysfs parent path.
	KindInvalidFile
	// KindPermissionDenied covers a sysfs write failing because the
	// device already detached.
	KindPermissionDenied
	// KindIO covers IOChannel failures other than a timeout.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindTimedOut:
		return "timed out"
	case KindNotSupported:
		return "not supported"
	case KindInvalidData:
		return "invalid data"
	case KindInvalidFile:
		return "invalid file"
	case KindPermissionDenied:
		return "permission denied"
	case KindIO:
		return "i/o error"
	default:
		return "unknown"
	}
}

// Error is the error type returned across the conn/rmi4 boundary. Op names
// the operation and, where relevant, the register address involved; Err is
// the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rmi4: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("rmi4: %s: %s", e.Op, e.Kind)
}

// Unwrap lets errors.Is / errors.As see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error for op with no underlying cause.
func NewError(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op}
}

// WrapError builds an *Error for op wrapping err. If err is nil, it returns
// nil, so it is safe to use as a single-line guard.
func WrapError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	for {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}
