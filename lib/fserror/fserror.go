// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package fserror

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind identifies the failure class of a gateway error. The set is
// closed: the FUSE layer maps each kind to exactly one errno, and the
// remote store protocol carries kinds across the wire by name.
type Kind uint8

const (
	// KindUnknown is the zero value, used for errors that never
	// received a classification. Maps to EIO.
	KindUnknown Kind = iota

	// KindInvalidArgument marks malformed offsets, sizes, or buffer
	// bounds. The caller can recover by fixing the call.
	KindInvalidArgument

	// KindAlreadyExists marks a write against a deferred-open stream:
	// an existing complete file was opened without truncate intent and
	// must be truncated to zero before it accepts bytes.
	KindAlreadyExists

	// KindNotFound marks operations on paths the store does not hold.
	KindNotFound

	// KindUnsupported marks operations the stream never supports in
	// any state, such as reading from a write-only stream.
	KindUnsupported

	// KindUnimplemented marks write and truncate patterns outside the
	// sequential / virtual-extension envelope: gap-creating writes,
	// shrinking truncates, truncating a deferred stream to a nonzero
	// size, and an unresolved concurrent-writer wait.
	KindUnimplemented

	// KindConflict marks a path whose advisory lock is already held by
	// another open descriptor in this process.
	KindConflict

	// KindUnavailable marks transient conditions worth retrying, such
	// as a store that is not accepting connections.
	KindUnavailable

	// KindIO wraps backend transport and storage failures surfaced by
	// write, flush, close, zero-fill, create, and delete.
	KindIO
)

// String returns the kind's wire name.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindUnsupported:
		return "unsupported"
	case KindUnimplemented:
		return "unimplemented"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// ParseKind resolves a wire name back to a Kind. Unrecognized names
// come back as KindUnknown so a newer server cannot crash an older
// client.
func ParseKind(name string) Kind {
	switch name {
	case "invalid_argument":
		return KindInvalidArgument
	case "already_exists":
		return KindAlreadyExists
	case "not_found":
		return KindNotFound
	case "unsupported":
		return KindUnsupported
	case "unimplemented":
		return KindUnimplemented
	case "conflict":
		return KindConflict
	case "unavailable":
		return KindUnavailable
	case "io":
		return KindIO
	default:
		return KindUnknown
	}
}

// Error is a classified gateway error. It wraps an optional cause;
// errors.Is and errors.As see through it.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Cause.Error()
	}
	return e.Msg + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports kind equality when the target is another *Error. This
// lets tests write errors.Is(err, &Error{Kind: KindConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New returns a classified error with a fixed message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf returns a classified error with a formatted message. The
// format string may carry %w; the wrapped cause stays reachable.
func Errorf(kind Kind, format string, args ...any) error {
	inner := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: inner.Error(), Cause: errors.Unwrap(inner)}
}

// Wrap classifies an existing error, keeping it as the cause. A nil
// err returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Errno translates an error chain to the errno the kernel-facing layer
// reports. nil translates to 0.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindInvalidArgument:
		return syscall.EINVAL
	case KindAlreadyExists:
		return syscall.EEXIST
	case KindNotFound:
		return syscall.ENOENT
	case KindUnsupported:
		return syscall.ENOTSUP
	case KindUnimplemented:
		return syscall.ENOSYS
	case KindConflict:
		return syscall.EBUSY
	case KindUnavailable:
		return syscall.EAGAIN
	default:
		return syscall.EIO
	}
}
