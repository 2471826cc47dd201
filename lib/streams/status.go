// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package streams

// fileStatus is the mutable record of the file a stream owns: the
// logical length the file should report, and the permission bits
// resolved at open time.
//
// The logical length may run ahead of the bytes physically written
// when a growing truncate is pending; the gap is zero-filled at close.
// Length never decreases except on the truncate(0) reset.
//
// A fileStatus is built once per open and owned solely by its stream
// afterwards; the factory keeps no alias. Access is guarded by the
// stream's mutex.
type fileStatus struct {
	length uint64
	mode   uint32
}

// resolveMode picks the permission bits for a new stream: the
// caller-supplied mode when set, else the existing file's mode, else
// the configured default.
func resolveMode(requested uint32, existing uint32, haveExisting bool, fallback uint32) uint32 {
	if requested != ModeUnset {
		return requested
	}
	if haveExisting {
		return existing
	}
	return fallback
}
