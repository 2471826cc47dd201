// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package streams adapts kernel-driven write and truncate calls onto
// the sequential, write-once semantics of a lode store.
//
// The store only accepts monotonically increasing, gap-free writes and
// cannot rewind a file. POSIX callers are messier: they re-flush
// prefixes they already wrote, seek-extend files without supplying
// bytes, and reopen files mid-write. Stream reconciles the two
// contracts:
//
//   - Writes at the current write frontier append. Writes entirely
//     below the frontier are skipped (editors re-flush prefixes they
//     already wrote). Anything that would create a gap or straddle the
//     frontier fails with Unimplemented.
//   - Growing truncates become virtual extensions: the logical length
//     advances immediately, and the gap is materialized as zero bytes
//     when the stream closes. Truncate to zero recreates the file.
//   - Opening an existing complete file without truncate intent yields
//     a deferred-open stream holding no output handle; it accepts no
//     bytes until an explicit truncate(0).
//
// Exclusion is layered. Within a process, a LockManager hands out
// advisory per-path locks; a second open of a locked path fails
// immediately with Conflict. Across processes, exclusion is
// cooperative through the store's completion flag: Open blocks
// (bounded) while another writer holds the path incomplete.
//
// All mutating operations on one Stream serialize through a single
// mutex, so concurrent kernel dispatch threads observe linearizable
// behavior per open descriptor.
package streams
