// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"io"
	"time"
)

// Status describes a file as the store sees it.
type Status struct {
	// Length is the file's byte length. For incomplete files this is
	// the number of bytes persisted so far.
	Length uint64

	// Mode holds the Unix permission bits recorded at creation.
	Mode uint32

	// Completed reports whether the writer finalized the file. An
	// incomplete file is still owned by its writer; opening it for
	// write must wait for completion or fail.
	Completed bool
}

// WriteOptions carries the caller-supplied placement configuration for
// a new file. The gateway forwards these to the backend unchanged; no
// field influences stream control flow.
type WriteOptions struct {
	// BlockSize is the storage block size in bytes. Zero selects the
	// backend default.
	BlockSize int64

	// Tier selects the storage tier ("hot", "standard", "cold").
	// Empty selects the backend default.
	Tier string

	// TTL is how long the file is kept before the backend may reclaim
	// it. Zero means no expiry.
	TTL time.Duration

	// Policy names the placement policy the backend should apply.
	Policy string

	// PolicyOptions configures the named policy. Opaque to the
	// gateway.
	PolicyOptions map[string]string

	// Hostname hints which store host should hold the first block.
	Hostname string
}

// Entry is one name in a store listing.
type Entry struct {
	// Path is the full object path.
	Path string

	// Status is the entry's status at listing time.
	Status Status
}

// Client is a connection to a lode store namespace.
//
// All methods honor ctx cancellation and deadlines. Errors carry
// fserror kinds; in particular, operations on missing paths fail with
// KindNotFound.
type Client interface {
	// Status looks up a path. ok is false when the path does not
	// exist; err is reserved for lookup failures.
	Status(ctx context.Context, path string) (status Status, ok bool, err error)

	// WaitForCompleted blocks until the file at path becomes
	// completed, then returns its status. It fails with KindNotFound
	// if the file disappears while waiting and with ctx.Err() wrapped
	// as KindUnavailable when the deadline fires first.
	WaitForCompleted(ctx context.Context, path string) (Status, error)

	// Create makes a new file at path and returns the sequential
	// output handle that owns it. The file stays incomplete until the
	// handle is closed. Fails with KindAlreadyExists if the path is
	// taken.
	Create(ctx context.Context, path string, mode uint32, options WriteOptions) (OutHandle, error)

	// Open returns a read handle for a completed file.
	Open(ctx context.Context, path string) (ReadHandle, error)

	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error

	// List returns the entries whose path starts with prefix, sorted
	// by path.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// OutHandle is a sequential, write-once output stream. Not safe for
// concurrent use; the stream adapter serializes access.
type OutHandle interface {
	// Write appends p to the file. Partial writes are not reported:
	// either all of p is accepted or an error is returned.
	Write(p []byte) error

	// Flush pushes buffered bytes to the backend.
	Flush() error

	// BytesWritten returns the count of bytes accepted so far.
	BytesWritten() uint64

	// Close finalizes the file, marking it completed. Close is not
	// idempotent; callers must call it exactly once.
	Close() error
}

// ReadHandle reads a completed file at arbitrary offsets.
type ReadHandle interface {
	io.ReaderAt
	io.Closer

	// Size returns the file's byte length.
	Size() uint64
}
