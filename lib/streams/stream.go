// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package streams

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// zeroFillChunkSize caps single zero-fill writes. Backends cap the
// size of one write call, so the close-time gap fill goes out in
// bounded chunks.
const zeroFillChunkSize = 4 << 20

// Stream is the write-only adapter for one open file descriptor. It
// owns the path's write lock and, except in the deferred-open state,
// the store's sequential output handle.
//
// Stream is safe for concurrent use: all mutating operations serialize
// through one mutex, so kernel dispatch threads never interleave.
// Read and IsClosed are cheap fast paths that skip the mutex.
type Stream struct {
	client store.Client
	path   string
	lock   *PathLock
	logger *slog.Logger

	// writeOptions is retained for the handle recreation in
	// truncate(0); forwarded to the store unchanged.
	writeOptions store.WriteOptions

	mu     sync.Mutex
	status fileStatus

	// out is nil only in the deferred-open state: an existing
	// complete file opened without truncate intent. Every writable
	// state has a handle.
	out store.OutHandle

	// closed is a one-way latch. Stored under mu, read without it.
	closed atomic.Bool
}

// Write accepts data at the given offset.
//
// Only the sequential envelope is supported: a write at the current
// frontier appends; a write entirely below the frontier is skipped as
// an editor re-flush; anything else fails with Unimplemented. In the
// deferred-open state Write fails with AlreadyExists until the caller
// truncates to zero.
func (s *Stream) Write(ctx context.Context, data []byte, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < 0 {
		return fserror.Errorf(fserror.KindInvalidArgument, "negative write offset %d", offset)
	}
	if s.closed.Load() {
		return fserror.New(fserror.KindIO, "write on closed stream")
	}
	if s.out == nil {
		return fserror.New(fserror.KindAlreadyExists,
			"cannot overwrite or extend an existing file without O_TRUNC or truncate(0)")
	}
	if len(data) == 0 {
		return nil
	}

	written := s.out.BytesWritten()
	size := uint64(len(data))
	end := uint64(offset) + size

	if uint64(offset) != written && end > written {
		return fserror.Errorf(fserror.KindUnimplemented,
			"only sequential write is supported: cannot write %d bytes at offset %d when %d bytes have been written to %s",
			size, offset, written, s.path)
	}
	if end <= written {
		// Editors (vim :wq) re-flush a prefix they already wrote.
		// The bytes are not compared against what was written.
		s.logger.Warn("skipping re-write of flushed range",
			"path", s.path, "offset", offset, "size", size, "written", written)
		return nil
	}

	if err := s.out.Write(data); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "writing to "+s.path)
	}
	return nil
}

// Read always fails: the stream is write-only. The failure is a fast
// path that does not enter the critical section.
func (s *Stream) Read(ctx context.Context, dest []byte, offset int64) (int, error) {
	return 0, fserror.New(fserror.KindUnsupported, "cannot read from write-only stream")
}

// Truncate changes the logical length.
//
// Truncate to zero always works: it discards the current handle,
// deletes the store file, and recreates it empty — this is also how a
// deferred-open stream becomes writable. Growing past the write
// frontier is a virtual extension, materialized as zeros at close.
// Every other combination fails with Unimplemented.
func (s *Stream) Truncate(ctx context.Context, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return fserror.New(fserror.KindIO, "truncate on closed stream")
	}

	current := s.logicalLengthLocked()
	if size == current {
		return nil
	}

	if size == 0 {
		if s.out != nil {
			if err := s.out.Close(); err != nil {
				return fserror.Wrap(fserror.KindIO, err, "discarding handle for "+s.path)
			}
			s.out = nil
		}
		if err := s.client.Delete(ctx, s.path); err != nil {
			return fserror.Wrap(fserror.KindIO, err, "deleting "+s.path+" for truncate")
		}
		out, err := s.client.Create(ctx, s.path, s.status.mode, s.writeOptions)
		if err != nil {
			return fserror.Wrap(fserror.KindIO, err, "recreating "+s.path)
		}
		s.out = out
		s.status.length = 0
		return nil
	}

	if s.out != nil && size >= s.out.BytesWritten() {
		// Virtual extension on top of physical writes is fine;
		// appending on top of a reopened existing file is not, which
		// is why the deferred-open state is excluded here.
		s.status.length = size
		return nil
	}

	return fserror.Errorf(fserror.KindUnimplemented,
		"cannot truncate %s from %d to %d", s.path, current, size)
}

// Flush pushes buffered bytes to the store. No-op in the
// deferred-open state.
func (s *Stream) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil || s.closed.Load() {
		return nil
	}
	if err := s.out.Flush(); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "flushing "+s.path)
	}
	return nil
}

// Stat reports the stream's view of the file: logical length (which
// physical progress may overtake) and the mode resolved at open.
func (s *Stream) Stat() store.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	length := s.logicalLengthLocked()
	s.status.length = length
	return store.Status{
		Length:    length,
		Mode:      s.status.mode,
		Completed: s.closed.Load(),
	}
}

// logicalLengthLocked folds physical progress into the logical length:
// bytes actually written are visible immediately, a pending virtual
// extension stays visible until overtaken.
func (s *Stream) logicalLengthLocked() uint64 {
	if s.out != nil {
		if written := s.out.BytesWritten(); written > s.status.length {
			return written
		}
	}
	return s.status.length
}

// Close finalizes the stream. The first call zero-fills the gap
// between bytes physically written and the logical length, closes the
// output handle, and releases the path lock; the lock release is
// unconditional even when the fill or the close fails. Later calls
// are no-ops.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil
	}
	s.closed.Store(true)
	defer s.lock.Release()

	if s.out == nil {
		return nil
	}

	fillErr := s.zeroFillLocked()
	closeErr := s.out.Close()
	if err := errors.Join(fillErr, closeErr); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "closing "+s.path)
	}
	return nil
}

// IsClosed reflects the one-way close latch.
func (s *Stream) IsClosed() bool { return s.closed.Load() }

// IsReadOnly reports false: this stream only writes.
func (s *Stream) IsReadOnly() bool { return false }

// zeroFillLocked pads the file so its physical length matches the
// logical length recorded by a growing truncate.
func (s *Stream) zeroFillLocked() error {
	written := s.out.BytesWritten()
	if written >= s.status.length {
		return nil
	}
	gap := s.status.length - written

	chunk := make([]byte, min(gap, zeroFillChunkSize))
	for remaining := gap; remaining > 0; {
		n := min(remaining, uint64(len(chunk)))
		if err := s.out.Write(chunk[:n]); err != nil {
			return fserror.Wrap(fserror.KindIO, err, "zero-filling "+s.path)
		}
		remaining -= n
	}

	s.logger.Debug("zero-filled extended file",
		"path", s.path, "gap", gap, "length", s.status.length)
	return nil
}
