// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package streams

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// ModeUnset marks an open call that supplied no permission mode. The
// mode then comes from the existing file, or from Options.DefaultMode
// for a fresh one.
const ModeUnset = ^uint32(0)

// DefaultWaitTimeout bounds how long Open waits for another writer's
// incomplete file to become completed. A writer that died mid-write
// leaves its file incomplete forever; without a bound every later open
// of that path would hang.
const DefaultWaitTimeout = 30 * time.Second

// defaultFileMode is the permission fallback when neither the caller
// nor an existing file supplies one.
const defaultFileMode = 0o644

// Options configures Open.
type Options struct {
	// Client is the store the stream writes through.
	Client store.Client

	// Locks is the per-process advisory lock manager.
	Locks *LockManager

	// Path is the store path the stream owns.
	Path string

	// Flags are the kernel open flags. Only truncate intent
	// (os.O_TRUNC) influences open resolution; the rest pass through.
	Flags int

	// Mode is the caller-supplied permission mode, or ModeUnset.
	Mode uint32

	// DefaultMode replaces defaultFileMode as the permission fallback
	// when non-zero.
	DefaultMode uint32

	// WriteOptions is forwarded unchanged to Client.Create.
	WriteOptions store.WriteOptions

	// WaitTimeout bounds the completion wait for a concurrently
	// written file. Zero means DefaultWaitTimeout.
	WaitTimeout time.Duration

	// Logger receives diagnostics. Nil means discard.
	Logger *slog.Logger
}

// openPlan is the outcome of open resolution. Each plan maps to one
// initial stream state.
type openPlan uint8

const (
	// planFresh: no file at the path. Create it and start writable.
	planFresh openPlan = iota

	// planRecreateEmpty: a complete file exists but the open carries
	// truncate intent (or the file is empty). Delete, recreate, start
	// writable.
	planRecreateEmpty

	// planDeferredExisting: a complete non-empty file exists and the
	// open carries no truncate intent. Start with no output handle;
	// only truncate(0) makes the stream writable.
	planDeferredExisting
)

// Open acquires the path's write lock, resolves the open against the
// store, and returns a stream scoped to one open file descriptor.
//
// It fails with Conflict when the path is already open for write in
// this process, and with Unimplemented when another writer (possibly
// in another process) holds the path incomplete past the wait bound.
// The lock is released on every failure path.
func Open(ctx context.Context, options Options) (*Stream, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 128}))
	}

	lock, err := options.Locks.TryLock(options.Path, LockWrite)
	if err != nil {
		return nil, err
	}
	// No leaked lock on any exit path below.
	acquired := false
	defer func() {
		if !acquired {
			lock.Release()
		}
	}()

	status, exists, err := options.Client.Status(ctx, options.Path)
	if err != nil {
		return nil, fserror.Wrap(fserror.KindIO, err, "looking up "+options.Path)
	}

	if exists && !status.Completed {
		status, err = waitForCompletion(ctx, options)
		if err != nil {
			return nil, err
		}
	}

	mode := resolveMode(options.Mode, status.Mode, exists, fallbackMode(options))
	plan := resolvePlan(options.Flags, status, exists)

	stream := &Stream{
		client:       options.Client,
		path:         options.Path,
		lock:         lock,
		status:       fileStatus{mode: mode},
		writeOptions: options.WriteOptions,
		logger:       logger,
	}

	switch plan {
	case planDeferredExisting:
		stream.status.length = status.Length

	case planRecreateEmpty:
		if err := options.Client.Delete(ctx, options.Path); err != nil {
			return nil, fserror.Wrap(fserror.KindIO, err, "deleting "+options.Path+" for overwrite")
		}
		logger.Debug("recreating existing file for overwrite",
			"path", options.Path, "flags", options.Flags)
		fallthrough

	case planFresh:
		out, err := options.Client.Create(ctx, options.Path, mode, options.WriteOptions)
		if err != nil {
			return nil, fserror.Wrap(fserror.KindIO, err, "creating "+options.Path)
		}
		stream.out = out
	}

	acquired = true
	return stream, nil
}

// resolvePlan classifies the open into one of the closed set of
// outcomes. The await-completion step has already run: status is
// either absent or completed here.
func resolvePlan(flags int, status store.Status, exists bool) openPlan {
	if !exists {
		return planFresh
	}
	if flags&os.O_TRUNC != 0 || status.Length == 0 {
		return planRecreateEmpty
	}
	return planDeferredExisting
}

// waitForCompletion blocks until the concurrently written file
// completes, bounded by the configured timeout. A wait that does not
// resolve is surfaced as Unimplemented: concurrent writes to one path
// are not supported.
func waitForCompletion(ctx context.Context, options Options) (store.Status, error) {
	timeout := options.WaitTimeout
	if timeout == 0 {
		timeout = DefaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, err := options.Client.WaitForCompleted(waitCtx, options.Path)
	if err != nil {
		return store.Status{}, fserror.Errorf(fserror.KindUnimplemented,
			"cannot concurrently write %s: %w", options.Path, err)
	}
	return status, nil
}

func fallbackMode(options Options) uint32 {
	if options.DefaultMode != 0 {
		return options.DefaultMode
	}
	return defaultFileMode
}
