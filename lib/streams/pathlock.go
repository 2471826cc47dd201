// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package streams

import (
	"github.com/lodestore/lodefs/lib/fserror"

	"sync"
)

// LockMode selects shared or exclusive acquisition of a path lock.
type LockMode uint8

const (
	// LockRead is the shared mode. Any number of readers may hold the
	// same path as long as no writer does.
	LockRead LockMode = iota

	// LockWrite is the exclusive mode. A writer excludes readers and
	// other writers.
	LockWrite
)

// LockManager hands out advisory per-path locks within one process.
// Acquisition never blocks: TryLock fails immediately with Conflict
// when the path is already held in an incompatible mode.
//
// The manager only covers one process. Cross-process exclusion is
// cooperative, through the store's completion flag (see Open).
type LockManager struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	writer  bool
	readers int
}

// NewLockManager returns an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{entries: make(map[string]*lockEntry)}
}

// TryLock acquires the lock for path in the given mode, or fails with
// Conflict if the path is held incompatibly. The returned PathLock
// must be released exactly once; Release is idempotent.
func (m *LockManager) TryLock(path string, mode LockMode) (*PathLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[path]
	switch {
	case entry == nil:
		entry = &lockEntry{}
		m.entries[path] = entry
	case entry.writer:
		return nil, fserror.Errorf(fserror.KindConflict, "%s is locked for write", path)
	case mode == LockWrite:
		return nil, fserror.Errorf(fserror.KindConflict, "%s is locked for read by %d readers", path, entry.readers)
	}

	if mode == LockWrite {
		entry.writer = true
	} else {
		entry.readers++
	}
	return &PathLock{manager: m, path: path, mode: mode}, nil
}

// PathLock is a held advisory lock. Owned by exactly one stream for
// its full lifetime.
type PathLock struct {
	manager  *LockManager
	path     string
	mode     LockMode
	released bool
}

// Release returns the lock to the manager. Safe to call more than
// once; only the first call has effect.
func (l *PathLock) Release() {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()

	if l.released {
		return
	}
	l.released = true

	entry := l.manager.entries[l.path]
	if entry == nil {
		return
	}
	if l.mode == LockWrite {
		entry.writer = false
	} else if entry.readers > 0 {
		entry.readers--
	}
	if !entry.writer && entry.readers == 0 {
		delete(l.manager.entries, l.path)
	}
}
