// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package storetest

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// Fake is an in-memory store.Client. The zero value is not usable;
// call New.
type Fake struct {
	mu      sync.Mutex
	files   map[string]*fakeFile
	changed chan struct{}

	// CreateOptions records the WriteOptions passed to Create, keyed
	// by path. Read it after the fact to assert pass-through.
	CreateOptions map[string]store.WriteOptions

	// WriteErr, FlushErr, CloseErr inject failures into the
	// corresponding OutHandle operations when non-nil.
	WriteErr error
	FlushErr error
	CloseErr error

	// DeleteErr injects a failure into Delete when non-nil.
	DeleteErr error
}

type fakeFile struct {
	data      []byte
	mode      uint32
	completed bool
}

// New returns an empty fake store.
func New() *Fake {
	return &Fake{
		files:         make(map[string]*fakeFile),
		changed:       make(chan struct{}),
		CreateOptions: make(map[string]store.WriteOptions),
	}
}

var _ store.Client = (*Fake)(nil)

// Put seeds a file, bypassing the sequential-write contract. Intended
// for test setup only.
func (f *Fake) Put(path string, data []byte, mode uint32, completed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = &fakeFile{data: append([]byte(nil), data...), mode: mode, completed: completed}
	f.broadcastLocked()
}

// Complete marks an existing file completed, releasing any
// WaitForCompleted callers.
func (f *Fake) Complete(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[path]; ok {
		file.completed = true
		f.broadcastLocked()
	}
}

// Bytes returns a copy of the file's current content, and whether the
// file exists.
func (f *Fake) Bytes(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), file.data...), true
}

func (f *Fake) broadcastLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Fake) statusLocked(file *fakeFile) store.Status {
	return store.Status{
		Length:    uint64(len(file.data)),
		Mode:      file.mode,
		Completed: file.completed,
	}
}

// Status implements store.Client.
func (f *Fake) Status(_ context.Context, path string) (store.Status, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		return store.Status{}, false, nil
	}
	return f.statusLocked(file), true, nil
}

// WaitForCompleted implements store.Client.
func (f *Fake) WaitForCompleted(ctx context.Context, path string) (store.Status, error) {
	for {
		f.mu.Lock()
		file, ok := f.files[path]
		if !ok {
			f.mu.Unlock()
			return store.Status{}, fserror.Errorf(fserror.KindNotFound, "%s disappeared while waiting for completion", path)
		}
		if file.completed {
			status := f.statusLocked(file)
			f.mu.Unlock()
			return status, nil
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return store.Status{}, fserror.Wrap(fserror.KindUnavailable, ctx.Err(), "waiting for "+path)
		}
	}
}

// Create implements store.Client.
func (f *Fake) Create(_ context.Context, path string, mode uint32, options store.WriteOptions) (store.OutHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; ok {
		return nil, fserror.Errorf(fserror.KindAlreadyExists, "%s already exists", path)
	}
	file := &fakeFile{mode: mode}
	f.files[path] = file
	f.CreateOptions[path] = options
	f.broadcastLocked()
	return &fakeOut{fake: f, file: file}, nil
}

// Open implements store.Client.
func (f *Fake) Open(_ context.Context, path string) (store.ReadHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		return nil, fserror.Errorf(fserror.KindNotFound, "%s does not exist", path)
	}
	return &fakeRead{Reader: bytes.NewReader(append([]byte(nil), file.data...))}, nil
}

// Delete implements store.Client.
func (f *Fake) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.files[path]; !ok {
		return fserror.Errorf(fserror.KindNotFound, "%s does not exist", path)
	}
	delete(f.files, path)
	f.broadcastLocked()
	return nil
}

// List implements store.Client.
func (f *Fake) List(_ context.Context, prefix string) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []store.Entry
	for path, file := range f.files {
		if strings.HasPrefix(path, prefix) {
			entries = append(entries, store.Entry{Path: path, Status: f.statusLocked(file)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// fakeOut is the sequential output handle over a fake file.
type fakeOut struct {
	fake   *Fake
	file   *fakeFile
	closed bool
}

func (o *fakeOut) Write(p []byte) error {
	o.fake.mu.Lock()
	defer o.fake.mu.Unlock()
	if o.fake.WriteErr != nil {
		return o.fake.WriteErr
	}
	if o.closed {
		return fserror.New(fserror.KindIO, "write on closed handle")
	}
	o.file.data = append(o.file.data, p...)
	return nil
}

func (o *fakeOut) Flush() error {
	o.fake.mu.Lock()
	defer o.fake.mu.Unlock()
	return o.fake.FlushErr
}

func (o *fakeOut) BytesWritten() uint64 {
	o.fake.mu.Lock()
	defer o.fake.mu.Unlock()
	return uint64(len(o.file.data))
}

func (o *fakeOut) Close() error {
	o.fake.mu.Lock()
	defer o.fake.mu.Unlock()
	if o.fake.CloseErr != nil {
		return o.fake.CloseErr
	}
	if o.closed {
		return fserror.New(fserror.KindIO, "double close")
	}
	o.closed = true
	o.file.completed = true
	o.fake.broadcastLocked()
	return nil
}

// fakeRead serves reads from a snapshot taken at Open time.
type fakeRead struct {
	*bytes.Reader
}

func (r *fakeRead) Size() uint64 { return uint64(r.Reader.Size()) }

func (r *fakeRead) Close() error { return nil }
