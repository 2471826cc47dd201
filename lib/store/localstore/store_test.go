// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lodestore/lodefs/lib/clock"
	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
	"github.com/lodestore/lodefs/lib/testutil"
)

func newTestStore(t *testing.T, options Options) *Store {
	t.Helper()
	s, err := New(t.TempDir(), options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func writeObject(t *testing.T, s *Store, path string, data []byte, options store.WriteOptions) {
	t.Helper()
	out, err := s.Create(context.Background(), path, 0o644, options)
	if err != nil {
		t.Fatalf("Create %s: %v", path, err)
	}
	if err := out.Write(data); err != nil {
		t.Fatalf("Write %s: %v", path, err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close %s: %v", path, err)
	}
}

func readObject(t *testing.T, s *Store, path string) []byte {
	t.Helper()
	handle, err := s.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open %s: %v", path, err)
	}
	defer handle.Close()
	data := make([]byte, handle.Size())
	if _, err := handle.ReadAt(data, 0); err != nil {
		t.Fatalf("ReadAt %s: %v", path, err)
	}
	return data
}

// patterned returns n bytes that compress but are not uniform, so a
// block index bug that swaps or drops blocks is caught by content
// comparison.
func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i / 7)
	}
	return data
}

func TestRoundTripAcrossTiers(t *testing.T) {
	for _, tier := range []string{"hot", "standard", "cold"} {
		t.Run(tier, func(t *testing.T) {
			s := newTestStore(t, Options{})
			data := patterned(300_000)
			writeObject(t, s, "dir/file.bin", data, store.WriteOptions{
				Tier:      tier,
				BlockSize: 64 << 10,
			})

			if got := readObject(t, s, "dir/file.bin"); !bytes.Equal(got, data) {
				t.Errorf("content mismatch after round trip: %d bytes, want %d", len(got), len(data))
			}

			status, ok, err := s.Status(context.Background(), "dir/file.bin")
			if err != nil || !ok {
				t.Fatalf("Status: ok=%v err=%v", ok, err)
			}
			if !status.Completed || status.Length != uint64(len(data)) {
				t.Errorf("status = %+v, want completed with length %d", status, len(data))
			}
		})
	}
}

func TestReadAtArbitraryOffsets(t *testing.T) {
	s := newTestStore(t, Options{})
	data := patterned(200_000)
	writeObject(t, s, "f", data, store.WriteOptions{BlockSize: 32 << 10})

	handle, err := s.Open(context.Background(), "f")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer handle.Close()

	// A read spanning a block boundary.
	got := make([]byte, 1000)
	if _, err := handle.ReadAt(got, (32<<10)-500); err != nil {
		t.Fatalf("ReadAt across boundary: %v", err)
	}
	if !bytes.Equal(got, data[(32<<10)-500:(32<<10)+500]) {
		t.Error("cross-boundary read returned wrong bytes")
	}

	// A short read at the tail.
	tail := make([]byte, 1000)
	n, err := handle.ReadAt(tail, int64(len(data))-10)
	if n != 10 {
		t.Errorf("tail read: n = %d, want 10", n)
	}
	if err == nil {
		t.Error("tail read: expected EOF")
	}
	if !bytes.Equal(tail[:10], data[len(data)-10:]) {
		t.Error("tail read returned wrong bytes")
	}
}

func TestStatusReflectsOpenWriter(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	out, err := s.Create(ctx, "f", 0o600, store.WriteOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := out.Write(make([]byte, 123)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	status, ok, err := s.Status(ctx, "f")
	if err != nil || !ok {
		t.Fatalf("Status: ok=%v err=%v", ok, err)
	}
	if status.Completed {
		t.Error("file with open writer reported completed")
	}
	if status.Length != 123 {
		t.Errorf("length = %d, want 123 (live writer progress)", status.Length)
	}
	if status.Mode != 0o600 {
		t.Errorf("mode = %o, want 600", status.Mode)
	}

	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	status, _, _ = s.Status(ctx, "f")
	if !status.Completed {
		t.Error("file not completed after close")
	}
}

func TestCreateConflicts(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	out, err := s.Create(ctx, "f", 0o644, store.WriteOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "f", 0o644, store.WriteOptions{}); fserror.KindOf(err) != fserror.KindAlreadyExists {
		t.Errorf("second create while open: kind = %v, want AlreadyExists", fserror.KindOf(err))
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Create(ctx, "f", 0o644, store.WriteOptions{}); fserror.KindOf(err) != fserror.KindAlreadyExists {
		t.Errorf("create over completed file: kind = %v, want AlreadyExists", fserror.KindOf(err))
	}
}

func TestOpenErrors(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	if _, err := s.Open(ctx, "missing"); fserror.KindOf(err) != fserror.KindNotFound {
		t.Errorf("open missing: kind = %v, want NotFound", fserror.KindOf(err))
	}

	out, err := s.Create(ctx, "partial", 0o644, store.WriteOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := out.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := s.Open(ctx, "partial"); fserror.KindOf(err) != fserror.KindUnavailable {
		t.Errorf("open incomplete: kind = %v, want Unavailable", fserror.KindOf(err))
	}
	out.Close()
}

func TestDeleteUnderOpenWriter(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	out, err := s.Create(ctx, "f", 0o644, store.WriteOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := out.Write([]byte("doomed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Delete(ctx, "f"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Closing the orphaned handle must not bring the object back.
	if err := out.Close(); err != nil {
		t.Fatalf("Close after delete: %v", err)
	}
	if _, ok, _ := s.Status(ctx, "f"); ok {
		t.Error("deleted object resurrected by closing its writer")
	}

	// The path is immediately reusable.
	writeObject(t, s, "f", []byte("fresh"), store.WriteOptions{})
	if got := readObject(t, s, "f"); string(got) != "fresh" {
		t.Errorf("recreated content = %q, want %q", got, "fresh")
	}
}

func TestDeleteMissing(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.Delete(context.Background(), "nope"); fserror.KindOf(err) != fserror.KindNotFound {
		t.Errorf("delete missing: kind = %v, want NotFound", fserror.KindOf(err))
	}
}

func TestListByPrefix(t *testing.T) {
	s := newTestStore(t, Options{})
	writeObject(t, s, "logs/a", []byte("1"), store.WriteOptions{})
	writeObject(t, s, "logs/b", []byte("22"), store.WriteOptions{})
	writeObject(t, s, "other/c", []byte("333"), store.WriteOptions{})

	entries, err := s.List(context.Background(), "logs/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
	if entries[0].Path != "logs/a" || entries[1].Path != "logs/b" {
		t.Errorf("entries = %q, %q; want logs/a, logs/b", entries[0].Path, entries[1].Path)
	}
	if entries[1].Status.Length != 2 {
		t.Errorf("logs/b length = %d, want 2", entries[1].Status.Length)
	}
}

func TestWaitForCompleted(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	s := newTestStore(t, Options{Clock: fake})
	ctx := context.Background()

	out, err := s.Create(ctx, "f", 0o644, store.WriteOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.WaitForCompleted(ctx, "f")
		done <- err
	}()

	// The waiter sees the incomplete file and parks on the ticker.
	fake.WaitForTimers(1)
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fake.Advance(DefaultPollInterval)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for completion"); err != nil {
		t.Fatalf("WaitForCompleted: %v", err)
	}
}

func TestWaitForCompletedHonorsContext(t *testing.T) {
	s := newTestStore(t, Options{PollInterval: time.Millisecond})
	ctx := context.Background()

	out, err := s.Create(ctx, "f", 0o644, store.WriteOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer out.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := s.WaitForCompleted(waitCtx, "f"); fserror.KindOf(err) != fserror.KindUnavailable {
		t.Errorf("expired wait: kind = %v, want Unavailable", fserror.KindOf(err))
	}
}

func TestFlushPersistsProgress(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	out, err := s.Create(ctx, "f", 0o644, store.WriteOptions{BlockSize: 1 << 10})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := out.Write(make([]byte, 2500)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The sidecar on disk records the full blocks; the 452-byte
	// remainder is still buffered in the handle.
	meta, err := readMeta(filepath.Join(s.root, "meta", "f"))
	if err != nil {
		t.Fatalf("readMeta: %v", err)
	}
	if meta.Length != 2048 {
		t.Errorf("flushed length = %d, want 2048", meta.Length)
	}
	if meta.Completed {
		t.Error("flush must not mark the sidecar completed")
	}
	out.Close()
}

func TestVerifyOnOpenDetectsCorruption(t *testing.T) {
	s := newTestStore(t, Options{VerifyOnOpen: true})
	data := patterned(100_000)
	writeObject(t, s, "f", data, store.WriteOptions{Tier: "hot", BlockSize: 16 << 10})

	if _, err := s.Open(context.Background(), "f"); err != nil {
		t.Fatalf("Open pristine: %v", err)
	}

	// Flip one byte in the middle of the data file.
	dataPath := filepath.Join(s.root, "data", "f")
	file, err := os.OpenFile(dataPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := file.WriteAt([]byte{0xFF}, 50_000); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	file.Close()

	if _, err := s.Open(context.Background(), "f"); fserror.KindOf(err) != fserror.KindIO {
		t.Errorf("open corrupted: kind = %v, want IO", fserror.KindOf(err))
	}
}

func TestPathValidation(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for _, bad := range []string{"", ".", "/abs", "../escape", "a/../../b"} {
		if _, _, err := s.Status(ctx, bad); fserror.KindOf(err) != fserror.KindInvalidArgument {
			t.Errorf("Status(%q): kind = %v, want InvalidArgument", bad, fserror.KindOf(err))
		}
	}
}

func TestEmptyObject(t *testing.T) {
	s := newTestStore(t, Options{})
	writeObject(t, s, "empty", nil, store.WriteOptions{})

	handle, err := s.Open(context.Background(), "empty")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer handle.Close()
	if handle.Size() != 0 {
		t.Errorf("size = %d, want 0", handle.Size())
	}
	if _, err := handle.ReadAt(make([]byte, 1), 0); err == nil {
		t.Error("read past end of empty object should fail with EOF")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	out, err := s.Create(context.Background(), "f", 0o644, store.WriteOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
