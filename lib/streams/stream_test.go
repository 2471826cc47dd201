// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package streams

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
	"github.com/lodestore/lodefs/lib/store/storetest"
)

// openStream opens a fresh stream against the fake with sensible
// defaults, failing the test on error.
func openStream(t *testing.T, fake *storetest.Fake, locks *LockManager, path string, flags int, mode uint32) *Stream {
	t.Helper()
	stream, err := Open(context.Background(), Options{
		Client: fake,
		Locks:  locks,
		Path:   path,
		Flags:  flags,
		Mode:   mode,
	})
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	return stream
}

func TestSequentialWrite(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	locks := NewLockManager()

	stream := openStream(t, fake, locks, "data/a", os.O_WRONLY|os.O_CREATE, ModeUnset)

	if err := stream.Write(ctx, []byte("0123456789"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := stream.Stat().Length; got != 10 {
		t.Errorf("length after write = %d, want 10", got)
	}
	if err := stream.Write(ctx, []byte("abc"), 10); err != nil {
		t.Fatalf("Write at frontier: %v", err)
	}
	if got := stream.Stat().Length; got != 13 {
		t.Errorf("length = %d, want 13", got)
	}

	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, ok := fake.Bytes("data/a")
	if !ok {
		t.Fatal("file missing after close")
	}
	if !bytes.Equal(data, []byte("0123456789abc")) {
		t.Errorf("stored bytes = %q", data)
	}
}

func TestWriteEmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	stream := openStream(t, fake, NewLockManager(), "p", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	if err := stream.Write(ctx, nil, 5); err != nil {
		t.Errorf("empty write should succeed regardless of offset: %v", err)
	}
	if got := stream.Stat().Length; got != 0 {
		t.Errorf("length = %d, want 0", got)
	}
}

func TestWriteRejectsNegativeOffset(t *testing.T) {
	ctx := context.Background()
	stream := openStream(t, storetest.New(), NewLockManager(), "p", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	err := stream.Write(ctx, []byte("x"), -1)
	if fserror.KindOf(err) != fserror.KindInvalidArgument {
		t.Errorf("negative offset: kind = %v, want InvalidArgument", fserror.KindOf(err))
	}
}

func TestRewriteOfFlushedPrefixIsSkipped(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	stream := openStream(t, fake, NewLockManager(), "p", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	if err := stream.Write(ctx, []byte("hello world"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// vim :wq re-flushes the whole prefix. Content is not verified.
	if err := stream.Write(ctx, []byte("HELLO"), 0); err != nil {
		t.Errorf("prefix re-write should be skipped, got %v", err)
	}
	if err := stream.Write(ctx, []byte("rld"), 8); err != nil {
		t.Errorf("inner re-write should be skipped, got %v", err)
	}
	if got := stream.Stat().Length; got != 11 {
		t.Errorf("length = %d, want 11 (re-writes must not advance)", got)
	}

	data, _ := fake.Bytes("p")
	if !bytes.Equal(data, []byte("hello world")) {
		t.Errorf("stored bytes changed: %q", data)
	}
}

func TestNonSequentialWriteFails(t *testing.T) {
	ctx := context.Background()
	stream := openStream(t, storetest.New(), NewLockManager(), "p", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	if err := stream.Write(ctx, []byte("abcd"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A gap beyond the frontier.
	err := stream.Write(ctx, []byte("x"), 10)
	if fserror.KindOf(err) != fserror.KindUnimplemented {
		t.Errorf("gap write: kind = %v, want Unimplemented", fserror.KindOf(err))
	}

	// Straddling the frontier: starts below, ends above.
	err = stream.Write(ctx, []byte("yyyy"), 2)
	if fserror.KindOf(err) != fserror.KindUnimplemented {
		t.Errorf("straddling write: kind = %v, want Unimplemented", fserror.KindOf(err))
	}

	if got := stream.Stat().Length; got != 4 {
		t.Errorf("length = %d, want 4", got)
	}
}

func TestReadIsUnsupported(t *testing.T) {
	ctx := context.Background()
	stream := openStream(t, storetest.New(), NewLockManager(), "p", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	_, err := stream.Read(ctx, make([]byte, 4), 0)
	if fserror.KindOf(err) != fserror.KindUnsupported {
		t.Errorf("Read: kind = %v, want Unsupported", fserror.KindOf(err))
	}
	if stream.IsReadOnly() {
		t.Error("IsReadOnly must be false on a write stream")
	}
}

func TestDeferredOpenRequiresTruncate(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("existing", []byte("12345"), 0o640, true)

	stream := openStream(t, fake, NewLockManager(), "existing", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	// No output handle yet: the file still reports its old length.
	if got := stream.Stat().Length; got != 5 {
		t.Errorf("deferred length = %d, want 5", got)
	}

	err := stream.Write(ctx, []byte("abc"), 0)
	if fserror.KindOf(err) != fserror.KindAlreadyExists {
		t.Errorf("write while deferred: kind = %v, want AlreadyExists", fserror.KindOf(err))
	}

	// Flush in the deferred state is a no-op.
	if err := stream.Flush(ctx); err != nil {
		t.Errorf("Flush while deferred: %v", err)
	}

	// truncate(0) makes the stream writable.
	if err := stream.Truncate(ctx, 0); err != nil {
		t.Fatalf("Truncate(0): %v", err)
	}
	if err := stream.Write(ctx, []byte("abc"), 0); err != nil {
		t.Fatalf("write after truncate: %v", err)
	}
	if got := stream.Stat().Length; got != 3 {
		t.Errorf("length = %d, want 3", got)
	}
}

func TestDeferredOpenInheritsMode(t *testing.T) {
	fake := storetest.New()
	fake.Put("existing", []byte("12345"), 0o600, true)

	stream := openStream(t, fake, NewLockManager(), "existing", os.O_WRONLY, ModeUnset)
	defer stream.Close(context.Background())

	if got := stream.Stat().Mode; got != 0o600 {
		t.Errorf("mode = %o, want 600 (inherited)", got)
	}
}

func TestExplicitModeWins(t *testing.T) {
	fake := storetest.New()
	fake.Put("existing", []byte("12345"), 0o600, true)

	stream := openStream(t, fake, NewLockManager(), "existing", os.O_WRONLY|os.O_TRUNC, 0o755)
	defer stream.Close(context.Background())

	if got := stream.Stat().Mode; got != 0o755 {
		t.Errorf("mode = %o, want 755 (explicit)", got)
	}
}

func TestFreshFileDefaultMode(t *testing.T) {
	stream := openStream(t, storetest.New(), NewLockManager(), "fresh", os.O_WRONLY, ModeUnset)
	defer stream.Close(context.Background())

	if got := stream.Stat().Mode; got != 0o644 {
		t.Errorf("mode = %o, want 644 (default)", got)
	}
}

func TestTruncateIntentRecreatesFile(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("existing", []byte("old content"), 0o644, true)

	stream := openStream(t, fake, NewLockManager(), "existing", os.O_WRONLY|os.O_TRUNC, ModeUnset)

	// Immediately writable, starting from zero.
	if got := stream.Stat().Length; got != 0 {
		t.Errorf("length after O_TRUNC open = %d, want 0", got)
	}
	if err := stream.Write(ctx, []byte("new"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ := fake.Bytes("existing")
	if !bytes.Equal(data, []byte("new")) {
		t.Errorf("stored bytes = %q, want %q", data, "new")
	}
}

func TestExistingEmptyFileIsRecreated(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("empty", nil, 0o644, true)

	// create-empty-then-reopen workloads get a writable stream even
	// without truncate intent.
	stream := openStream(t, fake, NewLockManager(), "empty", os.O_WRONLY, ModeUnset)
	if err := stream.Write(ctx, []byte("xy"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTruncateVirtualExtension(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	stream := openStream(t, fake, NewLockManager(), "padded", os.O_WRONLY, ModeUnset)

	if err := stream.Write(ctx, []byte("abcd"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := stream.Truncate(ctx, 100); err != nil {
		t.Fatalf("Truncate(100): %v", err)
	}

	// Logical length advances, physical bytes do not.
	if got := stream.Stat().Length; got != 100 {
		t.Errorf("length = %d, want 100", got)
	}
	data, _ := fake.Bytes("padded")
	if len(data) != 4 {
		t.Errorf("physical bytes before close = %d, want 4", len(data))
	}

	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ = fake.Bytes("padded")
	if len(data) != 100 {
		t.Fatalf("physical bytes after close = %d, want 100", len(data))
	}
	if !bytes.Equal(data[:4], []byte("abcd")) {
		t.Errorf("prefix = %q", data[:4])
	}
	if !bytes.Equal(data[4:], make([]byte, 96)) {
		t.Error("bytes 4..100 are not all zero")
	}
}

func TestTruncateSameSizeIsNoOp(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("existing", []byte("12345"), 0o644, true)

	stream := openStream(t, fake, NewLockManager(), "existing", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	// Deferred stream, truncate to the current length: no-op, stays
	// deferred.
	if err := stream.Truncate(ctx, 5); err != nil {
		t.Fatalf("Truncate(current): %v", err)
	}
	if err := stream.Write(ctx, []byte("x"), 0); fserror.KindOf(err) != fserror.KindAlreadyExists {
		t.Errorf("stream should still be deferred, write kind = %v", fserror.KindOf(err))
	}
}

func TestTruncateShrinkFails(t *testing.T) {
	ctx := context.Background()
	stream := openStream(t, storetest.New(), NewLockManager(), "p", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	if err := stream.Write(ctx, []byte("0123456789"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err := stream.Truncate(ctx, 5)
	if fserror.KindOf(err) != fserror.KindUnimplemented {
		t.Errorf("shrink: kind = %v, want Unimplemented", fserror.KindOf(err))
	}
}

func TestTruncateDeferredToNonzeroFails(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("existing", []byte("12345"), 0o644, true)

	stream := openStream(t, fake, NewLockManager(), "existing", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	err := stream.Truncate(ctx, 3)
	if fserror.KindOf(err) != fserror.KindUnimplemented {
		t.Errorf("deferred truncate to nonzero: kind = %v, want Unimplemented", fserror.KindOf(err))
	}
	err = stream.Truncate(ctx, 50)
	if fserror.KindOf(err) != fserror.KindUnimplemented {
		t.Errorf("deferred truncate to larger: kind = %v, want Unimplemented", fserror.KindOf(err))
	}
}

func TestTruncateZeroFromWritableRestarts(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	stream := openStream(t, fake, NewLockManager(), "p", os.O_WRONLY, ModeUnset)

	if err := stream.Write(ctx, []byte("first draft"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := stream.Truncate(ctx, 0); err != nil {
		t.Fatalf("Truncate(0): %v", err)
	}
	if got := stream.Stat().Length; got != 0 {
		t.Errorf("length = %d, want 0", got)
	}
	if err := stream.Write(ctx, []byte("second"), 0); err != nil {
		t.Fatalf("Write after restart: %v", err)
	}
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ := fake.Bytes("p")
	if !bytes.Equal(data, []byte("second")) {
		t.Errorf("stored bytes = %q", data)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	stream := openStream(t, fake, NewLockManager(), "p", os.O_WRONLY, ModeUnset)

	if err := stream.Write(ctx, []byte("x"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := stream.Close(ctx); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if !stream.IsClosed() {
		t.Error("IsClosed = false after Close")
	}
	if err := stream.Close(ctx); err != nil {
		t.Errorf("second Close: %v (must be a no-op)", err)
	}
}

func TestSecondOpenConflicts(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	locks := NewLockManager()

	first := openStream(t, fake, locks, "shared", os.O_WRONLY, ModeUnset)

	_, err := Open(ctx, Options{Client: fake, Locks: locks, Path: "shared", Flags: os.O_WRONLY, Mode: ModeUnset})
	if fserror.KindOf(err) != fserror.KindConflict {
		t.Errorf("second open: kind = %v, want Conflict", fserror.KindOf(err))
	}

	// Releasing the first stream frees the path.
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second := openStream(t, fake, locks, "shared", os.O_WRONLY|os.O_TRUNC, ModeUnset)
	if err := second.Close(ctx); err != nil {
		t.Fatalf("Close second: %v", err)
	}
}

func TestOpenFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("existing", []byte("data"), 0o644, true)
	fake.DeleteErr = errors.New("backend down")
	locks := NewLockManager()

	// O_TRUNC open needs the delete, which fails after the lock is
	// held.
	_, err := Open(ctx, Options{Client: fake, Locks: locks, Path: "existing", Flags: os.O_TRUNC, Mode: ModeUnset})
	if err == nil {
		t.Fatal("expected open failure")
	}

	// The lock must not leak: a read lock on the same path succeeds.
	lock, lockErr := locks.TryLock("existing", LockWrite)
	if lockErr != nil {
		t.Fatalf("lock leaked after failed open: %v", lockErr)
	}
	lock.Release()
}

func TestCloseFailureStillReleasesLock(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	locks := NewLockManager()
	stream := openStream(t, fake, locks, "p", os.O_WRONLY, ModeUnset)

	if err := stream.Write(ctx, []byte("ab"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := stream.Truncate(ctx, 10); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	// Zero-fill at close hits the injected write failure.
	fake.WriteErr = errors.New("disk full")
	err := stream.Close(ctx)
	if fserror.KindOf(err) != fserror.KindIO {
		t.Errorf("Close: kind = %v, want IO", fserror.KindOf(err))
	}

	lock, lockErr := locks.TryLock("p", LockWrite)
	if lockErr != nil {
		t.Fatalf("lock leaked after failed close: %v", lockErr)
	}
	lock.Release()
}

func TestOpenWaitsForConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("busy", []byte("partial"), 0o644, false)

	opened := make(chan error, 1)
	var stream *Stream
	go func() {
		var err error
		stream, err = Open(ctx, Options{
			Client: fake,
			Locks:  NewLockManager(),
			Path:   "busy",
			Flags:  os.O_WRONLY,
			Mode:   ModeUnset,
		})
		opened <- err
	}()

	// The open must block while the file is incomplete.
	select {
	case err := <-opened:
		t.Fatalf("open returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	fake.Complete("busy")

	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("open after completion: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("open did not return after completion")
	}
	stream.Close(ctx)
}

func TestOpenWaitTimesOut(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	fake.Put("stuck", []byte("partial"), 0o644, false)

	_, err := Open(ctx, Options{
		Client:      fake,
		Locks:       NewLockManager(),
		Path:        "stuck",
		Flags:       os.O_WRONLY,
		Mode:        ModeUnset,
		WaitTimeout: 20 * time.Millisecond,
	})
	if fserror.KindOf(err) != fserror.KindUnimplemented {
		t.Errorf("stuck writer: kind = %v, want Unimplemented", fserror.KindOf(err))
	}
}

func TestWriteOptionsPassThrough(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	options := store.WriteOptions{
		BlockSize:     1 << 20,
		Tier:          "cold",
		TTL:           24 * time.Hour,
		Policy:        "local-first",
		PolicyOptions: map[string]string{"rack": "r7"},
		Hostname:      "store-3",
	}

	stream, err := Open(ctx, Options{
		Client:       fake,
		Locks:        NewLockManager(),
		Path:         "opts",
		Flags:        os.O_WRONLY,
		Mode:         ModeUnset,
		WriteOptions: options,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close(ctx)

	recorded := fake.CreateOptions["opts"]
	if recorded.BlockSize != options.BlockSize || recorded.Tier != options.Tier ||
		recorded.TTL != options.TTL || recorded.Policy != options.Policy ||
		recorded.Hostname != options.Hostname || recorded.PolicyOptions["rack"] != "r7" {
		t.Errorf("WriteOptions not forwarded unchanged: %+v", recorded)
	}
}

func TestWriteFailureSurfacesAsIO(t *testing.T) {
	ctx := context.Background()
	fake := storetest.New()
	stream := openStream(t, fake, NewLockManager(), "p", os.O_WRONLY, ModeUnset)
	defer stream.Close(ctx)

	cause := errors.New("connection reset")
	fake.WriteErr = cause
	err := stream.Write(ctx, []byte("x"), 0)
	if fserror.KindOf(err) != fserror.KindIO {
		t.Errorf("kind = %v, want IO", fserror.KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("backend cause not reachable through errors.Is")
	}
	fake.WriteErr = nil
}
