// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package fusefs

import (
	"context"
	"errors"
	"io"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
	"github.com/lodestore/lodefs/lib/streams"
)

// writeHandle owns one write stream. The kernel may issue the final
// flush and the release separately; the stream's idempotent close
// covers both.
type writeHandle struct {
	stream *streams.Stream
}

var _ gofuse.FileWriter = (*writeHandle)(nil)
var _ gofuse.FileReader = (*writeHandle)(nil)
var _ gofuse.FileFlusher = (*writeHandle)(nil)
var _ gofuse.FileFsyncer = (*writeHandle)(nil)
var _ gofuse.FileReleaser = (*writeHandle)(nil)

func (h *writeHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if err := h.stream.Write(ctx, data, off); err != nil {
		return 0, fserror.Errno(err)
	}
	return uint32(len(data)), 0
}

func (h *writeHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if _, err := h.stream.Read(ctx, dest, off); err != nil {
		return nil, fserror.Errno(err)
	}
	return fuse.ReadResultData(nil), 0
}

func (h *writeHandle) Flush(ctx context.Context) syscall.Errno {
	if err := h.stream.Flush(ctx); err != nil {
		return fserror.Errno(err)
	}
	return 0
}

func (h *writeHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.Flush(ctx)
}

func (h *writeHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.stream.Close(ctx); err != nil {
		return fserror.Errno(err)
	}
	return 0
}

// readHandle wraps a store read handle.
type readHandle struct {
	handle store.ReadHandle
}

var _ gofuse.FileReader = (*readHandle)(nil)
var _ gofuse.FileReleaser = (*readHandle)(nil)

func (h *readHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.handle.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fserror.Errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *readHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.handle.Close(); err != nil {
		return fserror.Errno(err)
	}
	return 0
}
