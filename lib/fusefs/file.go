// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package fusefs

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
	"github.com/lodestore/lodefs/lib/streams"
)

// fileNode is one object as a regular file. Attributes are looked up
// fresh on every Getattr so a file being appended to by this or
// another process reports its live length.
type fileNode struct {
	gofuse.Inode
	fsys *filesystem
	path string
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, handle gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if write, ok := handle.(*writeHandle); ok {
		fillAttr(&out.Attr, write.stream.Stat())
		return 0
	}

	status, exists, err := f.fsys.client.Status(ctx, f.path)
	if err != nil {
		return fserror.Errno(err)
	}
	if !exists {
		return syscall.ENOENT
	}
	fillAttr(&out.Attr, status)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		stream, err := f.fsys.openStream(ctx, f.path, int(flags), streams.ModeUnset)
		if err != nil {
			f.fsys.logger.Warn("open for write failed", "path", f.path, "error", err)
			return nil, 0, fserror.Errno(err)
		}
		return &writeHandle{stream: stream}, fuse.FOPEN_DIRECT_IO, 0
	}

	handle, err := f.fsys.client.Open(ctx, f.path)
	if fserror.KindOf(err) == fserror.KindUnavailable {
		// The writer has closed its descriptor but the release that
		// completes the object may still be in flight. Wait for it the
		// same bounded way a write open waits for a concurrent writer.
		handle, err = f.openAfterCompletion(ctx)
	}
	if err != nil {
		f.fsys.logger.Warn("open for read failed", "path", f.path, "error", err)
		return nil, 0, fserror.Errno(err)
	}

	// Completed objects are immutable, so the kernel page cache stays
	// valid across opens.
	return &readHandle{handle: handle}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) openAfterCompletion(ctx context.Context) (store.ReadHandle, error) {
	timeout := f.fsys.waitTimeout
	if timeout == 0 {
		timeout = streams.DefaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := f.fsys.client.WaitForCompleted(waitCtx, f.path); err != nil {
		return nil, err
	}
	return f.fsys.client.Open(ctx, f.path)
}

func (f *fileNode) Setattr(ctx context.Context, handle gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	size, sizeRequested := in.GetSize()
	if !sizeRequested {
		// Mode and time changes have no store representation; report
		// current attributes unchanged.
		return f.Getattr(ctx, handle, out)
	}

	write, ok := handle.(*writeHandle)
	if !ok {
		return f.truncateWithoutHandle(ctx, size, out)
	}

	if err := write.stream.Truncate(ctx, size); err != nil {
		f.fsys.logger.Warn("truncate failed", "path", f.path, "size", size, "error", err)
		return fserror.Errno(err)
	}
	fillAttr(&out.Attr, write.stream.Stat())
	return 0
}

// truncateWithoutHandle services a path-addressed truncate. It runs a
// short-lived write stream through the same open resolution as a real
// open, so locking and concurrent-writer rules apply unchanged.
func (f *fileNode) truncateWithoutHandle(ctx context.Context, size uint64, out *fuse.AttrOut) syscall.Errno {
	stream, err := f.fsys.openStream(ctx, f.path, syscall.O_WRONLY, streams.ModeUnset)
	if err != nil {
		return fserror.Errno(err)
	}

	if err := stream.Truncate(ctx, size); err != nil {
		stream.Close(ctx)
		return fserror.Errno(err)
	}
	if err := stream.Close(ctx); err != nil {
		return fserror.Errno(err)
	}

	status, exists, err := f.fsys.client.Status(ctx, f.path)
	if err != nil || !exists {
		return fserror.Errno(err)
	}
	fillAttr(&out.Attr, status)
	return 0
}

func fillAttr(attr *fuse.Attr, status store.Status) {
	attr.Mode = syscall.S_IFREG | (status.Mode & 0o7777)
	attr.Size = status.Length
	attr.Blocks = (status.Length + 511) / 512
	attr.Blksize = 4096
}
