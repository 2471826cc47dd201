// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package fusefs mounts a lode store as a FUSE filesystem.
//
// The store's flat path namespace appears as a directory tree: a path
// prefix shared by several objects is a directory, an object is a
// regular file. Files open for read serve positioned reads from
// completed objects; files open for write go through a sequential
// write stream, so the mount accepts the write patterns of tools that
// stream a file front to back and rejects random-access rewrites.
//
// Write handles use direct IO. Letting the kernel page cache buffer
// and reorder writeback would break the stream's sequential contract.
package fusefs
