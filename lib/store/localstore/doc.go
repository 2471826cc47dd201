// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore implements a lode store over a local directory.
//
// Each object is a pair of files under the store root: a data file
// holding the content as a sequence of compressed blocks, and a CBOR
// metadata sidecar in a parallel tree. The sidecar records the
// permission mode, the block index, a blake3 checksum of the raw
// content, and the completion flag. A writer creates both files, keeps
// Completed false while appending, and flips it on Close — the
// completion flag is what other writers observe for cooperative
// exclusion.
//
// The storage tier in WriteOptions selects per-block compression:
// "hot" stores raw blocks, "standard" uses LZ4, "cold" uses zstd.
// Blocks hold up to BlockSize raw bytes; the index records raw and
// compressed extents so reads can binary-search the block containing
// an offset and decompress only that block.
package localstore
