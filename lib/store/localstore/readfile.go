// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"bytes"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// readFile is the read handle for one completed object. Reads locate
// the block containing the requested offset by binary search on the
// block index and decompress one block at a time. The last
// decompressed block is cached, which turns a sequential read into one
// decompression per block.
type readFile struct {
	logical string
	file    *os.File
	meta    *metadata

	mu         sync.Mutex
	cacheIndex int // -1 when empty
	cache      []byte
	cacheSet   bool
}

var _ store.ReadHandle = (*readFile)(nil)

// Size implements store.ReadHandle.
func (r *readFile) Size() uint64 {
	return r.meta.Length
}

// Close implements store.ReadHandle.
func (r *readFile) Close() error {
	return r.file.Close()
}

// ReadAt implements io.ReaderAt.
func (r *readFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fserror.Errorf(fserror.KindInvalidArgument, "negative read offset %d", off)
	}
	if uint64(off) >= r.meta.Length {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) && uint64(off) < r.meta.Length {
		block, err := r.findBlock(uint64(off))
		if err != nil {
			return total, err
		}
		raw, err := r.loadBlock(block)
		if err != nil {
			return total, err
		}
		within := uint64(off) - r.meta.Blocks[block].RawOffset
		n := copy(p[total:], raw[within:])
		total += n
		off += int64(n)
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// findBlock returns the index of the block containing the raw offset.
func (r *readFile) findBlock(off uint64) (int, error) {
	blocks := r.meta.Blocks
	i := sort.Search(len(blocks), func(i int) bool {
		return blocks[i].RawOffset+uint64(blocks[i].RawSize) > off
	})
	if i == len(blocks) || blocks[i].RawOffset > off {
		return 0, fserror.Errorf(fserror.KindIO,
			"%s: block index has no block covering offset %d", r.logical, off)
	}
	return i, nil
}

// loadBlock returns the decompressed content of one block, serving
// from the single-block cache when possible.
func (r *readFile) loadBlock(index int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cacheSet && r.cacheIndex == index {
		return r.cache, nil
	}

	entry := r.meta.Blocks[index]
	stored := make([]byte, entry.StoredSize)
	if _, err := r.file.ReadAt(stored, entry.DataOffset); err != nil {
		return nil, fserror.Wrap(fserror.KindIO, err, "reading block for "+r.logical)
	}
	raw, err := decompressBlock(stored, entry.Tag, int(entry.RawSize))
	if err != nil {
		return nil, fserror.Wrap(fserror.KindIO, err, "decompressing block for "+r.logical)
	}

	r.cacheIndex = index
	r.cache = raw
	r.cacheSet = true
	return raw, nil
}

// verify streams every block through blake3 and compares the result
// against the sidecar checksum.
func (r *readFile) verify() error {
	if len(r.meta.Checksum) == 0 {
		return fserror.Errorf(fserror.KindIO, "%s has no checksum to verify", r.logical)
	}

	hasher := blake3.New()
	for i := range r.meta.Blocks {
		raw, err := r.loadBlock(i)
		if err != nil {
			return err
		}
		hasher.Write(raw)
	}
	if sum := hasher.Sum(nil); !bytes.Equal(sum, r.meta.Checksum) {
		return fserror.Errorf(fserror.KindIO, "%s failed checksum verification", r.logical)
	}
	return nil
}
