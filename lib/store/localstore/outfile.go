// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"os"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// outFile is the write handle for one object. Bytes accumulate in a
// block buffer; each time the buffer reaches the block size the block
// is compressed, appended to the data file, and indexed. Close flushes
// the final partial block, records the checksum, and flips the sidecar
// to completed.
type outFile struct {
	store    *Store
	logical  string
	dataPath string
	metaPath string

	mu         sync.Mutex
	file       *os.File
	meta       metadata
	tag        blockTag
	buf        []byte
	written    uint64 // raw bytes accepted, including the buffer
	dataOffset int64  // next append position in the data file
	hasher     *blake3.Hasher
	closed     bool
	canceled   bool
}

var _ store.OutHandle = (*outFile)(nil)

func newOutFile(s *Store, logical, dataPath, metaPath string, file *os.File, meta metadata) *outFile {
	return &outFile{
		store:    s,
		logical:  logical,
		dataPath: dataPath,
		metaPath: metaPath,
		file:     file,
		meta:     meta,
		tag:      tierTag(meta.Tier),
		buf:      make([]byte, 0, meta.BlockSize),
		hasher:   blake3.New(),
	}
}

// Write implements store.OutHandle.
func (o *outFile) Write(p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fserror.Errorf(fserror.KindIO, "write to closed handle for %s", o.logical)
	}

	o.hasher.Write(p)
	o.written += uint64(len(p))
	o.buf = append(o.buf, p...)

	blockSize := int(o.meta.BlockSize)
	for len(o.buf) >= blockSize {
		if err := o.emitBlock(o.buf[:blockSize]); err != nil {
			return err
		}
		remaining := copy(o.buf, o.buf[blockSize:])
		o.buf = o.buf[:remaining]
	}
	return nil
}

// emitBlock compresses one raw block and appends it to the data file.
// Caller holds o.mu.
func (o *outFile) emitBlock(raw []byte) error {
	stored, tag, err := compressBlock(raw, o.tag)
	if err != nil {
		return fserror.Wrap(fserror.KindIO, err, "compressing block for "+o.logical)
	}
	if _, err := o.file.WriteAt(stored, o.dataOffset); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "writing block for "+o.logical)
	}

	rawOffset := o.written - uint64(len(o.buf))
	o.meta.Blocks = append(o.meta.Blocks, blockEntry{
		RawOffset:  rawOffset,
		RawSize:    uint32(len(raw)),
		DataOffset: o.dataOffset,
		StoredSize: uint32(len(stored)),
		Tag:        tag,
	})
	o.dataOffset += int64(len(stored))
	return nil
}

// Flush implements store.OutHandle. Full blocks already written are
// synced and the sidecar updated; the partial block stays buffered
// until Close so block boundaries remain uniform.
func (o *outFile) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.canceled {
		return nil
	}
	if err := o.file.Sync(); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "syncing data file for "+o.logical)
	}
	o.meta.Length = o.written - uint64(len(o.buf))
	return writeMeta(o.metaPath, &o.meta)
}

// BytesWritten implements store.OutHandle.
func (o *outFile) BytesWritten() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

// Close implements store.OutHandle. Idempotent: the second and later
// calls are no-ops.
//
// The writer deregistration happens after the handle mutex is
// released: Store methods lock the store mutex before a handle's, so
// taking them in the other order here would deadlock.
func (o *outFile) Close() error {
	o.mu.Lock()
	err := o.closeLocked()
	o.mu.Unlock()

	o.store.forget(o.logical, o)
	return err
}

func (o *outFile) closeLocked() error {
	if o.closed {
		return nil
	}
	o.closed = true

	if o.canceled {
		// The path was deleted while this handle was open; the files
		// are gone and completion must not resurrect them.
		return o.file.Close()
	}

	if len(o.buf) > 0 {
		if err := o.emitBlock(o.buf); err != nil {
			o.file.Close()
			return err
		}
		o.buf = o.buf[:0]
	}
	if err := o.file.Sync(); err != nil {
		o.file.Close()
		return fserror.Wrap(fserror.KindIO, err, "syncing data file for "+o.logical)
	}
	if err := o.file.Close(); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "closing data file for "+o.logical)
	}

	sum := o.hasher.Sum(nil)
	o.meta.Length = o.written
	o.meta.Checksum = sum
	o.meta.Completed = true
	return writeMeta(o.metaPath, &o.meta)
}

// cancel marks the handle as deleted-under-writer. Caller holds the
// store mutex, not o.mu; the flag is only read under o.mu afterward.
func (o *outFile) cancel() {
	o.mu.Lock()
	o.canceled = true
	o.mu.Unlock()
}
