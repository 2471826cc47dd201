// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// blockTag identifies the compression algorithm of one stored block.
// Tags are persisted in the sidecar block index — changing the values
// breaks existing stores.
type blockTag uint8

const (
	// tagNone stores the block raw. Selected by the "hot" tier and
	// used as the fallback for incompressible blocks.
	tagNone blockTag = 0

	// tagLZ4 is block-mode LZ4, the "standard" tier. Cheap enough to
	// sit on the write path without throttling sequential streams.
	tagLZ4 blockTag = 1

	// tagZstd is zstd at the default level, the "cold" tier. Better
	// ratios for data written once and read rarely.
	tagZstd blockTag = 2
)

// tierTag maps a WriteOptions storage tier to a block tag. Unknown
// tiers get the standard treatment rather than failing: the tier is a
// pass-through hint, not a schema.
func tierTag(tier string) blockTag {
	switch tier {
	case "hot":
		return tagNone
	case "cold":
		return tagZstd
	default:
		return tagLZ4
	}
}

// errIncompressible signals that compression did not shrink the block;
// the caller stores it raw under tagNone.
var errIncompressible = errors.New("incompressible block")

// zstdEncoder and zstdDecoder are reused across calls. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("localstore: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("localstore: zstd decoder initialization failed: " + err.Error())
	}
}

// compressBlock compresses data with the given tag. It returns the
// bytes to store and the tag they were stored under — the tag degrades
// to tagNone when compression does not pay for itself.
func compressBlock(data []byte, tag blockTag) ([]byte, blockTag, error) {
	switch tag {
	case tagNone:
		return data, tagNone, nil

	case tagLZ4:
		compressed, err := compressLZ4(data)
		if errors.Is(err, errIncompressible) {
			return data, tagNone, nil
		}
		if err != nil {
			return nil, 0, err
		}
		return compressed, tagLZ4, nil

	case tagZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, tagNone, nil
		}
		return compressed, tagZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported block tag: %d", tag)
	}
}

// decompressBlock reverses compressBlock. rawSize must match the
// block's original length exactly; a mismatch is corruption.
func decompressBlock(stored []byte, tag blockTag, rawSize int) ([]byte, error) {
	switch tag {
	case tagNone:
		if len(stored) != rawSize {
			return nil, fmt.Errorf("raw block: size %d does not match expected %d", len(stored), rawSize)
		}
		return stored, nil

	case tagLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil

	case tagZstd:
		destination, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(destination) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), rawSize)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("unsupported block tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input; storing the
	// "compressed" form is also pointless when it is not smaller.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}
