// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm of a compressed payload.
// Tags are written as the first byte of every compressed payload;
// the values are protocol constants.
type CompressionTag uint8

const (
	// CompressionNone disables payload compression.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression. The default: model
	// replies are small and latency matters more than ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Better ratio for
	// large text-heavy content replies.
	CompressionZstd CompressionTag = 2
)

// DefaultCompressionThreshold is the payload size below which
// payloads are always sent uncompressed.
const DefaultCompressionThreshold = 32

// compressedHeaderLength is the tag byte plus the u32 uncompressed
// size that precede a compressed block.
const compressedHeaderLength = 5

// errIncompressible is returned when compression would not shrink
// the payload. WriteMessage falls back to the raw payload.
var errIncompressible = errors.New("payload is incompressible")

// String returns the configuration name of the tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression name as used in
// configuration files.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Compression configures payload compression for WriteMessage. The
// zero value disables compression.
type Compression struct {
	Tag CompressionTag

	// Threshold is the minimum payload size worth compressing. Zero
	// means DefaultCompressionThreshold.
	Threshold int
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

// compressPayload returns the tagged compressed form of payload, or
// errIncompressible when it would not be smaller than the input.
func compressPayload(payload []byte, tag CompressionTag) ([]byte, error) {
	var block []byte
	switch tag {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(payload)))
		written, err := lz4.CompressBlock(payload, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 {
			return nil, errIncompressible
		}
		block = destination[:written]
	case CompressionZstd:
		block = zstdEncoder.EncodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}

	if compressedHeaderLength+len(block) >= len(payload) {
		return nil, errIncompressible
	}

	out := make([]byte, compressedHeaderLength+len(block))
	out[0] = byte(tag)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[compressedHeaderLength:], block)
	return out, nil
}

// decompressPayload reverses compressPayload. The uncompressed size
// recorded in the header must match the decoded length exactly.
func decompressPayload(data []byte) ([]byte, error) {
	if len(data) < compressedHeaderLength {
		return nil, fmt.Errorf("compressed payload too short: %d bytes", len(data))
	}
	tag := CompressionTag(data[0])
	size := binary.BigEndian.Uint32(data[1:5])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("uncompressed size %d: %w", size, ErrPayloadTooLarge)
	}
	block := data[compressedHeaderLength:]

	switch tag {
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(block, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != int(size) {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(block, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(destination) != int(size) {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), size)
		}
		return destination, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
