// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bureau-foundation/modelsync/lib/codec"
)

// ErrTruncated is returned by PayloadDecoder when a field extends past
// the end of the payload.
var ErrTruncated = errors.New("payload truncated")

// maxIndexDepth bounds the path length of a decoded ModelIndex.
const maxIndexDepth = 1024

// PayloadEncoder appends big-endian fields to a payload buffer. Value
// encoding failures are sticky: after the first error every further
// write is a no-op and Err returns that error.
type PayloadEncoder struct {
	buffer []byte
	err    error
}

// NewPayloadEncoder returns an empty encoder.
func NewPayloadEncoder() *PayloadEncoder {
	return &PayloadEncoder{buffer: make([]byte, 0, 64)}
}

// Bytes returns the accumulated payload.
func (e *PayloadEncoder) Bytes() []byte { return e.buffer }

// Len returns the number of bytes written so far.
func (e *PayloadEncoder) Len() int { return len(e.buffer) }

// Err returns the first error encountered, if any.
func (e *PayloadEncoder) Err() error { return e.err }

func (e *PayloadEncoder) Uint8(v uint8) {
	if e.err == nil {
		e.buffer = append(e.buffer, v)
	}
}

func (e *PayloadEncoder) Int8(v int8) { e.Uint8(uint8(v)) }

func (e *PayloadEncoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

func (e *PayloadEncoder) Uint16(v uint16) {
	if e.err == nil {
		e.buffer = binary.BigEndian.AppendUint16(e.buffer, v)
	}
}

func (e *PayloadEncoder) Uint32(v uint32) {
	if e.err == nil {
		e.buffer = binary.BigEndian.AppendUint32(e.buffer, v)
	}
}

func (e *PayloadEncoder) Int32(v int32) { e.Uint32(uint32(v)) }

func (e *PayloadEncoder) Uint64(v uint64) {
	if e.err == nil {
		e.buffer = binary.BigEndian.AppendUint64(e.buffer, v)
	}
}

func (e *PayloadEncoder) Int64(v int64) { e.Uint64(uint64(v)) }

// Address writes an object address as u32.
func (e *PayloadEncoder) Address(address Address) { e.Uint32(uint32(address)) }

// Blob writes a u32 length followed by the bytes.
func (e *PayloadEncoder) Blob(data []byte) {
	if e.err != nil {
		return
	}
	if uint64(len(data)) > math.MaxUint32 {
		e.err = fmt.Errorf("blob of %d bytes: %w", len(data), ErrPayloadTooLarge)
		return
	}
	e.Uint32(uint32(len(data)))
	e.buffer = append(e.buffer, data...)
}

// String writes a UTF-8 string as a blob.
func (e *PayloadEncoder) String(s string) {
	if e.err != nil {
		return
	}
	e.Uint32(uint32(len(s)))
	e.buffer = append(e.buffer, s...)
}

// Index writes a ModelIndex as its depth (u32) followed by one
// (row i32, column i32) pair per step.
func (e *PayloadEncoder) Index(index ModelIndex) {
	e.Uint32(uint32(len(index)))
	for _, step := range index {
		e.Int32(step.Row)
		e.Int32(step.Column)
	}
}

// Indexes writes a count (u32) followed by each index.
func (e *PayloadEncoder) Indexes(indexes []ModelIndex) {
	e.Uint32(uint32(len(indexes)))
	for _, index := range indexes {
		e.Index(index)
	}
}

// Value writes v as a CBOR blob. A nil value is written as an empty
// blob and decodes back to nil.
func (e *PayloadEncoder) Value(v any) {
	if e.err != nil {
		return
	}
	if v == nil {
		e.Blob(nil)
		return
	}
	data, err := codec.Marshal(v)
	if err != nil {
		e.err = fmt.Errorf("encode %T value: %w", v, err)
		return
	}
	e.Blob(data)
}

// RawValue writes an already CBOR-encoded value as a blob.
func (e *PayloadEncoder) RawValue(data codec.RawMessage) { e.Blob(data) }

// PayloadDecoder reads fields written by PayloadEncoder in the same
// order. Reads past the end or malformed values set a sticky error
// and return zero values, so handlers read every field and check Err
// once.
type PayloadDecoder struct {
	data   []byte
	offset int
	err    error
}

// NewPayloadDecoder returns a decoder over data.
func NewPayloadDecoder(data []byte) *PayloadDecoder {
	return &PayloadDecoder{data: data}
}

// Err returns the first error encountered, if any.
func (d *PayloadDecoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *PayloadDecoder) Remaining() int { return len(d.data) - d.offset }

// take returns the next n bytes, or nil with the sticky error set.
func (d *PayloadDecoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.err = fmt.Errorf("need %d bytes at offset %d of %d: %w", n, d.offset, len(d.data), ErrTruncated)
		return nil
	}
	out := d.data[d.offset : d.offset+n]
	d.offset += n
	return out
}

func (d *PayloadDecoder) Uint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *PayloadDecoder) Int8() int8 { return int8(d.Uint8()) }

func (d *PayloadDecoder) Bool() bool { return d.Uint8() != 0 }

func (d *PayloadDecoder) Uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *PayloadDecoder) Uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *PayloadDecoder) Int32() int32 { return int32(d.Uint32()) }

func (d *PayloadDecoder) Uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *PayloadDecoder) Int64() int64 { return int64(d.Uint64()) }

func (d *PayloadDecoder) Address() Address { return Address(d.Uint32()) }

// Blob reads a length-prefixed byte slice. The result aliases the
// payload.
func (d *PayloadDecoder) Blob() []byte {
	length := d.Uint32()
	if d.err != nil {
		return nil
	}
	if uint64(length) > uint64(d.Remaining()) {
		d.err = fmt.Errorf("blob of %d bytes at offset %d: %w", length, d.offset, ErrTruncated)
		return nil
	}
	return d.take(int(length))
}

func (d *PayloadDecoder) String() string { return string(d.Blob()) }

// Index reads a ModelIndex.
func (d *PayloadDecoder) Index() ModelIndex {
	depth := d.Uint32()
	if d.err != nil {
		return nil
	}
	if depth > maxIndexDepth || uint64(depth)*8 > uint64(d.Remaining()) {
		d.err = fmt.Errorf("index depth %d at offset %d: %w", depth, d.offset, ErrTruncated)
		return nil
	}
	if depth == 0 {
		return nil
	}
	index := make(ModelIndex, depth)
	for i := range index {
		index[i].Row = d.Int32()
		index[i].Column = d.Int32()
	}
	return index
}

// Count reads a u32 element count and checks that at least
// minimumElementSize bytes per element remain, so a corrupt count
// cannot drive a huge allocation.
func (d *PayloadDecoder) Count(minimumElementSize int) int {
	count := d.Uint32()
	if d.err != nil {
		return 0
	}
	if minimumElementSize > 0 && uint64(count)*uint64(minimumElementSize) > uint64(d.Remaining()) {
		d.err = fmt.Errorf("count %d at offset %d: %w", count, d.offset, ErrTruncated)
		return 0
	}
	return int(count)
}

// Indexes reads a count followed by that many indexes.
func (d *PayloadDecoder) Indexes() []ModelIndex {
	count := d.Count(4)
	if count == 0 {
		return nil
	}
	indexes := make([]ModelIndex, 0, count)
	for range count {
		index := d.Index()
		if d.err != nil {
			return nil
		}
		indexes = append(indexes, index)
	}
	return indexes
}

// Value reads a CBOR blob and decodes it into a dynamically typed
// value. An empty blob is nil.
func (d *PayloadDecoder) Value() any {
	data := d.Blob()
	if d.err != nil || len(data) == 0 {
		return nil
	}
	value, err := codec.DecodeValue(data)
	if err != nil {
		d.err = fmt.Errorf("decode value at offset %d: %w", d.offset, err)
		return nil
	}
	return value
}

// ValueInto reads a CBOR blob and decodes it into target. An empty
// blob leaves target unchanged.
func (d *PayloadDecoder) ValueInto(target any) {
	data := d.Blob()
	if d.err != nil || len(data) == 0 {
		return
	}
	if err := codec.Unmarshal(data, target); err != nil {
		d.err = fmt.Errorf("decode %T at offset %d: %w", target, d.offset, err)
	}
}

// RawValue reads a CBOR blob without decoding it.
func (d *PayloadDecoder) RawValue() codec.RawMessage {
	data := d.Blob()
	if len(data) == 0 {
		return nil
	}
	return codec.RawMessage(data)
}
