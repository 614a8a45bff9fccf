// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding: sorted map keys, smallest integer encoding, no
// indefinite-length items.
var encMode cbor.EncMode

// decMode decodes into the concrete types listed in the package
// documentation when the target is any.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Types implementing encoding.TextMarshaler serialize as text
	// strings. Without this, structs with only unexported fields would
	// serialize as empty maps and arrive as nothing.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// Timestamps in item data keep their sub-second precision.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Item data maps always have string keys. The CBOR default of
		// map[interface{}]interface{} is incompatible with most Go
		// code that consumes decoded values.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// A row count of 3 must decode as the same Go value whether
		// the server held an int or an int64.
		IntDec:          cbor.IntDecConvertSigned,
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// DecodeValue decodes a CBOR blob into a dynamically typed value.
// An empty blob decodes to nil.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value any
	if err := decMode.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// scratchPool holds buffers for Probe. A probe's output is discarded,
// so the buffer is reset and reused across calls.
var scratchPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Probe trial-encodes v and reports the encoder's error, if any. The
// encoded bytes are discarded.
func Probe(v any) error {
	buffer := scratchPool.Get().(*bytes.Buffer)
	buffer.Reset()
	defer scratchPool.Put(buffer)
	return encMode.NewEncoder(buffer).Encode(v)
}

var (
	cborMarshalerType   = reflect.TypeFor[cbor.Marshaler]()
	binaryMarshalerType = reflect.TypeFor[encoding.BinaryMarshaler]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
)

// HasCustomEncoding reports whether values of t (or pointers to them)
// encode through their own marshal method rather than by shape. Such
// values can fail to encode depending on their contents.
func HasCustomEncoding(t reflect.Type) bool {
	pointer := reflect.PointerTo(t)
	for _, marshaler := range []reflect.Type{cborMarshalerType, binaryMarshalerType, textMarshalerType} {
		if t.Implements(marshaler) || pointer.Implements(marshaler) {
			return true
		}
	}
	return false
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value. It can be used to delay
// decoding or to embed pre-encoded output.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// entire contents of data. The client CLI prints values this way.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
