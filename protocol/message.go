// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// headerLength is the fixed size of a frame header: address (u32),
// type (u16), size (i32).
const headerLength = 10

// MaxPayloadSize bounds the payload of a single message, compressed
// or not. Content replies for wide trees are the largest messages;
// 64 MiB is far beyond any realistic batch.
const MaxPayloadSize = 64 * 1024 * 1024

var (
	// ErrPayloadTooLarge is returned when a frame announces a payload
	// larger than MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrInvalidAddress is returned when a frame carries the reserved
	// address 0.
	ErrInvalidAddress = errors.New("invalid object address")

	// ErrInvalidMessageType is returned for frames of unknown type.
	ErrInvalidMessageType = errors.New("invalid message type")
)

// Message is a single protocol message addressed to one object.
type Message struct {
	Address Address
	Type    MessageType
	Payload []byte
}

// NewMessage builds a message from an encoder's accumulated payload.
// A nil encoder yields an empty payload.
func NewMessage(address Address, messageType MessageType, payload *PayloadEncoder) Message {
	message := Message{Address: address, Type: messageType}
	if payload != nil {
		message.Payload = payload.Bytes()
	}
	return message
}

// Decoder returns a PayloadDecoder over the message payload.
func (m Message) Decoder() *PayloadDecoder {
	return NewPayloadDecoder(m.Payload)
}

// Size returns the number of bytes the message occupies on the wire
// when written without compression.
func (m Message) Size() int {
	return headerLength + len(m.Payload)
}

// WriteMessage writes a framed message to w. Payloads at or above the
// compression threshold are compressed with the configured algorithm
// when that makes them smaller; the size field is then negated.
//
// The header and payload are assembled into a single buffer and
// written with one Write call so concurrent writers serialized by the
// caller never interleave partial frames.
func WriteMessage(w io.Writer, message Message, compression Compression) error {
	if message.Address == InvalidAddress {
		return fmt.Errorf("write %s: %w", message.Type, ErrInvalidAddress)
	}
	if !message.Type.Valid() {
		return fmt.Errorf("write type %d: %w", uint16(message.Type), ErrInvalidMessageType)
	}
	if len(message.Payload) > MaxPayloadSize {
		return fmt.Errorf("write %s (%d bytes): %w", message.Type, len(message.Payload), ErrPayloadTooLarge)
	}

	payload := message.Payload
	compressed := false
	threshold := compression.Threshold
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	if compression.Tag != CompressionNone && len(payload) >= threshold {
		packed, err := compressPayload(payload, compression.Tag)
		switch {
		case err == nil:
			payload = packed
			compressed = true
		case errors.Is(err, errIncompressible):
		default:
			return fmt.Errorf("write %s: %w", message.Type, err)
		}
	}

	size := int32(len(payload))
	if compressed {
		size = -size
	}

	frame := make([]byte, headerLength+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(message.Address))
	binary.BigEndian.PutUint16(frame[4:6], uint16(message.Type))
	binary.BigEndian.PutUint32(frame[6:10], uint32(size))
	copy(frame[headerLength:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", message.Type, err)
	}
	return nil
}

// ReadMessage reads one framed message from r, decompressing the
// payload if the size field is negative. Errors from the underlying
// reader are wrapped, so io.EOF at a frame boundary is detectable
// with errors.Is.
func ReadMessage(r io.Reader) (Message, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}

	address := Address(binary.BigEndian.Uint32(header[0:4]))
	messageType := MessageType(binary.BigEndian.Uint16(header[4:6]))
	size := int32(binary.BigEndian.Uint32(header[6:10]))

	compressed := size < 0
	length := int64(size)
	if compressed {
		length = -length
	}
	if length > MaxPayloadSize {
		return Message{}, fmt.Errorf("read %s (%d bytes): %w", messageType, length, ErrPayloadTooLarge)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("read %s payload: %w", messageType, err)
		}
	}

	// The payload is consumed before validating address and type so a
	// caller that chooses to skip a bad frame stays aligned on the
	// stream.
	if address == InvalidAddress {
		return Message{}, fmt.Errorf("read %s: %w", messageType, ErrInvalidAddress)
	}
	if !messageType.Valid() {
		return Message{}, fmt.Errorf("read type %d: %w", uint16(messageType), ErrInvalidMessageType)
	}

	if compressed {
		decompressed, err := decompressPayload(payload)
		if err != nil {
			return Message{}, fmt.Errorf("read %s: %w", messageType, err)
		}
		payload = decompressed
	}

	return Message{Address: address, Type: messageType, Payload: payload}, nil
}
