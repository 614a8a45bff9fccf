// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the modelsync wire format shared by the
// probe-side server and the client.
//
// Every message is addressed to one network-visible object. The frame
// is a fixed 10-byte header followed by the payload:
//
//	┌──────────────┬──────────────┬─────────────────────────┐
//	│ Address      │ Type         │ Size                    │
//	│ (u32, BE)    │ (u16, BE)    │ (i32, BE)               │
//	└──────────────┴──────────────┴─────────────────────────┘
//	│ Payload (|Size| bytes)                                │
//	└───────────────────────────────────────────────────────┘
//
// A negative Size marks a compressed payload. Compressed payloads
// start with a one-byte [CompressionTag] and the uncompressed length
// (u32, BE), followed by the compressed block. See [WriteMessage] and
// [ReadMessage].
//
// Payload fields are written in a fixed order per [MessageType] with
// [PayloadEncoder] and read back with [PayloadDecoder]. Collection
// positions travel as [ModelIndex] paths of (row, column) pairs from
// the root; the empty path is the root. Heterogeneous values (item
// data, header data, method and signal arguments) are embedded as
// length-prefixed CBOR blobs produced by lib/codec.
//
// [Announcement] is the UDP discovery datagram a TCP server broadcasts
// so clients on the same network can find it.
package protocol
