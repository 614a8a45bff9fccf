// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration for every
// heterogeneous value that crosses a modelsync connection: item and
// header data in model replies, method and signal arguments, and
// property values.
//
// Fixed-layout protocol fields (addresses, rows, counts) are written
// by protocol.PayloadEncoder directly. Only the values whose type is
// decided by the application go through this package, embedded in
// the payload as length-prefixed CBOR blobs.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so
// the same value always produces identical bytes. The decoder turns
// maps into map[string]any and integers into int64, which keeps
// decoded values comparable with what the server side held:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// [Probe] trial-encodes a value into a reusable scratch buffer
// without keeping the result. The remote model server uses it for
// values whose encodability cannot be decided from the type alone.
package codec
