// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// ErrIncompatibleAnnouncement is returned when a datagram uses a
// different broadcast format version.
var ErrIncompatibleAnnouncement = errors.New("incompatible announcement format")

// maxAnnouncementSize bounds an encoded announcement so it always fits
// in a single unfragmented datagram.
const maxAnnouncementSize = 1024

// Announcement is the discovery datagram a TCP server broadcasts
// periodically.
type Announcement struct {
	// ProtocolVersion is the server's wire protocol Version. Clients
	// list incompatible servers but refuse to connect to them.
	ProtocolVersion int32

	// URL is the server's connectable URL as the server sees it. For
	// tcp URLs the listener replaces the host with the datagram's
	// source address.
	URL string

	// Label is a human-readable name for the inspected process.
	Label string

	// Instance distinguishes server runs that reuse a URL.
	Instance string
}

// Compatible reports whether a client of this build can connect to
// the announced server.
func (a Announcement) Compatible() bool { return a.ProtocolVersion == Version }

// MarshalBinary encodes the announcement as
// broadcastVersion i32, protocolVersion i32, url, label, instance.
func (a Announcement) MarshalBinary() ([]byte, error) {
	encoder := NewPayloadEncoder()
	encoder.Int32(BroadcastFormatVersion)
	encoder.Int32(a.ProtocolVersion)
	encoder.String(a.URL)
	encoder.String(a.Label)
	encoder.String(a.Instance)
	if encoder.Len() > maxAnnouncementSize {
		return nil, fmt.Errorf("announcement of %d bytes: %w", encoder.Len(), ErrPayloadTooLarge)
	}
	return encoder.Bytes(), encoder.Err()
}

// UnmarshalBinary decodes an announcement datagram.
func (a *Announcement) UnmarshalBinary(data []byte) error {
	decoder := NewPayloadDecoder(data)
	broadcastVersion := decoder.Int32()
	if decoder.Err() == nil && broadcastVersion != BroadcastFormatVersion {
		return fmt.Errorf("broadcast version %d: %w", broadcastVersion, ErrIncompatibleAnnouncement)
	}
	decoded := Announcement{
		ProtocolVersion: decoder.Int32(),
		URL:             decoder.String(),
		Label:           decoder.String(),
		Instance:        decoder.String(),
	}
	if err := decoder.Err(); err != nil {
		return fmt.Errorf("decode announcement: %w", err)
	}
	*a = decoded
	return nil
}
