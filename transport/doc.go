// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the listening side of a modelsync
// connection and the discovery channel that advertises it.
//
// A [Device] is selected by URL scheme with [NewDevice]:
//
//   - tcp://host:port listens on TCP. Unless bound to a loopback
//     address, the device also owns a UDP socket used to broadcast
//     discovery announcements to 255.255.255.255 on the broadcast
//     port.
//   - local:///path/to/socket listens on a Unix domain socket. A stale
//     socket file left by a previous run is removed before binding, and
//     the socket is made world-connectable so a client running as a
//     different local user can attach.
//
// [Dial] is the client-side counterpart: it accepts the same URLs.
//
// Discovery is two halves. An [Announcer] periodically encodes the
// server's [protocol.Announcement] and hands it to Device.Broadcast. A
// [DiscoveryListener] binds the broadcast port with address sharing
// enabled (several clients on one machine can listen at once), decodes
// announcements, rewrites the announced host to the datagram's sender
// address, and expires servers that stop announcing.
//
// Device errors are returned and also kept as a human-readable string
// (Device.ErrorString) so a probe can report why it is not reachable
// while the inspected process carries on uninstrumented.
package transport
