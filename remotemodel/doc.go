// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotemodel mirrors a [model.Collection] from a probe to a
// client.
//
// [Server] registers a collection under a name on an endpoint server.
// It pushes structural changes (rows and columns added, removed or
// moved, layout changes, content changes, resets) but never the
// collection's contents: the client pulls row counts, cell data and
// header data on demand, in batches. Pushes are only sent while a
// client monitors the model, and the server is only subscribed to the
// collection's notifications while it is monitored.
//
// Wire indexes are paths of (row, column) steps from the root. The
// server computes them from parent walks and resolves them again for
// every request, so an index that no longer resolves is skipped
// rather than failing the request.
//
// [Client] is the mirror: a lazily populated cache of counts, cells
// and headers that requests what it is asked for and applies pushes in
// order. After a reset it discards replies until the sync barrier it
// sent with the reset comes back, so replies to requests made before
// the reset never land in the new cache.
//
// Both sides run their protocol work under the owning endpoint's
// dispatch lock ([endpoint.Endpoint.Locker]). Code that mutates a
// served collection holds the same lock.
package remotemodel
