// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint implements both ends of a modelsync connection: the
// object table, message dispatch, and the generic forwarding that lets
// any registered object be observed remotely.
//
// A connection carries [protocol.Message] frames addressed to objects.
// The probe side runs a [Server]: objects are registered by name and
// assigned addresses (starting at 2; address 1 is the endpoint object
// itself), and the client is told about every registration. The
// client side runs a [Client], which learns the object map during the
// handshake and keeps it current from ObjectAdded and ObjectRemoved
// messages.
//
// # Dispatch and locking
//
// Each endpoint has one dispatch lock, returned by Locker. Inbound
// messages are handled one at a time with the lock held, in arrival
// order. Code that mutates a mirrored collection must hold the same
// lock, which is what makes change notifications and request handling
// observe a consistent collection. Sends do not take the dispatch lock;
// they are serialized by a separate write lock and reach the wire in
// call order.
//
// # Generic forwarding
//
// Objects registered with [ExportSignals] that implement [Describable]
// and [SignalSource] have every described signal forwarded to the
// client as a SignalEmitted message. The mapping from signal index to
// name is computed once per Go type and cached. Objects registered
// with [ExportProperties] that implement [PropertyReader] answer
// PropertyValuesRequest, and [PropertyNotifier] changes are pushed as
// PropertyChanged. [Invokable] objects receive MethodCall messages.
//
// # Monitoring
//
// A client tells the server which objects it is watching with
// ObjectMonitored and ObjectUnmonitored. The server calls the
// notifiers registered with RegisterMonitorNotifier on each transition
// and, when the client disconnects, calls them with false for every
// watched object before running OnDisconnect callbacks.
package endpoint
