// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/bureau-foundation/modelsync/lib/netutil"
	"github.com/bureau-foundation/modelsync/protocol"
)

var (
	// ErrDuplicateName is returned when an object name is registered
	// twice.
	ErrDuplicateName = errors.New("object name already registered")

	// ErrNotConnected is returned by Send when no peer is attached.
	ErrNotConnected = errors.New("endpoint not connected")

	// ErrUnknownObject is returned for names or addresses missing from
	// the object table.
	ErrUnknownObject = errors.New("unknown object")
)

// Handler processes one inbound message. Handlers run with the
// endpoint's dispatch lock held.
type Handler func(message protocol.Message)

// ObjectInfo is one entry of the object table.
type ObjectInfo struct {
	Name    string
	Address protocol.Address
}

type objectEntry struct {
	name    string
	address protocol.Address
	handler Handler
}

// Endpoint is the state shared by both sides of a connection: the
// object table, the active connection, and dispatch.
type Endpoint struct {
	logger      *slog.Logger
	compression protocol.Compression
	statistics  *Statistics

	dispatchMu sync.Mutex

	mu          sync.Mutex
	byAddress   map[protocol.Address]*objectEntry
	byName      map[string]*objectEntry
	conn        net.Conn
	disconnects []*disconnectEntry

	writeMu sync.Mutex
	writer  *bufio.Writer

	// intercept sees every message before the object handlers and
	// reports whether it consumed it. Set once by Server and Client.
	intercept func(protocol.Message) bool
}

type disconnectEntry struct {
	fn func()
}

func newEndpoint(logger *slog.Logger, compression protocol.Compression, statistics *Statistics) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		logger:      logger,
		compression: compression,
		statistics:  statistics,
		byAddress:   make(map[protocol.Address]*objectEntry),
		byName:      make(map[string]*objectEntry),
	}
}

// Locker returns the dispatch lock. Hold it while touching anything a
// message handler also touches, in particular mirrored collections.
func (e *Endpoint) Locker() sync.Locker { return &e.dispatchMu }

// Logger returns the endpoint's logger.
func (e *Endpoint) Logger() *slog.Logger { return e.logger }

// IsConnected reports whether a peer is attached.
func (e *Endpoint) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// ObjectAddress returns the address registered for name, or
// protocol.InvalidAddress.
func (e *Endpoint) ObjectAddress(name string) protocol.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.byName[name]; ok {
		return entry.address
	}
	return protocol.InvalidAddress
}

// ObjectName returns the name registered at address, or "".
func (e *Endpoint) ObjectName(address protocol.Address) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.byAddress[address]; ok {
		return entry.name
	}
	return ""
}

// Objects returns the object table ordered by address.
func (e *Endpoint) Objects() []ObjectInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objectsLocked()
}

func (e *Endpoint) objectsLocked() []ObjectInfo {
	objects := make([]ObjectInfo, 0, len(e.byAddress))
	for _, entry := range e.byAddress {
		objects = append(objects, ObjectInfo{Name: entry.name, Address: entry.address})
	}
	slices.SortFunc(objects, func(a, b ObjectInfo) int { return int(a.Address) - int(b.Address) })
	return objects
}

// insertLocked adds a table entry. The caller holds e.mu.
func (e *Endpoint) insertLocked(name string, address protocol.Address) (*objectEntry, error) {
	if _, exists := e.byName[name]; exists {
		return nil, fmt.Errorf("%q: %w", name, ErrDuplicateName)
	}
	entry := &objectEntry{name: name, address: address}
	e.byName[name] = entry
	e.byAddress[address] = entry
	return entry, nil
}

// removeLocked drops a table entry. The caller holds e.mu.
func (e *Endpoint) removeLocked(address protocol.Address) *objectEntry {
	entry, ok := e.byAddress[address]
	if !ok {
		return nil
	}
	delete(e.byAddress, address)
	delete(e.byName, entry.name)
	return entry
}

// updateTable runs mutate with the table locked and then writes the
// message it returns, if any, while still holding the write lock. A
// table change and its notification therefore reach the peer in the
// same order as the handshake's object map.
func (e *Endpoint) updateTable(mutate func() (message protocol.Message, notify bool, err error)) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	message, notify, err := mutate()
	conn, writer := e.conn, e.writer
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if notify && conn != nil {
		e.writeLocked(conn, writer, message)
	}
	return nil
}

// RegisterMessageHandler routes messages for address to handler,
// replacing any previous handler.
func (e *Endpoint) RegisterMessageHandler(address protocol.Address, handler Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.byAddress[address]
	if !ok {
		return fmt.Errorf("address %d: %w", address, ErrUnknownObject)
	}
	entry.handler = handler
	return nil
}

// UnregisterMessageHandler removes the handler for address. Messages
// for it are dropped from then on.
func (e *Endpoint) UnregisterMessageHandler(address protocol.Address) {
	e.mu.Lock()
	entry, ok := e.byAddress[address]
	if ok {
		entry.handler = nil
	}
	e.mu.Unlock()
	if ok {
		e.logger.Debug("message handler destroyed", "object", entry.name, "address", address)
	}
}

// OnDisconnect registers fn to run, with the dispatch lock held, each
// time the peer disconnects. The returned function removes it.
func (e *Endpoint) OnDisconnect(fn func()) (remove func()) {
	entry := &disconnectEntry{fn: fn}
	e.mu.Lock()
	e.disconnects = append(e.disconnects, entry)
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.disconnects = slices.DeleteFunc(e.disconnects, func(candidate *disconnectEntry) bool {
			return candidate == entry
		})
	}
}

// Send writes message to the peer. Without a peer the message is
// dropped and ErrNotConnected returned; pushes are best effort, so
// most callers ignore that error. A write failure closes the
// connection, which ends the read loop and runs the disconnect path.
func (e *Endpoint) Send(message protocol.Message) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	conn, writer := e.conn, e.writer
	e.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return e.writeLocked(conn, writer, message)
}

// writeLocked writes and flushes one message. The caller holds
// e.writeMu.
func (e *Endpoint) writeLocked(conn net.Conn, writer *bufio.Writer, message protocol.Message) error {
	err := protocol.WriteMessage(writer, message, e.compression)
	if err == nil {
		err = writer.Flush()
	}
	if err != nil {
		if errors.Is(err, protocol.ErrPayloadTooLarge) || errors.Is(err, protocol.ErrInvalidAddress) {
			e.logger.Warn("dropping unsendable message", "message_type", message.Type.String(), "address", message.Address, "error", err)
			return err
		}
		if netutil.IsExpectedCloseError(err) {
			e.logger.Debug("send on closing connection", "message_type", message.Type.String(), "error", err)
		} else {
			e.logger.Warn("send failed, closing connection", "message_type", message.Type.String(), "error", err)
		}
		conn.Close()
		return err
	}
	e.statistics.sent(message)
	return nil
}

// attach makes conn the active connection. It fails if one is
// already attached. handshake runs after the connection is visible to
// Send and before any other sender can write; it is called with e.mu
// and e.writeMu held and must write through the given function only.
func (e *Endpoint) attach(conn net.Conn, handshake func(write func(protocol.Message) error) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return errAlreadyConnected
	}
	writer := bufio.NewWriter(conn)
	if handshake != nil {
		write := func(message protocol.Message) error { return e.writeLocked(conn, writer, message) }
		if err := handshake(write); err != nil {
			return err
		}
	}
	e.conn = conn
	e.writer = writer
	return nil
}

var errAlreadyConnected = errors.New("endpoint already has a connection")

// detach clears the active connection and runs the disconnect
// callbacks. The caller holds the dispatch lock.
func (e *Endpoint) detach(before func()) {
	e.writeMu.Lock()
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.writer = nil
	callbacks := slices.Clone(e.disconnects)
	e.mu.Unlock()
	e.writeMu.Unlock()
	if conn == nil {
		return
	}
	conn.Close()

	if before != nil {
		before()
	}
	for _, entry := range callbacks {
		entry.fn()
	}
}

// readLoop dispatches messages from reader until it fails. Frames
// with an invalid address or type are skipped; the stream stays
// aligned.
func (e *Endpoint) readLoop(reader *bufio.Reader) error {
	for {
		message, err := protocol.ReadMessage(reader)
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidAddress) || errors.Is(err, protocol.ErrInvalidMessageType) {
				e.logger.Warn("skipping invalid message", "error", err)
				continue
			}
			if netutil.IsExpectedCloseError(err) {
				return nil
			}
			return err
		}
		e.dispatchMu.Lock()
		e.dispatch(message)
		e.dispatchMu.Unlock()
	}
}

// dispatch routes one message. The caller holds the dispatch lock.
func (e *Endpoint) dispatch(message protocol.Message) {
	e.statistics.received(message)
	if e.intercept != nil && e.intercept(message) {
		return
	}
	e.mu.Lock()
	entry := e.byAddress[message.Address]
	var handler Handler
	if entry != nil {
		handler = entry.handler
	}
	e.mu.Unlock()

	if entry == nil {
		e.logger.Debug("message for unknown object", "address", message.Address, "message_type", message.Type.String())
		return
	}
	if handler == nil {
		e.logger.Debug("no handler for object", "object", entry.name, "message_type", message.Type.String())
		return
	}
	handler(message)
}
