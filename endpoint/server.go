// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/lib/codec"
	"github.com/bureau-foundation/modelsync/lib/netutil"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/transport"
)

// firstObjectAddress is the address of the first registered object.
const firstObjectAddress protocol.Address = protocol.EndpointAddress + 1

// ServerOptions configures a Server.
type ServerOptions struct {
	// Label is a human-readable name for the inspected process, sent
	// in the handshake and in discovery announcements.
	Label string

	// Instance distinguishes this server run. Empty means a random
	// UUID.
	Instance string

	Compression protocol.Compression
	Statistics  *Statistics
	Logger      *slog.Logger

	// Announce enables discovery broadcasts while serving a device
	// that supports them.
	Announce         bool
	AnnounceInterval time.Duration

	// Clock drives the announcer. Nil means clock.Real().
	Clock clock.Clock
}

// Server is the probe end of a connection. It owns the address space
// and serves one client at a time.
type Server struct {
	*Endpoint

	label    string
	instance string
	options  ServerOptions

	// Guarded by Endpoint.mu.
	nextAddress   protocol.Address
	registrations map[protocol.Address]*registration
	monitored     map[protocol.Address]bool
	notifiers     map[protocol.Address][]func(bool)

	tablesMu     sync.Mutex
	signalTables map[reflect.Type][]signalDescriptor
}

type registration struct {
	object      any
	export      ExportOptions
	description Description

	mu      sync.Mutex
	closed  bool
	cleanup []func()
	done    chan struct{}
}

// addCleanup records fn to run on unregistration, or runs it now if
// the registration is already gone.
func (r *registration) addCleanup(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		fn()
		return
	}
	r.cleanup = append(r.cleanup, fn)
	r.mu.Unlock()
}

func (r *registration) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cleanup := r.cleanup
	r.cleanup = nil
	r.mu.Unlock()
	close(r.done)
	for _, fn := range cleanup {
		fn()
	}
}

type signalDescriptor struct {
	index int
	name  string
}

// NewServer returns a server with only the endpoint object
// registered.
func NewServer(options ServerOptions) *Server {
	if options.Instance == "" {
		options.Instance = uuid.NewString()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	server := &Server{
		Endpoint:      newEndpoint(options.Logger, options.Compression, options.Statistics),
		label:         options.Label,
		instance:      options.Instance,
		options:       options,
		nextAddress:   firstObjectAddress,
		registrations: make(map[protocol.Address]*registration),
		monitored:     make(map[protocol.Address]bool),
		notifiers:     make(map[protocol.Address][]func(bool)),
		signalTables:  make(map[reflect.Type][]signalDescriptor),
	}
	server.insertLocked(protocol.EndpointObjectName, protocol.EndpointAddress)
	server.intercept = server.route
	return server
}

// Label returns the server label.
func (s *Server) Label() string { return s.label }

// Instance returns the per-run instance identifier.
func (s *Server) Instance() string { return s.instance }

// RegisterObject assigns the next address to name. object may be nil
// for objects that only handle messages; otherwise its exported
// signals and properties are forwarded as export selects. A connected
// client is sent ObjectAdded.
//
// Objects implementing model.Destroyable are unregistered when their
// Destroyed channel closes.
func (s *Server) RegisterObject(name string, object any, export ExportOptions) (protocol.Address, error) {
	reg := &registration{object: object, export: export, done: make(chan struct{})}
	if describable, ok := object.(Describable); ok {
		reg.description = describable.Describe()
	}

	var address protocol.Address
	err := s.updateTable(func() (protocol.Message, bool, error) {
		address = s.nextAddress
		if _, err := s.insertLocked(name, address); err != nil {
			return protocol.Message{}, false, err
		}
		s.nextAddress++
		s.registrations[address] = reg

		payload := protocol.NewPayloadEncoder()
		payload.String(name)
		payload.Address(address)
		return protocol.NewMessage(protocol.EndpointAddress, protocol.ObjectAdded, payload), true, nil
	})
	if err != nil {
		return protocol.InvalidAddress, fmt.Errorf("registering object: %w", err)
	}
	s.logger.Debug("object registered", "object", name, "address", address, "export", export.String())

	s.export(name, address, reg)
	if destroyable, ok := object.(model.Destroyable); ok {
		go s.watchDestroyed(name, address, destroyable, reg.done)
	}
	return address, nil
}

func (s *Server) watchDestroyed(name string, address protocol.Address, destroyable model.Destroyable, done <-chan struct{}) {
	select {
	case <-destroyable.Destroyed():
		s.logger.Debug("registered object destroyed", "object", name, "address", address)
		if err := s.unregister(name, address); err != nil && !errors.Is(err, ErrUnknownObject) {
			s.logger.Warn("unregistering destroyed object", "object", name, "error", err)
		}
	case <-done:
	}
}

// UnregisterObject releases name's address, stops its forwarding and
// tells a connected client with ObjectRemoved.
func (s *Server) UnregisterObject(name string) error {
	return s.unregister(name, protocol.InvalidAddress)
}

// unregister removes name. If address is valid the entry must still
// be at that address, so a destroyed object cannot unregister a newer
// registration of the same name.
func (s *Server) unregister(name string, address protocol.Address) error {
	var reg *registration
	err := s.updateTable(func() (protocol.Message, bool, error) {
		entry, ok := s.byName[name]
		if !ok || (address != protocol.InvalidAddress && entry.address != address) {
			return protocol.Message{}, false, fmt.Errorf("%q: %w", name, ErrUnknownObject)
		}
		if entry.address == protocol.EndpointAddress {
			return protocol.Message{}, false, fmt.Errorf("%q is the endpoint object", name)
		}
		address = entry.address
		s.removeLocked(address)
		reg = s.registrations[address]
		delete(s.registrations, address)
		delete(s.monitored, address)
		delete(s.notifiers, address)

		payload := protocol.NewPayloadEncoder()
		payload.String(name)
		payload.Address(address)
		return protocol.NewMessage(protocol.EndpointAddress, protocol.ObjectRemoved, payload), true, nil
	})
	if err != nil {
		return err
	}
	if reg != nil {
		reg.close()
	}
	s.logger.Debug("object unregistered", "object", name, "address", address)
	return nil
}

// RegisterMonitorNotifier calls notifier with true when the client
// starts watching address and false when it stops or disconnects.
func (s *Server) RegisterMonitorNotifier(address protocol.Address, notifier func(monitored bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byAddress[address]; !ok {
		return fmt.Errorf("address %d: %w", address, ErrUnknownObject)
	}
	s.notifiers[address] = append(s.notifiers[address], notifier)
	return nil
}

// IsMonitored reports whether the client is watching address.
func (s *Server) IsMonitored(address protocol.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitored[address]
}

func (s *Server) setMonitored(address protocol.Address, monitored bool) {
	s.mu.Lock()
	if _, ok := s.byAddress[address]; !ok {
		s.mu.Unlock()
		s.logger.Debug("monitor request for unknown object", "address", address)
		return
	}
	if s.monitored[address] == monitored {
		s.mu.Unlock()
		return
	}
	if monitored {
		s.monitored[address] = true
	} else {
		delete(s.monitored, address)
	}
	notifiers := slices.Clone(s.notifiers[address])
	s.mu.Unlock()

	s.logger.Debug("object monitor state", "address", address, "monitored", monitored)
	for _, notifier := range notifiers {
		notifier(monitored)
	}
}

// InvokeObject calls method on the peer's counterpart of name. With no
// client connected, an Invokable object registered under name is
// invoked in-process instead.
func (s *Server) InvokeObject(name, method string, args ...any) error {
	s.mu.Lock()
	entry := s.byName[name]
	var reg *registration
	if entry != nil {
		reg = s.registrations[entry.address]
	}
	connected := s.conn != nil
	s.mu.Unlock()
	if entry == nil {
		return fmt.Errorf("invoke %s.%s: %w", name, method, ErrUnknownObject)
	}

	if !connected {
		if invokable, ok := objectOf(reg).(Invokable); ok {
			return invokable.Invoke(method, args)
		}
		return ErrNotConnected
	}
	payload := protocol.NewPayloadEncoder()
	payload.String(method)
	payload.Value(args)
	if err := payload.Err(); err != nil {
		return fmt.Errorf("invoke %s.%s: %w", name, method, err)
	}
	return s.Send(protocol.NewMessage(entry.address, protocol.MethodCall, payload))
}

func objectOf(reg *registration) any {
	if reg == nil {
		return nil
	}
	return reg.object
}

// signalTable returns the signal descriptors for object's type,
// building them from description on first use.
func (s *Server) signalTable(object any, description Description) []signalDescriptor {
	objectType := reflect.TypeOf(object)
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	if table, ok := s.signalTables[objectType]; ok {
		return table
	}
	table := make([]signalDescriptor, len(description.Signals))
	for index, name := range description.Signals {
		table[index] = signalDescriptor{index: index, name: name}
	}
	s.signalTables[objectType] = table
	return table
}

// export installs the forwarding export asks for.
func (s *Server) export(name string, address protocol.Address, reg *registration) {
	if reg.export&ExportSignals != 0 {
		source, isSource := reg.object.(SignalSource)
		_, isDescribable := reg.object.(Describable)
		if isSource && isDescribable {
			for _, signal := range s.signalTable(reg.object, reg.description) {
				disconnect := source.ConnectSignal(signal.index, func(args []any) {
					s.forwardSignal(address, signal, args)
				})
				reg.addCleanup(disconnect)
			}
		} else {
			s.logger.Debug("object has no describable signals", "object", name)
		}
	}
	if reg.export&ExportProperties != 0 {
		if notifier, ok := reg.object.(PropertyNotifier); ok {
			stop := notifier.NotifyPropertyChanges(func(property string, value any) {
				s.forwardProperty(address, reg, property, value)
			})
			reg.addCleanup(stop)
		}
	}
}

func (s *Server) forwardSignal(address protocol.Address, signal signalDescriptor, args []any) {
	if !s.IsConnected() {
		return
	}
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(signal.index))
	payload.String(signal.name)
	payload.Value(args)
	if err := payload.Err(); err != nil {
		s.logger.Debug("dropping unserializable signal", "address", address, "signal", signal.name, "error", err)
		return
	}
	s.Send(protocol.NewMessage(address, protocol.SignalEmitted, payload))
}

func (s *Server) forwardProperty(address protocol.Address, reg *registration, property string, value any) {
	if !s.IsConnected() || !exportsProperty(reg.description, property) {
		return
	}
	if err := codec.Probe(value); err != nil {
		s.logger.Debug("dropping unserializable property", "address", address, "property", property, "error", err)
		return
	}
	payload := protocol.NewPayloadEncoder()
	payload.String(property)
	payload.Value(value)
	s.Send(protocol.NewMessage(address, protocol.PropertyChanged, payload))
}

// exportsProperty reports whether a property is part of the described
// surface. Objects that describe no properties export all of them.
func exportsProperty(description Description, property string) bool {
	return len(description.Properties) == 0 || slices.Contains(description.Properties, property)
}

// propertyValues returns the exportable, serializable properties.
func propertyValues(reg *registration, reader PropertyReader) map[string]any {
	values := make(map[string]any)
	for property, value := range reader.Properties() {
		if !exportsProperty(reg.description, property) || codec.Probe(value) != nil {
			continue
		}
		values[property] = value
	}
	return values
}

// route handles endpoint-object traffic and generic object traffic.
// It reports whether message was consumed.
func (s *Server) route(message protocol.Message) bool {
	if message.Address == protocol.EndpointAddress {
		switch message.Type {
		case protocol.ObjectMonitored, protocol.ObjectUnmonitored:
			decoder := message.Decoder()
			address := decoder.Address()
			if err := decoder.Err(); err != nil {
				s.logger.Warn("malformed monitor request", "error", err)
				return true
			}
			s.setMonitored(address, message.Type == protocol.ObjectMonitored)
		default:
			s.logger.Debug("unexpected endpoint message", "message_type", message.Type.String())
		}
		return true
	}

	switch message.Type {
	case protocol.MethodCall, protocol.PropertyValuesRequest:
	default:
		return false
	}
	s.mu.Lock()
	reg := s.registrations[message.Address]
	s.mu.Unlock()
	if reg == nil {
		return false
	}

	switch message.Type {
	case protocol.MethodCall:
		invokable, ok := reg.object.(Invokable)
		if !ok {
			return false
		}
		decoder := message.Decoder()
		method := decoder.String()
		arguments := decoder.Value()
		if err := decoder.Err(); err != nil {
			s.logger.Warn("malformed method call", "address", message.Address, "error", err)
			return true
		}
		if len(reg.description.Methods) > 0 && !slices.Contains(reg.description.Methods, method) {
			s.logger.Warn("call of undescribed method", "address", message.Address, "method", method)
			return true
		}
		args, _ := arguments.([]any)
		if err := invokable.Invoke(method, args); err != nil {
			s.logger.Warn("method call failed", "address", message.Address, "method", method, "error", err)
		}
		return true

	case protocol.PropertyValuesRequest:
		reader, ok := reg.object.(PropertyReader)
		if !ok || reg.export&ExportProperties == 0 {
			return false
		}
		payload := protocol.NewPayloadEncoder()
		payload.Value(propertyValues(reg, reader))
		s.Send(protocol.NewMessage(message.Address, protocol.PropertyValuesReply, payload))
		return true
	}
	return false
}

// handshake writes ServerVersion and the object map.
func (s *Server) handshake(write func(protocol.Message) error) error {
	version := protocol.NewPayloadEncoder()
	version.Int32(protocol.Version)
	version.String(s.label)
	version.String(s.instance)
	if err := write(protocol.NewMessage(protocol.EndpointAddress, protocol.ServerVersion, version)); err != nil {
		return err
	}

	objects := s.objectsLocked()
	objectMap := protocol.NewPayloadEncoder()
	objectMap.Uint32(uint32(len(objects)))
	for _, object := range objects {
		objectMap.Address(object.Address)
		objectMap.String(object.Name)
	}
	return write(protocol.NewMessage(protocol.EndpointAddress, protocol.ObjectMapReply, objectMap))
}

// ServeConn runs one client connection until it ends or ctx is done.
// A second concurrent connection is refused and closed.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	if err := s.attach(conn, s.handshake); err != nil {
		conn.Close()
		if errors.Is(err, errAlreadyConnected) {
			s.logger.Warn("refusing connection, a client is already attached", "remote", remoteAddress(conn))
		}
		return err
	}
	s.logger.Info("client connected", "remote", remoteAddress(conn))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err := s.readLoop(bufio.NewReader(conn))

	s.dispatchMu.Lock()
	s.detach(s.resetMonitors)
	s.dispatchMu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Warn("client connection failed", "error", err)
		return err
	}
	s.logger.Info("client disconnected")
	return nil
}

func remoteAddress(conn net.Conn) string {
	if address := conn.RemoteAddr(); address != nil {
		return address.String()
	}
	return ""
}

// resetMonitors drops every monitor flag, notifying with false.
func (s *Server) resetMonitors() {
	s.mu.Lock()
	var calls []func(bool)
	for address := range s.monitored {
		calls = append(calls, s.notifiers[address]...)
	}
	clear(s.monitored)
	s.mu.Unlock()
	for _, notifier := range calls {
		notifier(false)
	}
}

// Serve listens on device and serves clients until ctx is done. A
// listen failure is returned; the device's ErrorString keeps the
// reason for display.
func (s *Server) Serve(ctx context.Context, device transport.Device) error {
	if err := device.Listen(); err != nil {
		return err
	}
	defer device.Close()

	var connections sync.WaitGroup
	defer connections.Wait()

	// Cancelling also ends the active connection and the announcer
	// when Serve returns early on an accept error.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		device.Close()
	}()

	if s.options.Announce {
		announcer := transport.NewAnnouncer(device, transport.AnnouncerOptions{
			Label:    s.label,
			Instance: s.instance,
			Interval: s.options.AnnounceInterval,
			Clock:    s.options.Clock,
			Logger:   s.logger,
		})
		go announcer.Run(ctx)
	}

	for {
		conn, err := device.Accept()
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		connections.Add(1)
		go func() {
			defer connections.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}
