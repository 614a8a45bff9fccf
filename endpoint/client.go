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
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/transport"
)

// ErrVersionMismatch is returned by Connect when the server speaks a
// different protocol version.
var ErrVersionMismatch = errors.New("protocol version mismatch")

// ClientOptions configures a Client.
type ClientOptions struct {
	Compression protocol.Compression
	Statistics  *Statistics
	Logger      *slog.Logger
}

// Signal is a forwarded signal emission.
type Signal struct {
	Address protocol.Address
	Index   int
	Name    string
	Args    []any
}

// Client is the inspecting end of a connection.
type Client struct {
	*Endpoint

	conn           net.Conn
	serverLabel    string
	serverInstance string

	callbacksMu      sync.Mutex
	registered       []func(name string, address protocol.Address)
	unregistered     []func(name string, address protocol.Address)
	signalHandlers   map[protocol.Address][]*signalHandler
	propertyHandlers map[protocol.Address][]*propertyHandler
	propertyWaiters  map[protocol.Address][]chan map[string]any

	done chan struct{}
	err  error
}

type signalHandler struct{ fn func(Signal) }

type propertyHandler struct{ fn func(name string, value any) }

// Dial connects to the server at rawURL (tcp:// or local://).
func Dial(ctx context.Context, rawURL string, options ClientOptions) (*Client, error) {
	conn, err := transport.Dial(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rawURL, err)
	}
	client, err := Connect(ctx, conn, options)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// Connect runs the client handshake on conn: it reads the server
// version and object map, then starts dispatching in the background.
// On error conn is left open for the caller to close.
func Connect(ctx context.Context, conn net.Conn, options ClientOptions) (*Client, error) {
	client := &Client{
		Endpoint:         newEndpoint(options.Logger, options.Compression, options.Statistics),
		conn:             conn,
		signalHandlers:   make(map[protocol.Address][]*signalHandler),
		propertyHandlers: make(map[protocol.Address][]*propertyHandler),
		propertyWaiters:  make(map[protocol.Address][]chan map[string]any),
		done:             make(chan struct{}),
	}
	client.intercept = client.route

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	reader := bufio.NewReader(conn)
	err := client.handshake(reader)
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, err
	}

	if err := client.attach(conn, nil); err != nil {
		return nil, err
	}
	go client.run(reader)
	return client, nil
}

func (c *Client) handshake(reader *bufio.Reader) error {
	message, err := protocol.ReadMessage(reader)
	if err != nil {
		return fmt.Errorf("reading server version: %w", err)
	}
	c.statistics.received(message)
	if message.Type != protocol.ServerVersion {
		return fmt.Errorf("expected %s, got %s", protocol.ServerVersion, message.Type)
	}
	decoder := message.Decoder()
	version := decoder.Int32()
	c.serverLabel = decoder.String()
	c.serverInstance = decoder.String()
	if err := decoder.Err(); err != nil {
		return fmt.Errorf("decoding server version: %w", err)
	}
	if version != protocol.Version {
		return fmt.Errorf("server speaks version %d, client %d: %w", version, protocol.Version, ErrVersionMismatch)
	}

	message, err = protocol.ReadMessage(reader)
	if err != nil {
		return fmt.Errorf("reading object map: %w", err)
	}
	c.statistics.received(message)
	if message.Type != protocol.ObjectMapReply {
		return fmt.Errorf("expected %s, got %s", protocol.ObjectMapReply, message.Type)
	}
	decoder = message.Decoder()
	count := decoder.Count(8)
	c.mu.Lock()
	defer c.mu.Unlock()
	for range count {
		address := decoder.Address()
		name := decoder.String()
		if decoder.Err() != nil {
			break
		}
		if _, err := c.insertLocked(name, address); err != nil {
			c.logger.Warn("duplicate name in object map", "object", name, "address", address)
		}
	}
	if err := decoder.Err(); err != nil {
		return fmt.Errorf("decoding object map: %w", err)
	}
	return nil
}

func (c *Client) run(reader *bufio.Reader) {
	err := c.readLoop(reader)

	c.dispatchMu.Lock()
	c.detach(c.failWaiters)
	c.dispatchMu.Unlock()

	if err != nil {
		c.logger.Warn("connection to server failed", "error", err)
	} else {
		c.logger.Debug("connection to server closed")
	}
	c.err = err
	close(c.done)
}

// failWaiters releases RequestProperties callers after a disconnect.
func (c *Client) failWaiters() {
	c.callbacksMu.Lock()
	waiters := c.propertyWaiters
	c.propertyWaiters = make(map[protocol.Address][]chan map[string]any)
	c.callbacksMu.Unlock()
	for _, channels := range waiters {
		for _, channel := range channels {
			close(channel)
		}
	}
}

// ServerLabel returns the label the server sent in the handshake.
func (c *Client) ServerLabel() string { return c.serverLabel }

// ServerInstance returns the server's per-run instance identifier.
func (c *Client) ServerInstance() string { return c.serverInstance }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the read error that ended the connection, or nil for a
// clean close. Valid after Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close disconnects and waits for dispatch to stop.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// OnObjectRegistered calls fn, with the dispatch lock held, for each
// object the server registers after the handshake.
func (c *Client) OnObjectRegistered(fn func(name string, address protocol.Address)) {
	c.callbacksMu.Lock()
	c.registered = append(c.registered, fn)
	c.callbacksMu.Unlock()
}

// OnObjectUnregistered calls fn, with the dispatch lock held, for each
// object the server unregisters.
func (c *Client) OnObjectUnregistered(fn func(name string, address protocol.Address)) {
	c.callbacksMu.Lock()
	c.unregistered = append(c.unregistered, fn)
	c.callbacksMu.Unlock()
}

// MonitorObject tells the server whether this client is watching
// address.
func (c *Client) MonitorObject(address protocol.Address, monitored bool) error {
	messageType := protocol.ObjectUnmonitored
	if monitored {
		messageType = protocol.ObjectMonitored
	}
	payload := protocol.NewPayloadEncoder()
	payload.Address(address)
	return c.Send(protocol.NewMessage(protocol.EndpointAddress, messageType, payload))
}

// InvokeObject calls method on the server object registered as name.
func (c *Client) InvokeObject(name, method string, args ...any) error {
	address := c.ObjectAddress(name)
	if address == protocol.InvalidAddress {
		return fmt.Errorf("invoke %s.%s: %w", name, method, ErrUnknownObject)
	}
	payload := protocol.NewPayloadEncoder()
	payload.String(method)
	payload.Value(args)
	if err := payload.Err(); err != nil {
		return fmt.Errorf("invoke %s.%s: %w", name, method, err)
	}
	return c.Send(protocol.NewMessage(address, protocol.MethodCall, payload))
}

// RequestProperties fetches the exported property values of name.
func (c *Client) RequestProperties(ctx context.Context, name string) (map[string]any, error) {
	address := c.ObjectAddress(name)
	if address == protocol.InvalidAddress {
		return nil, fmt.Errorf("properties of %s: %w", name, ErrUnknownObject)
	}
	reply := make(chan map[string]any, 1)
	c.callbacksMu.Lock()
	c.propertyWaiters[address] = append(c.propertyWaiters[address], reply)
	c.callbacksMu.Unlock()

	if err := c.Send(protocol.NewMessage(address, protocol.PropertyValuesRequest, nil)); err != nil {
		c.dropWaiter(address, reply)
		return nil, err
	}
	select {
	case values, ok := <-reply:
		if !ok {
			return nil, ErrNotConnected
		}
		return values, nil
	case <-ctx.Done():
		c.dropWaiter(address, reply)
		return nil, ctx.Err()
	}
}

func (c *Client) dropWaiter(address protocol.Address, reply chan map[string]any) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.propertyWaiters[address] = slices.DeleteFunc(c.propertyWaiters[address], func(candidate chan map[string]any) bool {
		return candidate == reply
	})
}

// SubscribeSignals calls fn, with the dispatch lock held, for every
// signal forwarded from address.
func (c *Client) SubscribeSignals(address protocol.Address, fn func(Signal)) (unsubscribe func()) {
	entry := &signalHandler{fn: fn}
	c.callbacksMu.Lock()
	c.signalHandlers[address] = append(c.signalHandlers[address], entry)
	c.callbacksMu.Unlock()
	return func() {
		c.callbacksMu.Lock()
		defer c.callbacksMu.Unlock()
		c.signalHandlers[address] = slices.DeleteFunc(c.signalHandlers[address], func(candidate *signalHandler) bool {
			return candidate == entry
		})
	}
}

// SubscribePropertyChanges calls fn, with the dispatch lock held, for
// every property change pushed for address.
func (c *Client) SubscribePropertyChanges(address protocol.Address, fn func(name string, value any)) (unsubscribe func()) {
	entry := &propertyHandler{fn: fn}
	c.callbacksMu.Lock()
	c.propertyHandlers[address] = append(c.propertyHandlers[address], entry)
	c.callbacksMu.Unlock()
	return func() {
		c.callbacksMu.Lock()
		defer c.callbacksMu.Unlock()
		c.propertyHandlers[address] = slices.DeleteFunc(c.propertyHandlers[address], func(candidate *propertyHandler) bool {
			return candidate == entry
		})
	}
}

// route handles object map updates and generic object traffic. It
// reports whether message was consumed.
func (c *Client) route(message protocol.Message) bool {
	if message.Address == protocol.EndpointAddress {
		switch message.Type {
		case protocol.ObjectAdded, protocol.ObjectRemoved:
			c.applyObjectUpdate(message)
		default:
			c.logger.Debug("unexpected endpoint message", "message_type", message.Type.String())
		}
		return true
	}

	switch message.Type {
	case protocol.SignalEmitted:
		c.callbacksMu.Lock()
		handlers := slices.Clone(c.signalHandlers[message.Address])
		c.callbacksMu.Unlock()
		if len(handlers) == 0 {
			return false
		}
		decoder := message.Decoder()
		signal := Signal{Address: message.Address, Index: int(decoder.Uint32()), Name: decoder.String()}
		signal.Args, _ = decoder.Value().([]any)
		if err := decoder.Err(); err != nil {
			c.logger.Warn("malformed signal", "address", message.Address, "error", err)
			return true
		}
		for _, handler := range handlers {
			handler.fn(signal)
		}
		return true

	case protocol.PropertyChanged:
		c.callbacksMu.Lock()
		handlers := slices.Clone(c.propertyHandlers[message.Address])
		c.callbacksMu.Unlock()
		if len(handlers) == 0 {
			return false
		}
		decoder := message.Decoder()
		name := decoder.String()
		value := decoder.Value()
		if err := decoder.Err(); err != nil {
			c.logger.Warn("malformed property change", "address", message.Address, "error", err)
			return true
		}
		for _, handler := range handlers {
			handler.fn(name, value)
		}
		return true

	case protocol.PropertyValuesReply:
		c.callbacksMu.Lock()
		waiters := c.propertyWaiters[message.Address]
		var reply chan map[string]any
		if len(waiters) > 0 {
			reply = waiters[0]
			c.propertyWaiters[message.Address] = waiters[1:]
		}
		c.callbacksMu.Unlock()
		if reply == nil {
			return false
		}
		values := make(map[string]any)
		message.Decoder().ValueInto(&values)
		reply <- values
		return true
	}
	return false
}

func (c *Client) applyObjectUpdate(message protocol.Message) {
	decoder := message.Decoder()
	name := decoder.String()
	address := decoder.Address()
	if err := decoder.Err(); err != nil {
		c.logger.Warn("malformed object map update", "message_type", message.Type.String(), "error", err)
		return
	}

	c.mu.Lock()
	var err error
	if message.Type == protocol.ObjectAdded {
		_, err = c.insertLocked(name, address)
	} else if c.removeLocked(address) == nil {
		err = fmt.Errorf("address %d: %w", address, ErrUnknownObject)
	}
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("inconsistent object map update", "message_type", message.Type.String(), "object", name, "error", err)
		return
	}

	c.callbacksMu.Lock()
	callbacks := c.registered
	if message.Type == protocol.ObjectRemoved {
		callbacks = c.unregistered
	}
	callbacks = slices.Clone(callbacks)
	c.callbacksMu.Unlock()
	for _, fn := range callbacks {
		fn(name, address)
	}
}
