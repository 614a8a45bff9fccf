// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selection

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	Logger *slog.Logger
}

// Event describes one change to a mirrored selection. Type is
// SelectionModelSelect or SelectionModelCurrent.
type Event struct {
	Type       protocol.MessageType
	Selected   []protocol.ModelIndex
	Deselected []protocol.ModelIndex
	Current    protocol.ModelIndex
	Previous   protocol.ModelIndex
}

// Client mirrors the selection of a remote model. Selected cells are
// kept as wire paths; they follow structural changes when the server
// resends the selection after them.
type Client struct {
	endpoint *endpoint.Client
	mirror   *remotemodel.Client
	name     string
	address  protocol.Address
	logger   *slog.Logger

	mu          sync.Mutex
	cells       map[string]protocol.ModelIndex
	current     protocol.ModelIndex
	subscribers []*subscriber
	stopMirror  func()
	closed      bool
}

type subscriber struct {
	fn func(Event)
}

// NewClient mirrors the selection of the model mirror is attached to.
func NewClient(client *endpoint.Client, mirror *remotemodel.Client, options ClientOptions) (*Client, error) {
	name := ObjectName(mirror.Name())
	address := client.ObjectAddress(name)
	if address == protocol.InvalidAddress {
		return nil, fmt.Errorf("selection %q: %w", name, endpoint.ErrUnknownObject)
	}
	logger := options.Logger
	if logger == nil {
		logger = client.Logger()
	}
	c := &Client{
		endpoint: client,
		mirror:   mirror,
		name:     name,
		address:  address,
		logger:   logger.With("selection", name),
		cells:    make(map[string]protocol.ModelIndex),
	}
	if err := client.RegisterMessageHandler(address, c.handleMessage); err != nil {
		return nil, fmt.Errorf("selection %q: %w", name, err)
	}
	// The server resends the selection after a reset; until then the
	// old paths mean nothing.
	c.stopMirror = mirror.Subscribe(func(change remotemodel.Change) {
		if change.Type == protocol.ModelReset {
			c.clear()
		}
	})
	if err := client.MonitorObject(address, true); err != nil {
		c.stopMirror()
		client.UnregisterMessageHandler(address)
		return nil, fmt.Errorf("monitoring selection %q: %w", name, err)
	}
	return c, nil
}

// Name returns the mirrored selection's object name.
func (c *Client) Name() string { return c.name }

// Close stops mirroring.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.stopMirror()
	c.endpoint.UnregisterMessageHandler(c.address)
	err := c.endpoint.MonitorObject(c.address, false)
	if errors.Is(err, endpoint.ErrNotConnected) {
		return nil
	}
	return err
}

// Subscribe calls fn on the dispatch goroutine for every change
// received from the server.
func (c *Client) Subscribe(fn func(Event)) (unsubscribe func()) {
	entry := &subscriber{fn: fn}
	c.mu.Lock()
	c.subscribers = append(c.subscribers, entry)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subscribers = slices.DeleteFunc(c.subscribers, func(candidate *subscriber) bool { return candidate == entry })
	}
}

func (c *Client) emit(event Event) {
	c.mu.Lock()
	subscribers := slices.Clone(c.subscribers)
	c.mu.Unlock()
	for _, entry := range subscribers {
		entry.fn(event)
	}
}

// IsSelected reports whether the cell at path is selected.
func (c *Client) IsSelected(path protocol.ModelIndex) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cells[path.String()]
	return ok
}

// SelectedIndexes returns the selected cells in path order.
func (c *Client) SelectedIndexes() []protocol.ModelIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedPaths(slices.Collect(maps.Values(c.cells)))
}

// CurrentIndex returns the current cell, or the root path if there is
// none.
func (c *Client) CurrentIndex() protocol.ModelIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// Select applies a selection command locally and sends it to the
// server.
func (c *Client) Select(ranges []Range, flags model.SelectionFlags) error {
	expanded := c.expand(ranges, flags)
	c.mu.Lock()
	c.applyLocked(expanded, nil, flags)
	c.mu.Unlock()

	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(flags))
	writeRanges(payload, ranges)
	writeRanges(payload, nil)
	return c.endpoint.Send(protocol.NewMessage(c.address, protocol.SelectionModelSelect, payload))
}

// SelectIndex applies a selection command to one cell.
func (c *Client) SelectIndex(path protocol.ModelIndex, flags model.SelectionFlags) error {
	return c.Select([]Range{Cell(path)}, flags)
}

// SetCurrentIndex makes path the current cell locally and on the
// server, applying flags to it there.
func (c *Client) SetCurrentIndex(path protocol.ModelIndex, flags model.SelectionFlags) error {
	var expanded []Range
	if flags&^model.Current != model.NoUpdate {
		expanded = c.expand([]Range{Cell(path)}, flags)
	}
	c.mu.Lock()
	c.current = path.Clone()
	if expanded != nil {
		c.applyLocked(expanded, nil, flags)
	}
	c.mu.Unlock()

	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(flags))
	payload.Index(path)
	return c.endpoint.Send(protocol.NewMessage(c.address, protocol.SelectionModelCurrent, payload))
}

// RequestState asks the server to resend the whole selection.
func (c *Client) RequestState() error {
	return c.endpoint.Send(protocol.NewMessage(c.address, protocol.SelectionModelStateRequest, nil))
}

// expand widens ranges to whole rows or columns as far as the mirror
// knows the counts. The server widens the unexpanded ranges with its
// own counts.
func (c *Client) expand(ranges []Range, flags model.SelectionFlags) []Range {
	if flags&(model.Rows|model.Columns) == 0 {
		return ranges
	}
	out := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.TopLeft.IsRoot() || r.BottomRight.IsRoot() {
			continue
		}
		parent := r.TopLeft.Parent()
		top, left := r.TopLeft.Row(), r.TopLeft.Column()
		bottom, right := r.BottomRight.Row(), r.BottomRight.Column()
		if columns := c.mirror.ColumnCount(parent); flags&model.Rows != 0 && columns > 0 {
			left, right = 0, int32(columns-1)
		}
		if rows := c.mirror.RowCount(parent); flags&model.Columns != 0 && rows > 0 {
			top, bottom = 0, int32(rows-1)
		}
		out = append(out, Range{TopLeft: parent.Child(top, left), BottomRight: parent.Child(bottom, right)})
	}
	return out
}

// applyLocked updates the cell set and reports the cells that changed.
func (c *Client) applyLocked(selected, deselected []Range, flags model.SelectionFlags) (added, removed []protocol.ModelIndex) {
	if flags&model.Clear != 0 {
		for key, path := range c.cells {
			removed = append(removed, path)
			delete(c.cells, key)
		}
	} else {
		for _, r := range deselected {
			for _, path := range r.Cells() {
				if c.remove(path) {
					removed = append(removed, path)
				}
			}
		}
	}
	for _, r := range selected {
		for _, path := range r.Cells() {
			switch {
			case flags&model.Toggle != 0:
				if c.remove(path) {
					removed = append(removed, path)
				} else {
					c.cells[path.String()] = path
					added = append(added, path)
				}
			case flags&model.Deselect != 0:
				if c.remove(path) {
					removed = append(removed, path)
				}
			case flags&model.Select != 0:
				if _, ok := c.cells[path.String()]; !ok {
					c.cells[path.String()] = path
					added = append(added, path)
				}
			}
		}
	}
	return added, removed
}

func (c *Client) remove(path protocol.ModelIndex) bool {
	key := path.String()
	if _, ok := c.cells[key]; !ok {
		return false
	}
	delete(c.cells, key)
	return true
}

func (c *Client) clear() {
	c.mu.Lock()
	clear(c.cells)
	c.current = nil
	c.mu.Unlock()
}

func (c *Client) handleMessage(message protocol.Message) {
	decoder := message.Decoder()
	switch message.Type {
	case protocol.SelectionModelSelect:
		flags := model.SelectionFlags(decoder.Uint32())
		selected := readRanges(decoder)
		deselected := readRanges(decoder)
		if err := decoder.Err(); err != nil {
			c.logger.Warn("malformed selection message", "message_type", message.Type.String(), "error", err)
			return
		}
		c.mu.Lock()
		added, removed := c.applyLocked(selected, deselected, flags)
		c.mu.Unlock()
		c.emit(Event{Type: message.Type, Selected: sortedPaths(added), Deselected: sortedPaths(removed)})

	case protocol.SelectionModelCurrent:
		decoder.Uint32()
		current := decoder.Index()
		if err := decoder.Err(); err != nil {
			c.logger.Warn("malformed selection message", "message_type", message.Type.String(), "error", err)
			return
		}
		c.mu.Lock()
		previous := c.current
		c.current = current
		c.mu.Unlock()
		c.emit(Event{Type: message.Type, Current: current, Previous: previous})

	default:
		c.logger.Debug("unexpected selection message", "message_type", message.Type.String())
	}
}

// sortedPaths orders paths depth-first by their steps.
func sortedPaths(paths []protocol.ModelIndex) []protocol.ModelIndex {
	slices.SortFunc(paths, func(a, b protocol.ModelIndex) int {
		for i := range min(len(a), len(b)) {
			if c := cmp.Compare(a[i].Row, b[i].Row); c != 0 {
				return c
			}
			if c := cmp.Compare(a[i].Column, b[i].Column); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a), len(b))
	})
	return paths
}
