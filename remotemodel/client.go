// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// DefaultBatchInterval is how long a Client collects requests before
// sending them as one batch.
const DefaultBatchInterval = 5 * time.Millisecond

// Count states of a node before its counts are known.
const (
	countUnknown   = -1
	countRequested = -2
)

type cellState uint8

const (
	cellUnknown cellState = iota
	cellRequested
	cellLoaded
	// cellEmpty: requested but the server had nothing for it.
	cellEmpty
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// BatchInterval is the delay before queued requests are sent.
	// Zero means DefaultBatchInterval; negative disables the timer,
	// leaving requests queued until Flush or Checkpoint.
	BatchInterval time.Duration

	// Clock drives the batch timer. Nil means clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Change describes one update applied to a Client's cache. Type is
// the message that caused it.
//
// For row and column changes Parent is the parent path and First and
// Last the affected range; moves also set Destination and
// DestinationIndex. ModelContentChanged sets Parent and BottomRight to
// the corners of the changed block and Roles to the changed roles.
// ModelContentReply sets Parent to the loaded cell.
// ModelRowColumnCountReply sets Parent to the node and Last to its
// last row. ModelHeaderChanged and ModelHeaderReply set Orientation
// and the section range.
type Change struct {
	Type             protocol.MessageType
	Parent           protocol.ModelIndex
	First            int
	Last             int
	Destination      protocol.ModelIndex
	DestinationIndex int
	BottomRight      protocol.ModelIndex
	Roles            []model.Role
	Orientation      model.Orientation
}

// Client mirrors a remote model. Queries answer from the cache and
// queue requests for whatever is missing; subscribers learn when the
// answers arrive. Queries are safe for concurrent use.
type Client struct {
	endpoint      *endpoint.Client
	name          string
	address       protocol.Address
	logger        *slog.Logger
	clock         clock.Clock
	batchInterval time.Duration

	mu      sync.Mutex
	root    *node
	headers map[headerKey]map[int]any
	// requestedHeaders holds header sections asked for but not yet
	// answered.
	requestedHeaders map[headerKey]bool

	pendingCounts  []protocol.ModelIndex
	pendingContent []protocol.ModelIndex
	pendingHeaders []headerKey
	flushTimer     *clock.Timer

	nextBarrier    uint32
	resetTarget    uint32
	currentBarrier uint32
	barrierWaiters map[uint32]chan struct{}

	subscribers []*subscriber
	closed      bool
}

type subscriber struct {
	fn func(Change)
}

type headerKey struct {
	orientation model.Orientation
	section     int
}

// node is one cached row (or the root). Only column 0 rows have
// children.
type node struct {
	rows     int
	columns  int
	children []*node
	cells    map[int]*cell
}

type cell struct {
	state cellState
	data  map[int]any
	flags model.ItemFlags
}

func newNode() *node {
	return &node{rows: countUnknown, columns: countUnknown}
}

// NewClient mirrors the model registered as name on the server client
// is connected to, and starts monitoring it.
func NewClient(client *endpoint.Client, name string, options ClientOptions) (*Client, error) {
	address := client.ObjectAddress(name)
	if address == protocol.InvalidAddress {
		return nil, fmt.Errorf("model %q: %w", name, endpoint.ErrUnknownObject)
	}
	if options.BatchInterval == 0 {
		options.BatchInterval = DefaultBatchInterval
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = client.Logger()
	}
	c := &Client{
		endpoint:         client,
		name:             name,
		address:          address,
		logger:           logger.With("model", name),
		clock:            options.Clock,
		batchInterval:    options.BatchInterval,
		root:             newNode(),
		headers:          make(map[headerKey]map[int]any),
		requestedHeaders: make(map[headerKey]bool),
		barrierWaiters:   make(map[uint32]chan struct{}),
	}
	if err := client.RegisterMessageHandler(address, c.handleMessage); err != nil {
		return nil, fmt.Errorf("model %q: %w", name, err)
	}
	if err := client.MonitorObject(address, true); err != nil {
		client.UnregisterMessageHandler(address)
		return nil, fmt.Errorf("monitoring model %q: %w", name, err)
	}
	return c, nil
}

// Name returns the mirrored model's name.
func (c *Client) Name() string { return c.name }

// Address returns the mirrored model's object address.
func (c *Client) Address() protocol.Address { return c.address }

// Close stops monitoring the model and releases waiters.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	for id, waiter := range c.barrierWaiters {
		close(waiter)
		delete(c.barrierWaiters, id)
	}
	c.mu.Unlock()

	c.endpoint.UnregisterMessageHandler(c.address)
	err := c.endpoint.MonitorObject(c.address, false)
	if errors.Is(err, endpoint.ErrNotConnected) {
		return nil
	}
	return err
}

// Subscribe calls fn for every change applied to the cache. fn runs
// on the dispatch goroutine, after the cache is updated and without
// the client's lock held, so it may query the client.
func (c *Client) Subscribe(fn func(Change)) (unsubscribe func()) {
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

func (c *Client) emit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	c.mu.Lock()
	subscribers := slices.Clone(c.subscribers)
	c.mu.Unlock()
	for _, change := range changes {
		for _, entry := range subscribers {
			entry.fn(change)
		}
	}
}

// lookup returns the cached node at path, or nil if the path runs
// through rows the cache does not know. The caller holds c.mu.
func (c *Client) lookup(path protocol.ModelIndex) *node {
	current := c.root
	for _, step := range path {
		if step.Column != 0 || current.rows < 0 || int(step.Row) >= len(current.children) || step.Row < 0 {
			return nil
		}
		child := current.children[step.Row]
		if child == nil {
			child = newNode()
			current.children[step.Row] = child
		}
		current = child
	}
	return current
}

// lookupCell returns the cell at path, creating an unknown entry for
// cells of known rows. The caller holds c.mu.
func (c *Client) lookupCell(path protocol.ModelIndex) *cell {
	if path.IsRoot() {
		return nil
	}
	parent := c.lookup(path.Parent())
	if parent == nil || parent.rows < 0 {
		return nil
	}
	row, column := int(path.Row()), int(path.Column())
	if row < 0 || row >= len(parent.children) || column < 0 {
		return nil
	}
	if parent.columns >= 0 && column >= parent.columns {
		return nil
	}
	rowNode := parent.children[row]
	if rowNode == nil {
		rowNode = newNode()
		parent.children[row] = rowNode
	}
	if rowNode.cells == nil {
		rowNode.cells = make(map[int]*cell)
	}
	entry := rowNode.cells[column]
	if entry == nil {
		entry = &cell{}
		rowNode.cells[column] = entry
	}
	return entry
}

// RowCount returns the number of rows below path, or 0 while unknown.
// An unknown count is requested.
func (c *Client) RowCount(path protocol.ModelIndex) int {
	if !path.IsRoot() && path.Column() != 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.lookup(path)
	if current == nil {
		return 0
	}
	c.requestCountsLocked(path, current)
	return max(current.rows, 0)
}

// ColumnCount returns the number of columns below path, or 0 while
// unknown. An unknown count is requested.
func (c *Client) ColumnCount(path protocol.ModelIndex) int {
	if !path.IsRoot() && path.Column() != 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.lookup(path)
	if current == nil {
		return 0
	}
	c.requestCountsLocked(path, current)
	return max(current.columns, 0)
}

// Data returns one role of the cell at path, or nil while unknown. An
// unknown cell is requested.
func (c *Client) Data(path protocol.ModelIndex, role model.Role) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.lookupCell(path)
	if entry == nil {
		return nil
	}
	c.requestCellLocked(path, entry)
	return entry.data[int(role)]
}

// ItemData returns every cached role of the cell at path.
func (c *Client) ItemData(path protocol.ModelIndex) map[model.Role]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.lookupCell(path)
	if entry == nil {
		return nil
	}
	c.requestCellLocked(path, entry)
	if len(entry.data) == 0 {
		return nil
	}
	out := make(map[model.Role]any, len(entry.data))
	for role, value := range entry.data {
		out[model.Role(role)] = value
	}
	return out
}

// Flags returns the flags of the cell at path, or 0 while unknown.
func (c *Client) Flags(path protocol.ModelIndex) model.ItemFlags {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.lookupCell(path)
	if entry == nil {
		return 0
	}
	c.requestCellLocked(path, entry)
	return entry.flags
}

// IsLoaded reports whether the cell at path has been answered.
func (c *Client) IsLoaded(path protocol.ModelIndex) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.lookupCell(path)
	return entry != nil && (entry.state == cellLoaded || entry.state == cellEmpty)
}

// HeaderData returns one role of a header section, or nil while
// unknown. An unknown section is requested.
func (c *Client) HeaderData(section int, orientation model.Orientation, role model.Role) any {
	key := headerKey{orientation: orientation, section: section}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.headers[key]
	if !ok {
		if !c.requestedHeaders[key] {
			c.requestedHeaders[key] = true
			c.pendingHeaders = append(c.pendingHeaders, key)
			c.scheduleFlushLocked()
		}
		return nil
	}
	return data[int(role)]
}

// SetData asks the server to write value into one role of the cell at
// path. The cache is updated when the server reports the change.
func (c *Client) SetData(path protocol.ModelIndex, value any, role model.Role) error {
	payload := protocol.NewPayloadEncoder()
	payload.Index(path)
	payload.Int32(int32(role))
	payload.Value(value)
	if err := payload.Err(); err != nil {
		return fmt.Errorf("set data at %s: %w", path, err)
	}
	return c.endpoint.Send(protocol.NewMessage(c.address, protocol.ModelSetDataRequest, payload))
}

// Sort asks the server to sort the collection.
func (c *Client) Sort(column int, order model.SortOrder) error {
	payload := protocol.NewPayloadEncoder()
	payload.Int32(int32(column))
	payload.Int8(int8(order))
	return c.endpoint.Send(protocol.NewMessage(c.address, protocol.ModelSortRequest, payload))
}

func (c *Client) requestCountsLocked(path protocol.ModelIndex, current *node) {
	if current.rows != countUnknown {
		return
	}
	current.rows = countRequested
	current.columns = countRequested
	c.pendingCounts = append(c.pendingCounts, path.Clone())
	c.scheduleFlushLocked()
}

func (c *Client) requestCellLocked(path protocol.ModelIndex, entry *cell) {
	if entry.state != cellUnknown {
		return
	}
	entry.state = cellRequested
	c.pendingContent = append(c.pendingContent, path.Clone())
	c.scheduleFlushLocked()
}

func (c *Client) scheduleFlushLocked() {
	if c.flushTimer != nil || c.batchInterval < 0 || c.closed {
		return
	}
	c.flushTimer = c.clock.AfterFunc(c.batchInterval, func() { c.Flush() })
}

// Flush sends queued requests now.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Client) flushLocked() error {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	var errs []error
	if len(c.pendingCounts) > 0 {
		payload := protocol.NewPayloadEncoder()
		payload.Indexes(c.pendingCounts)
		c.pendingCounts = nil
		errs = append(errs, c.endpoint.Send(protocol.NewMessage(c.address, protocol.ModelRowColumnCountRequest, payload)))
	}
	if len(c.pendingContent) > 0 {
		payload := protocol.NewPayloadEncoder()
		payload.Indexes(c.pendingContent)
		c.pendingContent = nil
		errs = append(errs, c.endpoint.Send(protocol.NewMessage(c.address, protocol.ModelContentRequest, payload)))
	}
	for _, key := range c.pendingHeaders {
		payload := protocol.NewPayloadEncoder()
		payload.Int8(int8(key.orientation))
		payload.Int32(int32(key.section))
		errs = append(errs, c.endpoint.Send(protocol.NewMessage(c.address, protocol.ModelHeaderRequest, payload)))
	}
	c.pendingHeaders = nil
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// sendBarrierLocked sends the next sync barrier and returns its id.
func (c *Client) sendBarrierLocked() (uint32, error) {
	c.nextBarrier++
	id := c.nextBarrier
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(id)
	return id, c.endpoint.Send(protocol.NewMessage(c.address, protocol.ModelSyncBarrier, payload))
}

// Checkpoint sends queued requests and a sync barrier, and waits for
// the barrier to come back. When it returns nil, every request made
// before the call has been answered and applied.
func (c *Client) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return endpoint.ErrNotConnected
	}
	if err := c.flushLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	id, err := c.sendBarrierLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	waiter := make(chan struct{})
	c.barrierWaiters[id] = waiter
	c.mu.Unlock()

	select {
	case <-waiter:
		if c.isClosed() {
			return endpoint.ErrNotConnected
		}
		return nil
	case <-c.endpoint.Done():
		return endpoint.ErrNotConnected
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.barrierWaiters, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FetchAll loads the whole collection: every count and every cell,
// plus the horizontal headers. Entries the server does not answer
// (because they stopped resolving) are marked empty.
func (c *Client) FetchAll(ctx context.Context) error {
	for {
		c.mu.Lock()
		queued := c.queueUnknownLocked(nil, c.root)
		if c.root.columns > 0 {
			for section := range c.root.columns {
				key := headerKey{orientation: model.Horizontal, section: section}
				if _, ok := c.headers[key]; !ok && !c.requestedHeaders[key] {
					c.requestedHeaders[key] = true
					c.pendingHeaders = append(c.pendingHeaders, key)
					queued = true
				}
			}
		}
		c.mu.Unlock()

		if !queued {
			return nil
		}
		if err := c.Checkpoint(ctx); err != nil {
			return err
		}

		c.mu.Lock()
		if c.currentBarrier >= c.resetTarget {
			c.settleUnansweredLocked(c.root)
			clear(c.requestedHeaders)
		}
		c.mu.Unlock()
	}
}

// queueUnknownLocked requests every unknown count and cell below n
// and reports whether anything was queued or is still in flight.
func (c *Client) queueUnknownLocked(path protocol.ModelIndex, n *node) bool {
	switch n.rows {
	case countUnknown:
		c.requestCountsLocked(path, n)
		return true
	case countRequested:
		return true
	}
	busy := false
	for row := range n.rows {
		child := n.children[row]
		if child == nil {
			child = newNode()
			n.children[row] = child
		}
		for column := range max(n.columns, 0) {
			cellPath := path.Child(int32(row), int32(column))
			entry := c.lookupCell(cellPath)
			if entry == nil {
				continue
			}
			switch entry.state {
			case cellUnknown:
				c.requestCellLocked(cellPath, entry)
				busy = true
			case cellRequested:
				busy = true
			}
		}
		if c.queueUnknownLocked(path.Child(int32(row), 0), child) {
			busy = true
		}
	}
	return busy
}

// settleUnansweredLocked marks requests that a completed checkpoint
// did not answer as empty.
func (c *Client) settleUnansweredLocked(n *node) {
	if n.rows == countRequested {
		n.rows, n.columns = 0, 0
		n.children = nil
	}
	for _, entry := range n.cells {
		if entry.state == cellRequested {
			entry.state = cellEmpty
		}
	}
	for _, child := range n.children {
		if child != nil {
			c.settleUnansweredLocked(child)
		}
	}
}

// forgetRequests returns requested counts and cells in n's subtree to
// unknown. Used when rows shift, since a reply would then land on a
// different row than the one that asked.
func forgetRequests(n *node) {
	if n == nil {
		return
	}
	if n.rows == countRequested {
		n.rows, n.columns = countUnknown, countUnknown
	}
	for _, entry := range n.cells {
		if entry.state == cellRequested {
			entry.state = cellUnknown
		}
	}
	for _, child := range n.children {
		forgetRequests(child)
	}
}

func forgetRequestsFrom(n *node, first int) {
	for row := max(first, 0); row < len(n.children); row++ {
		forgetRequests(n.children[row])
	}
}
