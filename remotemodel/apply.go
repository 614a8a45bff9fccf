// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"slices"

	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// handleMessage applies one server message to the cache. It runs on
// the endpoint's dispatch goroutine.
func (c *Client) handleMessage(message protocol.Message) {
	decoder := message.Decoder()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changes := c.applyLocked(message.Type, decoder)
	c.mu.Unlock()
	if err := decoder.Err(); err != nil {
		c.logger.Warn("malformed model message", "message_type", message.Type.String(), "error", err)
		return
	}
	c.emit(changes)
}

// discarding reports whether replies are being dropped because a
// reset happened after they were requested.
func (c *Client) discarding() bool {
	return c.currentBarrier < c.resetTarget
}

func (c *Client) applyLocked(messageType protocol.MessageType, decoder *protocol.PayloadDecoder) []Change {
	switch messageType {
	case protocol.ModelSyncBarrier:
		c.applyBarrierLocked(decoder.Uint32())
		return nil

	case protocol.ModelRowColumnCountReply:
		return c.applyCountsLocked(decoder)
	case protocol.ModelContentReply:
		return c.applyContentLocked(decoder)
	case protocol.ModelHeaderReply:
		return c.applyHeaderLocked(decoder)

	case protocol.ModelRowsAdded, protocol.ModelRowsRemoved,
		protocol.ModelColumnsAdded, protocol.ModelColumnsRemoved:
		change := Change{Type: messageType}
		change.Parent = decoder.Index()
		change.First = int(decoder.Int32())
		change.Last = int(decoder.Int32())
		if decoder.Err() != nil {
			return nil
		}
		switch messageType {
		case protocol.ModelRowsAdded:
			c.insertRowsLocked(change.Parent, change.First, change.Last)
		case protocol.ModelRowsRemoved:
			c.removeRowsLocked(change.Parent, change.First, change.Last)
		case protocol.ModelColumnsAdded:
			c.insertColumnsLocked(change.Parent, change.First, change.Last)
		case protocol.ModelColumnsRemoved:
			c.removeColumnsLocked(change.Parent, change.First, change.Last)
		}
		return []Change{change}

	case protocol.ModelRowsMoved, protocol.ModelColumnsMoved:
		change := Change{Type: messageType}
		change.Parent = decoder.Index()
		change.First = int(decoder.Int32())
		change.Last = int(decoder.Int32())
		change.Destination = decoder.Index()
		change.DestinationIndex = int(decoder.Int32())
		if decoder.Err() != nil {
			return nil
		}
		if messageType == protocol.ModelRowsMoved {
			c.moveRowsLocked(change)
		} else {
			c.moveColumnsLocked(change)
		}
		return []Change{change}

	case protocol.ModelContentChanged:
		change := Change{Type: messageType}
		change.Parent = decoder.Index()
		change.BottomRight = decoder.Index()
		count := decoder.Count(4)
		for range count {
			change.Roles = append(change.Roles, model.Role(decoder.Int32()))
		}
		if decoder.Err() != nil {
			return nil
		}
		c.outdateCellsLocked(change.Parent, change.BottomRight)
		return []Change{change}

	case protocol.ModelHeaderChanged:
		change := Change{Type: messageType}
		change.Orientation = model.Orientation(decoder.Int8())
		change.First = int(decoder.Int32())
		change.Last = int(decoder.Int32())
		if decoder.Err() != nil {
			return nil
		}
		for section := change.First; section <= change.Last; section++ {
			delete(c.headers, headerKey{orientation: change.Orientation, section: section})
		}
		return []Change{change}

	case protocol.ModelLayoutChanged:
		count := decoder.Count(4)
		var parents []protocol.ModelIndex
		for range count {
			parents = append(parents, decoder.Index())
		}
		decoder.Uint8()
		if decoder.Err() != nil {
			return nil
		}
		if len(parents) == 0 {
			parents = []protocol.ModelIndex{protocol.RootIndex}
		}
		changes := make([]Change, 0, len(parents))
		for _, parent := range parents {
			if n := c.lookup(parent); n != nil && n.rows >= 0 {
				n.children = make([]*node, n.rows)
			}
			changes = append(changes, Change{Type: messageType, Parent: parent})
		}
		return changes

	case protocol.ModelReset:
		c.resetLocked()
		return []Change{{Type: messageType}}
	}
	c.logger.Debug("unexpected model message", "message_type", messageType.String())
	return nil
}

func (c *Client) applyBarrierLocked(id uint32) {
	if id > c.currentBarrier {
		c.currentBarrier = id
	}
	for waiting, waiter := range c.barrierWaiters {
		if waiting <= c.currentBarrier {
			close(waiter)
			delete(c.barrierWaiters, waiting)
		}
	}
}

// resetLocked drops the whole cache and sends a barrier; replies
// arriving before its echo answer requests made before the reset.
func (c *Client) resetLocked() {
	c.root = newNode()
	clear(c.headers)
	clear(c.requestedHeaders)
	c.pendingCounts = nil
	c.pendingContent = nil
	c.pendingHeaders = nil
	id, err := c.sendBarrierLocked()
	if err != nil {
		c.logger.Debug("sending reset barrier", "error", err)
		return
	}
	c.resetTarget = id
}

func (c *Client) applyCountsLocked(decoder *protocol.PayloadDecoder) []Change {
	count := decoder.Count(12)
	discard := c.discarding()
	var changes []Change
	for range count {
		path := decoder.Index()
		rows := int(decoder.Int32())
		columns := int(decoder.Int32())
		if decoder.Err() != nil {
			return nil
		}
		if discard {
			continue
		}
		n := c.lookup(path)
		if n == nil || rows < 0 || columns < 0 {
			continue
		}
		if n.rows != rows {
			n.children = make([]*node, rows)
		}
		n.rows, n.columns = rows, columns
		changes = append(changes, Change{Type: protocol.ModelRowColumnCountReply, Parent: path, First: 0, Last: rows - 1})
	}
	return changes
}

func (c *Client) applyContentLocked(decoder *protocol.PayloadDecoder) []Change {
	count := decoder.Count(12)
	discard := c.discarding()
	var changes []Change
	for range count {
		path := decoder.Index()
		var data map[int]any
		decoder.ValueInto(&data)
		flags := model.ItemFlags(decoder.Uint32())
		if decoder.Err() != nil {
			return nil
		}
		if discard {
			continue
		}
		entry := c.lookupCell(path)
		if entry == nil {
			continue
		}
		entry.state = cellLoaded
		entry.data = data
		entry.flags = flags
		changes = append(changes, Change{Type: protocol.ModelContentReply, Parent: path})
	}
	return changes
}

func (c *Client) applyHeaderLocked(decoder *protocol.PayloadDecoder) []Change {
	orientation := model.Orientation(decoder.Int8())
	section := int(decoder.Int32())
	var data map[int]any
	decoder.ValueInto(&data)
	if decoder.Err() != nil || c.discarding() {
		return nil
	}
	key := headerKey{orientation: orientation, section: section}
	delete(c.requestedHeaders, key)
	if data == nil {
		data = map[int]any{}
	}
	c.headers[key] = data
	return []Change{{Type: protocol.ModelHeaderReply, Orientation: orientation, First: section, Last: section}}
}

// knownParent returns the node at path if its rows are known.
func (c *Client) knownParent(path protocol.ModelIndex) *node {
	n := c.lookup(path)
	if n == nil || n.rows < 0 {
		return nil
	}
	return n
}

// invalidate forgets what the cache knows below n after an update it
// could not apply. The next query refetches.
func (c *Client) invalidate(n *node, path protocol.ModelIndex, reason string) {
	c.logger.Warn("inconsistent model update, refetching", "parent", path.String(), "reason", reason)
	n.rows, n.columns = countUnknown, countUnknown
	n.children = nil
}

// refetchIfLeaf forgets the counts of a row gaining its first
// children. Column changes are not announced for rows without
// children, so a leaf's cached column count may be stale.
func refetchIfLeaf(n *node) bool {
	if n.rows != 0 {
		return false
	}
	n.rows, n.columns = countUnknown, countUnknown
	n.children = nil
	return true
}

func (c *Client) insertRowsLocked(parent protocol.ModelIndex, first, last int) {
	n := c.knownParent(parent)
	if n == nil || refetchIfLeaf(n) {
		return
	}
	count := last - first + 1
	if first < 0 || first > n.rows || count <= 0 {
		c.invalidate(n, parent, "rows added out of range")
		return
	}
	n.children = slices.Insert(n.children, first, make([]*node, count)...)
	n.rows += count
	forgetRequestsFrom(n, first+count)
}

func (c *Client) removeRowsLocked(parent protocol.ModelIndex, first, last int) {
	n := c.knownParent(parent)
	if n == nil {
		return
	}
	if first < 0 || last >= n.rows || first > last {
		c.invalidate(n, parent, "rows removed out of range")
		return
	}
	n.children = slices.Delete(n.children, first, last+1)
	n.rows -= last - first + 1
	forgetRequestsFrom(n, first)
}

// moveRowsLocked applies a move as a removal followed by an insertion
// at the destination row, which counts rows before the removal.
func (c *Client) moveRowsLocked(change Change) {
	first, last := change.First, change.Last
	count := last - first + 1
	source := c.knownParent(change.Parent)
	destination := c.knownParent(change.Destination)
	if count <= 0 {
		return
	}
	if source != nil && (first < 0 || last >= source.rows) {
		c.invalidate(source, change.Parent, "rows moved out of range")
		source = nil
	}
	if destination != nil && (change.DestinationIndex < 0 || change.DestinationIndex > destination.rows) {
		c.invalidate(destination, change.Destination, "move destination out of range")
		destination = nil
	}

	moving := make([]*node, count)
	if source != nil {
		copy(moving, source.children[first:last+1])
		source.children = slices.Delete(source.children, first, last+1)
		source.rows -= count
		forgetRequestsFrom(source, first)
	}
	if destination == nil || refetchIfLeaf(destination) {
		return
	}
	insertAt := change.DestinationIndex
	if source == destination && insertAt > first {
		insertAt -= count
	}
	destination.children = slices.Insert(destination.children, insertAt, moving...)
	destination.rows += count
	forgetRequestsFrom(destination, insertAt)
}

func (c *Client) insertColumnsLocked(parent protocol.ModelIndex, first, last int) {
	n := c.lookup(parent)
	if n == nil || n.columns < 0 {
		return
	}
	count := last - first + 1
	if first < 0 || first > n.columns || count <= 0 {
		c.invalidate(n, parent, "columns added out of range")
		return
	}
	n.columns += count
	c.remapColumns(n, parent, func(column int) (int, bool) {
		if column >= first {
			return column + count, true
		}
		return column, true
	})
}

func (c *Client) removeColumnsLocked(parent protocol.ModelIndex, first, last int) {
	n := c.lookup(parent)
	if n == nil || n.columns < 0 {
		return
	}
	count := last - first + 1
	if first < 0 || last >= n.columns || count <= 0 {
		c.invalidate(n, parent, "columns removed out of range")
		return
	}
	n.columns -= count
	c.remapColumns(n, parent, func(column int) (int, bool) {
		switch {
		case column < first:
			return column, true
		case column <= last:
			return 0, false
		default:
			return column - count, true
		}
	})
}

func (c *Client) moveColumnsLocked(change Change) {
	source := c.lookup(change.Parent)
	if source == nil || source.columns < 0 {
		return
	}
	first, last, destination := change.First, change.Last, change.DestinationIndex
	count := last - first + 1
	if !change.Parent.Equal(change.Destination) || first < 0 || last >= source.columns ||
		destination < 0 || destination > source.columns || count <= 0 {
		c.invalidate(source, change.Parent, "columns moved out of range")
		return
	}
	order := make([]int, source.columns)
	for i := range order {
		order[i] = i
	}
	moved := slices.Clone(order[first : last+1])
	order = slices.Delete(order, first, last+1)
	insertAt := destination
	if destination > first {
		insertAt -= count
	}
	order = slices.Insert(order, insertAt, moved...)
	newColumn := make(map[int]int, len(order))
	for to, from := range order {
		newColumn[from] = to
	}
	c.remapColumns(source, change.Parent, func(column int) (int, bool) {
		to, ok := newColumn[column]
		return to, ok
	})
}

// remapColumns renumbers the cached cells of n's rows. Cells whose
// request is still in flight go back to unknown when they move. Root
// column changes also drop the cached horizontal headers.
func (c *Client) remapColumns(n *node, parent protocol.ModelIndex, remap func(int) (int, bool)) {
	for _, child := range n.children {
		if child == nil || len(child.cells) == 0 {
			continue
		}
		cells := make(map[int]*cell, len(child.cells))
		for column, entry := range child.cells {
			to, keep := remap(column)
			if !keep {
				continue
			}
			if to != column && entry.state == cellRequested {
				entry.state = cellUnknown
			}
			cells[to] = entry
		}
		child.cells = cells
	}
	if parent.IsRoot() {
		for key := range c.headers {
			if key.orientation == model.Horizontal {
				delete(c.headers, key)
			}
		}
	}
}

// outdateCellsLocked marks loaded cells in the block as needing a
// refetch. Their old data is served until the new data arrives.
func (c *Client) outdateCellsLocked(topLeft, bottomRight protocol.ModelIndex) {
	if topLeft.IsRoot() || bottomRight.IsRoot() {
		return
	}
	n := c.knownParent(topLeft.Parent())
	if n == nil {
		return
	}
	for row := int(topLeft.Row()); row <= int(bottomRight.Row()) && row < len(n.children); row++ {
		if row < 0 || n.children[row] == nil {
			continue
		}
		for column := int(topLeft.Column()); column <= int(bottomRight.Column()); column++ {
			entry := n.children[row].cells[column]
			if entry != nil && (entry.state == cellLoaded || entry.state == cellEmpty) {
				entry.state = cellUnknown
			}
		}
	}
}
