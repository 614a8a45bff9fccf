// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"cmp"
	"slices"
)

// SelectionFlags describe how a selection command combines with the
// current selection.
type SelectionFlags uint32

const (
	NoUpdate       SelectionFlags = 0
	Clear          SelectionFlags = 1 << 0
	Select         SelectionFlags = 1 << 1
	Deselect       SelectionFlags = 1 << 2
	Toggle         SelectionFlags = 1 << 3
	Current        SelectionFlags = 1 << 4
	Rows           SelectionFlags = 1 << 5
	Columns        SelectionFlags = 1 << 6
	SelectCurrent                 = Select | Current
	ToggleCurrent                 = Toggle | Current
	ClearAndSelect                = Clear | Select
)

// SelectionRange is a rectangle of cells sharing one parent.
type SelectionRange struct {
	TopLeft     Index
	BottomRight Index
}

// Selection is a list of ranges.
type Selection []SelectionRange

// SelectionObserver receives SelectionModel change notifications.
type SelectionObserver interface {
	SelectionChanged(selected, deselected Selection)
	CurrentChanged(current, previous Index)
}

// SelectionModel tracks selected cells and the current cell of a
// collection.
//
// Cells are remembered by index key when the collection implements
// Locator, so the selection follows rows across insertions, moves and
// sorts, and drops rows that are removed. Collections without stable
// keys are remembered by position.
type SelectionModel struct {
	collection Collection
	locator    Locator
	cells      []selectedCell
	members    map[cellID]struct{}
	current    selectedCell
	hasCurrent bool
	observers  []*selectionObserverEntry
}

type selectionObserverEntry struct {
	observer SelectionObserver
}

// selectedCell is what the model keeps per selected cell: the index at
// selection time and the identity used to find it again.
type selectedCell struct {
	index Index
	id    cellID
}

type cellID struct {
	key    any
	row    int
	column int
}

// NewSelectionModel returns an empty selection over collection.
func NewSelectionModel(collection Collection) *SelectionModel {
	model := &SelectionModel{
		collection: collection,
		members:    make(map[cellID]struct{}),
	}
	model.locator, _ = collection.(Locator)
	return model
}

// Collection returns the collection the selection applies to.
func (m *SelectionModel) Collection() Collection { return m.collection }

func (m *SelectionModel) identify(index Index) selectedCell {
	if m.locator != nil && index.Key() != nil {
		return selectedCell{index: index, id: cellID{key: index.Key(), row: -1, column: index.Column()}}
	}
	return selectedCell{index: index, id: cellID{key: index.Key(), row: index.Row(), column: index.Column()}}
}

// resolve returns the current index of a remembered cell.
func (m *SelectionModel) resolve(cell selectedCell) Index {
	if m.locator != nil && cell.id.row == -1 {
		return m.locator.Locate(cell.id.key, cell.id.column)
	}
	return cell.index
}

// expand lists the cells a range covers, widened to whole rows or
// columns as flags request.
func (m *SelectionModel) expand(r SelectionRange, flags SelectionFlags) []Index {
	if !r.TopLeft.Valid() || !r.BottomRight.Valid() {
		return nil
	}
	parent := m.collection.Parent(r.TopLeft)
	top, bottom := r.TopLeft.Row(), r.BottomRight.Row()
	left, right := r.TopLeft.Column(), r.BottomRight.Column()
	if flags&Rows != 0 {
		left, right = 0, m.collection.ColumnCount(parent)-1
	}
	if flags&Columns != 0 {
		top, bottom = 0, m.collection.RowCount(parent)-1
	}
	var out []Index
	for row := top; row <= bottom; row++ {
		for column := left; column <= right; column++ {
			index := m.collection.Index(row, column, parent)
			if index.Valid() {
				out = append(out, index)
			}
		}
	}
	return out
}

func (m *SelectionModel) add(index Index) bool {
	cell := m.identify(index)
	if _, ok := m.members[cell.id]; ok {
		return false
	}
	m.members[cell.id] = struct{}{}
	m.cells = append(m.cells, cell)
	return true
}

func (m *SelectionModel) remove(index Index) bool {
	cell := m.identify(index)
	if _, ok := m.members[cell.id]; !ok {
		return false
	}
	delete(m.members, cell.id)
	m.cells = slices.DeleteFunc(m.cells, func(candidate selectedCell) bool { return candidate.id == cell.id })
	return true
}

// Select applies a selection command. Observers receive one
// SelectionChanged with the cells that actually changed.
func (m *SelectionModel) Select(selection Selection, flags SelectionFlags) {
	if flags == NoUpdate {
		return
	}
	var selected, deselected []Index
	if flags&Clear != 0 {
		for _, cell := range m.cells {
			if index := m.resolve(cell); index.Valid() {
				deselected = append(deselected, index)
			}
		}
		m.cells = nil
		m.members = make(map[cellID]struct{})
	}
	for _, r := range selection {
		for _, index := range m.expand(r, flags) {
			switch {
			case flags&Toggle != 0:
				if m.remove(index) {
					deselected = append(deselected, index)
				} else if m.add(index) {
					selected = append(selected, index)
				}
			case flags&Deselect != 0:
				if m.remove(index) {
					deselected = append(deselected, index)
				}
			case flags&Select != 0:
				if m.add(index) {
					selected = append(selected, index)
				}
			}
		}
	}

	// A cell both cleared and reselected did not change.
	if flags&Clear != 0 && len(selected) > 0 && len(deselected) > 0 {
		cleared := make(map[cellID]struct{}, len(deselected))
		for _, index := range deselected {
			cleared[m.identify(index).id] = struct{}{}
		}
		reselected := make(map[cellID]struct{}, len(selected))
		selected = slices.DeleteFunc(selected, func(index Index) bool {
			id := m.identify(index).id
			reselected[id] = struct{}{}
			_, ok := cleared[id]
			return ok
		})
		deselected = slices.DeleteFunc(deselected, func(index Index) bool {
			_, ok := reselected[m.identify(index).id]
			return ok
		})
	}

	if len(selected) == 0 && len(deselected) == 0 {
		return
	}
	selectedRanges := m.compress(selected)
	deselectedRanges := m.compress(deselected)
	for _, entry := range slices.Clone(m.observers) {
		entry.observer.SelectionChanged(selectedRanges, deselectedRanges)
	}
}

// SelectIndex applies a selection command to one cell.
func (m *SelectionModel) SelectIndex(index Index, flags SelectionFlags) {
	m.Select(Selection{{TopLeft: index, BottomRight: index}}, flags)
}

// SetCurrentIndex makes index the current cell and, if flags ask for
// it, applies a selection command to it.
func (m *SelectionModel) SetCurrentIndex(index Index, flags SelectionFlags) {
	previous := m.CurrentIndex()
	if index.Valid() {
		m.current = m.identify(index)
		m.hasCurrent = true
	} else {
		m.current = selectedCell{}
		m.hasCurrent = false
	}
	if flags&^Current != NoUpdate && index.Valid() {
		m.SelectIndex(index, flags)
	}
	if previous == index {
		return
	}
	for _, entry := range slices.Clone(m.observers) {
		entry.observer.CurrentChanged(index, previous)
	}
}

// CurrentIndex returns the current cell, or the invalid Index.
func (m *SelectionModel) CurrentIndex() Index {
	if !m.hasCurrent {
		return Index{}
	}
	return m.resolve(m.current)
}

// ClearSelection deselects every cell.
func (m *SelectionModel) ClearSelection() {
	m.Select(nil, Clear)
}

// Reset clears the selection and the current cell without notifying
// observers.
func (m *SelectionModel) Reset() {
	m.cells = nil
	m.members = make(map[cellID]struct{})
	m.current = selectedCell{}
	m.hasCurrent = false
}

// IsSelected reports whether index is selected.
func (m *SelectionModel) IsSelected(index Index) bool {
	if !index.Valid() {
		return false
	}
	_, ok := m.members[m.identify(index).id]
	return ok
}

// HasSelection reports whether any remembered cell still exists.
func (m *SelectionModel) HasSelection() bool {
	for _, cell := range m.cells {
		if m.resolve(cell).Valid() {
			return true
		}
	}
	return false
}

// SelectedIndexes returns every selected cell at its current position.
// Cells whose rows were removed are omitted.
func (m *SelectionModel) SelectedIndexes() []Index {
	var out []Index
	for _, cell := range m.cells {
		if index := m.resolve(cell); index.Valid() {
			out = append(out, index)
		}
	}
	return out
}

// Selection returns the selected cells as the fewest rectangles
// that a row-then-column merge finds.
func (m *SelectionModel) Selection() Selection {
	return m.compress(m.SelectedIndexes())
}

// compress merges cells into ranges: contiguous columns of a row
// first, then identical column spans on consecutive rows.
func (m *SelectionModel) compress(indexes []Index) Selection {
	if len(indexes) == 0 {
		return nil
	}
	type group struct {
		parent Index
		cells  []Index
	}
	var groups []*group
	byParent := make(map[cellID]*group)
	for _, index := range indexes {
		parent := m.collection.Parent(index)
		id := cellID{key: parent.Key(), row: parent.Row(), column: parent.Column()}
		g, ok := byParent[id]
		if !ok {
			g = &group{parent: parent}
			byParent[id] = g
			groups = append(groups, g)
		}
		g.cells = append(g.cells, index)
	}

	var out Selection
	for _, g := range groups {
		slices.SortFunc(g.cells, func(a, b Index) int {
			if c := cmp.Compare(a.Row(), b.Row()); c != 0 {
				return c
			}
			return cmp.Compare(a.Column(), b.Column())
		})
		type span struct{ row, left, right int }
		var spans []span
		for _, index := range g.cells {
			if n := len(spans); n > 0 && spans[n-1].row == index.Row() && spans[n-1].right+1 == index.Column() {
				spans[n-1].right = index.Column()
				continue
			}
			if n := len(spans); n > 0 && spans[n-1].row == index.Row() && spans[n-1].right == index.Column() {
				continue
			}
			spans = append(spans, span{index.Row(), index.Column(), index.Column()})
		}
		// Merge consecutive rows with the same column span.
		for i := 0; i < len(spans); {
			top := spans[i]
			bottom := top.row
			j := i + 1
			for j < len(spans) && spans[j].row == bottom+1 && spans[j].left == top.left && spans[j].right == top.right {
				bottom = spans[j].row
				j++
			}
			out = append(out, SelectionRange{
				TopLeft:     m.collection.Index(top.row, top.left, g.parent),
				BottomRight: m.collection.Index(bottom, top.right, g.parent),
			})
			i = j
		}
	}
	return out
}

// Subscribe registers an observer and returns the function that
// removes it.
func (m *SelectionModel) Subscribe(observer SelectionObserver) func() {
	entry := &selectionObserverEntry{observer: observer}
	m.observers = append(m.observers, entry)
	return func() {
		m.observers = slices.DeleteFunc(m.observers, func(candidate *selectionObserverEntry) bool {
			return candidate == entry
		})
	}
}
