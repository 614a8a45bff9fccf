// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Tree is an in-memory Collection. Every row carries the same number
// of columns; only column 0 cells have children.
//
// Each row is a node with a stable identity, used as the key of the
// indexes Tree hands out. Tree implements Locator, so indexes held
// across structural changes can be brought up to date.
type Tree struct {
	root      *treeNode
	columns   int
	headers   map[headerKey]any
	observers observerList

	// resetting suppresses fine-grained notifications while Reset
	// runs its populate function.
	resetting bool

	destroyOnce sync.Once
	destroyed   chan struct{}
}

type treeNode struct {
	parent   *treeNode
	children []*treeNode
	cells    []map[Role]any
	flags    []ItemFlags
}

type headerKey struct {
	orientation Orientation
	section     int
	role        Role
}

// NewTree returns an empty tree with one column per header label.
// With no labels the tree has a single unlabelled column.
func NewTree(headers ...string) *Tree {
	columns := max(len(headers), 1)
	tree := &Tree{
		root:      &treeNode{},
		columns:   columns,
		headers:   make(map[headerKey]any),
		destroyed: make(chan struct{}),
	}
	for section, label := range headers {
		tree.headers[headerKey{Horizontal, section, DisplayRole}] = label
	}
	return tree
}

func (t *Tree) newNode(parent *treeNode) *treeNode {
	node := &treeNode{
		parent: parent,
		cells:  make([]map[Role]any, t.columns),
		flags:  make([]ItemFlags, t.columns),
	}
	for column := range node.flags {
		node.flags[column] = DefaultItemFlags
	}
	return node
}

// row returns the node's position among its siblings.
func (n *treeNode) row() int {
	if n.parent == nil {
		return -1
	}
	return slices.Index(n.parent.children, n)
}

// node maps an index to its row node. The invalid index maps to the
// root; indexes of other collections or detached rows map to nil.
func (t *Tree) node(index Index) *treeNode {
	if !index.Valid() {
		return t.root
	}
	node, ok := index.Key().(*treeNode)
	if !ok || !t.attached(node) {
		return nil
	}
	return node
}

// parentNode maps an index used as a parent. Only column 0 cells
// have children.
func (t *Tree) parentNode(parent Index) *treeNode {
	if parent.Valid() && parent.Column() != 0 {
		return nil
	}
	return t.node(parent)
}

func (t *Tree) attached(node *treeNode) bool {
	for current := node; current != nil; current = current.parent {
		if current == t.root {
			return true
		}
	}
	return false
}

func (t *Tree) indexOf(node *treeNode, column int) Index {
	if node == nil || node == t.root {
		return Index{}
	}
	return NewIndex(node.row(), column, node)
}

// Index implements Collection.
func (t *Tree) Index(row, column int, parent Index) Index {
	node := t.parentNode(parent)
	if node == nil || row < 0 || row >= len(node.children) || column < 0 || column >= t.columns {
		return Index{}
	}
	return NewIndex(row, column, node.children[row])
}

// Parent implements Collection.
func (t *Tree) Parent(child Index) Index {
	node := t.node(child)
	if node == nil || node == t.root {
		return Index{}
	}
	return t.indexOf(node.parent, 0)
}

// RowCount implements Collection.
func (t *Tree) RowCount(parent Index) int {
	node := t.parentNode(parent)
	if node == nil {
		return 0
	}
	return len(node.children)
}

// ColumnCount implements Collection.
func (t *Tree) ColumnCount(parent Index) int {
	if t.parentNode(parent) == nil {
		return 0
	}
	return t.columns
}

// Locate implements Locator.
func (t *Tree) Locate(key any, column int) Index {
	node, ok := key.(*treeNode)
	if !ok || node == t.root || !t.attached(node) || column < 0 || column >= t.columns {
		return Index{}
	}
	return t.indexOf(node, column)
}

// storedRole folds EditRole into DisplayRole: a cell has a single
// editable value.
func storedRole(role Role) Role {
	if role == EditRole {
		return DisplayRole
	}
	return role
}

func (t *Tree) cell(index Index) (*treeNode, int, bool) {
	if !index.Valid() {
		return nil, 0, false
	}
	node := t.node(index)
	if node == nil || index.Column() >= t.columns {
		return nil, 0, false
	}
	return node, index.Column(), true
}

// Data implements Collection.
func (t *Tree) Data(index Index, role Role) any {
	node, column, ok := t.cell(index)
	if !ok {
		return nil
	}
	return node.cells[column][storedRole(role)]
}

// ItemData implements Collection.
func (t *Tree) ItemData(index Index) map[Role]any {
	node, column, ok := t.cell(index)
	if !ok || len(node.cells[column]) == 0 {
		return nil
	}
	data := make(map[Role]any, len(node.cells[column]))
	for role, value := range node.cells[column] {
		data[role] = value
	}
	return data
}

// Flags implements Collection.
func (t *Tree) Flags(index Index) ItemFlags {
	node, column, ok := t.cell(index)
	if !ok {
		return 0
	}
	return node.flags[column]
}

// SetFlags replaces the flags of a cell.
func (t *Tree) SetFlags(index Index, flags ItemFlags) {
	if node, column, ok := t.cell(index); ok {
		node.flags[column] = flags
	}
}

// HeaderData implements Collection.
func (t *Tree) HeaderData(section int, orientation Orientation, role Role) any {
	return t.headers[headerKey{orientation, section, storedRole(role)}]
}

// SetHeaderData sets one role of a header section.
func (t *Tree) SetHeaderData(section int, orientation Orientation, value any, role Role) bool {
	if section < 0 || (orientation == Horizontal && section >= t.columns) {
		return false
	}
	key := headerKey{orientation, section, storedRole(role)}
	if value == nil {
		delete(t.headers, key)
	} else {
		t.headers[key] = value
	}
	t.notify(func(observer Observer) { observer.HeaderDataChanged(orientation, section, section) })
	return true
}

// SetData implements Collection. Writes to cells without
// ItemIsEditable are rejected.
func (t *Tree) SetData(index Index, value any, role Role) bool {
	node, column, ok := t.cell(index)
	if !ok || node.flags[column]&ItemIsEditable == 0 {
		return false
	}
	t.setCell(node, column, value, role)
	return true
}

// Set writes a cell regardless of its flags. Probes use it to update
// the values they publish.
func (t *Tree) Set(index Index, value any, role Role) bool {
	node, column, ok := t.cell(index)
	if !ok {
		return false
	}
	t.setCell(node, column, value, role)
	return true
}

func (t *Tree) setCell(node *treeNode, column int, value any, role Role) {
	role = storedRole(role)
	if value == nil {
		delete(node.cells[column], role)
	} else {
		if node.cells[column] == nil {
			node.cells[column] = make(map[Role]any)
		}
		node.cells[column][role] = value
	}
	index := t.indexOf(node, column)
	t.notify(func(observer Observer) { observer.DataChanged(index, index, []Role{role}) })
}

// AppendRow adds a row at the end of parent with the given display
// values, one per column, and returns the index of its first cell.
func (t *Tree) AppendRow(parent Index, values ...any) Index {
	return t.InsertRow(parent, t.RowCount(parent), values...)
}

// InsertRow inserts a row at position row below parent with the given
// display values, one per column. It returns the invalid Index if
// parent cannot have children or row is out of range.
func (t *Tree) InsertRow(parent Index, row int, values ...any) Index {
	cells := make([]map[Role]any, len(values))
	for column, value := range values {
		if value != nil {
			cells[column] = map[Role]any{DisplayRole: value}
		}
	}
	return t.InsertRowData(parent, row, cells)
}

// InsertRowData inserts a row whose cells carry arbitrary roles.
func (t *Tree) InsertRowData(parent Index, row int, cells []map[Role]any) Index {
	parentNode := t.parentNode(parent)
	if parentNode == nil || row < 0 || row > len(parentNode.children) || len(cells) > t.columns {
		return Index{}
	}
	node := t.newNode(parentNode)
	for column, data := range cells {
		if len(data) == 0 {
			continue
		}
		node.cells[column] = make(map[Role]any, len(data))
		for role, value := range data {
			node.cells[column][storedRole(role)] = value
		}
	}
	parentNode.children = slices.Insert(parentNode.children, row, node)

	parentIndex := t.indexOf(parentNode, 0)
	t.notify(func(observer Observer) { observer.RowsInserted(parentIndex, row, row) })
	return NewIndex(row, 0, node)
}

// RemoveRows removes count rows starting at row below parent, along
// with their descendants.
func (t *Tree) RemoveRows(parent Index, row, count int) bool {
	parentNode := t.parentNode(parent)
	if parentNode == nil || count <= 0 || row < 0 || row+count > len(parentNode.children) {
		return false
	}
	for _, removed := range parentNode.children[row : row+count] {
		removed.parent = nil
	}
	parentNode.children = slices.Delete(parentNode.children, row, row+count)

	parentIndex := t.indexOf(parentNode, 0)
	t.notify(func(observer Observer) { observer.RowsRemoved(parentIndex, row, row+count-1) })
	return true
}

// MoveRows moves count rows starting at row below sourceParent so that
// they are placed before destinationRow below destinationParent, with
// destinationRow interpreted in the pre-move layout. Moves that would
// leave the tree unchanged, or place rows below themselves, are
// rejected.
func (t *Tree) MoveRows(sourceParent Index, row, count int, destinationParent Index, destinationRow int) bool {
	source := t.parentNode(sourceParent)
	destination := t.parentNode(destinationParent)
	if source == nil || destination == nil || count <= 0 || row < 0 || row+count > len(source.children) {
		return false
	}
	if destinationRow < 0 || destinationRow > len(destination.children) {
		return false
	}
	if source == destination && destinationRow >= row && destinationRow <= row+count {
		return false
	}
	moving := slices.Clone(source.children[row : row+count])
	for ancestor := destination; ancestor != nil; ancestor = ancestor.parent {
		if slices.Contains(moving, ancestor) {
			return false
		}
	}

	sourceIndex := t.indexOf(source, 0)
	destinationIndex := t.indexOf(destination, 0)
	last := row + count - 1
	t.notify(func(observer Observer) {
		observer.RowsAboutToBeMoved(sourceIndex, row, last, destinationIndex, destinationRow)
	})

	source.children = slices.Delete(source.children, row, row+count)
	insertAt := destinationRow
	if source == destination && destinationRow > row {
		insertAt -= count
	}
	destination.children = slices.Insert(destination.children, insertAt, moving...)
	for _, node := range moving {
		node.parent = destination
	}

	// The parents may have shifted; report them as they are now.
	sourceIndex = t.indexOf(source, 0)
	destinationIndex = t.indexOf(destination, 0)
	t.notify(func(observer Observer) {
		observer.RowsMoved(sourceIndex, row, last, destinationIndex, destinationRow)
	})
	return true
}

// parents returns the root followed by every node that has children,
// in pre-order. Column changes apply to all of them.
func (t *Tree) parents() []*treeNode {
	var out []*treeNode
	var walk func(*treeNode)
	walk = func(node *treeNode) {
		if node != t.root && len(node.children) == 0 {
			return
		}
		out = append(out, node)
		for _, child := range node.children {
			walk(child)
		}
	}
	walk(t.root)
	return out
}

func (t *Tree) eachNode(fn func(*treeNode)) {
	var walk func(*treeNode)
	walk = func(node *treeNode) {
		for _, child := range node.children {
			fn(child)
			walk(child)
		}
	}
	walk(t.root)
}

// InsertColumns adds count columns before column in every row.
func (t *Tree) InsertColumns(column, count int) bool {
	if count <= 0 || column < 0 || column > t.columns {
		return false
	}
	t.eachNode(func(node *treeNode) {
		node.cells = slices.Insert(node.cells, column, make([]map[Role]any, count)...)
		flags := make([]ItemFlags, count)
		for i := range flags {
			flags[i] = DefaultItemFlags
		}
		node.flags = slices.Insert(node.flags, column, flags...)
	})
	t.columns += count
	t.shiftHeaders(func(section int) (int, bool) {
		if section >= column {
			return section + count, true
		}
		return section, true
	})
	t.notifyColumns(func(observer Observer, parent Index) {
		observer.ColumnsInserted(parent, column, column+count-1)
	})
	return true
}

// RemoveColumns removes count columns starting at column from every
// row. At least one column always remains.
func (t *Tree) RemoveColumns(column, count int) bool {
	if count <= 0 || column < 0 || column+count > t.columns || count == t.columns {
		return false
	}
	t.eachNode(func(node *treeNode) {
		node.cells = slices.Delete(node.cells, column, column+count)
		node.flags = slices.Delete(node.flags, column, column+count)
	})
	t.columns -= count
	t.shiftHeaders(func(section int) (int, bool) {
		switch {
		case section < column:
			return section, true
		case section < column+count:
			return 0, false
		default:
			return section - count, true
		}
	})
	t.notifyColumns(func(observer Observer, parent Index) {
		observer.ColumnsRemoved(parent, column, column+count-1)
	})
	return true
}

// MoveColumns moves count columns starting at column before
// destination (pre-move numbering) in every row.
func (t *Tree) MoveColumns(column, count, destination int) bool {
	if count <= 0 || column < 0 || column+count > t.columns || destination < 0 || destination > t.columns {
		return false
	}
	if destination >= column && destination <= column+count {
		return false
	}
	last := column + count - 1
	parents := t.parentIndexes()
	for _, parent := range parents {
		t.notify(func(observer Observer) {
			observer.ColumnsAboutToBeMoved(parent, column, last, parent, destination)
		})
	}

	order := make([]int, t.columns)
	for i := range order {
		order[i] = i
	}
	moved := slices.Clone(order[column : column+count])
	order = slices.Delete(order, column, column+count)
	insertAt := destination
	if destination > column {
		insertAt -= count
	}
	order = slices.Insert(order, insertAt, moved...)

	t.eachNode(func(node *treeNode) {
		cells := make([]map[Role]any, t.columns)
		flags := make([]ItemFlags, t.columns)
		for to, from := range order {
			cells[to] = node.cells[from]
			flags[to] = node.flags[from]
		}
		node.cells, node.flags = cells, flags
	})
	newSection := make(map[int]int, len(order))
	for to, from := range order {
		newSection[from] = to
	}
	t.shiftHeaders(func(section int) (int, bool) {
		if to, ok := newSection[section]; ok {
			return to, true
		}
		return section, true
	})

	// Completions unwind in reverse so each pairs with its own
	// about-to-move notification.
	for _, parent := range slices.Backward(t.parentIndexes()) {
		t.notify(func(observer Observer) {
			observer.ColumnsMoved(parent, column, last, parent, destination)
		})
	}
	return true
}

func (t *Tree) parentIndexes() []Index {
	nodes := t.parents()
	indexes := make([]Index, len(nodes))
	for i, node := range nodes {
		indexes[i] = t.indexOf(node, 0)
	}
	return indexes
}

func (t *Tree) notifyColumns(fn func(Observer, Index)) {
	for _, parent := range t.parentIndexes() {
		t.notify(func(observer Observer) { fn(observer, parent) })
	}
}

// shiftHeaders renumbers horizontal header sections. remap returns
// the new section, or false to drop it.
func (t *Tree) shiftHeaders(remap func(int) (int, bool)) {
	shifted := make(map[headerKey]any, len(t.headers))
	for key, value := range t.headers {
		if key.orientation == Horizontal {
			section, keep := remap(key.section)
			if !keep {
				continue
			}
			key.section = section
		}
		shifted[key] = value
	}
	t.headers = shifted
}

// Sort implements Collection. Rows are reordered at every level by
// the display value of column, stably.
func (t *Tree) Sort(column int, order SortOrder) {
	if column < 0 || column >= t.columns {
		return
	}
	var sortChildren func(*treeNode)
	sortChildren = func(node *treeNode) {
		slices.SortStableFunc(node.children, func(a, b *treeNode) int {
			result := CompareValues(a.cells[column][DisplayRole], b.cells[column][DisplayRole])
			if order == DescendingOrder {
				return -result
			}
			return result
		})
		for _, child := range node.children {
			sortChildren(child)
		}
	}
	sortChildren(t.root)
	t.notify(func(observer Observer) { observer.LayoutChanged(nil, VerticalSortHint) })
}

// Reset replaces the tree's contents. populate runs with notifications
// suppressed after all rows are removed; observers then receive a
// single ModelReset.
func (t *Tree) Reset(populate func()) {
	t.resetting = true
	for _, child := range t.root.children {
		child.parent = nil
	}
	t.root.children = nil
	if populate != nil {
		populate()
	}
	t.resetting = false
	t.notify(func(observer Observer) { observer.ModelReset() })
}

// FindRow returns the first row below parent whose display value in
// column equals value, or the invalid Index.
func (t *Tree) FindRow(parent Index, column int, value any) Index {
	node := t.parentNode(parent)
	if node == nil || column < 0 || column >= t.columns {
		return Index{}
	}
	for row, child := range node.children {
		if CompareValues(child.cells[column][DisplayRole], value) == 0 {
			return NewIndex(row, column, child)
		}
	}
	return Index{}
}

// Destroy marks the tree destroyed. Servers mirroring it unbind.
func (t *Tree) Destroy() {
	t.destroyOnce.Do(func() { close(t.destroyed) })
}

// Destroyed implements Destroyable.
func (t *Tree) Destroyed() <-chan struct{} { return t.destroyed }

// Subscribe implements Collection.
func (t *Tree) Subscribe(observer Observer) func() {
	return t.observers.subscribe(observer)
}

// ObserverCount returns the number of subscribed observers.
func (t *Tree) ObserverCount() int { return t.observers.len() }

func (t *Tree) notify(fn func(Observer)) {
	if t.resetting {
		return
	}
	t.observers.each(fn)
}

// CompareValues orders display values for sorting: nil first, then
// numbers, then strings and everything else by formatted text.
func CompareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return cmp.Compare(x, y)
		}
		return -1
	}
	if _, ok := toFloat(b); ok {
		return 1
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
