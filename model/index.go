// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package model

import "fmt"

// Index identifies a cell of a collection at the time it was
// obtained. The zero Index is invalid and stands for the root.
//
// Key is opaque to everything but the collection that created the
// index. Collections with stable per-row identities (such as Tree)
// use that identity as the key and implement [Locator], which lets
// holders of an old Index find the row's current position.
type Index struct {
	row    int
	column int
	key    any
	valid  bool
}

// NewIndex is called by collection implementations to create an
// index. key must be comparable.
func NewIndex(row, column int, key any) Index {
	return Index{row: row, column: column, key: key, valid: true}
}

// Valid reports whether the index addresses a cell.
func (i Index) Valid() bool { return i.valid }

// Row returns the row, or -1 for an invalid index.
func (i Index) Row() int {
	if !i.valid {
		return -1
	}
	return i.row
}

// Column returns the column, or -1 for an invalid index.
func (i Index) Column() int {
	if !i.valid {
		return -1
	}
	return i.column
}

// Key returns the collection-defined identity of the index.
func (i Index) Key() any { return i.key }

func (i Index) String() string {
	if !i.valid {
		return "Index(root)"
	}
	return fmt.Sprintf("Index(%d,%d)", i.row, i.column)
}

// Sibling returns the cell at (row, column) under the same parent.
func Sibling(c Collection, index Index, row, column int) Index {
	return c.Index(row, column, c.Parent(index))
}

// Ancestry returns the chain of indexes from the top-level ancestor
// down to index itself. The root yields an empty slice.
func Ancestry(c Collection, index Index) []Index {
	var chain []Index
	for current := index; current.Valid(); current = c.Parent(current) {
		chain = append(chain, current)
	}
	for left, right := 0, len(chain)-1; left < right; left, right = left+1, right-1 {
		chain[left], chain[right] = chain[right], chain[left]
	}
	return chain
}

// HasIndex reports whether (row, column) under parent is in range.
func HasIndex(c Collection, row, column int, parent Index) bool {
	if row < 0 || column < 0 {
		return false
	}
	return row < c.RowCount(parent) && column < c.ColumnCount(parent)
}
