// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"strconv"
	"strings"
)

// IndexStep is one (row, column) hop below a parent.
type IndexStep struct {
	Row    int32
	Column int32
}

// ModelIndex addresses one cell of a mirrored collection as the path
// of steps from the root. The nil (or empty) path is the root, which
// is not itself a cell.
//
// The parent of a cell is identified by the path prefix, so a wire
// index never carries server-local identity. Paths stay valid only
// until the next structural change that touches an ancestor; both
// sides translate them again after every change notification.
type ModelIndex []IndexStep

// RootIndex is the root sentinel.
var RootIndex ModelIndex

// IsRoot reports whether the index is the root sentinel.
func (index ModelIndex) IsRoot() bool { return len(index) == 0 }

// Depth returns the number of steps below the root.
func (index ModelIndex) Depth() int { return len(index) }

// Row returns the row of the last step, or -1 for the root.
func (index ModelIndex) Row() int32 {
	if len(index) == 0 {
		return -1
	}
	return index[len(index)-1].Row
}

// Column returns the column of the last step, or -1 for the root.
func (index ModelIndex) Column() int32 {
	if len(index) == 0 {
		return -1
	}
	return index[len(index)-1].Column
}

// Parent returns the path of the parent cell. The parent of a
// top-level cell is the root.
func (index ModelIndex) Parent() ModelIndex {
	if len(index) == 0 {
		return nil
	}
	return index[: len(index)-1 : len(index)-1]
}

// Child returns a new path one step below index. The receiver is
// never aliased by the result.
func (index ModelIndex) Child(row, column int32) ModelIndex {
	child := make(ModelIndex, len(index)+1)
	copy(child, index)
	child[len(index)] = IndexStep{Row: row, Column: column}
	return child
}

// Sibling returns the path of the cell at (row, column) under the
// same parent.
func (index ModelIndex) Sibling(row, column int32) ModelIndex {
	return index.Parent().Child(row, column)
}

// Equal reports whether two paths address the same cell.
func (index ModelIndex) Equal(other ModelIndex) bool {
	if len(index) != len(other) {
		return false
	}
	for i := range index {
		if index[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is index itself or one of its
// ancestors.
func (index ModelIndex) HasPrefix(prefix ModelIndex) bool {
	if len(prefix) > len(index) {
		return false
	}
	return ModelIndex(index[:len(prefix)]).Equal(prefix)
}

// Clone returns a copy that does not share storage with index.
func (index ModelIndex) Clone() ModelIndex {
	if len(index) == 0 {
		return nil
	}
	clone := make(ModelIndex, len(index))
	copy(clone, index)
	return clone
}

// String renders the path as "/r,c/r,c", or "/" for the root.
func (index ModelIndex) String() string {
	if len(index) == 0 {
		return "/"
	}
	var builder strings.Builder
	for _, step := range index {
		builder.WriteByte('/')
		builder.WriteString(strconv.FormatInt(int64(step.Row), 10))
		builder.WriteByte(',')
		builder.WriteString(strconv.FormatInt(int64(step.Column), 10))
	}
	return builder.String()
}
