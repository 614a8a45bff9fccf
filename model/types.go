// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package model defines the contract a collection must satisfy to be
// mirrored to a client, and provides Tree and SelectionModel, the
// in-memory implementations probes and tests build on.
//
// A collection is a hierarchy of rows; every row has the same number
// of columns as its siblings, and only column 0 cells have children.
// Cells are addressed by [Index] values obtained from the collection.
// Collections report structural and content changes to subscribed
// [Observer]s synchronously, in the goroutine that made the change.
//
// Collections are not safe for concurrent use. Callers serialize all
// access, normally by holding the owning endpoint's dispatch lock.
package model

import "image"

// Role selects one facet of a cell's data.
type Role int32

// Standard roles. Collections may define their own from UserRole up.
const (
	DisplayRole    Role = 0
	DecorationRole Role = 1
	EditRole       Role = 2
	ToolTipRole    Role = 3
	StatusTipRole  Role = 4
	WhatsThisRole  Role = 5
	UserRole       Role = 256
)

// ItemFlags describe what a client may do with a cell.
type ItemFlags uint32

const (
	ItemIsSelectable     ItemFlags = 1 << 0
	ItemIsEditable       ItemFlags = 1 << 1
	ItemIsDragEnabled    ItemFlags = 1 << 2
	ItemIsDropEnabled    ItemFlags = 1 << 3
	ItemIsUserCheckable  ItemFlags = 1 << 4
	ItemIsEnabled        ItemFlags = 1 << 5
	ItemNeverHasChildren ItemFlags = 1 << 7

	// DefaultItemFlags is what Tree assigns to new cells.
	DefaultItemFlags = ItemIsSelectable | ItemIsEnabled
)

// Orientation selects the header a section belongs to.
type Orientation int8

const (
	Horizontal Orientation = 1
	Vertical   Orientation = 2
)

func (o Orientation) String() string {
	switch o {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	}
	return "invalid"
}

// SortOrder is the direction of a sort request.
type SortOrder int8

const (
	AscendingOrder  SortOrder = 0
	DescendingOrder SortOrder = 1
)

// LayoutHint qualifies a layout change.
type LayoutHint uint8

const (
	NoLayoutChangeHint LayoutHint = 0
	VerticalSortHint   LayoutHint = 1
	HorizontalSortHint LayoutHint = 2
)

// Icon is a decoration value that is rendered before it crosses the
// wire. Image returns a picture of the icon close to size×size pixels.
type Icon interface {
	Image(size int) image.Image
}

// Destroyable is implemented by collections and objects whose
// lifetime ends independently of their registration. The channel is
// closed when the value is destroyed.
type Destroyable interface {
	Destroyed() <-chan struct{}
}
