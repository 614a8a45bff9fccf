// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package model

// Collection is a hierarchical table of cells that can be mirrored.
type Collection interface {
	// Index returns the cell at (row, column) below parent, or the
	// invalid Index when out of range.
	Index(row, column int, parent Index) Index

	// Parent returns the parent of a cell. Top-level cells have the
	// invalid Index as parent.
	Parent(child Index) Index

	RowCount(parent Index) int
	ColumnCount(parent Index) int

	// Data returns the value of one role of a cell, or nil.
	Data(index Index, role Role) any

	// ItemData returns every role the cell has a value for.
	ItemData(index Index) map[Role]any

	Flags(index Index) ItemFlags

	HeaderData(section int, orientation Orientation, role Role) any

	// SetData writes one role of a cell and reports whether the
	// collection accepted it.
	SetData(index Index, value any, role Role) bool

	Sort(column int, order SortOrder)

	// Subscribe registers an observer and returns the function that
	// removes it. Observers are called synchronously after (or, for
	// the about-to-move callbacks, before) each change.
	Subscribe(observer Observer) (unsubscribe func())
}

// Locator is implemented by collections whose index keys survive
// structural changes. Locate returns the current index of the row
// identified by key at the given column, or the invalid Index when
// the row no longer exists.
type Locator interface {
	Locate(key any, column int) Index
}

// Observer receives change notifications from a Collection. Indexes
// passed to an observer are valid only for the duration of the call.
type Observer interface {
	HeaderDataChanged(orientation Orientation, first, last int)
	DataChanged(topLeft, bottomRight Index, roles []Role)

	RowsInserted(parent Index, first, last int)
	RowsRemoved(parent Index, first, last int)
	// RowsAboutToBeMoved is delivered before the rows move; the
	// indexes still describe the pre-move layout.
	RowsAboutToBeMoved(sourceParent Index, first, last int, destinationParent Index, destinationRow int)
	RowsMoved(sourceParent Index, first, last int, destinationParent Index, destinationRow int)

	ColumnsInserted(parent Index, first, last int)
	ColumnsRemoved(parent Index, first, last int)
	ColumnsAboutToBeMoved(sourceParent Index, first, last int, destinationParent Index, destinationColumn int)
	ColumnsMoved(sourceParent Index, first, last int, destinationParent Index, destinationColumn int)

	// LayoutChanged reports that rows below parents were reordered
	// without insertion or removal. No parents means the whole
	// collection.
	LayoutChanged(parents []Index, hint LayoutHint)

	ModelReset()
}

// NopObserver implements every Observer method as a no-op. Embed it
// to implement only the callbacks of interest.
type NopObserver struct{}

func (NopObserver) HeaderDataChanged(Orientation, int, int)           {}
func (NopObserver) DataChanged(Index, Index, []Role)                  {}
func (NopObserver) RowsInserted(Index, int, int)                      {}
func (NopObserver) RowsRemoved(Index, int, int)                       {}
func (NopObserver) RowsAboutToBeMoved(Index, int, int, Index, int)    {}
func (NopObserver) RowsMoved(Index, int, int, Index, int)             {}
func (NopObserver) ColumnsInserted(Index, int, int)                   {}
func (NopObserver) ColumnsRemoved(Index, int, int)                    {}
func (NopObserver) ColumnsAboutToBeMoved(Index, int, int, Index, int) {}
func (NopObserver) ColumnsMoved(Index, int, int, Index, int)          {}
func (NopObserver) LayoutChanged([]Index, LayoutHint)                 {}
func (NopObserver) ModelReset()                                       {}

// observerList is the subscription bookkeeping shared by the
// collections in this package.
type observerList struct {
	entries []*observerEntry
}

type observerEntry struct {
	observer Observer
}

func (l *observerList) subscribe(observer Observer) func() {
	entry := &observerEntry{observer: observer}
	l.entries = append(l.entries, entry)
	return func() {
		for i, candidate := range l.entries {
			if candidate == entry {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// each calls fn for every observer subscribed when the call starts.
// Observers may unsubscribe during delivery.
func (l *observerList) each(fn func(Observer)) {
	snapshot := make([]*observerEntry, len(l.entries))
	copy(snapshot, l.entries)
	for _, entry := range snapshot {
		fn(entry.observer)
	}
}

func (l *observerList) len() int { return len(l.entries) }
