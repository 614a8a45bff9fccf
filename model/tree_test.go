// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"strings"
	"testing"
)

// recorder logs every observer call as a compact string.
type recorder struct {
	events []string
	tree   *Tree
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) HeaderDataChanged(o Orientation, first, last int) {
	r.add("header %s %d-%d", o, first, last)
}
func (r *recorder) DataChanged(topLeft, bottomRight Index, roles []Role) {
	r.add("data %d,%d %v", topLeft.Row(), topLeft.Column(), roles)
}
func (r *recorder) RowsInserted(parent Index, first, last int) {
	r.add("rows+ %d %d-%d", parent.Row(), first, last)
}
func (r *recorder) RowsRemoved(parent Index, first, last int) {
	r.add("rows- %d %d-%d", parent.Row(), first, last)
}
func (r *recorder) RowsAboutToBeMoved(sourceParent Index, first, last int, destinationParent Index, destination int) {
	r.add("rows~? %d %d-%d %d %d", sourceParent.Row(), first, last, destinationParent.Row(), destination)
}
func (r *recorder) RowsMoved(sourceParent Index, first, last int, destinationParent Index, destination int) {
	r.add("rows~ %d %d-%d %d %d", sourceParent.Row(), first, last, destinationParent.Row(), destination)
}
func (r *recorder) ColumnsInserted(parent Index, first, last int) {
	r.add("cols+ %d %d-%d", parent.Row(), first, last)
}
func (r *recorder) ColumnsRemoved(parent Index, first, last int) {
	r.add("cols- %d %d-%d", parent.Row(), first, last)
}
func (r *recorder) ColumnsAboutToBeMoved(sourceParent Index, first, last int, destinationParent Index, destination int) {
	r.add("cols~? %d %d-%d %d", sourceParent.Row(), first, last, destination)
}
func (r *recorder) ColumnsMoved(sourceParent Index, first, last int, destinationParent Index, destination int) {
	r.add("cols~ %d %d-%d %d", sourceParent.Row(), first, last, destination)
}
func (r *recorder) LayoutChanged(parents []Index, hint LayoutHint) {
	r.add("layout %d %d", len(parents), hint)
}
func (r *recorder) ModelReset() { r.add("reset") }

func (r *recorder) String() string { return strings.Join(r.events, "; ") }

// displayRows returns the column 0 display values below parent.
func displayRows(tree *Tree, parent Index) []any {
	var out []any
	for row := range tree.RowCount(parent) {
		out = append(out, tree.Data(tree.Index(row, 0, parent), DisplayRole))
	}
	return out
}

func TestTreeInsertAndNavigate(t *testing.T) {
	tree := NewTree("name", "value")
	events := &recorder{}
	tree.Subscribe(events)

	a := tree.AppendRow(Index{}, "a", 1)
	b := tree.AppendRow(Index{}, "b", 2)
	child := tree.AppendRow(b, "b.0", 3)

	if got := tree.RowCount(Index{}); got != 2 {
		t.Fatalf("root RowCount = %d, want 2", got)
	}
	if got := tree.ColumnCount(Index{}); got != 2 {
		t.Fatalf("ColumnCount = %d, want 2", got)
	}
	if got := tree.Data(tree.Index(0, 1, b), DisplayRole); got != 3 {
		t.Errorf("child value = %v, want 3", got)
	}
	if parent := tree.Parent(child); parent.Row() != 1 || parent.Key() != b.Key() {
		t.Errorf("Parent(child) = %v, want row 1", parent)
	}
	if parent := tree.Parent(a); parent.Valid() {
		t.Errorf("Parent(top-level) = %v, want root", parent)
	}
	// Only column 0 has children.
	if got := tree.RowCount(tree.Index(1, 1, Index{})); got != 0 {
		t.Errorf("RowCount(column 1) = %d, want 0", got)
	}
	if got := tree.HeaderData(1, Horizontal, DisplayRole); got != "value" {
		t.Errorf("header = %v, want value", got)
	}
	want := "rows+ -1 0-0; rows+ -1 1-1; rows+ 1 0-0"
	if got := events.String(); got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestTreeRemoveRows(t *testing.T) {
	tree := NewTree("name")
	for _, name := range []string{"a", "b", "c", "d"} {
		tree.AppendRow(Index{}, name)
	}
	b := tree.Index(1, 0, Index{})
	events := &recorder{}
	tree.Subscribe(events)

	if !tree.RemoveRows(Index{}, 1, 2) {
		t.Fatal("RemoveRows failed")
	}
	if got := fmt.Sprint(displayRows(tree, Index{})); got != "[a d]" {
		t.Errorf("rows = %s, want [a d]", got)
	}
	if got := tree.Locate(b.Key(), 0); got.Valid() {
		t.Errorf("Locate(removed) = %v, want invalid", got)
	}
	if tree.RemoveRows(Index{}, 1, 5) {
		t.Error("RemoveRows out of range succeeded")
	}
	if got := events.String(); got != "rows- -1 1-2" {
		t.Errorf("events = %q", got)
	}
}

func TestTreeMoveRowsSameParent(t *testing.T) {
	tests := []struct {
		name        string
		row, count  int
		destination int
		want        string
		ok          bool
	}{
		{"down", 0, 1, 3, "[b c a d]", true},
		{"up", 3, 1, 0, "[d a b c]", true},
		{"block down", 0, 2, 4, "[c d a b]", true},
		{"onto itself", 1, 1, 1, "[a b c d]", false},
		{"just after itself", 1, 1, 2, "[a b c d]", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tree := NewTree("name")
			for _, name := range []string{"a", "b", "c", "d"} {
				tree.AppendRow(Index{}, name)
			}
			if got := tree.MoveRows(Index{}, test.row, test.count, Index{}, test.destination); got != test.ok {
				t.Fatalf("MoveRows = %v, want %v", got, test.ok)
			}
			if got := fmt.Sprint(displayRows(tree, Index{})); got != test.want {
				t.Errorf("rows = %s, want %s", got, test.want)
			}
		})
	}
}

func TestTreeMoveRowsAcrossParentsReportsBothLayouts(t *testing.T) {
	tree := NewTree("name")
	x := tree.AppendRow(Index{}, "x")
	y := tree.AppendRow(Index{}, "y")
	tree.AppendRow(y, "y.0")
	events := &recorder{}
	tree.Subscribe(events)

	// Moving x into y shifts y from row 1 to row 0.
	if !tree.MoveRows(Index{}, 0, 1, y, 1) {
		t.Fatal("MoveRows failed")
	}
	want := "rows~? -1 0-0 1 1; rows~ -1 0-0 0 1"
	if got := events.String(); got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
	if got := fmt.Sprint(displayRows(tree, tree.Index(0, 0, Index{}))); got != "[y.0 x]" {
		t.Errorf("y children = %s", got)
	}
	if located := tree.Locate(x.Key(), 0); tree.Parent(located).Key() != y.Key() {
		t.Errorf("x not below y after move")
	}
}

func TestTreeMoveRowsRejectsCycle(t *testing.T) {
	tree := NewTree("name")
	a := tree.AppendRow(Index{}, "a")
	child := tree.AppendRow(a, "a.0")
	if tree.MoveRows(Index{}, 0, 1, child, 0) {
		t.Fatal("moving a row below its own descendant succeeded")
	}
}

func TestTreeSetData(t *testing.T) {
	tree := NewTree("name")
	index := tree.AppendRow(Index{}, "a")
	events := &recorder{}
	tree.Subscribe(events)

	if tree.SetData(index, "z", EditRole) {
		t.Fatal("SetData on a non-editable cell succeeded")
	}
	tree.SetFlags(index, DefaultItemFlags|ItemIsEditable)
	if !tree.SetData(index, "z", EditRole) {
		t.Fatal("SetData on an editable cell failed")
	}
	if got := tree.Data(index, DisplayRole); got != "z" {
		t.Errorf("display = %v, want z (edit and display share storage)", got)
	}
	if got := events.String(); got != "data 0,0 [0]" {
		t.Errorf("events = %q", got)
	}
}

func TestTreeColumns(t *testing.T) {
	tree := NewTree("a", "b")
	parent := tree.AppendRow(Index{}, "p", 1)
	tree.AppendRow(parent, "c", 2)
	events := &recorder{}
	tree.Subscribe(events)

	if !tree.InsertColumns(1, 1) {
		t.Fatal("InsertColumns failed")
	}
	if got := tree.ColumnCount(Index{}); got != 3 {
		t.Fatalf("ColumnCount = %d, want 3", got)
	}
	if got := tree.Data(tree.Index(0, 2, Index{}), DisplayRole); got != 1 {
		t.Errorf("shifted value = %v, want 1", got)
	}
	if got := tree.HeaderData(2, Horizontal, DisplayRole); got != "b" {
		t.Errorf("shifted header = %v, want b", got)
	}

	if !tree.MoveColumns(2, 1, 0) {
		t.Fatal("MoveColumns failed")
	}
	if got := tree.Data(tree.Index(0, 0, parent), DisplayRole); got != 2 {
		t.Errorf("moved child value = %v, want 2", got)
	}
	if got := tree.HeaderData(0, Horizontal, DisplayRole); got != "b" {
		t.Errorf("moved header = %v, want b", got)
	}

	if tree.RemoveColumns(0, 3) {
		t.Fatal("removing every column succeeded")
	}
	if !tree.RemoveColumns(1, 2) {
		t.Fatal("RemoveColumns failed")
	}
	want := "cols+ -1 1-1; cols+ 0 1-1; " +
		"cols~? -1 2-2 0; cols~? 0 2-2 0; cols~ 0 2-2 0; cols~ -1 2-2 0; " +
		"cols- -1 1-2; cols- 0 1-2"
	if got := events.String(); got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestTreeSort(t *testing.T) {
	tree := NewTree("name", "size")
	tree.AppendRow(Index{}, "b", 10)
	tree.AppendRow(Index{}, "c", 2)
	tree.AppendRow(Index{}, "a", 7)
	events := &recorder{}
	tree.Subscribe(events)

	tree.Sort(1, AscendingOrder)
	if got := fmt.Sprint(displayRows(tree, Index{})); got != "[c a b]" {
		t.Errorf("ascending by size = %s", got)
	}
	tree.Sort(0, DescendingOrder)
	if got := fmt.Sprint(displayRows(tree, Index{})); got != "[c b a]" {
		t.Errorf("descending by name = %s", got)
	}
	if got := events.String(); got != "layout 0 1; layout 0 1" {
		t.Errorf("events = %q", got)
	}
}

func TestTreeResetSuppressesDetail(t *testing.T) {
	tree := NewTree("name")
	old := tree.AppendRow(Index{}, "old")
	events := &recorder{}
	tree.Subscribe(events)

	tree.Reset(func() {
		tree.AppendRow(Index{}, "new 1")
		tree.AppendRow(Index{}, "new 2")
	})
	if got := events.String(); got != "reset" {
		t.Errorf("events = %q, want reset", got)
	}
	if tree.Locate(old.Key(), 0).Valid() {
		t.Error("row from before reset still locatable")
	}
	if got := tree.RowCount(Index{}); got != 2 {
		t.Errorf("RowCount = %d, want 2", got)
	}
}

func TestTreeUnsubscribe(t *testing.T) {
	tree := NewTree("name")
	events := &recorder{}
	unsubscribe := tree.Subscribe(events)
	if tree.ObserverCount() != 1 {
		t.Fatalf("ObserverCount = %d", tree.ObserverCount())
	}
	unsubscribe()
	tree.AppendRow(Index{}, "x")
	if len(events.events) != 0 {
		t.Errorf("unsubscribed observer got %v", events.events)
	}
	if tree.ObserverCount() != 0 {
		t.Errorf("ObserverCount = %d after unsubscribe", tree.ObserverCount())
	}
}

func TestTreeDestroy(t *testing.T) {
	tree := NewTree()
	tree.Destroy()
	tree.Destroy()
	select {
	case <-tree.Destroyed():
	default:
		t.Fatal("Destroyed channel not closed")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{nil, nil, 0},
		{nil, 1, -1},
		{1, int64(1), 0},
		{2, 1.5, 1},
		{3, "a", -1},
		{"a", "b", -1},
		{"b", "b", 0},
	}
	for _, test := range tests {
		if got := CompareValues(test.a, test.b); got != test.want {
			t.Errorf("CompareValues(%v, %v) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
