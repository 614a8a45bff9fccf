// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "testing"

func TestModelIndexNavigation(t *testing.T) {
	index := RootIndex.Child(2, 0).Child(5, 1)

	if index.Depth() != 2 || index.Row() != 5 || index.Column() != 1 {
		t.Fatalf("index = %v", index)
	}
	if got := index.Parent(); !got.Equal(ModelIndex{{2, 0}}) {
		t.Errorf("Parent = %v", got)
	}
	if got := index.Parent().Parent(); !got.IsRoot() {
		t.Errorf("grandparent = %v, want root", got)
	}
	if got := index.Sibling(6, 0); !got.Equal(ModelIndex{{2, 0}, {6, 0}}) {
		t.Errorf("Sibling = %v", got)
	}
	if !index.HasPrefix(ModelIndex{{2, 0}}) || index.HasPrefix(ModelIndex{{3, 0}}) {
		t.Error("HasPrefix wrong")
	}
	if RootIndex.Row() != -1 || RootIndex.Column() != -1 {
		t.Error("root row/column should be -1")
	}
}

func TestModelIndexChildDoesNotAlias(t *testing.T) {
	parent := RootIndex.Child(1, 0)
	first := parent.Child(0, 0)
	second := parent.Child(1, 0)
	if first.Equal(second) {
		t.Fatalf("children alias each other: %v %v", first, second)
	}
	// Appending to a Parent result must not clobber the child.
	sibling := append(first.Parent(), IndexStep{Row: 9})
	if first[1].Row != 0 || sibling[1].Row != 9 {
		t.Errorf("Parent result aliases child storage: first=%v sibling=%v", first, sibling)
	}
}

func TestModelIndexString(t *testing.T) {
	tests := []struct {
		index ModelIndex
		want  string
	}{
		{RootIndex, "/"},
		{ModelIndex{{0, 0}}, "/0,0"},
		{ModelIndex{{3, 1}, {0, 2}}, "/3,1/0,2"},
	}
	for _, test := range tests {
		if got := test.index.String(); got != test.want {
			t.Errorf("String(%#v) = %q, want %q", test.index, got, test.want)
		}
	}
}
