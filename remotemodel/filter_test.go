// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/modelsync/lib/codec"
	"github.com/bureau-foundation/modelsync/protocol"
)

type objectHandle struct{ id int }

type handleHolder struct {
	Name   string
	Handle objectHandle
}

type handlePointerHolder struct {
	Handle *objectHandle
}

type nestedHolder struct {
	Inner struct{ Holder handleHolder }
}

type hiddenHandle struct {
	Name   string
	handle objectHandle
	Skip   objectHandle `cbor:"-"`
}

var errLimitExceeded = errors.New("limit exceeded")

// limitedValue encodes only while Count is zero.
type limitedValue struct{ Count int }

func (v limitedValue) MarshalCBOR() ([]byte, error) {
	if v.Count != 0 {
		return nil, errLimitExceeded
	}
	return codec.Marshal(0)
}

func TestFilter_CanSerialize(t *testing.T) {
	filter := NewFilter()
	filter.RegisterForeign(objectHandle{})

	number := 7
	selfReferencing := map[string]any{}
	selfReferencing["self"] = selfReferencing

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"int", 42, true},
		{"string", "text", true},
		{"float", 2.5, true},
		{"bool", true, true},
		{"bytes", []byte{1, 2}, true},
		{"time", time.Unix(1, 0), true},
		{"duration", time.Second, true},
		{"image", protocol.Image{Format: protocol.ImageFormatPNG}, true},
		{"int array", [3]int{1, 2, 3}, true},
		{"string map", map[int]string{1: "a"}, true},
		{"plain struct", struct{ Name string }{"x"}, true},
		{"dynamic map", map[string]any{"a": 1, "b": []any{"c", 2.0}}, true},
		{"nil inside interface slice", []any{nil, 1}, true},
		{"func", func() {}, false},
		{"chan", make(chan int), false},
		{"pointer", &number, false},
		{"complex", complex(1, 2), false},
		{"uintptr", uintptr(1), false},
		{"foreign", objectHandle{id: 1}, false},
		{"slice of foreign", []objectHandle{{id: 1}}, false},
		{"map of foreign", map[string]objectHandle{"a": {id: 1}}, false},
		{"foreign inside interface slice", []any{1, objectHandle{id: 1}}, false},
		{"func inside dynamic map", map[string]any{"ok": 1, "bad": func() {}}, false},
		{"pointer inside interface slice", []any{&number}, false},
		{"self-referencing map", selfReferencing, false},
		{"foreign struct field", handleHolder{Name: "a", Handle: objectHandle{id: 1}}, false},
		{"pointer struct field", handlePointerHolder{Handle: &objectHandle{id: 1}}, false},
		{"nil pointer struct field", handlePointerHolder{}, false},
		{"foreign in nested struct", nestedHolder{}, false},
		{"foreign struct field inside interface slice", []any{handleHolder{}}, false},
		{"unencoded foreign fields", hiddenHandle{Name: "a"}, true},
		{"marshaler that encodes", limitedValue{}, true},
		{"marshaler that fails", limitedValue{Count: 1}, false},
		{"failing marshaler inside dynamic map", map[string]any{"ok": 1, "bad": limitedValue{Count: 1}}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := filter.CanSerialize(test.value); got != test.want {
				t.Errorf("CanSerialize(%T) = %v, want %v", test.value, got, test.want)
			}
			if got := filter.CanSerialize(test.value); got != test.want {
				t.Errorf("second CanSerialize(%T) = %v, want %v", test.value, got, test.want)
			}
		})
	}
}

func TestFilter_CachesVerdictsPerType(t *testing.T) {
	filter := NewFilter()
	filter.CanSerialize(42)
	filter.CanSerialize(43)
	if got := filter.cachedTypes(); got != 1 {
		t.Fatalf("cached types after two ints = %d, want 1", got)
	}
	filter.CanSerialize("text")
	filter.CanSerialize([]any{1, "x"})
	if got := filter.cachedTypes(); got != 2 {
		t.Fatalf("cached types = %d, want 2 (interface slices are checked per element)", got)
	}

	filter.RegisterForeign(objectHandle{})
	if got := filter.cachedTypes(); got != 0 {
		t.Fatalf("cached types after RegisterForeign = %d, want 0", got)
	}
}

func TestFilter_RegisteringForeignChangesVerdict(t *testing.T) {
	filter := NewFilter()
	if !filter.CanSerialize(objectHandle{id: 1}) {
		t.Fatal("unregistered struct rejected")
	}
	filter.RegisterForeign(objectHandle{})
	if filter.CanSerialize(objectHandle{id: 1}) {
		t.Fatal("struct accepted after being registered as foreign")
	}
}

func TestFilter_MarshalersAreJudgedPerValue(t *testing.T) {
	filter := NewFilter()
	if !filter.CanSerialize(limitedValue{}) {
		t.Fatal("encodable value rejected")
	}
	if filter.CanSerialize(limitedValue{Count: 3}) {
		t.Fatal("value of an accepted type accepted although it fails to encode")
	}
	if !filter.CanSerialize(limitedValue{}) {
		t.Fatal("encodable value rejected after a failing value of the same type")
	}
	if got := filter.cachedTypes(); got != 0 {
		t.Fatalf("cached types = %d, want 0 (marshalers decide per value)", got)
	}
}

func TestFilter_StructVerdictFollowsFields(t *testing.T) {
	filter := NewFilter()
	if !filter.CanSerialize(handleHolder{Name: "a"}) {
		t.Fatal("struct of plain fields rejected")
	}
	filter.RegisterForeign(objectHandle{})
	if filter.CanSerialize(handleHolder{Name: "a"}) {
		t.Fatal("struct accepted after its field type was registered as foreign")
	}
}
