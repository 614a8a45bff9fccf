// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"reflect"
	"sync"
	"time"

	"github.com/bureau-foundation/modelsync/lib/codec"
	"github.com/bureau-foundation/modelsync/protocol"
)

// maxFilterDepth bounds recursion into nested values. Values nested
// deeper (including self-referencing maps) are rejected.
const maxFilterDepth = 32

// Filter decides which item data values may be placed in a content
// reply. A value that fails the filter is dropped from the reply; the
// rest of the reply is sent.
//
// A verdict that follows from the shape of a type is computed once and
// cached. Types that hold interface values or encode through their own
// marshal methods are walked and trial-encoded on every call.
type Filter struct {
	mu       sync.Mutex
	foreign  map[reflect.Type]bool
	verdicts map[reflect.Type]bool
}

// Types accepted without a trial encode.
var whitelisted = map[reflect.Type]bool{
	reflect.TypeFor[time.Time]():      true,
	reflect.TypeFor[time.Duration]():  true,
	reflect.TypeFor[[]byte]():         true,
	reflect.TypeFor[protocol.Image](): true,
}

// NewFilter returns a filter with no foreign types registered.
func NewFilter() *Filter {
	return &Filter{
		foreign:  make(map[reflect.Type]bool),
		verdicts: make(map[reflect.Type]bool),
	}
}

// RegisterForeign marks the types of samples as references to
// in-process objects that must never cross the wire, even when the
// encoder could represent them. Slices, arrays, maps and structs
// holding these types are rejected too.
func (f *Filter) RegisterForeign(samples ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sample := range samples {
		f.foreign[reflect.TypeOf(sample)] = true
	}
	clear(f.verdicts)
}

// CanSerialize reports whether v can be sent. nil is rejected.
func (f *Filter) CanSerialize(v any) bool {
	if v == nil {
		return false
	}
	value := reflect.ValueOf(v)
	if verdict, decided := f.typeVerdict(value.Type()); decided {
		return verdict
	}
	return f.check(value, 0) && codec.Probe(v) == nil
}

// check walks a value whose verdict depends on its contents. Values
// with their own marshal methods pass here; CanSerialize trial-encodes
// the whole value afterwards.
func (f *Filter) check(value reflect.Value, depth int) bool {
	if depth > maxFilterDepth {
		return false
	}
	valueType := value.Type()
	if verdict, decided := f.typeVerdict(valueType); decided {
		return verdict
	}
	if valueType.Kind() == reflect.Interface {
		if value.IsNil() {
			return true
		}
		return f.check(value.Elem(), depth+1)
	}
	if codec.HasCustomEncoding(valueType) {
		return true
	}
	switch valueType.Kind() {
	case reflect.Slice, reflect.Array:
		for i := range value.Len() {
			if !f.check(value.Index(i), depth+1) {
				return false
			}
		}
		return true
	case reflect.Map:
		iterator := value.MapRange()
		for iterator.Next() {
			if !f.check(iterator.Key(), depth+1) || !f.check(iterator.Value(), depth+1) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := range valueType.NumField() {
			if encodedField(valueType.Field(i)) && !f.check(value.Field(i), depth+1) {
				return false
			}
		}
		return true
	}
	return false
}

// typeVerdict returns the verdict for a type when its shape decides
// it. Only decided verdicts are cached.
func (f *Filter) typeVerdict(valueType reflect.Type) (verdict, decided bool) {
	f.mu.Lock()
	verdict, decided = f.verdicts[valueType]
	f.mu.Unlock()
	if decided {
		return verdict, true
	}

	verdict, decided = f.staticVerdict(valueType, nil)
	if decided {
		f.mu.Lock()
		f.verdicts[valueType] = verdict
		f.mu.Unlock()
	}
	return verdict, decided
}

// staticVerdict decides a type from its shape alone. It reports false
// for decided when the type holds interface values, encodes through a
// marshal method, or recurses into itself.
func (f *Filter) staticVerdict(valueType reflect.Type, seen map[reflect.Type]bool) (verdict, decided bool) {
	if f.isForeign(valueType) {
		return false, true
	}
	if whitelisted[valueType] {
		return true, true
	}
	switch valueType.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Pointer,
		reflect.Complex64, reflect.Complex128, reflect.Uintptr:
		return false, true
	case reflect.Interface:
		return false, false
	}
	if codec.HasCustomEncoding(valueType) {
		return false, false
	}
	switch valueType.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true, true
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		if seen[valueType] {
			return true, false
		}
		if seen == nil {
			seen = make(map[reflect.Type]bool)
		}
		seen[valueType] = true
		defer delete(seen, valueType)
	}
	switch valueType.Kind() {
	case reflect.Slice, reflect.Array:
		return f.staticVerdict(valueType.Elem(), seen)
	case reflect.Map:
		keyVerdict, keyDecided := f.staticVerdict(valueType.Key(), seen)
		if keyDecided && !keyVerdict {
			return false, true
		}
		elemVerdict, elemDecided := f.staticVerdict(valueType.Elem(), seen)
		if elemDecided && !elemVerdict {
			return false, true
		}
		return true, keyDecided && elemDecided
	case reflect.Struct:
		decided = true
		for i := range valueType.NumField() {
			field := valueType.Field(i)
			if !encodedField(field) {
				continue
			}
			fieldVerdict, fieldDecided := f.staticVerdict(field.Type, seen)
			if fieldDecided && !fieldVerdict {
				return false, true
			}
			decided = decided && fieldDecided
		}
		return true, decided
	}
	return false, false
}

// encodedField reports whether the encoder writes a struct field:
// exported or embedded, and not tagged "-".
func encodedField(field reflect.StructField) bool {
	if !field.IsExported() && !field.Anonymous {
		return false
	}
	tag, ok := field.Tag.Lookup("cbor")
	if !ok {
		tag = field.Tag.Get("json")
	}
	return tag != "-"
}

func (f *Filter) isForeign(valueType reflect.Type) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.foreign[valueType]
}

// cachedTypes returns the number of cached type verdicts.
func (f *Filter) cachedTypes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verdicts)
}
