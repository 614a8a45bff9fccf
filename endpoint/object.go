// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"slices"
	"sync"
)

// ExportOptions select which parts of a registered object the server
// forwards to the client.
type ExportOptions uint8

const (
	ExportNone       ExportOptions = 0
	ExportSignals    ExportOptions = 1 << 0
	ExportProperties ExportOptions = 1 << 1
	ExportBoth                     = ExportSignals | ExportProperties
)

func (o ExportOptions) String() string {
	switch o {
	case ExportNone:
		return "none"
	case ExportSignals:
		return "signals"
	case ExportProperties:
		return "properties"
	case ExportBoth:
		return "both"
	}
	return "invalid"
}

// Description is the introspectable surface of an object. Signal
// indexes on the wire are positions in Signals.
type Description struct {
	Signals    []string
	Properties []string
	Methods    []string
}

// Describable objects report their introspectable surface. Describe
// must return the same description for every value of a type; the
// server computes its signal dispatch table once per type.
type Describable interface {
	Describe() Description
}

// SignalSource lets a listener be attached to one signal. listener
// may be called from any goroutine; the server takes its own locks.
type SignalSource interface {
	ConnectSignal(index int, listener func(args []any)) (disconnect func())
}

// PropertyReader returns an object's current property values.
type PropertyReader interface {
	Properties() map[string]any
}

// PropertyNotifier reports property changes.
type PropertyNotifier interface {
	NotifyPropertyChanges(fn func(name string, value any)) (stop func())
}

// Invokable objects accept method calls by name.
type Invokable interface {
	Invoke(method string, args []any) error
}

// SignalTable is an embeddable SignalSource. The zero value is ready
// to use.
type SignalTable struct {
	mu        sync.Mutex
	listeners map[int][]*signalListener
}

type signalListener struct {
	fn func(args []any)
}

// ConnectSignal implements SignalSource.
func (t *SignalTable) ConnectSignal(index int, listener func(args []any)) func() {
	entry := &signalListener{fn: listener}
	t.mu.Lock()
	if t.listeners == nil {
		t.listeners = make(map[int][]*signalListener)
	}
	t.listeners[index] = append(t.listeners[index], entry)
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.listeners[index] = slices.DeleteFunc(t.listeners[index], func(candidate *signalListener) bool {
			return candidate == entry
		})
	}
}

// Emit calls every listener of signal index with args, in connection
// order.
func (t *SignalTable) Emit(index int, args ...any) {
	t.mu.Lock()
	listeners := slices.Clone(t.listeners[index])
	t.mu.Unlock()
	for _, listener := range listeners {
		listener.fn(args)
	}
}

// ListenerCount returns the number of listeners on signal index.
func (t *SignalTable) ListenerCount(index int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners[index])
}
