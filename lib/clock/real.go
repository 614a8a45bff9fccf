// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Real returns the wall clock. Servers and mirrors fall back to it
// when their options leave Clock nil.
func Real() Clock { return wallClock{} }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// AfterFunc backs the mirror's request batching and the selection
// debounce; the debounce restarts its pending timer with Reset.
func (wallClock) AfterFunc(d time.Duration, f func()) *Timer {
	pending := time.AfterFunc(d, f)
	return &Timer{stopFunc: pending.Stop, resetFunc: pending.Reset}
}

// NewTicker backs the discovery announcer.
func (wallClock) NewTicker(d time.Duration) *Ticker {
	periodic := time.NewTicker(d)
	return &Ticker{C: periodic.C, stopFunc: periodic.Stop, resetFunc: periodic.Reset}
}
