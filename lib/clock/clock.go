// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for the protocol's timers: the
// selection debounce, the discovery announcer and discovery expiry.
// Production code uses Real; tests use Fake and advance time
// explicitly, so a 125 ms debounce is tested without sleeping.
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	server := selection.NewServer(..., selection.Options{Clock: fake})
//	fake.Advance(125 * time.Millisecond)
package clock

import "time"

// Clock abstracts the time operations the protocol uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer's C is
	// nil. If d <= 0, f runs immediately: in a new goroutine for the
	// real clock, synchronously for the fake.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks every d on C.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C, a channel of capacity 1. Ticks
// are dropped when the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset restarts the tick cycle with a new interval.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }

// Timer is a single pending event created by AfterFunc.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. It reports whether the call
// stopped an active timer.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the timer to fire d from now, whether or not it
// was active. It reports whether the timer was active.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
