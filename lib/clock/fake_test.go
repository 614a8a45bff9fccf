// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	if got, want := clock.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfter(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(3 * time.Second)

	clock.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("After did not fire at its deadline")
	}

	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestFakeClockAfterFunc(t *testing.T) {
	clock := Fake(epoch)
	calls := 0
	clock.AfterFunc(125*time.Millisecond, func() { calls++ })

	clock.Advance(124 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("callback ran %d times before the deadline", calls)
	}
	clock.Advance(time.Millisecond)
	if calls != 1 {
		t.Fatalf("callback ran %d times at the deadline, want 1", calls)
	}
	clock.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("one-shot callback ran %d times, want 1", calls)
	}
}

func TestFakeClockAfterFuncStop(t *testing.T) {
	clock := Fake(epoch)
	calls := 0
	timer := clock.AfterFunc(time.Second, func() { calls++ })

	if !timer.Stop() {
		t.Fatal("Stop on an active timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	clock.Advance(2 * time.Second)
	if calls != 0 {
		t.Fatalf("stopped timer fired %d times", calls)
	}
}

func TestFakeClockAfterFuncResetRestartsDeadline(t *testing.T) {
	clock := Fake(epoch)
	calls := 0
	timer := clock.AfterFunc(100*time.Millisecond, func() { calls++ })

	clock.Advance(80 * time.Millisecond)
	if !timer.Reset(100 * time.Millisecond) {
		t.Fatal("Reset on an active timer returned false")
	}
	clock.Advance(80 * time.Millisecond)
	if calls != 0 {
		t.Fatal("timer fired at its original deadline after Reset")
	}
	clock.Advance(20 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFakeClockAfterFuncResetAfterStopFiresOnce(t *testing.T) {
	clock := Fake(epoch)
	calls := 0
	timer := clock.AfterFunc(time.Second, func() { calls++ })

	// Stop leaves the waiter in the pending list until the next
	// Advance. Reset must not register it a second time.
	timer.Stop()
	if timer.Reset(time.Second) {
		t.Fatal("Reset after Stop reported the timer active")
	}
	if got := clock.PendingCount(); got != 1 {
		t.Fatalf("PendingCount = %d, want 1", got)
	}
	clock.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFakeClockAfterFuncResetAfterFire(t *testing.T) {
	clock := Fake(epoch)
	calls := 0
	timer := clock.AfterFunc(time.Second, func() { calls++ })
	clock.Advance(time.Second)

	if timer.Reset(time.Second) {
		t.Fatal("Reset after firing reported the timer active")
	}
	clock.Advance(time.Second)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestFakeClockAfterFuncZeroDuration(t *testing.T) {
	clock := Fake(epoch)
	called := false
	clock.AfterFunc(0, func() { called = true })
	if !called {
		t.Fatal("AfterFunc(0) should run the callback synchronously")
	}
}

func TestFakeClockTicker(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(5 * time.Second)

	for i := range 3 {
		clock.Advance(5 * time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}

	ticker.Stop()
	clock.Advance(10 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}

	ticker.Reset(time.Second)
	clock.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("reset ticker did not deliver a tick")
	}
}

func TestFakeClockTickerDropsTicks(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	clock.Advance(5 * time.Second)

	received := 0
	for {
		select {
		case <-ticker.C:
			received++
			continue
		default:
		}
		break
	}
	if received != 1 {
		t.Fatalf("received %d ticks, want 1 (buffer capacity)", received)
	}
}

func TestFakeClockTickerPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) did not panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-clock.After(time.Second)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine did not observe the timer")
	}
}

func TestFakeClockConcurrentAccess(t *testing.T) {
	clock := Fake(epoch)
	var wait sync.WaitGroup
	for range 8 {
		wait.Add(1)
		go func() {
			defer wait.Done()
			for range 100 {
				timer := clock.AfterFunc(time.Millisecond, func() {})
				clock.Now()
				timer.Reset(2 * time.Millisecond)
				timer.Stop()
			}
		}()
	}
	for range 50 {
		clock.Advance(time.Millisecond)
	}
	wait.Wait()
}

func TestClocksImplementClock(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()
}
