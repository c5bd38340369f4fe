// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for testing. Pending After and
// Sleep calls fire when Advance moves the clock past their deadline.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives after duration d elapses. If
// d <= 0, the channel receives immediately without registering a
// waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}

	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.waitersChanged.Broadcast()
	return channel
}

// Sleep pauses the calling goroutine until the clock advances past
// the deadline.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls within the new time, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current

	var toFire, remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		if !waiter.deadline.After(target) {
			toFire = append(toFire, waiter)
		} else {
			remaining = append(remaining, waiter)
		}
	}
	c.waiters = remaining
	c.waitersChanged.Broadcast()
	c.mu.Unlock()

	sort.Slice(toFire, func(i, j int) bool {
		return toFire[i].deadline.Before(toFire[j].deadline)
	})
	for _, waiter := range toFire {
		waiter.channel <- target
	}
}

// WaitForTimers blocks until at least n waiters are pending. This
// closes the race between a goroutine registering a timer and the
// test advancing the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of pending waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
