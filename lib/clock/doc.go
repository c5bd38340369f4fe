// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that every
// timer-driven behavior of the transport (relay race deadlines, join
// backoff, sync retry delays) can be tested deterministically.
//
// Production code holds a Clock and calls Real() by default. Tests
// inject Fake() and drive it:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go selector.Race(ctx)
//	fake.WaitForTimers(1)        // wait for the deadline to register
//	fake.Advance(time.Second)    // fire it
//
// Blocking waits should go through [Wait], which also honors context
// cancellation.
package clock
