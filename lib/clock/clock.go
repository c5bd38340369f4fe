// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"time"
)

// Clock abstracts the time operations used by the transport.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Wait blocks for d on the given clock or until ctx is done, whichever
// comes first. Returns ctx.Err() when the context ends the wait.
func Wait(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
