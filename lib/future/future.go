// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package future provides a single-assignment value with many waiters.
//
// A Future is resolved at most once from outside (Resolve or Fail);
// later resolutions are ignored. Any number of goroutines may Wait on
// it, before or after resolution. The relay client uses one per
// session as its readiness gate, and the channel client uses one per
// connection attempt.
package future

import (
	"context"
	"sync"
)

// Future holds a value of type T that becomes available once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future with value. Returns false if the future
// was already completed.
func (f *Future[T]) Resolve(value T) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		close(f.done)
		resolved = true
	})
	return resolved
}

// Fail completes the future with an error. Returns false if the future
// was already completed.
func (f *Future[T]) Fail(err error) bool {
	resolved := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done returns a channel that is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the outcome without blocking. ok is false while the
// future is unresolved.
func (f *Future[T]) Peek() (value T, ok bool, err error) {
	select {
	case <-f.done:
		return f.value, true, f.err
	default:
		var zero T
		return zero, false, nil
	}
}
