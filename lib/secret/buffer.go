// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a fixed-size region of locked, non-dumpable memory. It
// must not be copied after creation. Any access after Close panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// New allocates a zero-filled secret buffer of the given size.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	// RLIMIT_MEMLOCK is small on many hosts. An unlocked region is
	// still excluded from core dumps and zeroed on Close.
	locked := unix.Mlock(data) == nil
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		if locked {
			unix.Munlock(data)
		}
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}

	return &Buffer{data: data, locked: locked}, nil
}

// NewFromBytes copies source into a new secret buffer and zeroes
// source, so the caller's slice no longer holds the secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// NewFromString is NewFromBytes for strings. The string itself stays
// on the heap until collected; the buffer is the durable copy.
func NewFromString(source string) (*Buffer, error) {
	return NewFromBytes([]byte(source))
}

// Bytes returns a slice pointing directly into the locked region. Do
// not retain it beyond the lifetime of the Buffer.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data
}

// String returns a heap copy of the contents.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return string(b.data)
}

// Len returns the size of the secret data.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close zeroes the contents and releases the region. Close is
// idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.data)

	var firstError error
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			firstError = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}
	b.data = nil
	return firstError
}

// Zero overwrites data with zeroes.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
