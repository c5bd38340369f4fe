// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/beacon/lib/codec"
)

// Memory is an in-process Storage. Values are stored encoded, so
// callers never share mutable state with the store.
type Memory struct {
	mu     sync.Mutex
	values map[Key][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[Key][]byte)}
}

func (m *Memory) Get(ctx context.Context, key Key, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	encoded, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := codec.Unmarshal(encoded, out); err != nil {
		return true, fmt.Errorf("storage: decoding %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(ctx context.Context, key Key, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encoding %s: %w", key, err)
	}
	m.mu.Lock()
	m.values[key] = encoded
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Has reports whether key is present. Tests use it to check lifecycle
// deletions without decoding.
func (m *Memory) Has(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}
