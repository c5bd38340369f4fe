// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relayclient

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/beacon/lib/storage"
)

// preservedState is the part of the session that survives restarts.
// Messages are not kept: they were emitted already.
type preservedState struct {
	SyncToken string `cbor:"1,keyasint"`
	Rooms     []Room `cbor:"2,keyasint"`
}

// preservedLocked snapshots the store in arrival order. Caller holds
// c.mu.
func (c *Client) preservedLocked() preservedState {
	state := preservedState{SyncToken: c.syncToken, Rooms: make([]Room, 0, len(c.rooms))}
	for _, room := range c.roomOrder {
		stripped := c.rooms[room].clone()
		stripped.Messages = nil
		state.Rooms = append(state.Rooms, stripped)
	}
	return state
}

// restore loads the preserved state once per Client, merging it under
// anything already known.
func (c *Client) restore(ctx context.Context) error {
	c.mu.Lock()
	if c.restored {
		c.mu.Unlock()
		return nil
	}
	c.restored = true
	c.mu.Unlock()

	var state preservedState
	found, err := c.config.Storage.Get(ctx, storage.KeyPreservedState, &state)
	if err != nil {
		return fmt.Errorf("relayclient: loading preserved state: %w", err)
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncToken == "" {
		c.syncToken = state.SyncToken
	}
	for _, room := range state.Rooms {
		c.putRoomLocked(mergeRoom(room, c.rooms[room.ID]))
	}
	c.logger.Debug("restored sync state", "rooms", len(state.Rooms))
	return nil
}
