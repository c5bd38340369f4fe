// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/beacon/lib/ref"
)

// Session is the set of authenticated relay operations the relay
// session client drives. *DirectSession is the production
// implementation; tests substitute scripted sessions to inject
// failures at a specific call.
type Session interface {
	// UserID returns the fully-qualified user ID.
	UserID() ref.UserID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// Sync performs an incremental sync.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// CreateRoom creates a new room.
	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)

	// InviteUser invites a user to a room.
	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error

	// JoinRoom joins a room by room ID. Returns the room ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// SendMessage sends an m.room.message event. Returns the event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
