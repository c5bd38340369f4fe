// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relayclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/messaging"
)

// putRoomLocked stores room, appending it to the arrival order when
// it is new. Caller holds c.mu.
func (c *Client) putRoomLocked(room Room) {
	if _, ok := c.rooms[room.ID]; !ok {
		c.roomOrder = append(c.roomOrder, room.ID)
	}
	c.rooms[room.ID] = room
}

// Room returns the local projection of a room. An unknown room has
// status RoomUnknown and no members.
func (c *Client) Room(roomID ref.RoomID) Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	if !ok {
		return Room{ID: roomID}
	}
	return room.clone()
}

// JoinedRooms returns the rooms the local user has joined, in the
// order the rooms first became known.
func (c *Client) JoinedRooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	var joined []Room
	for _, roomID := range c.roomOrder {
		if room := c.rooms[roomID]; room.Status == RoomJoined {
			joined = append(joined, room.clone())
		}
	}
	return joined
}

// UserID returns the logged-in user id.
func (c *Client) UserID() (ref.UserID, error) {
	session, release, err := c.acquire()
	if err != nil {
		return ref.UserID{}, err
	}
	defer release()
	return session.UserID(), nil
}

// RelayServer returns the server the current session is logged in to.
func (c *Client) RelayServer() (string, error) {
	c.mu.Lock()
	current := c.slot
	c.mu.Unlock()
	current.mu.Lock()
	defer current.mu.Unlock()
	if current.retired || current.session == nil {
		return "", ErrNotStarted
	}
	return current.server, nil
}

// CreateTrustedPrivateRoom creates a direct room and invites members.
func (c *Client) CreateTrustedPrivateRoom(ctx context.Context, members ...ref.UserID) (ref.RoomID, error) {
	session, release, err := c.acquire()
	if err != nil {
		return ref.RoomID{}, err
	}
	defer release()

	invite := make([]string, len(members))
	for i, member := range members {
		invite[i] = member.String()
	}
	response, err := session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Preset:   messaging.PresetTrustedPrivateChat,
		IsDirect: true,
		Invite:   invite,
	})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("relayclient: creating room: %w", err)
	}
	c.logger.Debug("created room", "room_id", response.RoomID, "members", len(members))
	return response.RoomID, nil
}

// InviteToRooms invites user into each room. Rooms the local user is
// invited to or has left are skipped.
func (c *Client) InviteToRooms(ctx context.Context, user ref.UserID, roomIDs ...ref.RoomID) error {
	session, release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	var errs []error
	for _, roomID := range roomIDs {
		if status := c.Room(roomID).Status; status != RoomJoined && status != RoomUnknown {
			continue
		}
		if err := session.InviteUser(ctx, roomID, user); err != nil {
			errs = append(errs, fmt.Errorf("relayclient: inviting %s to %s: %w", user, roomID, err))
		}
	}
	return errors.Join(errs...)
}

// JoinRooms joins each room. Rooms already joined are skipped.
func (c *Client) JoinRooms(ctx context.Context, roomIDs ...ref.RoomID) error {
	session, release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	var errs []error
	for _, roomID := range roomIDs {
		if c.Room(roomID).Status == RoomJoined {
			continue
		}
		if _, err := session.JoinRoom(ctx, roomID); err != nil {
			errs = append(errs, fmt.Errorf("relayclient: joining %s: %w", roomID, err))
		}
	}
	return errors.Join(errs...)
}

// SendTextMessage sends body as an m.text message.
func (c *Client) SendTextMessage(ctx context.Context, roomID ref.RoomID, body string) error {
	session, release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, err := session.SendMessage(ctx, roomID, messaging.NewTextMessage(body)); err != nil {
		return fmt.Errorf("relayclient: sending to %s: %w", roomID, err)
	}
	return nil
}
