// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relayclient

import (
	"slices"
	"strings"

	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/messaging"
)

// RoomStatus is the local user's membership in a room.
type RoomStatus int

const (
	RoomUnknown RoomStatus = iota
	RoomJoined
	RoomInvited
	RoomLeft
)

func (s RoomStatus) String() string {
	switch s {
	case RoomJoined:
		return "joined"
	case RoomInvited:
		return "invited"
	case RoomLeft:
		return "left"
	default:
		return "unknown"
	}
}

// MessageType classifies a room message.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageUnknown MessageType = "unknown"
)

// Message is a room message as seen by the transport.
type Message struct {
	ID      ref.EventID `cbor:"1,keyasint"`
	Type    MessageType `cbor:"2,keyasint"`
	Sender  ref.UserID  `cbor:"3,keyasint"`
	Content string      `cbor:"4,keyasint"`

	// Timestamp is the relay's origin_server_ts in milliseconds.
	Timestamp int64 `cbor:"5,keyasint"`
}

// Room is the local projection of a relay room.
type Room struct {
	ID       ref.RoomID   `cbor:"1,keyasint"`
	Status   RoomStatus   `cbor:"2,keyasint"`
	Members  []ref.UserID `cbor:"3,keyasint"`
	Messages []Message    `cbor:"4,keyasint,omitempty"`
}

// HasMember reports whether user is a member of the room.
func (r Room) HasMember(user ref.UserID) bool {
	return slices.Contains(r.Members, user)
}

func (r Room) clone() Room {
	r.Members = slices.Clone(r.Members)
	r.Messages = slices.Clone(r.Messages)
	return r
}

// mergeRoom folds update into existing. The update's status wins
// unless it is RoomUnknown; members and messages are unioned in
// arrival order, messages keyed by event id. Merging the same update
// twice has the same result as merging it once.
func mergeRoom(existing, update Room) Room {
	merged := existing.clone()
	merged.ID = update.ID
	if update.Status != RoomUnknown {
		merged.Status = update.Status
	}
	for _, member := range update.Members {
		if !slices.Contains(merged.Members, member) {
			merged.Members = append(merged.Members, member)
		}
	}
	for _, message := range update.Messages {
		if !slices.ContainsFunc(merged.Messages, func(m Message) bool { return m.ID == message.ID }) {
			merged.Messages = append(merged.Messages, message)
		}
	}
	return merged
}

// roomEqual compares status, members, and message ids.
func roomEqual(a, b Room) bool {
	if a.ID != b.ID || a.Status != b.Status || !slices.Equal(a.Members, b.Members) || len(a.Messages) != len(b.Messages) {
		return false
	}
	for i := range a.Messages {
		if a.Messages[i].ID != b.Messages[i].ID {
			return false
		}
	}
	return true
}

// roomsFromSync converts a sync response into room updates, ordered
// by section (join, invite, leave) and then by room id.
func roomsFromSync(response *messaging.SyncResponse) []Room {
	var rooms []Room
	for _, roomID := range sortedKeys(response.Rooms.Join) {
		joined := response.Rooms.Join[roomID]
		events := append(slices.Clone(joined.State.Events), joined.Timeline.Events...)
		rooms = append(rooms, roomFromEvents(roomID, RoomJoined, events))
	}
	for _, roomID := range sortedKeys(response.Rooms.Invite) {
		invited := response.Rooms.Invite[roomID]
		rooms = append(rooms, roomFromEvents(roomID, RoomInvited, invited.InviteState.Events))
	}
	for _, roomID := range sortedKeys(response.Rooms.Leave) {
		left := response.Rooms.Leave[roomID]
		events := append(slices.Clone(left.State.Events), left.Timeline.Events...)
		rooms = append(rooms, roomFromEvents(roomID, RoomLeft, events))
	}
	return rooms
}

func sortedKeys[V any](m map[ref.RoomID]V) []ref.RoomID {
	keys := make([]ref.RoomID, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b ref.RoomID) int { return strings.Compare(a.String(), b.String()) })
	return keys
}

// roomFromEvents derives members and messages from room events. A
// member is the creator of the room or the sender of a join.
func roomFromEvents(roomID ref.RoomID, status RoomStatus, events []messaging.Event) Room {
	room := Room{ID: roomID, Status: status}
	for _, event := range events {
		switch event.Type {
		case "m.room.create":
			if event.ContentString("creator") != "" && !slices.Contains(room.Members, event.Sender) {
				room.Members = append(room.Members, event.Sender)
			}
		case messaging.EventTypeRoomMember:
			if event.ContentString("membership") == "join" && !slices.Contains(room.Members, event.Sender) {
				room.Members = append(room.Members, event.Sender)
			}
		case messaging.EventTypeRoomMessage:
			if slices.ContainsFunc(room.Messages, func(m Message) bool { return m.ID == event.EventID }) {
				continue
			}
			messageType := MessageUnknown
			if event.ContentString("msgtype") == messaging.MsgTypeText {
				messageType = MessageText
			}
			room.Messages = append(room.Messages, Message{
				ID:        event.EventID,
				Type:      messageType,
				Sender:    event.Sender,
				Content:   event.ContentString("body"),
				Timestamp: event.OriginServerTS,
			})
		}
	}
	return room
}
