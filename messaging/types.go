// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/beacon/lib/ref"
)

// Login types and identifier kinds used by the relay login endpoint.
const (
	LoginTypePassword  = "m.login.password"
	IdentifierTypeUser = "m.id.user"
)

// Room presets and message types.
const (
	PresetTrustedPrivateChat = "trusted_private_chat"
	EventTypeRoomMessage     = "m.room.message"
	EventTypeRoomMember      = "m.room.member"
	MsgTypeText              = "m.text"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Type       string         `json:"type"`
	Identifier UserIdentifier `json:"identifier"`
	Password   string         `json:"password"`
	DeviceID   string         `json:"device_id"`
}

// UserIdentifier identifies the account logging in.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by the login endpoint.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// BeaconInfo is returned by GET /_synapse/client/beacon/info.
type BeaconInfo struct {
	Region       string   `json:"region"`
	KnownServers []string `json:"known_servers"`

	// Timestamp is the relay's clock in (fractional) seconds since
	// the epoch. Login passwords are derived from it.
	Timestamp float64 `json:"timestamp"`
}

// CreateRoomRequest is the body of POST /createRoom.
type CreateRoomRequest struct {
	Name       string   `json:"name,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Visibility string   `json:"visibility,omitempty"` // "public" or "private"
	Preset     string   `json:"preset,omitempty"`     // "private_chat", "public_chat", "trusted_private_chat"
	Invite     []string `json:"invite,omitempty"`
	IsDirect   bool     `json:"is_direct,omitempty"`
}

// CreateRoomResponse is returned by the createRoom endpoint.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgTypeText, Body: body}
}

// Event is an event as delivered by /sync.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// ContentString returns a string field of the event content, or "".
func (e Event) ContentString(field string) string {
	value, _ := e.Content[field].(string)
	return value
}

// SyncOptions configures a /sync request.
type SyncOptions struct {
	// Since is the next_batch token from a previous sync. Empty for
	// an initial sync.
	Since string

	// Timeout is the long-poll hold in milliseconds. Sent only when
	// SetTimeout is true, so that 0 (return immediately) can be
	// distinguished from "server default".
	Timeout    int
	SetTimeout bool
}

// SyncResponse is the response of GET /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups sync rooms by membership. Map keys are room IDs;
// encoding/json uses ref.RoomID's TextUnmarshaler for them.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is the sync delta of a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom is the sync delta of a room the user is invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is the sync delta of a room the user left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection holds timeline events.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch,omitempty"`
	Limited   bool    `json:"limited,omitempty"`
}

// StateSection holds state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// InviteRequest is the body of POST /rooms/{roomId}/invite.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// JoinResponse is returned by POST /rooms/{roomId}/join.
type JoinResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// SendEventResponse is returned by the send endpoint.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}
