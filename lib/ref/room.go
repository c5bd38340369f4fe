// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomID is a validated relay room ID (e.g., "!abc123:relay.example").
//
// Room IDs are assigned by the relay when a room is created and come
// back through createRoom responses and /sync. Code never constructs
// them, it only parses them.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parsePrefixedID(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseRoomID(raw string) RoomID {
	roomID, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return roomID
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
