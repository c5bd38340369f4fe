// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "valid simple", input: "!abc123:relay.example"},
		{name: "valid with port in server", input: "!opaque:127.0.0.1:8448"},
		{name: "empty string", input: "", wantErr: "empty room ID"},
		{name: "missing bang prefix", input: "abc123:relay.example", wantErr: "must start with '!'"},
		{name: "missing colon and server", input: "!abc123", wantErr: "missing ':server' suffix"},
		{name: "empty local part", input: "!:relay.example", wantErr: "empty local part"},
		{name: "empty server name", input: "!abc123:", wantErr: "empty server name"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			roomID, err := ParseRoomID(test.input)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("ParseRoomID(%q) succeeded, want error containing %q", test.input, test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("ParseRoomID(%q) error = %q, want error containing %q", test.input, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRoomID(%q) unexpected error: %v", test.input, err)
			}
			if roomID.String() != test.input {
				t.Errorf("String() = %q, want %q", roomID.String(), test.input)
			}
		})
	}
}

func TestUserIDParts(t *testing.T) {
	userID := MustParseUserID("@0f1e2d:beacon-node-1.sky.papers.tech")
	if userID.Localpart() != "0f1e2d" {
		t.Errorf("Localpart() = %q", userID.Localpart())
	}
	if userID.Server() != "beacon-node-1.sky.papers.tech" {
		t.Errorf("Server() = %q", userID.Server())
	}

	withPort := MustParseUserID("@abc:127.0.0.1:40123")
	if withPort.Server() != "127.0.0.1:40123" {
		t.Errorf("Server() with port = %q, want 127.0.0.1:40123", withPort.Server())
	}

	var zero UserID
	if zero.Server() != "" || zero.Localpart() != "" {
		t.Error("zero UserID should have empty parts")
	}
}

func TestParseUserIDRejectsEmptyServer(t *testing.T) {
	if _, err := ParseUserID("@abc:"); err == nil {
		t.Fatal("ParseUserID with empty server should fail")
	}
}

func TestRefsAsJSONMapKeys(t *testing.T) {
	type payload struct {
		Rooms  map[RoomID]UserID `json:"rooms"`
		Event  EventID           `json:"event"`
		Absent UserID            `json:"absent"`
	}
	original := payload{
		Rooms: map[RoomID]UserID{
			MustParseRoomID("!r1:relay.example"): MustParseUserID("@peer:relay.example"),
		},
		Event: MustParseEventID("$evt"),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Rooms[MustParseRoomID("!r1:relay.example")] != MustParseUserID("@peer:relay.example") {
		t.Errorf("room map not preserved: %v", decoded.Rooms)
	}
	if decoded.Event != original.Event {
		t.Errorf("event = %v, want %v", decoded.Event, original.Event)
	}
	if !decoded.Absent.IsZero() {
		t.Errorf("absent user should decode to zero, got %q", decoded.Absent)
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	var roomID RoomID
	if err := json.Unmarshal([]byte(`"not-a-room"`), &roomID); err == nil {
		t.Error("expected error for invalid room ID")
	}
	var eventID EventID
	if err := json.Unmarshal([]byte(`"$"`), &eventID); err == nil {
		t.Error("expected error for bare '$' event ID")
	}
}
