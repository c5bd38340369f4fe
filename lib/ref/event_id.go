// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EventID is a validated relay event ID (e.g., "$abc123xyz"). Event
// IDs are opaque: the only structure checked is the '$' sigil. They
// are the dedup key when merging redelivered sync deltas.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID must start with '$': %q", raw)
	}
	if len(raw) < 2 {
		return EventID{}, fmt.Errorf("event ID has no content after '$': %q", raw)
	}
	return EventID{id: raw}, nil
}

// MustParseEventID is like ParseEventID but panics on error.
func MustParseEventID(raw string) EventID {
	eventID, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return eventID
}

// String returns the full event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value.
func (e EventID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
