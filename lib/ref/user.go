// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated relay user ID. For beacon peers this is the
// routing identity "@" + hex(hash(publicKey)) + ":" + relayServer, so
// the server part tells which relay currently hosts the peer.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parsePrefixedID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return userID
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and the first ':'. Returns ""
// for the zero value.
func (u UserID) Localpart() string {
	localpart, _, _ := parsePrefixedID(u.id, '@', "user ID")
	return localpart
}

// Server returns everything after the first ':'. Returns "" for the
// zero value.
func (u UserID) Server() string {
	_, server, _ := parsePrefixedID(u.id, '@', "user ID")
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
