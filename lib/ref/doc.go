// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides typed, immutable identifiers for relay objects:
// rooms, users (peer routing identities), and events.
//
// Relay identifiers arrive as strings in sync responses and are parsed
// at the boundary. Once constructed, a ref is a comparable value type
// usable as a map key. JSON and CBOR serialization use the canonical
// string form via encoding.TextMarshaler.
//
// Server names may carry a port ("127.0.0.1:8448"). Only the first ':'
// after the sigil separates the local part from the server.
package ref
