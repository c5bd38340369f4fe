// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relaytest provides an in-memory relay server for tests. It
// speaks the subset of the relay HTTP API the transport uses: the
// beacon info probe, signed-password login, long-poll sync, room
// creation, invites, joins, and text messages.
//
// The server verifies login passwords the way production relays do
// (an ed25519 signature over the current five-minute window) and
// enforces membership: sending to or inviting into a room the caller
// has not joined returns M_FORBIDDEN. Tests inject additional failures
// with [Server.FailNext].
//
//	relay := relaytest.New(t, relaytest.Options{Region: "europe-west"})
//	// relay.Name() is "127.0.0.1:<port>"; use scheme "http".
package relaytest
