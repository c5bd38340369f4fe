// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relayclient maintains an authenticated session against a
// relay server and turns its sync stream into room state and events.
//
// [Client.Start] restores the preserved sync token and rooms, picks a
// relay through a [relay.Selector], and logs in with the identity's
// ed25519 login password. A failed login moves on to the next node of
// the region in the identity's deterministic order; a deactivated
// account regenerates the identity and returns
// [ErrAccountDeactivated].
//
// Once logged in, a background goroutine long-polls the sync endpoint.
// Each delta is merged into the local room store (idempotently, so a
// redelivered delta changes nothing), persisted when it changed
// anything, and fanned out to listeners as [InviteEvent] and
// [MessageEvent] values. Listeners run on the sync goroutine in
// delivery order and must not block.
//
// All session resources hang off a slot: the session, its context, and
// the ready future. [Client.Stop] cancels the slot and installs a fresh
// one, so a later Start begins from a clean session while keeping the
// room store.
package relayclient
