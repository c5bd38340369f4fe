// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries encrypted peer-to-peer messages between a
// dApp and a wallet over relay rooms.
//
// Two peers identify each other by ed25519 public key. On the relay,
// a peer appears under its routing id, "@" + hex(blake2b(pk)) + ":" +
// relay server, and messages travel as text messages in a private room
// both peers joined.
//
// Pairing is asymmetric: the dApp publishes a [PairingRequest] (out of
// band, typically a QR code); the wallet creates a room inviting the
// dApp, waits for the join, and posts a channel-open message carrying
// its [PairingResponse] sealed to the dApp's key. After pairing, every
// message is encrypted with per-direction session keys derived with
// crypto_kx from both keypairs.
//
// [RoomManager] maps peers to rooms. The mapping persisted under
// KeyPeerRoomIDs is a hint: a FORBIDDEN send discards the room, marks
// it ignored, and retries once in a fresh room. Once any room has been
// ignored the local sync state is no longer trusted for room reuse and
// new rooms are created.
//
// [P2PTransport] ties the relay client, the room manager and the
// [PeerManager] together behind Connect, Listen, Send, and the pairing
// operations.
package transport
