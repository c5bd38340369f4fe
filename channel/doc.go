// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the binary channel transport: a
// WebSocket relay protocol independent of the relay directory, with its
// own frame format and challenge-response handshake.
//
// Every WebSocket message is one [Frame]: a header byte carrying the
// protocol version in the high nibble and the message type in the low
// nibble, the 16-byte sender and recipient addresses, then a
// type-specific body. An address is the first 16 bytes of the SHA-256
// of a compressed P-256 public key.
//
// The handshake is client-driven:
//
//	client -> relay  Init
//	relay  -> client Challenge{Difficulty, Challenge}
//	client -> relay  Response{Challenge, PublicKey, Nonce, Signature}
//	relay  -> client Accepted
//
// The nonce is a proof of work: SHA-256(challenge || publicKey ||
// nonce) must not exceed the difficulty, compared bytewise. The
// signature is a P-256 ECDSA signature over that same digest, encoded
// as raw r || s.
//
// After Accepted, [Payload] frames are forwarded by the relay to the
// connection registered for the recipient address. [Dial] connects a
// [Client]; [Relay] is a reference relay usable as an http.Handler.
package channel
