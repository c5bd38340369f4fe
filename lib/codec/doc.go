// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration for values
// persisted through lib/storage.
//
// Two serialization formats are in play with a clear boundary:
//
//   - JSON for everything on the wire: the relay HTTP API, pairing
//     requests and responses, and beacon protocol messages.
//   - CBOR for local state: the selected relay, the peer-room index,
//     the preserved sync state, and the known-peer lists.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical state always produces identical bytes and the file
// store's integrity digest is stable across rewrites.
//
// Types shared between the wire and storage carry `json` tags only;
// fxamacker/cbor reads them as a fallback.
package codec
