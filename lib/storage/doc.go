// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage is the key/value capability the transport persists
// its state through: the keypair seed, the selected relay, the
// peer-to-room index, the preserved sync state, and the paired peer
// lists.
//
// Values are CBOR-encoded via lib/codec, so any struct with cbor or
// json tags round-trips. Two backends ship with the package:
//
//   - [NewMemory] keeps everything in process memory (tests, ephemeral
//     peers).
//   - [OpenFile] keeps a single file holding the whole map, compressed
//     with zstd or lz4, guarded by a BLAKE3 digest, and optionally
//     sealed to an age identity. Every mutation rewrites the file via
//     a temporary file and rename.
package storage
