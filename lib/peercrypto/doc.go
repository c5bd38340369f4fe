// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package peercrypto holds the cryptographic primitives of the pairing
// transport. Every construction is byte-compatible with the libsodium
// calls other beacon peers use:
//
//   - identity keys: ed25519 derived from blake2b-256 of a seed string
//     (crypto_sign_seed_keypair over crypto_generichash)
//   - pairing messages: anonymous sealed boxes to the x25519 form of
//     the recipient's ed25519 key (crypto_box_seal)
//   - session keys: crypto_kx client/server key exchange
//   - session payloads: hex(nonce || crypto_secretbox_easy)
//
// [Identity] owns the local keypair and its persisted seed.
package peercrypto
