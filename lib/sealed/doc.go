// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for at-rest encryption of the
// transport's file store. The store holds the keypair seed and the
// peer list, so a host that keeps it on shared disk seals it to an age
// x25519 identity.
//
// Private keys and decrypted plaintext never leave lib/secret buffers
// except at the age API boundary.
package sealed
