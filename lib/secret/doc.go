// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the transport's secret material outside the Go
// heap: the keypair seed, relay access tokens, and the age identity
// that seals the on-disk store.
//
// [Buffer] memory comes from an anonymous mmap region that is locked
// against swap (mlock) and excluded from core dumps (MADV_DONTDUMP).
// Close zeroes, unlocks, and unmaps it. The garbage collector never
// sees the region, so it cannot leave stray copies behind.
//
// [Buffer.String] makes a heap copy and is meant for API boundaries
// only (an Authorization header, an age.ParseX25519Identity call).
package secret
