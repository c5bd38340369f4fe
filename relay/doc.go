// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay chooses the relay server a peer logs in to.
//
// A [Directory] maps regions to relay node host names, with optional
// DNS aliases tried in order when a node does not answer. The built-in
// table from [DefaultDirectory] can be overridden per region from a
// JSONC file ([LoadDirectoryFile], [Directory.Merge]); the default
// value is never mutated.
//
// [Selector] picks a node by racing one random node per region against
// the relay info endpoint: the lowest round-trip wins and its region is
// pinned until [Selector.Reset]. [Selector.RelayServer] layers a 60
// second cache and the persisted selection in front of the race, and
// collapses concurrent callers into a single resolution.
//
// [DeterministicShuffle] orders a region's nodes per peer, so the same
// identity walks the same login failover order while different
// identities spread across the fleet.
package relay
