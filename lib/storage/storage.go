// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
)

// Key names a persisted value. The string values are shared with other
// beacon implementations and must not change.
type Key string

const (
	// KeySelectedRelay holds the last relay server that won selection.
	KeySelectedRelay Key = "beacon:matrix-selected-node"

	// KeyPeerRoomIDs maps a recipient routing identity to its room id.
	KeyPeerRoomIDs Key = "beacon:matrix-peer-rooms"

	// KeyPreservedState holds the sync token and rooms (messages
	// stripped) between restarts.
	KeyPreservedState Key = "beacon:sdk-matrix-preserved-state"

	// KeySeed holds the random seed the ed25519 keypair derives from.
	KeySeed Key = "beacon:sdk-secret-seed"

	// KeyDAppPeers lists wallets a dApp has paired with.
	KeyDAppPeers Key = "beacon:communication-peers-dapp"

	// KeyWalletPeers lists dApps a wallet has paired with.
	KeyWalletPeers Key = "beacon:communication-peers-wallet"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: closed")

// Storage is an asynchronous key/value store. Get decodes the stored
// value into out and reports whether the key existed. Set replaces any
// existing value. Deleting a missing key is not an error.
type Storage interface {
	Get(ctx context.Context, key Key, out any) (bool, error)
	Set(ctx context.Context, key Key, value any) error
	Delete(ctx context.Context, key Key) error
}
