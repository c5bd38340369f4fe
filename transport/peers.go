// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/beacon/lib/storage"
)

// PeerManager keeps the paired peers of one side (dApp or wallet) in
// storage, keyed by public key.
type PeerManager struct {
	store storage.Storage
	key   storage.Key

	// mu serializes read-modify-write cycles on the stored list.
	mu sync.Mutex
}

// NewPeerManager stores peers under key (KeyDAppPeers or
// KeyWalletPeers).
func NewPeerManager(store storage.Storage, key storage.Key) *PeerManager {
	return &PeerManager{store: store, key: key}
}

// Peers returns the stored peers in insertion order.
func (m *PeerManager) Peers(ctx context.Context) ([]PeerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

// Peer returns the peer with publicKey.
func (m *PeerManager) Peer(ctx context.Context, publicKey string) (PeerInfo, bool, error) {
	peers, err := m.Peers(ctx)
	if err != nil {
		return PeerInfo{}, false, err
	}
	index := slices.IndexFunc(peers, func(peer PeerInfo) bool { return peer.PublicKey == publicKey })
	if index < 0 {
		return PeerInfo{}, false, nil
	}
	return peers[index], true, nil
}

// Add stores peer, replacing any peer with the same public key in
// place.
func (m *PeerManager) Add(ctx context.Context, peer PeerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers, err := m.loadLocked(ctx)
	if err != nil {
		return err
	}
	if index := slices.IndexFunc(peers, func(existing PeerInfo) bool { return existing.PublicKey == peer.PublicKey }); index >= 0 {
		peers[index] = peer
	} else {
		peers = append(peers, peer)
	}
	return m.saveLocked(ctx, peers)
}

// Remove deletes the peers with the given public keys.
func (m *PeerManager) Remove(ctx context.Context, publicKeys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers, err := m.loadLocked(ctx)
	if err != nil {
		return err
	}
	peers = slices.DeleteFunc(peers, func(peer PeerInfo) bool { return slices.Contains(publicKeys, peer.PublicKey) })
	return m.saveLocked(ctx, peers)
}

// RemoveAll deletes every stored peer.
func (m *PeerManager) RemoveAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(ctx, m.key); err != nil {
		return fmt.Errorf("transport: removing peers: %w", err)
	}
	return nil
}

func (m *PeerManager) loadLocked(ctx context.Context) ([]PeerInfo, error) {
	var peers []PeerInfo
	if _, err := m.store.Get(ctx, m.key, &peers); err != nil {
		return nil, fmt.Errorf("transport: loading peers: %w", err)
	}
	return peers, nil
}

func (m *PeerManager) saveLocked(ctx context.Context, peers []PeerInfo) error {
	if err := m.store.Set(ctx, m.key, peers); err != nil {
		return fmt.Errorf("transport: saving peers: %w", err)
	}
	return nil
}
