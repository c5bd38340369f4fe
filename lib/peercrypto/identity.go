// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peercrypto

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/bureau-foundation/beacon/lib/secret"
	"github.com/bureau-foundation/beacon/lib/storage"
)

// loginWindowSeconds is the validity window of a login challenge.
const loginWindowSeconds = 5 * 60

// SenderID returns the short identifier peers use to address each
// other in protocol messages: base58check(blake2b-40(publicKey)).
func SenderID(publicKey ed25519.PublicKey) (string, error) {
	hasher, err := blake2b.New(5, nil)
	if err != nil {
		return "", fmt.Errorf("peercrypto: sender id hash: %w", err)
	}
	hasher.Write(publicKey)
	return base58CheckEncode(hasher.Sum(nil)), nil
}

// base58CheckEncode appends the first four bytes of the double
// SHA-256 of payload and base58-encodes the result.
func base58CheckEncode(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	encoded := make([]byte, 0, len(payload)+4)
	encoded = append(encoded, payload...)
	encoded = append(encoded, second[:4]...)
	return base58.Encode(encoded)
}

// RoutingID returns the relay user id a peer with publicKey has on
// relayServer: "@" + hex(blake2b-256(pk)) + ":" + relayServer.
func RoutingID(publicKey ed25519.PublicKey, relayServer string) string {
	return "@" + HexHash(publicKey) + ":" + relayServer
}

// LoginUser returns the relay login user for a keypair: the hex
// blake2b-256 of the public key.
func LoginUser(keyPair KeyPair) string {
	return HexHash(keyPair.PublicKey)
}

// LoginPassword returns the password a relay accepts for keyPair at the
// given relay time: "ed:" + hex(signature) + ":" + hex(pk), where the
// signature covers blake2b-256("login:" + floor(t/300)). The password
// is deterministic within one five-minute window.
func LoginPassword(keyPair KeyPair, relayTimestampSeconds int64) string {
	window := relayTimestampSeconds / loginWindowSeconds
	if relayTimestampSeconds < 0 && relayTimestampSeconds%loginWindowSeconds != 0 {
		window--
	}
	digest := Hash([]byte("login:" + strconv.FormatInt(window, 10)))
	signature := Sign(keyPair, digest[:])
	return "ed:" + hex.EncodeToString(signature) + ":" + keyPair.PublicKeyHex()
}

// Identity owns the local keypair. The seed it derives from lives in
// storage under KeySeed and in a locked secret buffer while loaded.
type Identity struct {
	store  storage.Storage
	logger *slog.Logger

	mu      sync.RWMutex
	seed    *secret.Buffer
	keyPair KeyPair
}

// LoadIdentity loads the seed from store, creating and persisting a
// random one on first use.
func LoadIdentity(ctx context.Context, store storage.Storage, logger *slog.Logger) (*Identity, error) {
	if logger == nil {
		logger = slog.Default()
	}
	identity := &Identity{store: store, logger: logger}

	var seed string
	found, err := store.Get(ctx, storage.KeySeed, &seed)
	if err != nil {
		return nil, fmt.Errorf("peercrypto: loading seed: %w", err)
	}
	if !found || seed == "" {
		seed = uuid.NewString()
		if err := store.Set(ctx, storage.KeySeed, seed); err != nil {
			return nil, fmt.Errorf("peercrypto: persisting seed: %w", err)
		}
		logger.Info("created identity seed")
	}
	if err := identity.install(seed); err != nil {
		return nil, err
	}
	return identity, nil
}

func (identity *Identity) install(seed string) error {
	buffer, err := secret.NewFromString(seed)
	if err != nil {
		return fmt.Errorf("peercrypto: protecting seed: %w", err)
	}
	keyPair := KeyPairFromSeed(seed)

	identity.mu.Lock()
	previous := identity.seed
	identity.seed = buffer
	identity.keyPair = keyPair
	identity.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// KeyPair returns the current keypair.
func (identity *Identity) KeyPair() KeyPair {
	identity.mu.RLock()
	defer identity.mu.RUnlock()
	return identity.keyPair
}

// Regenerate replaces the keypair with one derived from a fresh seed
// and discards every piece of state bound to the old identity: the
// peer-room index, the preserved sync state, and the selected relay.
func (identity *Identity) Regenerate(ctx context.Context) (KeyPair, error) {
	seed := uuid.NewString()
	if err := identity.store.Set(ctx, storage.KeySeed, seed); err != nil {
		return KeyPair{}, fmt.Errorf("peercrypto: persisting seed: %w", err)
	}
	for _, key := range []storage.Key{storage.KeyPeerRoomIDs, storage.KeyPreservedState, storage.KeySelectedRelay} {
		if err := identity.store.Delete(ctx, key); err != nil {
			return KeyPair{}, fmt.Errorf("peercrypto: deleting %s: %w", key, err)
		}
	}
	if err := identity.install(seed); err != nil {
		return KeyPair{}, err
	}
	keyPair := identity.KeyPair()
	identity.logger.Warn("regenerated identity", "public_key", keyPair.PublicKeyHex())
	return keyPair, nil
}

// Close releases the in-memory seed.
func (identity *Identity) Close() error {
	identity.mu.Lock()
	defer identity.mu.Unlock()
	if identity.seed == nil {
		return nil
	}
	err := identity.seed.Close()
	identity.seed = nil
	return err
}
