// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peercrypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"

	"github.com/bureau-foundation/beacon/lib/storage"
)

func TestKeyPairFromSeedDeterministic(t *testing.T) {
	first := KeyPairFromSeed("test seed")
	second := KeyPairFromSeed("test seed")
	other := KeyPairFromSeed("other seed")

	if !bytes.Equal(first.PublicKey, second.PublicKey) || !bytes.Equal(first.SecretKey, second.SecretKey) {
		t.Fatal("same seed produced different keypairs")
	}
	if bytes.Equal(first.PublicKey, other.PublicKey) {
		t.Fatal("different seeds produced the same public key")
	}
	if len(first.PublicKeyHex()) != 64 {
		t.Fatalf("PublicKeyHex length = %d", len(first.PublicKeyHex()))
	}
}

func TestX25519ConversionConsistent(t *testing.T) {
	keyPair := KeyPairFromSeed("conversion")
	converted, err := x25519PublicKey(keyPair.PublicKey)
	if err != nil {
		t.Fatalf("x25519PublicKey: %v", err)
	}
	scalar := x25519SecretKey(keyPair.SecretKey)
	derived, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	if !bytes.Equal(converted[:], derived) {
		t.Fatal("converted public key does not match the converted secret key")
	}
}

func TestSealedBox(t *testing.T) {
	recipient := KeyPairFromSeed("recipient seed")
	stranger := KeyPairFromSeed("stranger seed")

	sealed, err := SealToRecipient([]byte("Confidential message"), recipient.PublicKey)
	if err != nil {
		t.Fatalf("SealToRecipient: %v", err)
	}
	if len(sealed) != len("Confidential message")+SealOverhead {
		t.Errorf("sealed length = %d", len(sealed))
	}

	opened, err := OpenSealed(sealed, recipient)
	if err != nil {
		t.Fatalf("OpenSealed: %v", err)
	}
	if string(opened) != "Confidential message" {
		t.Fatalf("opened = %q", opened)
	}

	if _, err := OpenSealed(sealed, stranger); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("OpenSealed with wrong key = %v, want ErrDecrypt", err)
	}
	if _, err := OpenSealed(sealed[:SealOverhead-1], recipient); !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("OpenSealed short = %v, want ErrCiphertextTooShort", err)
	}
}

func TestSessionKeysPairUp(t *testing.T) {
	alice := KeyPairFromSeed("alice")
	bob := KeyPairFromSeed("bob")

	aliceSender, err := SenderSessionKeys(alice, bob.PublicKey)
	if err != nil {
		t.Fatalf("SenderSessionKeys: %v", err)
	}
	bobReceiver, err := ReceiverSessionKeys(bob, alice.PublicKey)
	if err != nil {
		t.Fatalf("ReceiverSessionKeys: %v", err)
	}
	if aliceSender.Send != bobReceiver.Receive {
		t.Fatal("sender Send key does not match receiver Receive key")
	}
	if aliceSender.Receive != bobReceiver.Send {
		t.Fatal("sender Receive key does not match receiver Send key")
	}
	if aliceSender.Send == aliceSender.Receive {
		t.Fatal("directional keys must differ")
	}

	// Both directions of one pair use distinct keys.
	bobSender, err := SenderSessionKeys(bob, alice.PublicKey)
	if err != nil {
		t.Fatalf("SenderSessionKeys: %v", err)
	}
	if bobSender.Send == aliceSender.Send {
		t.Fatal("each peer's sender key should be distinct")
	}

	payload, err := EncryptHex("hello bob", aliceSender.Send)
	if err != nil {
		t.Fatalf("EncryptHex: %v", err)
	}
	plaintext, err := DecryptHex(payload, bobReceiver.Receive)
	if err != nil {
		t.Fatalf("DecryptHex: %v", err)
	}
	if plaintext != "hello bob" {
		t.Fatalf("plaintext = %q", plaintext)
	}

	// A third party's receive key rejects the payload.
	carol := KeyPairFromSeed("carol")
	carolReceiver, err := ReceiverSessionKeys(carol, alice.PublicKey)
	if err != nil {
		t.Fatalf("ReceiverSessionKeys: %v", err)
	}
	if _, err := DecryptHex(payload, carolReceiver.Receive); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("DecryptHex with wrong key = %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsShortPayloads(t *testing.T) {
	var key [32]byte
	for _, size := range []int{0, 1, MinCiphertextSize - 1} {
		_, err := DecryptWithSessionKey(make([]byte, size), key)
		if !errors.Is(err, ErrCiphertextTooShort) {
			t.Errorf("size %d: err = %v, want ErrCiphertextTooShort", size, err)
		}
	}
	_, err := DecryptWithSessionKey(make([]byte, MinCiphertextSize), key)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("zeroed minimum-size payload: err = %v, want ErrDecrypt", err)
	}
	if _, err := DecryptHex("not hex at all", key); !errors.Is(err, ErrDecrypt) {
		t.Errorf("non-hex payload: err = %v, want ErrDecrypt", err)
	}
}

func TestLoginPasswordDeterministic(t *testing.T) {
	keyPair := KeyPairFromSeed("login")

	// 1_800_000_000 is a multiple of 300; both timestamps share a window.
	first := LoginPassword(keyPair, 1_800_000_000)
	second := LoginPassword(keyPair, 1_800_000_299)
	next := LoginPassword(keyPair, 1_800_000_300)

	if first != second {
		t.Fatal("passwords within one window differ")
	}
	if first == next {
		t.Fatal("passwords in adjacent windows are equal")
	}

	parts := strings.Split(first, ":")
	if len(parts) != 3 || parts[0] != "ed" {
		t.Fatalf("password format = %q", first)
	}
	signature, err := hex.DecodeString(parts[1])
	if err != nil || len(signature) != ed25519.SignatureSize {
		t.Fatalf("signature part invalid: %q", parts[1])
	}
	if parts[2] != keyPair.PublicKeyHex() {
		t.Fatalf("public key part = %q", parts[2])
	}
	digest := Hash([]byte("login:6000000"))
	if !ed25519.Verify(keyPair.PublicKey, digest[:], signature) {
		t.Fatal("signature does not verify over blake2b(\"login:6000000\")")
	}
}

func TestSenderID(t *testing.T) {
	keyPair := KeyPairFromSeed("sender")
	senderID, err := SenderID(keyPair.PublicKey)
	if err != nil {
		t.Fatalf("SenderID: %v", err)
	}
	decoded, err := base58.Decode(senderID)
	if err != nil {
		t.Fatalf("base58 decode: %v", err)
	}
	if len(decoded) != 9 {
		t.Fatalf("decoded sender id is %d bytes, want 5 + 4 checksum", len(decoded))
	}
	first := sha256.Sum256(decoded[:5])
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], decoded[5:]) {
		t.Fatal("checksum mismatch")
	}

	again, _ := SenderID(keyPair.PublicKey)
	if again != senderID {
		t.Fatal("SenderID is not deterministic")
	}
}

func TestRoutingID(t *testing.T) {
	keyPair := KeyPairFromSeed("routing")
	routingID := RoutingID(keyPair.PublicKey, "beacon-node-1.example.com")
	want := "@" + HexHash(keyPair.PublicKey) + ":beacon-node-1.example.com"
	if routingID != want {
		t.Fatalf("RoutingID = %q, want %q", routingID, want)
	}
	if LoginUser(keyPair) != HexHash(keyPair.PublicKey) {
		t.Fatal("LoginUser must be the public key hash")
	}
}

func TestIdentityPersistsAndRegenerates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	identity, err := LoadIdentity(ctx, store, nil)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	defer identity.Close()
	original := identity.KeyPair()

	reloaded, err := LoadIdentity(ctx, store, nil)
	if err != nil {
		t.Fatalf("LoadIdentity again: %v", err)
	}
	defer reloaded.Close()
	if !bytes.Equal(reloaded.KeyPair().PublicKey, original.PublicKey) {
		t.Fatal("reloading the identity changed the keypair")
	}

	for _, key := range []storage.Key{storage.KeyPeerRoomIDs, storage.KeyPreservedState, storage.KeySelectedRelay} {
		if err := store.Set(ctx, key, "bound to old identity"); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	regenerated, err := identity.Regenerate(ctx)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if bytes.Equal(regenerated.PublicKey, original.PublicKey) {
		t.Fatal("Regenerate kept the old keypair")
	}
	if !bytes.Equal(identity.KeyPair().PublicKey, regenerated.PublicKey) {
		t.Fatal("KeyPair does not return the regenerated keypair")
	}
	for _, key := range []storage.Key{storage.KeyPeerRoomIDs, storage.KeyPreservedState, storage.KeySelectedRelay} {
		if store.Has(key) {
			t.Errorf("%s survived regeneration", key)
		}
	}

	var seed string
	if _, err := store.Get(ctx, storage.KeySeed, &seed); err != nil {
		t.Fatalf("Get seed: %v", err)
	}
	if !bytes.Equal(KeyPairFromSeed(seed).PublicKey, regenerated.PublicKey) {
		t.Fatal("persisted seed does not derive the regenerated keypair")
	}
}
