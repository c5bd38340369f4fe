// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peercrypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
)

// KeyPair is an ed25519 identity keypair.
type KeyPair struct {
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

// PublicKeyHex returns the lowercase hex form used on the wire.
func (keyPair KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(keyPair.PublicKey)
}

// KeyPairFromSeed derives the keypair for a seed string. The same
// seed always yields the same keypair.
func KeyPairFromSeed(seed string) KeyPair {
	digest := blake2b.Sum256([]byte(seed))
	secretKey := ed25519.NewKeyFromSeed(digest[:])
	return KeyPair{
		PublicKey: secretKey.Public().(ed25519.PublicKey),
		SecretKey: secretKey,
	}
}

// Hash is the 32-byte blake2b generic hash.
func Hash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// HexHash returns hex(blake2b-256(data)).
func HexHash(data []byte) string {
	digest := blake2b.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// Sign returns the detached ed25519 signature of message.
func Sign(keyPair KeyPair, message []byte) []byte {
	return ed25519.Sign(keyPair.SecretKey, message)
}

// ParsePublicKey decodes a hex ed25519 public key.
func ParsePublicKey(publicKeyHex string) (ed25519.PublicKey, error) {
	decoded, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("peercrypto: public key is not hex: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("peercrypto: public key is %d bytes, want %d", len(decoded), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}

// x25519PublicKey converts an ed25519 public key to its Montgomery
// form (crypto_sign_ed25519_pk_to_curve25519).
func x25519PublicKey(publicKey ed25519.PublicKey) ([32]byte, error) {
	var converted [32]byte
	if len(publicKey) != ed25519.PublicKeySize {
		return converted, fmt.Errorf("peercrypto: public key is %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	point, err := new(edwards25519.Point).SetBytes(publicKey)
	if err != nil {
		return converted, fmt.Errorf("peercrypto: invalid ed25519 public key: %w", err)
	}
	copy(converted[:], point.BytesMontgomery())
	return converted, nil
}

// x25519SecretKey converts an ed25519 secret key to the clamped x25519
// scalar (crypto_sign_ed25519_sk_to_curve25519).
func x25519SecretKey(secretKey ed25519.PrivateKey) [32]byte {
	digest := sha512.Sum512(secretKey.Seed())
	var scalar [32]byte
	copy(scalar[:], digest[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}
