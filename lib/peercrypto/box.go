// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peercrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the secretbox nonce length.
	NonceSize = 24

	// MACSize is the Poly1305 tag length.
	MACSize = secretbox.Overhead

	// MinCiphertextSize is the shortest decodable session payload.
	MinCiphertextSize = NonceSize + MACSize

	// SealOverhead is what a sealed box adds to its plaintext: the
	// ephemeral public key and the tag.
	SealOverhead = box.AnonymousOverhead
)

var (
	// ErrDecrypt is returned when a ciphertext fails authentication.
	ErrDecrypt = errors.New("peercrypto: decryption failed")

	// ErrCiphertextTooShort is returned for input shorter than
	// MinCiphertextSize, before any decryption is attempted.
	ErrCiphertextTooShort = errors.New("peercrypto: ciphertext too short")
)

// SealToRecipient encrypts plaintext anonymously to the holder of
// recipient's secret key.
func SealToRecipient(plaintext []byte, recipient ed25519.PublicKey) ([]byte, error) {
	recipientX25519, err := x25519PublicKey(recipient)
	if err != nil {
		return nil, err
	}
	sealed, err := box.SealAnonymous(nil, plaintext, &recipientX25519, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("peercrypto: sealing: %w", err)
	}
	return sealed, nil
}

// OpenSealed decrypts a sealed box addressed to keyPair.
func OpenSealed(ciphertext []byte, keyPair KeyPair) ([]byte, error) {
	if len(ciphertext) < SealOverhead {
		return nil, ErrCiphertextTooShort
	}
	publicX25519, err := x25519PublicKey(keyPair.PublicKey)
	if err != nil {
		return nil, err
	}
	secretX25519 := x25519SecretKey(keyPair.SecretKey)
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, &publicX25519, &secretX25519)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SessionKeys is one side's pair of directional session keys.
type SessionKeys struct {
	// Send encrypts traffic to the peer.
	Send [32]byte

	// Receive decrypts traffic from the peer.
	Receive [32]byte
}

// SenderSessionKeys derives the crypto_kx client-side keys of local
// toward peer. Outgoing messages are encrypted with Send.
func SenderSessionKeys(local KeyPair, peer ed25519.PublicKey) (SessionKeys, error) {
	digest, err := keyExchange(local, peer, true)
	if err != nil {
		return SessionKeys{}, err
	}
	var keys SessionKeys
	copy(keys.Receive[:], digest[:32])
	copy(keys.Send[:], digest[32:])
	return keys, nil
}

// ReceiverSessionKeys derives the crypto_kx server-side keys of local
// toward peer. Incoming messages are decrypted with Receive, which
// equals the peer's SenderSessionKeys Send.
func ReceiverSessionKeys(local KeyPair, peer ed25519.PublicKey) (SessionKeys, error) {
	digest, err := keyExchange(local, peer, false)
	if err != nil {
		return SessionKeys{}, err
	}
	var keys SessionKeys
	copy(keys.Send[:], digest[:32])
	copy(keys.Receive[:], digest[32:])
	return keys, nil
}

// keyExchange computes blake2b-512(q || client_pk || server_pk) where q
// is the x25519 shared point.
func keyExchange(local KeyPair, peer ed25519.PublicKey, localIsClient bool) ([64]byte, error) {
	var digest [64]byte
	localPublic, err := x25519PublicKey(local.PublicKey)
	if err != nil {
		return digest, err
	}
	peerPublic, err := x25519PublicKey(peer)
	if err != nil {
		return digest, err
	}
	localSecret := x25519SecretKey(local.SecretKey)
	shared, err := curve25519.X25519(localSecret[:], peerPublic[:])
	if err != nil {
		return digest, fmt.Errorf("peercrypto: key exchange: %w", err)
	}

	clientPublic, serverPublic := localPublic, peerPublic
	if !localIsClient {
		clientPublic, serverPublic = peerPublic, localPublic
	}
	input := make([]byte, 0, len(shared)+64)
	input = append(input, shared...)
	input = append(input, clientPublic[:]...)
	input = append(input, serverPublic[:]...)
	return blake2b.Sum512(input), nil
}

// EncryptWithSessionKey returns nonce || secretbox(plaintext) under a
// fresh random nonce.
func EncryptWithSessionKey(plaintext []byte, key [32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("peercrypto: generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &key), nil
}

// DecryptWithSessionKey reverses EncryptWithSessionKey.
func DecryptWithSessionKey(ciphertext []byte, key [32]byte) ([]byte, error) {
	if len(ciphertext) < MinCiphertextSize {
		return nil, ErrCiphertextTooShort
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptHex is EncryptWithSessionKey rendered as lowercase hex, the
// form carried in relay message bodies.
func EncryptHex(plaintext string, key [32]byte) (string, error) {
	ciphertext, err := EncryptWithSessionKey([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ciphertext), nil
}

// DecryptHex decodes a hex session payload and decrypts it. Non-hex
// input is reported as ErrDecrypt.
func DecryptHex(payload string, key [32]byte) (string, error) {
	ciphertext, err := hex.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: payload is not hex", ErrDecrypt)
	}
	plaintext, err := DecryptWithSessionKey(ciphertext, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
