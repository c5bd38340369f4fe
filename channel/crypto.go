// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidResponse is returned by VerifyResponse.
var ErrInvalidResponse = errors.New("channel: invalid handshake response")

// KeyPair is a P-256 signing key.
type KeyPair struct {
	private *ecdsa.PrivateKey
}

// GenerateKeyPair creates a random KeyPair.
func GenerateKeyPair() (*KeyPair, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("channel: generating key: %w", err)
	}
	return &KeyPair{private: private}, nil
}

// NewKeyPair wraps an existing P-256 key.
func NewKeyPair(private *ecdsa.PrivateKey) (*KeyPair, error) {
	if private == nil || private.Curve != elliptic.P256() {
		return nil, errors.New("channel: key is not a P-256 key")
	}
	return &KeyPair{private: private}, nil
}

// CompressedPublicKey returns the 33-byte SEC1 compressed public key.
func (k *KeyPair) CompressedPublicKey() [publicKeySize]byte {
	var compressed [publicKeySize]byte
	copy(compressed[:], elliptic.MarshalCompressed(elliptic.P256(), k.private.X, k.private.Y))
	return compressed
}

// Address returns the channel address of the key.
func (k *KeyPair) Address() Address {
	compressed := k.CompressedPublicKey()
	return AddressOf(compressed[:])
}

// SignDigest signs a SHA-256 digest and returns r || s, each 32 bytes
// big-endian.
func (k *KeyPair) SignDigest(digest [sha256.Size]byte) ([signatureSize]byte, error) {
	var signature [signatureSize]byte
	r, s, err := ecdsa.Sign(rand.Reader, k.private, digest[:])
	if err != nil {
		return signature, fmt.Errorf("channel: signing: %w", err)
	}
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature, nil
}

// handshakeDigest is the digest both proven by the nonce and signed.
func handshakeDigest(challenge [challengeSize]byte, publicKey [publicKeySize]byte, nonce [nonceSize]byte) [sha256.Size]byte {
	hash := sha256.New()
	hash.Write(challenge[:])
	hash.Write(publicKey[:])
	hash.Write(nonce[:])
	var digest [sha256.Size]byte
	hash.Sum(digest[:0])
	return digest
}

// meetsDifficulty reports whether digest, read as a big-endian number,
// does not exceed difficulty on its first 16 bytes.
func meetsDifficulty(digest [sha256.Size]byte, difficulty [challengeSize]byte) bool {
	return bytes.Compare(digest[:challengeSize], difficulty[:]) <= 0
}

// SolveProofOfWork samples random nonces until SHA-256(payload ||
// nonce) meets difficulty. It runs until it succeeds or ctx is done.
func SolveProofOfWork(ctx context.Context, payload []byte, difficulty [challengeSize]byte) ([nonceSize]byte, error) {
	var nonce [nonceSize]byte
	buffer := make([]byte, len(payload)+nonceSize)
	copy(buffer, payload)
	for attempt := 0; ; attempt++ {
		if attempt%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nonce, err
			}
		}
		if _, err := rand.Read(nonce[:]); err != nil {
			return nonce, fmt.Errorf("channel: reading nonce: %w", err)
		}
		copy(buffer[len(payload):], nonce[:])
		if meetsDifficulty(sha256.Sum256(buffer), difficulty) {
			return nonce, nil
		}
	}
}

// respond builds the Response to challenge for keyPair.
func respond(ctx context.Context, keyPair *KeyPair, challenge Challenge) (Response, error) {
	response := Response{Challenge: challenge.Challenge, PublicKey: keyPair.CompressedPublicKey()}
	payload := append(challenge.Challenge[:], response.PublicKey[:]...)
	nonce, err := SolveProofOfWork(ctx, payload, challenge.Difficulty)
	if err != nil {
		return Response{}, err
	}
	response.Nonce = nonce
	response.Signature, err = keyPair.SignDigest(handshakeDigest(response.Challenge, response.PublicKey, nonce))
	if err != nil {
		return Response{}, err
	}
	return response, nil
}

// VerifyResponse checks a handshake response against the challenge it
// answers: the echoed challenge, the proof of work and the signature.
func VerifyResponse(challenge Challenge, response Response) error {
	if response.Challenge != challenge.Challenge {
		return fmt.Errorf("%w: challenge mismatch", ErrInvalidResponse)
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), response.PublicKey[:])
	if x == nil {
		return fmt.Errorf("%w: public key is not a compressed P-256 point", ErrInvalidResponse)
	}
	digest := handshakeDigest(response.Challenge, response.PublicKey, response.Nonce)
	if !meetsDifficulty(digest, challenge.Difficulty) {
		return fmt.Errorf("%w: proof of work below difficulty", ErrInvalidResponse)
	}
	publicKey := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	r := new(big.Int).SetBytes(response.Signature[:32])
	s := new(big.Int).SetBytes(response.Signature[32:])
	if !ecdsa.Verify(publicKey, digest[:], r, s) {
		return fmt.Errorf("%w: bad signature", ErrInvalidResponse)
	}
	return nil
}
