// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/beacon/lib/secret"
)

// Keypair holds an age x25519 keypair. The caller must call Close when
// the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... identity string.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient string.
	PublicKey string
}

// Close releases the private key memory.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating age keypair: %w", err)
	}
	privateKey, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// RecipientOf returns the age1... recipient for an identity held in a
// secret buffer.
func RecipientOf(privateKey *secret.Buffer) (string, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return "", fmt.Errorf("sealed: parsing private key: %w", err)
	}
	return identity.Recipient().String(), nil
}

// Seal encrypts plaintext to one or more age recipients and returns
// the binary age ciphertext.
func Seal(plaintext []byte, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("sealed: at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts an age ciphertext with the given identity. The
// identity buffer is borrowed, not closed.
func Open(ciphertext []byte, privateKey *secret.Buffer) ([]byte, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing private key: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}
