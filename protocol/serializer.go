// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/bureau-foundation/beacon/lib/version"
)

// ErrChecksum is returned when a base58check payload fails its
// checksum.
var ErrChecksum = errors.New("protocol: base58check checksum mismatch")

const checksumSize = 4

// Serializer converts messages to transport text for one protocol
// version.
type Serializer struct {
	Version int
}

// SerializerFor returns the serializer for a peer's advertised
// protocol version. An empty version is a v1 peer.
func SerializerFor(advertised string) (Serializer, error) {
	parsed, err := version.ParseProtocol(advertised)
	if err != nil {
		return Serializer{}, err
	}
	return Serializer{Version: parsed}, nil
}

func (s Serializer) plainJSON() bool {
	return s.Version >= version.JSONSerializerSince
}

// Serialize encodes message.
func (s Serializer) Serialize(message Message) (string, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("protocol: encoding %s: %w", message.Header().Type, err)
	}
	if s.plainJSON() {
		return string(data), nil
	}
	return encodeCheck(data), nil
}

// Deserialize decodes text produced by a peer's Serialize.
func (s Serializer) Deserialize(text string) (Message, error) {
	if s.plainJSON() {
		return Parse([]byte(text))
	}
	data, err := decodeCheck(text)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// encodeCheck appends the first four bytes of sha256(sha256(payload))
// and base58-encodes the result.
func encodeCheck(payload []byte) string {
	sum := checksum(payload)
	return base58.Encode(append(bytes.Clone(payload), sum[:]...))
}

func decodeCheck(text string) ([]byte, error) {
	decoded, err := base58.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("protocol: decoding base58: %w", err)
	}
	if len(decoded) < checksumSize {
		return nil, ErrChecksum
	}
	payload, sum := decoded[:len(decoded)-checksumSize], decoded[len(decoded)-checksumSize:]
	want := checksum(payload)
	if !bytes.Equal(sum, want[:]) {
		return nil, ErrChecksum
	}
	return payload, nil
}

func checksum(payload []byte) [checksumSize]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return [checksumSize]byte(second[:checksumSize])
}
