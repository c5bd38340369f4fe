// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ProtocolVersion is the only frame version this package speaks.
const ProtocolVersion = 1

// Sizes of the fixed frame fields.
const (
	AddressSize   = 16
	headerSize    = 1 + 2*AddressSize
	challengeSize = 16
	publicKeySize = 33
	nonceSize     = 16
	signatureSize = 64
	responseSize  = challengeSize + publicKeySize + nonceSize + signatureSize
)

// ErrMalformedFrame is returned by Decode for frames that cannot be
// parsed.
var ErrMalformedFrame = errors.New("channel: malformed frame")

// Address identifies a channel participant.
type Address [AddressSize]byte

// AddressOf returns the address for a public key. An input that is
// already a 16-byte address is returned unchanged.
func AddressOf(idOrPublicKey []byte) Address {
	var address Address
	if len(idOrPublicKey) == AddressSize {
		copy(address[:], idOrPublicKey)
		return address
	}
	digest := sha256.Sum256(idOrPublicKey)
	copy(address[:], digest[:AddressSize])
	return address
}

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool { return a == Address{} }

// MessageType is the low nibble of the frame header.
type MessageType uint8

const (
	TypeInit      MessageType = 0x00
	TypeChallenge MessageType = 0x01
	TypeResponse  MessageType = 0x02
	TypeAccepted  MessageType = 0x03
	TypePayload   MessageType = 0x04
)

func (t MessageType) String() string {
	switch t {
	case TypeInit:
		return "init"
	case TypeChallenge:
		return "challenge"
	case TypeResponse:
		return "response"
	case TypeAccepted:
		return "accepted"
	case TypePayload:
		return "payload"
	default:
		return fmt.Sprintf("MessageType(%#x)", uint8(t))
	}
}

// Message is the body of a frame: one of [Init], [Challenge],
// [Response], [Accepted] or [Payload].
type Message interface {
	Type() MessageType
	appendBody(buffer []byte) []byte
}

// Init opens the handshake.
type Init struct{}

// Challenge asks the client to prove its key and do work.
type Challenge struct {
	Difficulty [challengeSize]byte
	Challenge  [challengeSize]byte
}

// Response answers a Challenge.
type Response struct {
	Challenge [challengeSize]byte
	PublicKey [publicKeySize]byte
	Nonce     [nonceSize]byte
	Signature [signatureSize]byte
}

// Accepted completes the handshake.
type Accepted struct{}

// Payload carries application data.
type Payload struct {
	Data []byte
}

func (Init) Type() MessageType      { return TypeInit }
func (Challenge) Type() MessageType { return TypeChallenge }
func (Response) Type() MessageType  { return TypeResponse }
func (Accepted) Type() MessageType  { return TypeAccepted }
func (Payload) Type() MessageType   { return TypePayload }

func (Init) appendBody(buffer []byte) []byte     { return buffer }
func (Accepted) appendBody(buffer []byte) []byte { return buffer }

func (m Challenge) appendBody(buffer []byte) []byte {
	buffer = append(buffer, m.Difficulty[:]...)
	return append(buffer, m.Challenge[:]...)
}

func (m Response) appendBody(buffer []byte) []byte {
	buffer = append(buffer, m.Challenge[:]...)
	buffer = append(buffer, m.PublicKey[:]...)
	buffer = append(buffer, m.Nonce[:]...)
	return append(buffer, m.Signature[:]...)
}

func (m Payload) appendBody(buffer []byte) []byte { return append(buffer, m.Data...) }

// Frame is one protocol message with its routing header.
type Frame struct {
	Sender    Address
	Recipient Address
	Message   Message
}

// Encode serializes frame at ProtocolVersion.
func Encode(frame Frame) []byte {
	buffer := make([]byte, 0, headerSize+64)
	buffer = append(buffer, ProtocolVersion<<4|byte(frame.Message.Type()))
	buffer = append(buffer, frame.Sender[:]...)
	buffer = append(buffer, frame.Recipient[:]...)
	return frame.Message.appendBody(buffer)
}

// Decode parses a frame. Unknown versions, unknown types and bodies of
// the wrong size return ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	if len(data) < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(data))
	}
	version := data[0] >> 4
	if version != ProtocolVersion {
		return Frame{}, fmt.Errorf("%w: version %d", ErrMalformedFrame, version)
	}

	var frame Frame
	copy(frame.Sender[:], data[1:1+AddressSize])
	copy(frame.Recipient[:], data[1+AddressSize:headerSize])
	body := data[headerSize:]

	switch messageType := MessageType(data[0] & 0x0f); messageType {
	case TypeInit:
		frame.Message = Init{}
	case TypeAccepted:
		frame.Message = Accepted{}
	case TypeChallenge:
		if len(body) != 2*challengeSize {
			return Frame{}, fmt.Errorf("%w: challenge body is %d bytes", ErrMalformedFrame, len(body))
		}
		var challenge Challenge
		copy(challenge.Difficulty[:], body[:challengeSize])
		copy(challenge.Challenge[:], body[challengeSize:])
		frame.Message = challenge
	case TypeResponse:
		if len(body) != responseSize {
			return Frame{}, fmt.Errorf("%w: response body is %d bytes", ErrMalformedFrame, len(body))
		}
		var response Response
		offset := copy(response.Challenge[:], body)
		offset += copy(response.PublicKey[:], body[offset:])
		offset += copy(response.Nonce[:], body[offset:])
		copy(response.Signature[:], body[offset:])
		frame.Message = response
	case TypePayload:
		frame.Message = Payload{Data: append([]byte(nil), body...)}
	default:
		return Frame{}, fmt.Errorf("%w: type %s", ErrMalformedFrame, messageType)
	}
	return frame, nil
}
