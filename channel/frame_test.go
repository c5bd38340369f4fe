// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	sender := AddressOf([]byte("sender key"))
	recipient := AddressOf([]byte("recipient key"))
	data := Encode(Frame{Sender: sender, Recipient: recipient, Message: Payload{Data: []byte("hi")}})

	if data[0] != 0x14 {
		t.Errorf("header byte = %#x, want version 1 type payload (0x14)", data[0])
	}
	if !bytes.Equal(data[1:17], sender[:]) || !bytes.Equal(data[17:33], recipient[:]) {
		t.Error("addresses not at bytes 1..33")
	}
	if string(data[33:]) != "hi" {
		t.Errorf("body = %q", data[33:])
	}
}

func TestDecodeEveryMessage(t *testing.T) {
	var response Response
	for i := range response.Signature {
		response.Signature[i] = byte(i)
	}
	response.PublicKey[0] = 0x02
	response.Nonce[15] = 0x7f
	response.Challenge[0] = 0x01

	messages := []Message{
		Init{},
		Challenge{Difficulty: DefaultDifficulty, Challenge: [16]byte{1, 2, 3}},
		response,
		Accepted{},
		Payload{Data: []byte("payload")},
	}
	for _, message := range messages {
		frame := Frame{Sender: Address{1}, Recipient: Address{2}, Message: message}
		decoded, err := Decode(Encode(frame))
		if err != nil {
			t.Fatalf("Decode(%s): %v", message.Type(), err)
		}
		if !reflect.DeepEqual(decoded, frame) {
			t.Errorf("Decode(%s) = %+v, want %+v", message.Type(), decoded, frame)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := Encode(Frame{Message: Challenge{}})
	tests := map[string][]byte{
		"empty":            nil,
		"short header":     valid[:20],
		"wrong version":    append([]byte{0x21}, valid[1:]...),
		"unknown type":     append([]byte{0x1f}, valid[1:]...),
		"short challenge":  valid[:len(valid)-1],
		"long response":    append(Encode(Frame{Message: Response{}}), 0),
		"truncated header": {0x10},
	}
	for name, data := range tests {
		if _, err := Decode(data); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s: Decode error = %v, want ErrMalformedFrame", name, err)
		}
	}
}

func TestAddressOf(t *testing.T) {
	id := bytes.Repeat([]byte{7}, AddressSize)
	if got := AddressOf(id); !bytes.Equal(got[:], id) {
		t.Errorf("AddressOf(16-byte id) = %x, want it unchanged", got)
	}
	publicKey := bytes.Repeat([]byte{2}, publicKeySize)
	digest := sha256.Sum256(publicKey)
	if got := AddressOf(publicKey); !bytes.Equal(got[:], digest[:AddressSize]) {
		t.Errorf("AddressOf(public key) = %x, want sha256 prefix %x", got, digest[:AddressSize])
	}
}
