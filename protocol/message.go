// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessageType is returned by Parse for a type it has no
// variant for.
var ErrUnknownMessageType = errors.New("protocol: unknown message type")

// Type is the "type" discriminant of a message.
type Type string

const (
	TypePermissionRequest   Type = "permission_request"
	TypePermissionResponse  Type = "permission_response"
	TypeSignPayloadRequest  Type = "sign_payload_request"
	TypeSignPayloadResponse Type = "sign_payload_response"
	TypeOperationRequest    Type = "operation_request"
	TypeOperationResponse   Type = "operation_response"
	TypeAcknowledge         Type = "acknowledge"
	TypeDisconnect          Type = "disconnect"
	TypeError               Type = "error"
)

// IsRequest reports whether messages of this type expect a response.
func (t Type) IsRequest() bool {
	switch t {
	case TypePermissionRequest, TypeSignPayloadRequest, TypeOperationRequest:
		return true
	}
	return false
}

// Envelope holds the fields shared by every message. A response
// carries the id of the request it answers.
type Envelope struct {
	ID       string `json:"id"`
	Type     Type   `json:"type"`
	Version  string `json:"version"`
	SenderID string `json:"senderId"`
}

// Message is one of the variants below.
type Message interface {
	Header() Envelope
	message()
}

// Header returns the envelope. Variants embed Envelope, so it is part
// of their method set.
func (e Envelope) Header() Envelope { return e }

func (Envelope) message() {}

// PermissionRequest asks the wallet for an account on a network.
type PermissionRequest struct {
	Envelope
	AppMetadata json.RawMessage `json:"appMetadata,omitempty"`
	Network     json.RawMessage `json:"network,omitempty"`
	Scopes      []string        `json:"scopes,omitempty"`
}

// PermissionResponse grants the scopes for the wallet's account.
type PermissionResponse struct {
	Envelope
	PublicKey   string          `json:"publicKey"`
	Address     string          `json:"address,omitempty"`
	Network     json.RawMessage `json:"network,omitempty"`
	Scopes      []string        `json:"scopes,omitempty"`
	AppMetadata json.RawMessage `json:"appMetadata,omitempty"`
}

// SignPayloadRequest asks the wallet to sign a hex payload.
type SignPayloadRequest struct {
	Envelope
	SigningType   string `json:"signingType,omitempty"`
	Payload       string `json:"payload"`
	SourceAddress string `json:"sourceAddress,omitempty"`
}

// SignPayloadResponse carries the signature of a SignPayloadRequest.
type SignPayloadResponse struct {
	Envelope
	SigningType string `json:"signingType,omitempty"`
	Signature   string `json:"signature"`
}

// OperationRequest asks the wallet to sign and inject operations.
type OperationRequest struct {
	Envelope
	Network          json.RawMessage   `json:"network,omitempty"`
	OperationDetails []json.RawMessage `json:"operationDetails"`
	SourceAddress    string            `json:"sourceAddress,omitempty"`
}

// OperationResponse carries the hash of the injected operation group.
type OperationResponse struct {
	Envelope
	TransactionHash string `json:"transactionHash"`
}

// Acknowledge confirms that a request reached the wallet.
type Acknowledge struct {
	Envelope
}

// Disconnect tells the receiver to forget the sender.
type Disconnect struct {
	Envelope
}

// Error rejects a request.
type Error struct {
	Envelope
	ErrorType string          `json:"errorType"`
	ErrorData json.RawMessage `json:"errorData,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: request %s failed: %s", e.ID, e.ErrorType)
}

// Parse decodes a JSON message into its variant.
func Parse(data []byte) (Message, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("protocol: decoding envelope: %w", err)
	}
	if envelope.ID == "" {
		return nil, fmt.Errorf("protocol: %s message without id", envelope.Type)
	}

	var message Message
	switch envelope.Type {
	case TypePermissionRequest:
		message = &PermissionRequest{}
	case TypePermissionResponse:
		message = &PermissionResponse{}
	case TypeSignPayloadRequest:
		message = &SignPayloadRequest{}
	case TypeSignPayloadResponse:
		message = &SignPayloadResponse{}
	case TypeOperationRequest:
		message = &OperationRequest{}
	case TypeOperationResponse:
		message = &OperationResponse{}
	case TypeAcknowledge:
		message = &Acknowledge{}
	case TypeDisconnect:
		message = &Disconnect{}
	case TypeError:
		message = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}
	if err := json.Unmarshal(data, message); err != nil {
		return nil, fmt.Errorf("protocol: decoding %s: %w", envelope.Type, err)
	}
	return message, nil
}

// Reply returns the envelope of a message of type t answering request
// on behalf of senderID.
func Reply(request Message, t Type, senderID string) Envelope {
	header := request.Header()
	return Envelope{ID: header.ID, Type: t, Version: header.Version, SenderID: senderID}
}

// NewAcknowledge acknowledges request on behalf of senderID.
func NewAcknowledge(request Message, senderID string) *Acknowledge {
	return &Acknowledge{Envelope: Reply(request, TypeAcknowledge, senderID)}
}

// NewError rejects request with errorType.
func NewError(request Message, senderID, errorType string) *Error {
	return &Error{Envelope: Reply(request, TypeError, senderID), ErrorType: errorType}
}

// Error types a wallet returns.
const (
	ErrorAborted           = "ABORTED_ERROR"
	ErrorNotGranted        = "NOT_GRANTED_ERROR"
	ErrorParametersInvalid = "PARAMETERS_INVALID_ERROR"
	ErrorNoAddress         = "NO_ADDRESS_ERROR"
	ErrorUnknown           = "UNKNOWN_ERROR"
)
