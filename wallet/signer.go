// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/protocol"
	"github.com/bureau-foundation/beacon/transport"
)

// WalletInfo identifies the account a wallet grants.
type WalletInfo struct {
	Address   string
	PublicKey string
}

// Signer is the signing backend. Operation contents are passed
// through uninterpreted.
type Signer interface {
	IsReady(ctx context.Context) bool

	// WalletInfo returns nil when no account is set up.
	WalletInfo(ctx context.Context) (*WalletInfo, error)

	SignPayload(ctx context.Context, payloadHex, signingType string) (signature string, err error)
	SignOperation(ctx context.Context, operations []json.RawMessage, network json.RawMessage) (operationHash string, err error)
}

// RequestHandler answers a request from peer. A nil response with a
// nil error leaves the request pending for a later Client.Respond.
type RequestHandler func(ctx context.Context, request protocol.Message, peer transport.PeerInfo) (protocol.Message, error)

// SignerHandler answers requests from signer on behalf of senderID.
// Requests the signer cannot serve are answered with a protocol.Error.
func SignerHandler(signer Signer, senderID string) RequestHandler {
	return func(ctx context.Context, request protocol.Message, peer transport.PeerInfo) (protocol.Message, error) {
		if !signer.IsReady(ctx) {
			return protocol.NewError(request, senderID, protocol.ErrorAborted), nil
		}
		switch request := request.(type) {
		case *protocol.PermissionRequest:
			info, err := signer.WalletInfo(ctx)
			if err != nil {
				return nil, err
			}
			if info == nil {
				return protocol.NewError(request, senderID, protocol.ErrorNoAddress), nil
			}
			return &protocol.PermissionResponse{
				Envelope:  protocol.Reply(request, protocol.TypePermissionResponse, senderID),
				PublicKey: info.PublicKey,
				Address:   info.Address,
				Network:   request.Network,
				Scopes:    request.Scopes,
			}, nil

		case *protocol.SignPayloadRequest:
			if request.Payload == "" {
				return protocol.NewError(request, senderID, protocol.ErrorParametersInvalid), nil
			}
			signature, err := signer.SignPayload(ctx, request.Payload, request.SigningType)
			if err != nil {
				return nil, err
			}
			return &protocol.SignPayloadResponse{
				Envelope:    protocol.Reply(request, protocol.TypeSignPayloadResponse, senderID),
				SigningType: request.SigningType,
				Signature:   signature,
			}, nil

		case *protocol.OperationRequest:
			if len(request.OperationDetails) == 0 {
				return protocol.NewError(request, senderID, protocol.ErrorParametersInvalid), nil
			}
			hash, err := signer.SignOperation(ctx, request.OperationDetails, request.Network)
			if err != nil {
				return nil, err
			}
			return &protocol.OperationResponse{
				Envelope:        protocol.Reply(request, protocol.TypeOperationResponse, senderID),
				TransactionHash: hash,
			}, nil
		}
		return protocol.NewError(request, senderID, protocol.ErrorUnknown), nil
	}
}

// ErrOperationsUnsupported is returned by KeySigner.SignOperation.
var ErrOperationsUnsupported = errors.New("wallet: key signer does not inject operations")

// KeySigner signs raw payloads with an ed25519 keypair. It has no
// chain access and rejects operation requests.
type KeySigner struct {
	KeyPair peercrypto.KeyPair

	// Address is reported in permission responses. Defaults to the
	// public key hash.
	Address string
}

func (s KeySigner) IsReady(context.Context) bool { return len(s.KeyPair.SecretKey) != 0 }

func (s KeySigner) WalletInfo(context.Context) (*WalletInfo, error) {
	address := s.Address
	if address == "" {
		address = peercrypto.HexHash(s.KeyPair.PublicKey)
	}
	return &WalletInfo{Address: address, PublicKey: s.KeyPair.PublicKeyHex()}, nil
}

// SignPayload returns the hex ed25519 signature of the decoded payload.
func (s KeySigner) SignPayload(_ context.Context, payloadHex, _ string) (string, error) {
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return "", fmt.Errorf("wallet: payload is not hex: %w", err)
	}
	return hex.EncodeToString(peercrypto.Sign(s.KeyPair, payload)), nil
}

func (s KeySigner) SignOperation(context.Context, []json.RawMessage, json.RawMessage) (string, error) {
	return "", ErrOperationsUnsupported
}
