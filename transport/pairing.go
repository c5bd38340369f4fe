// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/ed25519"
	"fmt"

	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/ref"
)

// Pairing message types.
const (
	PairingRequestType  = "p2p-pairing-request"
	PairingResponseType = "p2p-pairing-response"
)

// PairingRequest is published by the dApp to start pairing.
type PairingRequest struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	PublicKey   string `json:"publicKey"`
	RelayServer string `json:"relayServer"`
	Icon        string `json:"icon,omitempty"`
	AppURL      string `json:"appUrl,omitempty"`
}

// PairingResponse is sealed to the requester inside the channel-open
// message. Its ID equals the request's.
type PairingResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	PublicKey   string `json:"publicKey"`
	RelayServer string `json:"relayServer"`
	Icon        string `json:"icon,omitempty"`
	AppURL      string `json:"appUrl,omitempty"`
}

// PeerInfo is a paired peer: its pairing message plus the sender id
// derived from its public key.
type PeerInfo struct {
	PairingResponse
	SenderID string `json:"senderId"`
}

// PeerFromRequest converts a pairing request received by a wallet into
// the peer record the wallet keeps for the dApp.
func PeerFromRequest(request PairingRequest) (PeerInfo, error) {
	publicKey, err := peercrypto.ParsePublicKey(request.PublicKey)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("transport: pairing request: %w", err)
	}
	senderID, err := peercrypto.SenderID(publicKey)
	if err != nil {
		return PeerInfo{}, err
	}
	return PeerInfo{
		PairingResponse: PairingResponse{
			ID:          request.ID,
			Type:        request.Type,
			Name:        request.Name,
			Version:     request.Version,
			PublicKey:   request.PublicKey,
			RelayServer: request.RelayServer,
			Icon:        request.Icon,
			AppURL:      request.AppURL,
		},
		SenderID: senderID,
	}, nil
}

// peerFromResponse completes a pairing response with its sender id.
func peerFromResponse(response PairingResponse) (PeerInfo, error) {
	publicKey, err := peercrypto.ParsePublicKey(response.PublicKey)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("transport: pairing response: %w", err)
	}
	senderID, err := peercrypto.SenderID(publicKey)
	if err != nil {
		return PeerInfo{}, err
	}
	return PeerInfo{PairingResponse: response, SenderID: senderID}, nil
}

// routingID returns the relay user id a peer with publicKey has on
// relayServer.
func routingID(publicKey ed25519.PublicKey, relayServer string) (ref.UserID, error) {
	userID, err := ref.ParseUserID(peercrypto.RoutingID(publicKey, relayServer))
	if err != nil {
		return ref.UserID{}, fmt.Errorf("transport: routing id: %w", err)
	}
	return userID, nil
}

// senderPrefix is the part of a peer's routing id that does not depend
// on the relay it uses.
func senderPrefix(publicKey ed25519.PublicKey) string {
	return "@" + peercrypto.HexHash(publicKey)
}
