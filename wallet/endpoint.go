// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/lib/version"
	"github.com/bureau-foundation/beacon/protocol"
	"github.com/bureau-foundation/beacon/transport"
)

// DefaultDedupSize is the number of message ids remembered to drop
// redelivered messages.
const DefaultDedupSize = 1024

// endpoint is the part shared by Client and DApp: the transport, the
// local sender id, and per-peer serialization.
type endpoint struct {
	transport *transport.P2PTransport
	senderID  string
	logger    *slog.Logger
	seen      *lru.Cache[string, struct{}]
}

func newEndpoint(config transport.Config, peerKey storage.Key, logger *slog.Logger, dedupSize int) (endpoint, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Logger == nil {
		config.Logger = logger
	}
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	config.PeerKey = peerKey
	p2p, err := transport.New(config)
	if err != nil {
		return endpoint{}, err
	}
	senderID, err := peercrypto.SenderID(config.Identity.KeyPair().PublicKey)
	if err != nil {
		return endpoint{}, err
	}
	seen, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return endpoint{}, fmt.Errorf("wallet: creating dedup cache: %w", err)
	}
	return endpoint{transport: p2p, senderID: senderID, logger: logger, seen: seen}, nil
}

// Transport returns the underlying transport.
func (e *endpoint) Transport() *transport.P2PTransport { return e.transport }

// SenderID is the id this side stamps on its messages.
func (e *endpoint) SenderID() string { return e.senderID }

// Connect connects the transport.
func (e *endpoint) Connect(ctx context.Context) error { return e.transport.Connect(ctx) }

// Peers returns the paired peers.
func (e *endpoint) Peers(ctx context.Context) ([]transport.PeerInfo, error) {
	return e.transport.Peers(ctx)
}

func (e *endpoint) send(ctx context.Context, message protocol.Message, peer transport.PeerInfo) error {
	serializer, err := protocol.SerializerFor(peer.Version)
	if err != nil {
		return err
	}
	text, err := serializer.Serialize(message)
	if err != nil {
		return err
	}
	return e.transport.Send(ctx, text, &peer)
}

// receive resolves the sending peer and decodes text with its
// serializer. ok is false for messages seen before.
func (e *endpoint) receive(ctx context.Context, text string, connection transport.ConnectionContext) (message protocol.Message, peer transport.PeerInfo, ok bool, err error) {
	peer, found, err := e.peer(ctx, connection.ID)
	if err != nil {
		return nil, peer, false, err
	}
	if !found {
		return nil, peer, false, fmt.Errorf("wallet: message from unpaired peer %s", connection.ID)
	}
	serializer, err := protocol.SerializerFor(peer.Version)
	if err != nil {
		return nil, peer, false, err
	}
	message, err = serializer.Deserialize(text)
	if err != nil {
		return nil, peer, false, err
	}
	key := string(message.Header().Type) + ":" + message.Header().ID
	if seen, _ := e.seen.ContainsOrAdd(key, struct{}{}); seen {
		return message, peer, false, nil
	}
	return message, peer, true, nil
}

func (e *endpoint) peer(ctx context.Context, publicKey string) (transport.PeerInfo, bool, error) {
	peers, err := e.transport.Peers(ctx)
	if err != nil {
		return transport.PeerInfo{}, false, err
	}
	for _, peer := range peers {
		if peer.PublicKey == publicKey {
			return peer, true, nil
		}
	}
	return transport.PeerInfo{}, false, nil
}

// disconnect tells peer to forget this side and removes it.
func (e *endpoint) disconnect(ctx context.Context, peer transport.PeerInfo) error {
	notice := &protocol.Disconnect{Envelope: e.envelope(protocol.TypeDisconnect)}
	sendErr := e.send(ctx, notice, peer)
	if sendErr != nil {
		e.logger.Warn("disconnect notice not delivered", "peer", peer.PublicKey, "error", sendErr)
	}
	return e.transport.RemovePeer(ctx, peer.PublicKey)
}

// envelope starts a new message of type t.
func (e *endpoint) envelope(t protocol.Type) protocol.Envelope {
	return protocol.Envelope{ID: uuid.NewString(), Type: t, Version: version.Protocol, SenderID: e.senderID}
}
