// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/beacon/lib/future"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/protocol"
	"github.com/bureau-foundation/beacon/transport"
)

// ErrPeerDisconnected fails requests outstanding to a wallet that
// disconnected.
var ErrPeerDisconnected = errors.New("wallet: peer disconnected")

// DAppConfig configures a DApp.
type DAppConfig struct {
	// Transport configures the underlying transport. PeerKey is
	// always storage.KeyDAppPeers.
	Transport transport.Config

	Logger *slog.Logger

	// DedupSize bounds the ids remembered for duplicate detection.
	DedupSize int
}

type outstanding struct {
	peer         string
	acknowledged bool
	response     *future.Future[protocol.Message]
}

// DApp is the requesting side of beacon. Safe for concurrent use.
type DApp struct {
	endpoint

	mu          sync.Mutex
	outstanding map[string]*outstanding
}

// NewDApp creates a DApp. Call Connect to start receiving.
func NewDApp(config DAppConfig) (*DApp, error) {
	base, err := newEndpoint(config.Transport, storage.KeyDAppPeers, config.Logger, config.DedupSize)
	if err != nil {
		return nil, err
	}
	dapp := &DApp{endpoint: base, outstanding: make(map[string]*outstanding)}
	dapp.transport.AddListener(dapp.handleMessage)
	return dapp, nil
}

// PairingRequest returns the request to publish to wallets.
func (d *DApp) PairingRequest(ctx context.Context) (transport.PairingRequest, error) {
	return d.transport.PairingRequestInfo(ctx)
}

// OnPaired registers handler for wallets that answer a pairing
// request.
func (d *DApp) OnPaired(handler transport.PeerHandler) {
	d.transport.OnPeerConnected(handler)
}

// Envelope starts a request of type t with a fresh id.
func (d *DApp) Envelope(t protocol.Type) protocol.Envelope {
	return d.envelope(t)
}

// Request sends request to peer and waits for the response with the
// same id. An error response is returned as both the message and a
// *protocol.Error.
func (d *DApp) Request(ctx context.Context, request protocol.Message, peer transport.PeerInfo) (protocol.Message, error) {
	header := request.Header()
	if !header.Type.IsRequest() {
		return nil, fmt.Errorf("wallet: %s is not a request", header.Type)
	}
	if header.ID == "" {
		return nil, errors.New("wallet: request without id")
	}

	entry := &outstanding{peer: peer.PublicKey, response: future.New[protocol.Message]()}
	d.mu.Lock()
	if _, exists := d.outstanding[header.ID]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("wallet: request %s already outstanding", header.ID)
	}
	d.outstanding[header.ID] = entry
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.outstanding, header.ID)
		d.mu.Unlock()
	}()

	if err := d.send(ctx, request, peer); err != nil {
		return nil, err
	}
	response, err := entry.response.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if rejection, ok := response.(*protocol.Error); ok {
		return response, rejection
	}
	return response, nil
}

// Acknowledged reports whether the wallet acknowledged the outstanding
// request id.
func (d *DApp) Acknowledged(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.outstanding[id]
	return ok && entry.acknowledged
}

// Disconnect notifies peer and forgets it. Outstanding requests to it
// fail with ErrPeerDisconnected.
func (d *DApp) Disconnect(ctx context.Context, peer transport.PeerInfo) error {
	d.failPeer(peer.PublicKey)
	return d.disconnect(ctx, peer)
}

// Close fails outstanding requests and disconnects the transport.
func (d *DApp) Close(ctx context.Context) error {
	d.mu.Lock()
	for _, entry := range d.outstanding {
		entry.response.Fail(transport.ErrNotConnected)
	}
	d.mu.Unlock()
	return d.transport.Disconnect(ctx)
}

func (d *DApp) handleMessage(text string, connection transport.ConnectionContext) {
	ctx := context.Background()
	message, peer, fresh, err := d.receive(ctx, text, connection)
	if err != nil {
		d.logger.Debug("dropping undecodable message", "peer", connection.ID, "error", err)
		return
	}
	if !fresh {
		d.logger.Debug("dropping duplicate message", "id", message.Header().ID, "type", message.Header().Type)
		return
	}

	switch message := message.(type) {
	case *protocol.Acknowledge:
		d.mu.Lock()
		if entry, ok := d.outstanding[message.ID]; ok && entry.peer == peer.PublicKey {
			entry.acknowledged = true
		}
		d.mu.Unlock()
	case *protocol.PermissionResponse, *protocol.SignPayloadResponse, *protocol.OperationResponse, *protocol.Error:
		d.resolve(message, peer)
	case *protocol.Disconnect:
		d.logger.Info("wallet disconnected", "peer", peer.PublicKey)
		d.failPeer(peer.PublicKey)
		if err := d.transport.RemovePeer(ctx, peer.PublicKey); err != nil {
			d.logger.Warn("removing disconnected peer", "peer", peer.PublicKey, "error", err)
		}
	case *protocol.PermissionRequest, *protocol.SignPayloadRequest, *protocol.OperationRequest:
		d.logger.Debug("ignoring request sent to a dapp", "id", message.Header().ID, "type", message.Header().Type)
	}
}

func (d *DApp) resolve(response protocol.Message, peer transport.PeerInfo) {
	id := response.Header().ID
	d.mu.Lock()
	entry, ok := d.outstanding[id]
	d.mu.Unlock()
	if !ok || entry.peer != peer.PublicKey {
		d.logger.Debug("response matches no outstanding request", "id", id, "peer", peer.PublicKey)
		return
	}
	entry.response.Resolve(response)
}

func (d *DApp) failPeer(publicKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range d.outstanding {
		if entry.peer == publicKey {
			entry.response.Fail(ErrPeerDisconnected)
		}
	}
}
