// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/protocol"
	"github.com/bureau-foundation/beacon/transport"
)

// ErrNoPendingRequest is returned by Respond when no request with the
// response's id is pending.
var ErrNoPendingRequest = errors.New("wallet: no pending request")

// Config configures a Client.
type Config struct {
	// Transport configures the underlying transport. PeerKey is
	// always storage.KeyWalletPeers.
	Transport transport.Config

	// Signer backs the default handler. Required unless Handler is set.
	Signer Signer

	// Handler answers requests. Defaults to SignerHandler(Signer).
	Handler RequestHandler

	Logger *slog.Logger

	// DedupSize bounds the ids remembered for duplicate detection.
	DedupSize int
}

type pendingRequest struct {
	request protocol.Message
	peer    transport.PeerInfo
}

// Client is the wallet side of beacon. Safe for concurrent use.
type Client struct {
	endpoint
	handler RequestHandler

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu      sync.Mutex
	pending map[string]pendingRequest
	order   []string
}

// New creates a wallet client. Call Connect to start receiving.
func New(config Config) (*Client, error) {
	if config.Signer == nil && config.Handler == nil {
		return nil, errors.New("wallet: Signer or Handler is required")
	}
	base, err := newEndpoint(config.Transport, storage.KeyWalletPeers, config.Logger, config.DedupSize)
	if err != nil {
		return nil, err
	}
	handler := config.Handler
	if handler == nil {
		handler = SignerHandler(config.Signer, base.senderID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		endpoint: base,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]pendingRequest),
	}
	client.transport.AddListener(client.handleMessage)
	return client, nil
}

// Pair accepts a dApp's pairing request: the dApp becomes a peer and
// receives the channel-open response.
func (c *Client) Pair(ctx context.Context, request transport.PairingRequest) (transport.PeerInfo, error) {
	peer, err := transport.PeerFromRequest(request)
	if err != nil {
		return transport.PeerInfo{}, err
	}
	if err := c.transport.AddPeer(ctx, peer); err != nil {
		return transport.PeerInfo{}, err
	}
	if err := c.transport.SendPairingResponse(ctx, request); err != nil {
		return transport.PeerInfo{}, fmt.Errorf("wallet: pairing with %s: %w", request.Name, err)
	}
	c.logger.Info("paired with dapp", "name", request.Name, "peer", peer.PublicKey)
	return peer, nil
}

// Pending returns the unanswered requests in arrival order.
func (c *Client) Pending() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	requests := make([]protocol.Message, 0, len(c.order))
	for _, id := range c.order {
		requests = append(requests, c.pending[id].request)
	}
	return requests
}

// Respond sends response to the peer whose request has the same id.
func (c *Client) Respond(ctx context.Context, response protocol.Message) error {
	header := response.Header()
	if header.Type.IsRequest() {
		return fmt.Errorf("wallet: %s is not a response", header.Type)
	}
	entry, ok := c.takePending(header.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingRequest, header.ID)
	}
	if err := c.send(ctx, response, entry.peer); err != nil {
		return fmt.Errorf("wallet: responding to %s: %w", header.ID, err)
	}
	return nil
}

// Disconnect notifies peer and forgets it with its pending requests.
func (c *Client) Disconnect(ctx context.Context, peer transport.PeerInfo) error {
	c.dropPeer(peer.PublicKey)
	return c.disconnect(ctx, peer)
}

// Close disconnects the transport and waits for running handlers,
// whose context is cancelled.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	err := c.transport.Disconnect(ctx)
	c.inflight.Wait()
	return err
}

func (c *Client) handleMessage(text string, connection transport.ConnectionContext) {
	ctx := c.ctx
	if ctx.Err() != nil {
		return
	}
	message, peer, fresh, err := c.receive(ctx, text, connection)
	if err != nil {
		c.logger.Debug("dropping undecodable message", "peer", connection.ID, "error", err)
		return
	}
	if !fresh {
		c.logger.Debug("dropping duplicate message", "id", message.Header().ID, "type", message.Header().Type)
		return
	}

	switch message := message.(type) {
	case *protocol.PermissionRequest, *protocol.SignPayloadRequest, *protocol.OperationRequest:
		c.accept(ctx, message, peer)
	case *protocol.Disconnect:
		c.logger.Info("dapp disconnected", "peer", peer.PublicKey)
		c.dropPeer(peer.PublicKey)
		if err := c.transport.RemovePeer(ctx, peer.PublicKey); err != nil {
			c.logger.Warn("removing disconnected peer", "peer", peer.PublicKey, "error", err)
		}
	case *protocol.PermissionResponse, *protocol.SignPayloadResponse, *protocol.OperationResponse,
		*protocol.Acknowledge, *protocol.Error:
		c.logger.Debug("ignoring response sent to a wallet", "id", message.Header().ID, "type", message.Header().Type)
	}
}

// accept records request as pending, then acknowledges and handles it
// outside the sync goroutine: a send may wait for the peer to join a
// new room, which only sync can observe.
func (c *Client) accept(ctx context.Context, request protocol.Message, peer transport.PeerInfo) {
	id := request.Header().ID
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, exists := c.pending[id]; !exists {
		c.order = append(c.order, id)
	}
	c.pending[id] = pendingRequest{request: request, peer: peer}
	// Started under mu so Close cannot be waiting yet.
	c.inflight.Go(func() { c.handle(ctx, request, peer) })
}

func (c *Client) handle(ctx context.Context, request protocol.Message, peer transport.PeerInfo) {
	header := request.Header()
	if err := c.send(ctx, protocol.NewAcknowledge(request, c.senderID), peer); err != nil {
		c.logger.Warn("acknowledgement not delivered", "id", header.ID, "error", err)
	}
	response, err := c.handler(ctx, request, peer)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("request handler failed", "id", header.ID, "type", header.Type, "error", err)
		response = protocol.NewError(request, c.senderID, protocol.ErrorUnknown)
	}
	if response == nil {
		return
	}
	if err := c.Respond(ctx, response); err != nil && !errors.Is(err, ErrNoPendingRequest) {
		c.logger.Warn("response not delivered", "id", header.ID, "error", err)
	}
}

func (c *Client) takePending(id string) (pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[id]
	if !ok {
		return pendingRequest{}, false
	}
	delete(c.pending, id)
	c.order = slices.DeleteFunc(c.order, func(pendingID string) bool { return pendingID == id })
	return entry, true
}

func (c *Client) dropPeer(publicKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.pending {
		if entry.peer.PublicKey == publicKey {
			delete(c.pending, id)
		}
	}
	c.order = slices.DeleteFunc(c.order, func(id string) bool {
		_, ok := c.pending[id]
		return !ok
	})
}
