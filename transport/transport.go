// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/lib/version"
	"github.com/bureau-foundation/beacon/messaging"
	"github.com/bureau-foundation/beacon/relay"
	"github.com/bureau-foundation/beacon/relayclient"
)

// ErrNotConnected is returned by operations that need a connected
// transport.
var ErrNotConnected = errors.New("transport: not connected")

// Defaults for Config.
const (
	DefaultReplayWindow     = 5 * time.Minute
	DefaultAutoJoinAttempts = 10
	DefaultAutoJoinInterval = 200 * time.Millisecond
)

// channelOpenPrefix starts every channel-open message.
const channelOpenPrefix = "@channel-open"

// Status is the connection status of a P2PTransport.
type Status int

const (
	StatusNotConnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusNotConnected:
		return "not-connected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Origin names the transport a message arrived through.
type Origin string

// OriginP2P marks messages received over relay rooms.
const OriginP2P Origin = "p2p"

// ConnectionContext describes where a message came from. ID is the
// sending peer's public key in hex.
type ConnectionContext struct {
	Origin Origin
	ID     string
}

// MessageHandler receives decrypted peer messages.
type MessageHandler func(message string, connection ConnectionContext)

// PeerHandler is notified when a peer completes pairing.
type PeerHandler func(peer PeerInfo)

// Config configures a P2PTransport.
type Config struct {
	// Client is the relay session. Required.
	Client RelayClient

	// Selector, if set, answers the relay server for pairing requests
	// made before the client has logged in.
	Selector *relay.Selector

	// Identity supplies the local keypair. Required.
	Identity *peercrypto.Identity

	// Storage holds peers and the room index. Required.
	Storage storage.Storage

	// PeerKey is the storage key for this side's peers:
	// storage.KeyDAppPeers or storage.KeyWalletPeers. Required.
	PeerKey storage.Key

	// AppName, IconURL and AppURL describe this side in pairing
	// messages.
	AppName string
	IconURL string
	AppURL  string

	Clock  clock.Clock
	Logger *slog.Logger

	// ReplayWindow bounds the age of the message buffered before the
	// first Listen that is replayed to it.
	ReplayWindow time.Duration

	// AutoJoinAttempts is the number of retries of a FORBIDDEN join
	// after an invite, AutoJoinInterval apart.
	AutoJoinAttempts int
	AutoJoinInterval time.Duration

	// Join wait timings, see RoomManagerConfig.
	JoinFastInterval time.Duration
	JoinFastAttempts int
	JoinSlowInterval time.Duration
	JoinAttempts     int
}

// P2PTransport exchanges encrypted messages with paired peers over
// relay rooms. Safe for concurrent use.
type P2PTransport struct {
	config   Config
	client   RelayClient
	identity *peercrypto.Identity
	clock    clock.Clock
	logger   *slog.Logger
	rooms    *RoomManager
	peers    *PeerManager

	// decrypt opens session-key payloads.
	decrypt func(payload string, key [32]byte) (string, error)

	// listenMu serializes Listen so each peer gets one subscription.
	listenMu sync.Mutex

	mu                sync.Mutex
	status            Status
	ctx               context.Context
	cancel            context.CancelFunc
	handlers          []MessageHandler
	peerHandlers      []PeerHandler
	peerSubscriptions map[string]relayclient.Subscription
	initialEvent      *relayclient.MessageEvent
	initialSub        *relayclient.Subscription
	inviteSub         *relayclient.Subscription
	openSub           *relayclient.Subscription
}

// New creates a P2PTransport.
func New(config Config) (*P2PTransport, error) {
	if config.Client == nil {
		return nil, errors.New("transport: Client is required")
	}
	if config.Identity == nil {
		return nil, errors.New("transport: Identity is required")
	}
	if config.Storage == nil {
		return nil, errors.New("transport: Storage is required")
	}
	if config.PeerKey == "" {
		return nil, errors.New("transport: PeerKey is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ReplayWindow <= 0 {
		config.ReplayWindow = DefaultReplayWindow
	}
	if config.AutoJoinAttempts <= 0 {
		config.AutoJoinAttempts = DefaultAutoJoinAttempts
	}
	if config.AutoJoinInterval <= 0 {
		config.AutoJoinInterval = DefaultAutoJoinInterval
	}

	return &P2PTransport{
		config:   config,
		client:   config.Client,
		identity: config.Identity,
		clock:    config.Clock,
		logger:   config.Logger,
		rooms: NewRoomManager(RoomManagerConfig{
			Client:           config.Client,
			Store:            config.Storage,
			Clock:            config.Clock,
			Logger:           config.Logger,
			JoinFastInterval: config.JoinFastInterval,
			JoinFastAttempts: config.JoinFastAttempts,
			JoinSlowInterval: config.JoinSlowInterval,
			JoinAttempts:     config.JoinAttempts,
		}),
		peers:             NewPeerManager(config.Storage, config.PeerKey),
		decrypt:           peercrypto.DecryptHex,
		peerSubscriptions: make(map[string]relayclient.Subscription),
	}, nil
}

// Rooms returns the transport's room manager.
func (t *P2PTransport) Rooms() *RoomManager { return t.rooms }

// Status returns the connection status.
func (t *P2PTransport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// AddListener registers handler for every decrypted peer message.
func (t *P2PTransport) AddListener(handler MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// OnPeerConnected registers handler for peers that complete pairing.
func (t *P2PTransport) OnPeerConnected(handler PeerHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peerHandlers = append(t.peerHandlers, handler)
}

// Connect starts the relay client and listens to every known peer.
// Calling Connect on a connecting or connected transport does nothing.
func (t *P2PTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusNotConnected {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusConnecting
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.initialEvent = nil
	t.mu.Unlock()

	initialSub := t.client.Subscribe(relayclient.EventMessage, t.bufferInitial)
	inviteSub := t.client.Subscribe(relayclient.EventInvite, t.handleInvite)
	t.mu.Lock()
	t.initialSub = &initialSub
	t.inviteSub = &inviteSub
	t.mu.Unlock()

	if err := t.client.Start(ctx); err != nil {
		t.abortConnect()
		return fmt.Errorf("transport: starting relay client: %w", err)
	}
	if err := t.client.WaitReady(ctx); err != nil {
		t.abortConnect()
		return fmt.Errorf("transport: waiting for first sync: %w", err)
	}

	peers, err := t.peers.Peers(ctx)
	if err != nil {
		t.abortConnect()
		return err
	}
	var group errgroup.Group
	for _, peer := range peers {
		group.Go(func() error {
			if err := t.Listen(ctx, peer.PublicKey); err != nil {
				t.logger.Warn("listening to peer failed", "peer", peer.PublicKey, "error", err)
			}
			return nil
		})
	}
	_ = group.Wait()

	openSub := t.client.Subscribe(relayclient.EventMessage, t.handleChannelOpen)
	t.mu.Lock()
	t.openSub = &openSub
	t.status = StatusConnected
	t.mu.Unlock()

	t.logger.Info("transport connected", "peers", len(peers))
	return nil
}

func (t *P2PTransport) abortConnect() {
	t.mu.Lock()
	cancel := t.cancel
	subscriptions := t.takeSubscriptionsLocked()
	t.status = StatusNotConnected
	t.mu.Unlock()

	cancel()
	for _, subscription := range subscriptions {
		t.client.Unsubscribe(subscription)
	}
	t.client.Stop()
}

// takeSubscriptionsLocked clears and returns every relay subscription
// the transport holds.
func (t *P2PTransport) takeSubscriptionsLocked() []relayclient.Subscription {
	var subscriptions []relayclient.Subscription
	for _, held := range []**relayclient.Subscription{&t.initialSub, &t.inviteSub, &t.openSub} {
		if *held != nil {
			subscriptions = append(subscriptions, **held)
			*held = nil
		}
	}
	for publicKey, subscription := range t.peerSubscriptions {
		subscriptions = append(subscriptions, subscription)
		delete(t.peerSubscriptions, publicKey)
	}
	t.initialEvent = nil
	return subscriptions
}

// Disconnect stops the relay client, forgets the relay-side state and
// drops every peer subscription. Peers stay stored.
func (t *P2PTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.status == StatusNotConnected {
		t.mu.Unlock()
		return nil
	}
	cancel := t.cancel
	subscriptions := t.takeSubscriptionsLocked()
	t.status = StatusNotConnected
	t.mu.Unlock()

	cancel()
	for _, subscription := range subscriptions {
		t.client.Unsubscribe(subscription)
	}
	t.client.Reset()
	t.rooms.Reset()

	var errs []error
	for _, key := range []storage.Key{storage.KeyPeerRoomIDs, storage.KeyPreservedState, storage.KeySelectedRelay} {
		if err := t.config.Storage.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("transport: deleting %s: %w", key, err))
		}
	}
	t.logger.Info("transport disconnected")
	return errors.Join(errs...)
}

// connection returns the context of the current connection, or
// ErrNotConnected.
func (t *P2PTransport) connection() (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusNotConnected {
		return nil, ErrNotConnected
	}
	return t.ctx, nil
}

// Listen subscribes to encrypted messages from the peer with
// publicKeyHex and passes them to the registered handlers. Listening
// twice to the same peer is a no-op.
func (t *P2PTransport) Listen(ctx context.Context, publicKeyHex string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	connection, err := t.connection()
	if err != nil {
		return err
	}
	publicKey, err := peercrypto.ParsePublicKey(publicKeyHex)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}

	t.listenMu.Lock()
	defer t.listenMu.Unlock()

	t.mu.Lock()
	_, listening := t.peerSubscriptions[publicKeyHex]
	t.mu.Unlock()
	if listening {
		return nil
	}

	keys, err := peercrypto.ReceiverSessionKeys(t.identity.KeyPair(), publicKey)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	prefix := senderPrefix(publicKey)
	listener := func(event relayclient.Event) {
		message, ok := event.(relayclient.MessageEvent)
		if !ok {
			return
		}
		t.handlePeerMessage(connection, publicKeyHex, prefix, keys.Receive, message)
	}
	subscription := t.client.Subscribe(relayclient.EventMessage, listener)

	t.mu.Lock()
	t.peerSubscriptions[publicKeyHex] = subscription
	initial := t.initialEvent
	initialSub := t.initialSub
	t.initialEvent = nil
	t.initialSub = nil
	t.mu.Unlock()

	if initialSub != nil {
		t.client.Unsubscribe(*initialSub)
	}
	if initial != nil {
		age := t.clock.Now().Sub(time.UnixMilli(initial.Message.Timestamp))
		if age < t.config.ReplayWindow {
			t.logger.Debug("replaying buffered message", "peer", publicKeyHex, "event_id", initial.Message.ID)
			listener(*initial)
		}
	}
	t.logger.Debug("listening to peer", "peer", publicKeyHex)
	return nil
}

// bufferInitial keeps the newest message seen before the first Listen.
func (t *P2PTransport) bufferInitial(event relayclient.Event) {
	message, ok := event.(relayclient.MessageEvent)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialSub == nil {
		return
	}
	if t.initialEvent == nil || message.Message.Timestamp > t.initialEvent.Message.Timestamp {
		t.initialEvent = &message
	}
}

func (t *P2PTransport) handlePeerMessage(ctx context.Context, publicKeyHex, prefix string, key [32]byte, event relayclient.MessageEvent) {
	message := event.Message
	if message.Type != relayclient.MessageText || !strings.HasPrefix(message.Sender.String(), prefix) {
		return
	}
	if strings.HasPrefix(message.Content, channelOpenPrefix) {
		return
	}
	if hex.DecodedLen(len(message.Content)) < peercrypto.MinCiphertextSize {
		t.logger.Debug("dropping undersized payload", "peer", publicKeyHex, "event_id", message.ID)
		return
	}
	plaintext, err := t.decrypt(message.Content, key)
	if err != nil {
		t.logger.Debug("dropping undecryptable payload", "peer", publicKeyHex, "event_id", message.ID, "error", err)
		return
	}

	t.trackPeer(ctx, publicKeyHex, event)

	t.mu.Lock()
	handlers := append([]MessageHandler(nil), t.handlers...)
	t.mu.Unlock()
	connection := ConnectionContext{Origin: OriginP2P, ID: publicKeyHex}
	for _, handler := range handlers {
		handler(plaintext, connection)
	}
}

// trackPeer follows a peer that moved to another relay server or room.
func (t *P2PTransport) trackPeer(ctx context.Context, publicKeyHex string, event relayclient.MessageEvent) {
	server := event.Message.Sender.Server()
	peer, known, err := t.peers.Peer(ctx, publicKeyHex)
	if err != nil {
		t.logger.Warn("loading peer failed", "peer", publicKeyHex, "error", err)
		return
	}
	if known && peer.RelayServer != server {
		t.logger.Info("peer changed relay server", "peer", publicKeyHex, "from", peer.RelayServer, "to", server)
		peer.RelayServer = server
		if err := t.peers.Add(ctx, peer); err != nil {
			t.logger.Warn("updating peer relay server failed", "peer", publicKeyHex, "error", err)
		}
	}
	if err := t.rooms.UpdatePeerRoom(ctx, event.Message.Sender, event.RoomID); err != nil {
		t.logger.Warn("updating peer room failed", "peer", publicKeyHex, "error", err)
	}
}

// handleInvite joins invited rooms in the background.
func (t *P2PTransport) handleInvite(event relayclient.Event) {
	invite, ok := event.(relayclient.InviteEvent)
	if !ok {
		return
	}
	connection, err := t.connection()
	if err != nil {
		return
	}
	go t.autoJoin(connection, invite.RoomID)
}

// autoJoin joins roomID, retrying FORBIDDEN answers: the invite can
// reach us before the relay lets us join.
func (t *P2PTransport) autoJoin(ctx context.Context, roomID ref.RoomID) {
	for attempt := 0; ; attempt++ {
		err := t.client.JoinRooms(ctx, roomID)
		if err == nil {
			return
		}
		if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) || attempt == t.config.AutoJoinAttempts {
			t.logger.Warn("joining invited room failed", "room_id", roomID, "attempts", attempt+1, "error", err)
			return
		}
		if err := clock.Wait(ctx, t.clock, t.config.AutoJoinInterval); err != nil {
			return
		}
	}
}

// Send encrypts message for peer and posts it in the peer's room. A nil
// peer sends to every stored peer.
func (t *P2PTransport) Send(ctx context.Context, message string, peer *PeerInfo) error {
	if _, err := t.connection(); err != nil {
		return err
	}
	if peer != nil {
		return t.sendTo(ctx, message, *peer)
	}
	peers, err := t.peers.Peers(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, each := range peers {
		if err := t.sendTo(ctx, message, each); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *P2PTransport) sendTo(ctx context.Context, message string, peer PeerInfo) error {
	publicKey, err := peercrypto.ParsePublicKey(peer.PublicKey)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	keys, err := peercrypto.SenderSessionKeys(t.identity.KeyPair(), publicKey)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	payload, err := peercrypto.EncryptHex(message, keys.Send)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	recipient, err := routingID(publicKey, peer.RelayServer)
	if err != nil {
		return err
	}
	if err := t.rooms.Send(ctx, recipient, payload); err != nil {
		return fmt.Errorf("transport: sending to %s: %w", recipient, err)
	}
	return nil
}

// relayServer returns the server this side is reachable on: the one
// the client logged into, or the selector's choice before login.
func (t *P2PTransport) relayServer(ctx context.Context) (string, error) {
	if server, err := t.client.RelayServer(); err == nil {
		return server, nil
	}
	if t.config.Selector == nil {
		return "", ErrNotConnected
	}
	selection, err := t.config.Selector.RelayServer(ctx)
	if err != nil {
		return "", err
	}
	return selection.Server, nil
}

// PairingRequestInfo returns a fresh pairing request for this side.
func (t *P2PTransport) PairingRequestInfo(ctx context.Context) (PairingRequest, error) {
	server, err := t.relayServer(ctx)
	if err != nil {
		return PairingRequest{}, fmt.Errorf("transport: pairing request: %w", err)
	}
	return PairingRequest{
		ID:          uuid.NewString(),
		Type:        PairingRequestType,
		Name:        t.config.AppName,
		Version:     version.Protocol,
		PublicKey:   t.identity.KeyPair().PublicKeyHex(),
		RelayServer: server,
		Icon:        t.config.IconURL,
		AppURL:      t.config.AppURL,
	}, nil
}

// pairingResponse answers request on behalf of this side.
func (t *P2PTransport) pairingResponse(ctx context.Context, request PairingRequest) (PairingResponse, error) {
	server, err := t.relayServer(ctx)
	if err != nil {
		return PairingResponse{}, err
	}
	return PairingResponse{
		ID:          request.ID,
		Type:        PairingResponseType,
		Name:        t.config.AppName,
		Version:     request.Version,
		PublicKey:   t.identity.KeyPair().PublicKeyHex(),
		RelayServer: server,
		Icon:        t.config.IconURL,
		AppURL:      t.config.AppURL,
	}, nil
}

// SendPairingResponse opens a room with the requester, waits for it to
// join, and posts the sealed pairing response there.
func (t *P2PTransport) SendPairingResponse(ctx context.Context, request PairingRequest) error {
	if _, err := t.connection(); err != nil {
		return err
	}
	publicKey, err := peercrypto.ParsePublicKey(request.PublicKey)
	if err != nil {
		return fmt.Errorf("transport: pairing response: %w", err)
	}
	recipient, err := routingID(publicKey, request.RelayServer)
	if err != nil {
		return err
	}

	roomID, err := t.rooms.FreshRoom(ctx, recipient)
	if err != nil {
		return fmt.Errorf("transport: pairing room: %w", err)
	}
	if err := t.rooms.WaitForJoin(ctx, roomID); err != nil {
		return err
	}

	var message []byte
	if version.IsLegacyPairing(request.Version) {
		message = []byte(t.identity.KeyPair().PublicKeyHex())
	} else {
		response, err := t.pairingResponse(ctx, request)
		if err != nil {
			return fmt.Errorf("transport: pairing response: %w", err)
		}
		message, err = json.Marshal(response)
		if err != nil {
			return fmt.Errorf("transport: encoding pairing response: %w", err)
		}
	}
	sealed, err := peercrypto.SealToRecipient(message, publicKey)
	if err != nil {
		return fmt.Errorf("transport: sealing pairing response: %w", err)
	}

	body := strings.Join([]string{channelOpenPrefix, recipient.String(), hex.EncodeToString(sealed)}, ":")
	if err := t.rooms.SendToRoom(ctx, recipient, roomID, body); err != nil {
		return fmt.Errorf("transport: sending pairing response: %w", err)
	}
	t.logger.Info("pairing response sent", "request_id", request.ID, "room_id", roomID)
	return nil
}

// handleChannelOpen picks up pairing responses addressed to this side.
func (t *P2PTransport) handleChannelOpen(event relayclient.Event) {
	message, ok := event.(relayclient.MessageEvent)
	if !ok || message.Message.Type != relayclient.MessageText {
		return
	}
	ctx, err := t.connection()
	if err != nil {
		return
	}
	keyPair := t.identity.KeyPair()
	if !strings.HasPrefix(message.Message.Content, channelOpenPrefix+":"+senderPrefix(keyPair.PublicKey)) {
		return
	}

	peer, err := t.openChannel(message, keyPair)
	if err != nil {
		t.logger.Debug("dropping channel-open message", "event_id", message.Message.ID, "error", err)
		return
	}
	if err := t.AddPeer(ctx, peer); err != nil {
		t.logger.Warn("storing paired peer failed", "peer", peer.PublicKey, "error", err)
		return
	}
	if err := t.rooms.UpdatePeerRoom(ctx, message.Message.Sender, message.RoomID); err != nil {
		t.logger.Warn("indexing pairing room failed", "room_id", message.RoomID, "error", err)
	}

	t.mu.Lock()
	handlers := append([]PeerHandler(nil), t.peerHandlers...)
	t.mu.Unlock()
	t.logger.Info("peer paired", "peer", peer.PublicKey, "name", peer.Name, "relay_server", peer.RelayServer)
	for _, handler := range handlers {
		handler(peer)
	}
}

// openChannel decodes the sealed pairing response of a channel-open
// message. A plaintext that is not JSON is a legacy response carrying
// only the responder's public key.
func (t *P2PTransport) openChannel(event relayclient.MessageEvent, keyPair peercrypto.KeyPair) (PeerInfo, error) {
	content := event.Message.Content
	payload := content[strings.LastIndex(content, ":")+1:]
	if hex.DecodedLen(len(payload)) < peercrypto.SealOverhead {
		return PeerInfo{}, fmt.Errorf("%w: channel-open payload", peercrypto.ErrCiphertextTooShort)
	}
	sealed, err := hex.DecodeString(payload)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("%w: channel-open payload is not hex", peercrypto.ErrDecrypt)
	}
	plaintext, err := peercrypto.OpenSealed(sealed, keyPair)
	if err != nil {
		return PeerInfo{}, err
	}

	var response PairingResponse
	if err := json.Unmarshal(plaintext, &response); err != nil {
		if _, keyErr := peercrypto.ParsePublicKey(string(plaintext)); keyErr != nil {
			return PeerInfo{}, fmt.Errorf("transport: decoding pairing response: %w", err)
		}
		response = PairingResponse{Type: PairingResponseType, PublicKey: string(plaintext)}
	}
	if response.RelayServer == "" {
		response.RelayServer = event.Message.Sender.Server()
	}
	return peerFromResponse(response)
}

// Peers returns the stored peers.
func (t *P2PTransport) Peers(ctx context.Context) ([]PeerInfo, error) {
	return t.peers.Peers(ctx)
}

// AddPeer stores peer and listens to it.
func (t *P2PTransport) AddPeer(ctx context.Context, peer PeerInfo) error {
	if err := t.peers.Add(ctx, peer); err != nil {
		return err
	}
	return t.Listen(ctx, peer.PublicKey)
}

// RemovePeer forgets the peer with publicKeyHex and stops listening to
// it.
func (t *P2PTransport) RemovePeer(ctx context.Context, publicKeyHex string) error {
	t.unlisten(publicKeyHex)
	return t.peers.Remove(ctx, publicKeyHex)
}

// RemoveAllPeers forgets every peer.
func (t *P2PTransport) RemoveAllPeers(ctx context.Context) error {
	peers, err := t.peers.Peers(ctx)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		t.unlisten(peer.PublicKey)
	}
	return t.peers.RemoveAll(ctx)
}

func (t *P2PTransport) unlisten(publicKeyHex string) {
	t.mu.Lock()
	subscription, ok := t.peerSubscriptions[publicKeyHex]
	delete(t.peerSubscriptions, publicKeyHex)
	t.mu.Unlock()
	if ok {
		t.client.Unsubscribe(subscription)
	}
}
