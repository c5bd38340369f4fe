// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/messaging"
	"github.com/bureau-foundation/beacon/relayclient"
)

const fakeServer = "relay.test"

type sentMessage struct {
	roomID ref.RoomID
	body   string
}

// fakeRelay is an in-process RelayClient. Rooms it creates are joined
// with the invitees as members, or with only the local user when
// unanswered is set; errors queued in sendErrors and joinErrors are
// returned by the next calls in order.
type fakeRelay struct {
	relayclient.Dispatcher

	self ref.UserID

	mu         sync.Mutex
	subscribes map[relayclient.Topic]int
	rooms      map[ref.RoomID]relayclient.Room
	roomOrder  []ref.RoomID
	created    []ref.RoomID
	sent       []sentMessage
	sendErrors []error
	joinErrors []error
	joins      int
	stops      int
	resets     int
	unanswered bool
}

func newFakeRelay(t *testing.T, keyPair peercrypto.KeyPair) *fakeRelay {
	t.Helper()
	return &fakeRelay{
		self:       ref.MustParseUserID(peercrypto.RoutingID(keyPair.PublicKey, fakeServer)),
		subscribes: make(map[relayclient.Topic]int),
		rooms:      make(map[ref.RoomID]relayclient.Room),
	}
}

func forbidden() error {
	return &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: 403}
}

func (f *fakeRelay) Start(context.Context) error     { return nil }
func (f *fakeRelay) WaitReady(context.Context) error { return nil }

func (f *fakeRelay) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeRelay) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.resets++
	f.rooms = make(map[ref.RoomID]relayclient.Room)
	f.roomOrder = nil
}

func (f *fakeRelay) Subscribe(topic relayclient.Topic, listener relayclient.Listener) relayclient.Subscription {
	f.mu.Lock()
	f.subscribes[topic]++
	f.mu.Unlock()
	return f.Dispatcher.Subscribe(topic, listener)
}

func (f *fakeRelay) subscribeCount(topic relayclient.Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[topic]
}

// addRoom registers a joined room with the given members.
func (f *fakeRelay) addRoom(roomID ref.RoomID, members ...ref.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomID]; !ok {
		f.roomOrder = append(f.roomOrder, roomID)
	}
	f.rooms[roomID] = relayclient.Room{
		ID:      roomID,
		Status:  relayclient.RoomJoined,
		Members: append([]ref.UserID{f.self}, members...),
	}
}

func (f *fakeRelay) Room(roomID ref.RoomID) relayclient.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[roomID]; ok {
		return room
	}
	return relayclient.Room{ID: roomID}
}

func (f *fakeRelay) JoinedRooms() []relayclient.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	var joined []relayclient.Room
	for _, roomID := range f.roomOrder {
		if room := f.rooms[roomID]; room.Status == relayclient.RoomJoined {
			joined = append(joined, room)
		}
	}
	return joined
}

func (f *fakeRelay) CreateTrustedPrivateRoom(_ context.Context, members ...ref.UserID) (ref.RoomID, error) {
	f.mu.Lock()
	roomID := ref.MustParseRoomID(fmt.Sprintf("!created%d:%s", len(f.created)+1, fakeServer))
	f.created = append(f.created, roomID)
	if f.unanswered {
		members = nil
	}
	f.mu.Unlock()
	f.addRoom(roomID, members...)
	return roomID, nil
}

func (f *fakeRelay) createdRooms() []ref.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.created)
}

func (f *fakeRelay) JoinRooms(context.Context, ...ref.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if len(f.joinErrors) == 0 {
		return nil
	}
	err := f.joinErrors[0]
	f.joinErrors = f.joinErrors[1:]
	return err
}

func (f *fakeRelay) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins
}

func (f *fakeRelay) SendTextMessage(_ context.Context, roomID ref.RoomID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{roomID: roomID, body: body})
	if len(f.sendErrors) == 0 {
		return nil
	}
	err := f.sendErrors[0]
	f.sendErrors = f.sendErrors[1:]
	return err
}

func (f *fakeRelay) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakeRelay) UserID() (ref.UserID, error) { return f.self, nil }
func (f *fakeRelay) RelayServer() (string, error) { return fakeServer, nil }

// testPeer is a remote keypair with its routing id on fakeServer.
type testPeer struct {
	keyPair peercrypto.KeyPair
	userID  ref.UserID
}

func newTestPeer(seed string) testPeer {
	keyPair := peercrypto.KeyPairFromSeed(seed)
	return testPeer{
		keyPair: keyPair,
		userID:  ref.MustParseUserID(peercrypto.RoutingID(keyPair.PublicKey, fakeServer)),
	}
}

func (p testPeer) info(t *testing.T) PeerInfo {
	t.Helper()
	peer, err := peerFromResponse(PairingResponse{
		ID:          "pairing-" + p.keyPair.PublicKeyHex()[:8],
		Type:        PairingResponseType,
		Name:        "test peer",
		PublicKey:   p.keyPair.PublicKeyHex(),
		RelayServer: fakeServer,
	})
	if err != nil {
		t.Fatalf("peerFromResponse: %v", err)
	}
	return peer
}

// encryptFor encrypts body the way p sends to the holder of recipient.
func (p testPeer) encryptFor(t *testing.T, recipient peercrypto.KeyPair, body string) string {
	t.Helper()
	keys, err := peercrypto.SenderSessionKeys(p.keyPair, recipient.PublicKey)
	if err != nil {
		t.Fatalf("SenderSessionKeys: %v", err)
	}
	payload, err := peercrypto.EncryptHex(body, keys.Send)
	if err != nil {
		t.Fatalf("EncryptHex: %v", err)
	}
	return payload
}

type fakeTransport struct {
	*P2PTransport
	relay    *fakeRelay
	store    *storage.Memory
	identity *peercrypto.Identity
}

// newFakeTransport returns a transport over a fakeRelay. The transport
// is not connected.
func newFakeTransport(t *testing.T, config Config) *fakeTransport {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	identity, err := peercrypto.LoadIdentity(ctx, store, nil)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	t.Cleanup(func() { identity.Close() })

	relay := newFakeRelay(t, identity.KeyPair())
	config.Client = relay
	config.Identity = identity
	config.Storage = store
	if config.PeerKey == "" {
		config.PeerKey = storage.KeyDAppPeers
	}
	transport, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fakeTransport{P2PTransport: transport, relay: relay, store: store, identity: identity}
}

func connectFake(t *testing.T, config Config) *fakeTransport {
	t.Helper()
	transport := newFakeTransport(t, config)
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return transport
}
