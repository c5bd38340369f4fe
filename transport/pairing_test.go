// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/relaytest"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/lib/testutil"
	"github.com/bureau-foundation/beacon/relay"
	"github.com/bureau-foundation/beacon/relayclient"
)

type relayPeer struct {
	*P2PTransport
	identity *peercrypto.Identity
	store    *storage.Memory
}

// newRelayPeer builds a transport whose relay client talks to server.
func newRelayPeer(t *testing.T, server *relaytest.Server, peerKey storage.Key, name string) *relayPeer {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	if err := store.Set(ctx, storage.KeySelectedRelay, server.Name()); err != nil {
		t.Fatal(err)
	}
	identity, err := peercrypto.LoadIdentity(ctx, store, nil)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	t.Cleanup(func() { identity.Close() })

	selector, err := relay.NewSelector(relay.SelectorConfig{
		Directory: relay.Directory{Regions: map[relay.Region][]string{relay.RegionEuropeWest: {server.Name()}}},
		Storage:   store,
		Prober:    relay.HTTPProber{Scheme: "http"},
	})
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	client, err := relayclient.New(relayclient.Config{
		Identity: identity,
		Selector: selector,
		Storage:  store,
		Scheme:   "http",
	})
	if err != nil {
		t.Fatalf("relayclient.New: %v", err)
	}
	transport, err := New(Config{
		Client:   client,
		Selector: selector,
		Identity: identity,
		Storage:  store,
		PeerKey:  peerKey,
		AppName:  name,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { transport.Disconnect(context.Background()) })
	return &relayPeer{P2PTransport: transport, identity: identity, store: store}
}

func TestPairingEndToEnd(t *testing.T) {
	server := relaytest.New(t, relaytest.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dapp := newRelayPeer(t, server, storage.KeyDAppPeers, "dapp")
	wallet := newRelayPeer(t, server, storage.KeyWalletPeers, "wallet")
	paired := make(chan PeerInfo, 1)
	dapp.OnPeerConnected(func(peer PeerInfo) { paired <- peer })
	dappMessages := collectMessages(dapp.P2PTransport)
	walletMessages := collectMessages(wallet.P2PTransport)

	if err := dapp.Connect(ctx); err != nil {
		t.Fatalf("dapp Connect: %v", err)
	}
	if err := wallet.Connect(ctx); err != nil {
		t.Fatalf("wallet Connect: %v", err)
	}

	request, err := dapp.PairingRequestInfo(ctx)
	if err != nil {
		t.Fatalf("PairingRequestInfo: %v", err)
	}
	if request.RelayServer != server.Name() {
		t.Errorf("request relay server = %q, want %q", request.RelayServer, server.Name())
	}

	// The request travels out of band as JSON.
	encoded, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}
	var received PairingRequest
	if err := json.Unmarshal(encoded, &received); err != nil {
		t.Fatal(err)
	}

	dappPeer, err := PeerFromRequest(received)
	if err != nil {
		t.Fatalf("PeerFromRequest: %v", err)
	}
	if err := wallet.AddPeer(ctx, dappPeer); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := wallet.SendPairingResponse(ctx, received); err != nil {
		t.Fatalf("SendPairingResponse: %v", err)
	}

	roomID, ok, err := wallet.Rooms().IndexedRoom(ctx, mustRoutingID(t, dapp.identity.KeyPair(), server.Name()))
	if err != nil || !ok {
		t.Fatalf("wallet did not index the pairing room: %v", err)
	}
	if members := server.Members(roomID.String()); len(members) != 2 {
		t.Errorf("pairing room members = %v, want both peers", members)
	}
	messages := server.Messages(roomID.String())
	if len(messages) != 1 || !strings.HasPrefix(messages[0], "@channel-open:") {
		t.Fatalf("pairing room messages = %v, want one channel-open", messages)
	}

	walletPeer := testutil.RequireReceive(t, paired, 10*time.Second, "waiting for the pairing response")
	if walletPeer.ID != request.ID {
		t.Errorf("response id = %q, want request id %q", walletPeer.ID, request.ID)
	}
	if walletPeer.PublicKey != wallet.identity.KeyPair().PublicKeyHex() {
		t.Errorf("response public key = %q", walletPeer.PublicKey)
	}
	if walletPeer.Type != PairingResponseType || walletPeer.Name != "wallet" || walletPeer.RelayServer != server.Name() {
		t.Errorf("response = %+v", walletPeer.PairingResponse)
	}
	wantSender, err := peercrypto.SenderID(wallet.identity.KeyPair().PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if walletPeer.SenderID != wantSender {
		t.Errorf("sender id = %q, want %q", walletPeer.SenderID, wantSender)
	}

	stored, err := dapp.Peers(ctx)
	if err != nil || len(stored) != 1 || stored[0].PublicKey != walletPeer.PublicKey {
		t.Fatalf("dapp peers = %v, %v", stored, err)
	}

	// Session traffic flows both ways through the pairing room.
	if err := dapp.Send(ctx, "permission request", &walletPeer); err != nil {
		t.Fatalf("dapp Send: %v", err)
	}
	got := testutil.RequireReceive(t, walletMessages, 10*time.Second, "wallet waiting for the dapp message")
	if got.message != "permission request" || got.connection.ID != dapp.identity.KeyPair().PublicKeyHex() {
		t.Errorf("wallet received %+v", got)
	}

	if err := wallet.Send(ctx, "permission response", nil); err != nil {
		t.Fatalf("wallet Send: %v", err)
	}
	got = testutil.RequireReceive(t, dappMessages, 10*time.Second, "dapp waiting for the wallet message")
	if got.message != "permission response" || got.connection.ID != wallet.identity.KeyPair().PublicKeyHex() {
		t.Errorf("dapp received %+v", got)
	}
	if count := server.RoomCount(); count != 1 {
		t.Errorf("relay holds %d rooms, want the single pairing room", count)
	}
}

func TestLegacyPairingResponseCarriesPublicKey(t *testing.T) {
	server := relaytest.New(t, relaytest.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dapp := newRelayPeer(t, server, storage.KeyDAppPeers, "dapp")
	wallet := newRelayPeer(t, server, storage.KeyWalletPeers, "wallet")
	paired := make(chan PeerInfo, 1)
	dapp.OnPeerConnected(func(peer PeerInfo) { paired <- peer })
	for _, peer := range []*relayPeer{dapp, wallet} {
		if err := peer.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}

	request, err := dapp.PairingRequestInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	request.Version = ""
	if err := wallet.SendPairingResponse(ctx, request); err != nil {
		t.Fatalf("SendPairingResponse: %v", err)
	}

	walletPeer := testutil.RequireReceive(t, paired, 10*time.Second, "waiting for the legacy response")
	if walletPeer.PublicKey != wallet.identity.KeyPair().PublicKeyHex() {
		t.Errorf("public key = %q", walletPeer.PublicKey)
	}
	if walletPeer.RelayServer != server.Name() {
		t.Errorf("relay server = %q, want the sender's server", walletPeer.RelayServer)
	}
}

func mustRoutingID(t *testing.T, keyPair peercrypto.KeyPair, server string) ref.UserID {
	t.Helper()
	userID, err := routingID(keyPair.PublicKey, server)
	if err != nil {
		t.Fatal(err)
	}
	return userID
}
