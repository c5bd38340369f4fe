// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/testutil"
)

func websocketURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// scriptedRelay runs script against each upgraded connection.
func scriptedRelay(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("reading frame: %v", err)
		return Frame{}
	}
	if messageType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", messageType)
	}
	frame, err := Decode(data)
	if err != nil {
		t.Errorf("Decode: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, Encode(frame)); err != nil {
		t.Errorf("writing frame: %v", err)
	}
}

func TestHandshakeAgainstScriptedRelay(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	challenge := Challenge{Difficulty: DefaultDifficulty, Challenge: [16]byte{0xca, 0xfe}}
	responses := make(chan Response, 1)
	release := make(chan struct{})

	server := scriptedRelay(t, func(conn *websocket.Conn) {
		init := readFrame(t, conn)
		if _, ok := init.Message.(Init); !ok {
			t.Errorf("first frame is %T, want Init", init.Message)
			return
		}
		if init.Sender != keyPair.Address() {
			t.Errorf("init sender = %s, want %s", init.Sender, keyPair.Address())
		}
		writeFrame(t, conn, Frame{Recipient: init.Sender, Message: challenge})

		answer := readFrame(t, conn)
		response, ok := answer.Message.(Response)
		if !ok {
			t.Errorf("answer is %T, want Response", answer.Message)
			return
		}
		responses <- response
		writeFrame(t, conn, Frame{Recipient: init.Sender, Message: Accepted{}})
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := Dial(ctx, websocketURL(server), keyPair, ClientConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	response := testutil.RequireReceive(t, responses, time.Second)
	if response.PublicKey != keyPair.CompressedPublicKey() {
		t.Error("response carries another public key")
	}
	if err := VerifyResponse(challenge, response); err != nil {
		t.Errorf("response does not verify against the client key: %v", err)
	}
}

func TestDialTimesOutWithoutAccepted(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	server := scriptedRelay(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
		<-release
	})
	defer close(release)

	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	result := make(chan error, 1)
	go func() {
		_, err := Dial(context.Background(), websocketURL(server), keyPair, ClientConfig{Clock: fake})
		result <- err
	}()

	fake.WaitForTimers(1)
	fake.Advance(DefaultConnectTimeout)
	if err := testutil.RequireReceive(t, result, 5*time.Second); !errors.Is(err, ErrConnectTimeout) {
		t.Errorf("Dial error = %v, want ErrConnectTimeout", err)
	}
}

func TestDialFailsWhenRelayHangsUp(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	server := scriptedRelay(t, func(conn *websocket.Conn) {
		readFrame(t, conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := Dial(ctx, websocketURL(server), keyPair, ClientConfig{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Dial error = %v, want ErrClosed", err)
	}
}

func TestRelayForwardsPayloads(t *testing.T) {
	relay := NewRelay(RelayConfig{})
	server := httptest.NewServer(relay)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dial := func() (*Client, *KeyPair) {
		keyPair, err := GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		client, err := Dial(ctx, websocketURL(server), keyPair, ClientConfig{})
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		t.Cleanup(func() { client.Close() })
		return client, keyPair
	}
	alice, aliceKey := dial()
	bob, bobKey := dial()
	testutil.RequireEventually(t, 5*time.Second, func() bool { return relay.Connected() == 2 }, "both participants accepted")

	deliveries := make(chan Delivery, 1)
	bob.OnMessage(func(delivery Delivery) { deliveries <- delivery })

	bobPublicKey := bobKey.CompressedPublicKey()
	if err := alice.Send(ctx, bobPublicKey[:], []byte("hello bob")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	delivery := testutil.RequireReceive(t, deliveries, 5*time.Second, "waiting for payload")
	if string(delivery.Data) != "hello bob" {
		t.Errorf("data = %q", delivery.Data)
	}
	if delivery.Sender != aliceKey.Address() || delivery.Recipient != bobKey.Address() {
		t.Errorf("delivery from %s to %s", delivery.Sender, delivery.Recipient)
	}

	// Addressing by 16-byte id reaches the same participant.
	aliceAddress := aliceKey.Address()
	replies := make(chan Delivery, 1)
	alice.OnMessage(func(delivery Delivery) { replies <- delivery })
	if err := bob.Send(ctx, aliceAddress[:], []byte("hello alice")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply := testutil.RequireReceive(t, replies, 5*time.Second); string(reply.Data) != "hello alice" {
		t.Errorf("reply = %q", reply.Data)
	}

	alice.Close()
	if err := alice.Send(ctx, bobPublicKey[:], []byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool { return relay.Connected() == 1 }, "relay drops the closed participant")
}

func TestRelayRejectsForgedResponse(t *testing.T) {
	relay := NewRelay(RelayConfig{})
	server := httptest.NewServer(relay)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial(websocketURL(server), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	writeFrame(t, conn, Frame{Message: Init{}})
	frame := readFrame(t, conn)
	challenge, ok := frame.Message.(Challenge)
	if !ok {
		t.Fatalf("relay answered %T, want Challenge", frame.Message)
	}

	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	response, err := respond(context.Background(), keyPair, challenge)
	if err != nil {
		t.Fatal(err)
	}
	response.Signature[0] ^= 0xff
	writeFrame(t, conn, Frame{Message: response})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("relay accepted a forged response")
	}
	if relay.Connected() != 0 {
		t.Errorf("Connected = %d, want 0", relay.Connected())
	}
}
