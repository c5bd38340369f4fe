// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/beacon/lib/netutil"
)

// DefaultDifficulty accepts one proof-of-work digest in 256.
var DefaultDifficulty = [challengeSize]byte{
	0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// ParseDifficulty decodes a 32-digit hex difficulty prefix.
func ParseDifficulty(text string) ([challengeSize]byte, error) {
	var difficulty [challengeSize]byte
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return difficulty, fmt.Errorf("channel: difficulty is not hex: %w", err)
	}
	if len(decoded) != challengeSize {
		return difficulty, fmt.Errorf("channel: difficulty has %d bytes, want %d", len(decoded), challengeSize)
	}
	copy(difficulty[:], decoded)
	return difficulty, nil
}

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 64
)

// RelayConfig configures a Relay.
type RelayConfig struct {
	// Difficulty issued in challenges. The zero value selects
	// DefaultDifficulty.
	Difficulty [challengeSize]byte

	// CheckOrigin is passed to the WebSocket upgrader. Nil accepts
	// every origin.
	CheckOrigin func(*http.Request) bool

	Logger *slog.Logger
}

// Relay is a reference channel relay. It authenticates participants
// with the challenge handshake and forwards payload frames between
// them. Safe for concurrent use.
type Relay struct {
	config   RelayConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[Address]*relayPeer
}

type relayPeer struct {
	conn    *websocket.Conn
	address Address
	send    chan []byte
	done    chan struct{}
}

// NewRelay creates a Relay.
func NewRelay(config RelayConfig) *Relay {
	if config.Difficulty == ([challengeSize]byte{}) {
		config.Difficulty = DefaultDifficulty
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Relay{
		config: config,
		logger: config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		peers: make(map[Address]*relayPeer),
	}
}

// Connected returns the number of authenticated participants.
func (r *Relay) Connected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// ServeHTTP upgrades the request and serves the connection until it
// closes.
func (r *Relay) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := r.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		r.logger.Debug("channel upgrade failed", "remote", request.RemoteAddr, "error", err)
		return
	}
	peer := &relayPeer{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	go r.writePump(peer)
	r.readPump(peer)
}

func (r *Relay) readPump(peer *relayPeer) {
	defer func() {
		r.mu.Lock()
		if r.peers[peer.address] == peer {
			delete(r.peers, peer.address)
		}
		r.mu.Unlock()
		close(peer.done)
		peer.conn.Close()
	}()

	peer.conn.SetReadLimit(maxMessageSize)
	_ = peer.conn.SetReadDeadline(time.Now().Add(pongWait))
	peer.conn.SetPongHandler(func(string) error {
		return peer.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var issued *Challenge
	accepted := false
	for {
		messageType, data, err := peer.conn.ReadMessage()
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				r.logger.Debug("channel participant read failed", "address", peer.address, "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		frame, err := Decode(data)
		if err != nil {
			r.logger.Debug("dropping channel frame", "error", err)
			continue
		}

		switch message := frame.Message.(type) {
		case Init:
			if accepted {
				continue
			}
			challenge := Challenge{Difficulty: r.config.Difficulty}
			if _, err := rand.Read(challenge.Challenge[:]); err != nil {
				r.logger.Error("generating channel challenge failed", "error", err)
				return
			}
			issued = &challenge
			r.enqueue(peer, Frame{Recipient: frame.Sender, Message: challenge})

		case Response:
			if issued == nil || accepted {
				continue
			}
			if err := VerifyResponse(*issued, message); err != nil {
				r.logger.Warn("rejecting channel participant", "remote", peer.conn.RemoteAddr().String(), "error", err)
				return
			}
			peer.address = AddressOf(message.PublicKey[:])
			accepted = true
			r.mu.Lock()
			r.peers[peer.address] = peer
			r.mu.Unlock()
			r.enqueue(peer, Frame{Recipient: peer.address, Message: Accepted{}})
			r.logger.Info("channel participant accepted", "address", peer.address)

		case Payload:
			if !accepted {
				continue
			}
			r.mu.Lock()
			target, ok := r.peers[frame.Recipient]
			r.mu.Unlock()
			if !ok {
				r.logger.Debug("no channel participant for recipient", "recipient", frame.Recipient)
				continue
			}
			frame.Sender = peer.address
			r.enqueue(target, frame)

		case Challenge, Accepted:
			r.logger.Debug("ignoring client-bound frame", "type", message.Type())
		}
	}
}

// enqueue hands a frame to peer's writer. Frames for a gone or backed
// up peer are dropped.
func (r *Relay) enqueue(peer *relayPeer, frame Frame) {
	select {
	case peer.send <- Encode(frame):
	case <-peer.done:
	default:
		r.logger.Warn("channel send queue full, dropping frame", "address", peer.address)
	}
}

func (r *Relay) writePump(peer *relayPeer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		peer.conn.Close()
	}()
	for {
		select {
		case data := <-peer.send:
			_ = peer.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := peer.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = peer.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := peer.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-peer.done:
			return
		}
	}
}
