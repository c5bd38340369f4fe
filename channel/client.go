// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/netutil"
)

var (
	// ErrConnectTimeout is returned by Dial when the relay does not
	// accept the handshake within ClientConfig.ConnectTimeout.
	ErrConnectTimeout = errors.New("channel: connection could not be established")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("channel: closed")
)

// DefaultConnectTimeout bounds the handshake.
const DefaultConnectTimeout = 15 * time.Second

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

// ClientConfig configures Dial.
type ClientConfig struct {
	// ConnectTimeout bounds the time from the WebSocket upgrade to
	// Accepted. Default DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Dialer opens the WebSocket. Default websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Delivery is a payload received from another participant.
type Delivery struct {
	Sender    Address
	Recipient Address
	Data      []byte
}

// MessageListener receives payloads. It runs on the client's read
// goroutine.
type MessageListener func(Delivery)

// Client is a connected channel participant.
type Client struct {
	conn    *websocket.Conn
	keyPair *KeyPair
	address Address
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	accepted   chan struct{}
	acceptOnce sync.Once
	closed     chan struct{}
	closeOnce  sync.Once

	// writeMu serializes writes; the connection allows one writer.
	writeMu sync.Mutex

	mu        sync.Mutex
	listeners []MessageListener
}

// Dial connects to the relay at url and completes the handshake with
// keyPair.
func Dial(ctx context.Context, url string, keyPair *KeyPair, config ClientConfig) (*Client, error) {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	conn, _, err := config.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("channel: dialing %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	clientCtx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:     conn,
		keyPair:  keyPair,
		address:  keyPair.Address(),
		logger:   config.Logger.With("url", url),
		ctx:      clientCtx,
		cancel:   cancel,
		accepted: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	client.logger.Debug("channel session opened")
	go client.readLoop()

	timeout := config.Clock.After(config.ConnectTimeout)
	if err := client.write(ctx, Frame{Sender: client.address, Message: Init{}}); err != nil {
		client.Close()
		return nil, err
	}

	select {
	case <-client.accepted:
		client.logger.Info("channel connected", "address", client.address)
		return client, nil
	case <-timeout:
		client.Close()
		return nil, fmt.Errorf("%w: %s within %s", ErrConnectTimeout, url, config.ConnectTimeout)
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	case <-client.closed:
		return nil, ErrClosed
	}
}

// Address returns the client's own address.
func (c *Client) Address() Address { return c.address }

// OnMessage registers listener for every payload frame.
func (c *Client) OnMessage(listener MessageListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Send delivers data to the participant identified by recipient: a
// compressed public key or a 16-byte address.
func (c *Client) Send(ctx context.Context, recipient []byte, data []byte) error {
	return c.write(ctx, Frame{
		Sender:    c.address,
		Recipient: AddressOf(recipient),
		Message:   Payload{Data: data},
	})
}

// Close drops the listeners and closes the connection. Calls blocked
// in Dial or Send return ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.listeners = nil
		c.mu.Unlock()
		c.cancel()
		close(c.closed)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(ctx context.Context, frame Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, Encode(frame)); err != nil {
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}
		return fmt.Errorf("channel: writing %s frame: %w", frame.Message.Type(), err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				if netutil.IsExpectedCloseError(err) {
					c.logger.Debug("channel read ended", "error", err)
				} else {
					c.logger.Warn("channel connection lost", "error", err)
				}
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		frame, err := Decode(data)
		if err != nil {
			c.logger.Debug("dropping channel frame", "error", err)
			continue
		}

		switch message := frame.Message.(type) {
		case Challenge:
			go c.answer(message)
		case Accepted:
			c.acceptOnce.Do(func() { close(c.accepted) })
		case Payload:
			c.deliver(Delivery{Sender: frame.Sender, Recipient: frame.Recipient, Data: message.Data})
		case Init, Response:
			c.logger.Debug("ignoring relay-bound frame", "type", message.Type())
		}
	}
}

// answer solves the challenge off the read goroutine; the proof of
// work has no upper bound.
func (c *Client) answer(challenge Challenge) {
	response, err := respond(c.ctx, c.keyPair, challenge)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Warn("answering channel challenge failed", "error", err)
		}
		return
	}
	if err := c.write(c.ctx, Frame{Sender: c.address, Message: response}); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Warn("sending channel response failed", "error", err)
	}
}

func (c *Client) deliver(delivery Delivery) {
	c.mu.Lock()
	listeners := append([]MessageListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, listener := range listeners {
		listener(delivery)
	}
}
