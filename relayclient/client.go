// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relayclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/future"
	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/secret"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/messaging"
	"github.com/bureau-foundation/beacon/relay"
)

var (
	// ErrNoBeaconNodesReachable is returned when login failed on every
	// node of the selected region.
	ErrNoBeaconNodesReachable = errors.New("relayclient: no beacon nodes reachable")

	// ErrAccountDeactivated is returned when the relay reports the
	// account as deactivated. The identity has been regenerated by the
	// time it is returned.
	ErrAccountDeactivated = errors.New("relayclient: account deactivated")

	// ErrNotStarted is returned by session operations before a
	// successful login.
	ErrNotStarted = errors.New("relayclient: not started")

	// ErrStopped fails readiness waiters of a stopped session.
	ErrStopped = errors.New("relayclient: stopped")
)

// Default sync timings.
const (
	DefaultPollingTimeout   = 30 * time.Second
	DefaultRetryInterval    = 5 * time.Second
	DefaultImmediateRetries = 3
	DefaultEventCacheSize   = 4096
)

// State is the lifecycle state of a Client.
type State int

const (
	StateUnauthenticated State = iota
	StateLoggingIn
	StateSyncing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoggingIn:
		return "logging-in"
	case StateSyncing:
		return "syncing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a Client.
type Config struct {
	// Identity supplies the keypair and is regenerated when the relay
	// reports the account deactivated.
	Identity *peercrypto.Identity

	// Selector picks the relay and the login failover order.
	Selector *relay.Selector

	// Storage holds the preserved sync state.
	Storage storage.Storage

	// Scheme of relay URLs. Default "https".
	Scheme     string
	HTTPClient *http.Client

	Clock  clock.Clock
	Logger *slog.Logger

	PollingTimeout   time.Duration
	RetryInterval    time.Duration
	ImmediateRetries int

	// EventCacheSize bounds the set of message ids remembered to
	// suppress re-emission of redelivered messages.
	EventCacheSize int
}

// slot holds everything bound to one login session. Stop and login
// failure replace the slot as a whole.
type slot struct {
	ctx    context.Context
	cancel context.CancelFunc
	ready  *future.Future[struct{}]

	mu       sync.Mutex
	session  messaging.Session
	server   string
	retired  bool
	inflight sync.WaitGroup
}

func newSlot(ready *future.Future[struct{}]) *slot {
	ctx, cancel := context.WithCancel(context.Background())
	return &slot{ctx: ctx, cancel: cancel, ready: ready}
}

// acquire returns the slot's session for one operation. release must
// be called when the operation no longer uses the session.
func (s *slot) acquire() (messaging.Session, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired || s.session == nil {
		return nil, nil, ErrNotStarted
	}
	s.inflight.Add(1)
	return s.session, s.inflight.Done, nil
}

// retire cancels the slot and closes its session once every in-flight
// operation has released it.
func (s *slot) retire() {
	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return
	}
	s.retired = true
	session := s.session
	s.mu.Unlock()

	s.cancel()
	if session == nil {
		return
	}
	go func() {
		s.inflight.Wait()
		session.Close()
	}()
}

// Client is a relay session client. Safe for concurrent use.
type Client struct {
	config  Config
	logger  *slog.Logger
	emitted *lru.Cache[ref.EventID, struct{}]

	// startMu serializes Start.
	startMu sync.Mutex

	mu             sync.Mutex
	state          State
	slot           *slot
	syncToken      string
	pollingRetries int
	rooms          map[ref.RoomID]Room
	roomOrder      []ref.RoomID
	restored       bool

	Dispatcher
}

// New creates a Client. It does not contact the relay until Start.
func New(config Config) (*Client, error) {
	if config.Identity == nil {
		return nil, fmt.Errorf("relayclient: Identity is required")
	}
	if config.Selector == nil {
		return nil, fmt.Errorf("relayclient: Selector is required")
	}
	if config.Storage == nil {
		return nil, fmt.Errorf("relayclient: Storage is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PollingTimeout <= 0 {
		config.PollingTimeout = DefaultPollingTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.ImmediateRetries <= 0 {
		config.ImmediateRetries = DefaultImmediateRetries
	}
	if config.EventCacheSize <= 0 {
		config.EventCacheSize = DefaultEventCacheSize
	}
	emitted, err := lru.New[ref.EventID, struct{}](config.EventCacheSize)
	if err != nil {
		return nil, fmt.Errorf("relayclient: creating event cache: %w", err)
	}
	return &Client{
		config:  config,
		logger:  config.Logger,
		emitted: emitted,
		slot:    newSlot(future.New[struct{}]()),
		rooms:   make(map[ref.RoomID]Room),
	}, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SyncToken returns the next_batch token of the last folded delta.
func (c *Client) SyncToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncToken
}

// Start logs in and starts the sync loop. It returns once the login
// succeeded; use WaitReady to wait for the first sync. Calling Start
// on a running client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	if c.state == StateSyncing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLoggingIn
	c.mu.Unlock()

	if err := c.restore(ctx); err != nil {
		c.logger.Warn("restoring preserved sync state failed", "error", err)
	}

	err := c.login(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateUnauthenticated
		c.mu.Unlock()
		return err
	}
	return nil
}

// login walks the region's nodes until one accepts the identity.
func (c *Client) login(ctx context.Context) error {
	keyPair := c.config.Identity.KeyPair()
	selection, err := c.config.Selector.RelayServer(ctx)
	if err != nil {
		return fmt.Errorf("relayclient: selecting relay: %w", err)
	}

	nodes := c.config.Selector.RegionNodes(selection, keyPair.PublicKey)
	c.mu.Lock()
	current := c.slot
	c.mu.Unlock()
	var failures []error
	for i, node := range nodes {
		if current.ctx.Err() != nil {
			return ErrStopped
		}
		relayTime := selection.RelayTime(c.config.Clock.Now())
		if i > 0 {
			info, err := c.config.Selector.Prober().Info(ctx, node)
			if err != nil {
				c.logger.Warn("relay node unreachable", "server", node, "error", err)
				failures = append(failures, err)
				continue
			}
			relayTime = info.Timestamp
		}

		session, err := c.loginNode(ctx, node, keyPair, int64(relayTime))
		if err == nil {
			if err := c.install(current, session, node); err != nil {
				return err
			}
			c.logger.Info("logged in", "server", node, "user_id", session.UserID())
			return nil
		}
		if messaging.IsMatrixError(err, messaging.ErrCodeUserDeactivated) {
			return c.handleDeactivated(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("login failed, trying next node", "server", node, "error", err)
		failures = append(failures, err)
		current = c.replaceSlot(current)
	}
	return fmt.Errorf("%w: %w", ErrNoBeaconNodesReachable, errors.Join(failures...))
}

func (c *Client) loginNode(ctx context.Context, node string, keyPair peercrypto.KeyPair, relayTime int64) (*messaging.DirectSession, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: relay.ServerURL(c.config.Scheme, node),
		HTTPClient:    c.config.HTTPClient,
		Logger:        c.logger,
	})
	if err != nil {
		return nil, err
	}
	password, err := secret.NewFromString(peercrypto.LoginPassword(keyPair, relayTime))
	if err != nil {
		return nil, err
	}
	defer password.Close()
	return client.Login(ctx, peercrypto.LoginUser(keyPair), password, keyPair.PublicKeyHex())
}

// install binds a logged-in session to the current slot and starts
// the sync loop. A slot retired while the login was in flight gets
// the session closed instead.
func (c *Client) install(current *slot, session messaging.Session, server string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current.mu.Lock()
	if current.retired || c.slot != current {
		current.mu.Unlock()
		session.Close()
		return ErrStopped
	}
	current.session = session
	current.server = server
	current.inflight.Add(1)
	current.mu.Unlock()

	c.state = StateSyncing
	c.pollingRetries = 0
	go c.syncLoop(current)
	return nil
}

// replaceSlot retires expected and installs a fresh slot that
// inherits its ready future, so WaitReady callers keep waiting across
// login failover. If expected is no longer current (Stop ran), it is
// returned unchanged.
func (c *Client) replaceSlot(expected *slot) *slot {
	c.mu.Lock()
	if c.slot != expected {
		c.mu.Unlock()
		return expected
	}
	c.slot = newSlot(expected.ready)
	current := c.slot
	c.mu.Unlock()
	expected.retire()
	return current
}

// handleDeactivated discards the identity and everything bound to it.
func (c *Client) handleDeactivated(ctx context.Context) error {
	c.logger.Warn("account deactivated, regenerating identity")
	c.mu.Lock()
	current := c.slot
	c.mu.Unlock()
	c.replaceSlot(current)

	c.forget()

	var errs []error
	if _, err := c.config.Identity.Regenerate(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.config.Selector.Reset(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: resetting identity: %w", ErrAccountDeactivated, err)
	}
	return ErrAccountDeactivated
}

// Stop cancels the session and everything in flight on it, then
// installs a fresh slot. Safe to call at any time, repeatedly.
func (c *Client) Stop() {
	c.mu.Lock()
	old := c.slot
	c.slot = newSlot(future.New[struct{}]())
	if c.state != StateUnauthenticated {
		c.state = StateStopped
	}
	c.pollingRetries = 0
	c.mu.Unlock()

	old.retire()
	old.ready.Fail(ErrStopped)
}

// Reset stops the client and forgets everything learned through sync.
// Preserved state in storage is left to the caller.
func (c *Client) Reset() {
	c.Stop()
	c.forget()
}

// forget clears the in-memory sync state.
func (c *Client) forget() {
	c.mu.Lock()
	c.syncToken = ""
	c.rooms = make(map[ref.RoomID]Room)
	c.roomOrder = nil
	c.mu.Unlock()
	c.emitted.Purge()
}

// WaitReady blocks until the current session has completed its first
// sync.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.slot.ready
	c.mu.Unlock()
	_, err := ready.Wait(ctx)
	return err
}

// Ready returns a channel closed when the current session has
// completed its first sync (or was stopped).
func (c *Client) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot.ready.Done()
}

// acquire returns the current session for one operation.
func (c *Client) acquire() (messaging.Session, func(), error) {
	c.mu.Lock()
	current := c.slot
	c.mu.Unlock()
	return current.acquire()
}

// syncLoop long-polls until the slot is retired.
func (c *Client) syncLoop(current *slot) {
	defer current.inflight.Done()
	session := current.session
	first := true

	for current.ctx.Err() == nil {
		c.mu.Lock()
		since := c.syncToken
		c.mu.Unlock()

		options := messaging.SyncOptions{Since: since, SetTimeout: true}
		if !first {
			options.Timeout = int(c.config.PollingTimeout / time.Millisecond)
		}

		response, err := session.Sync(current.ctx, options)
		if err != nil {
			if current.ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.pollingRetries++
			retries := c.pollingRetries
			c.mu.Unlock()

			if retries > c.config.ImmediateRetries {
				c.logger.Warn("sync failed, backing off", "retries", retries, "delay", c.config.RetryInterval, "error", err)
				if clock.Wait(current.ctx, c.config.Clock, c.config.RetryInterval) != nil {
					return
				}
			} else {
				c.logger.Warn("sync failed, retrying", "retries", retries, "error", err)
			}
			continue
		}

		first = false
		c.handleSync(current, response)
	}
}

// handleSync folds one delta, persists the result if it changed
// anything, emits events, and marks the slot ready.
func (c *Client) handleSync(current *slot, response *messaging.SyncResponse) {
	delta := roomsFromSync(response)

	c.mu.Lock()
	if c.slot != current {
		c.mu.Unlock()
		return
	}
	c.pollingRetries = 0
	changed := c.syncToken != response.NextBatch
	c.syncToken = response.NextBatch
	for _, update := range delta {
		existing := c.rooms[update.ID]
		merged := mergeRoom(existing, update)
		if !roomEqual(existing, merged) {
			changed = true
		}
		c.putRoomLocked(merged)
	}
	var preserved preservedState
	if changed {
		preserved = c.preservedLocked()
	}
	c.mu.Unlock()

	if changed {
		if err := c.config.Storage.Set(current.ctx, storage.KeyPreservedState, preserved); err != nil && current.ctx.Err() == nil {
			c.logger.Warn("persisting sync state failed", "error", err)
		}
	}

	c.Emit(c.eventsFor(delta)...)
	current.ready.Resolve(struct{}{})
}

// eventsFor builds the events of a delta. Messages already emitted
// are skipped.
func (c *Client) eventsFor(delta []Room) []Event {
	var events []Event
	for _, room := range delta {
		if room.Status == RoomInvited {
			events = append(events, InviteEvent{RoomID: room.ID, Members: room.Members})
		}
		for _, message := range room.Messages {
			if previous, _ := c.emitted.ContainsOrAdd(message.ID, struct{}{}); previous {
				continue
			}
			events = append(events, MessageEvent{RoomID: room.ID, Message: message})
		}
	}
	return events
}
