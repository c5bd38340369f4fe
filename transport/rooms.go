// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/messaging"
	"github.com/bureau-foundation/beacon/relayclient"
)

// ErrNoJoinTimeout is returned when the peer did not join a room
// within the join wait.
var ErrNoJoinTimeout = errors.New("transport: peer did not join the room")

// Default join wait: 50 checks 100ms apart, then 1s apart, 200 checks
// in total.
const (
	DefaultJoinFastInterval = 100 * time.Millisecond
	DefaultJoinFastAttempts = 50
	DefaultJoinSlowInterval = time.Second
	DefaultJoinAttempts     = 200
)

// RelayClient is the relay session used by the transport.
// *relayclient.Client implements it.
type RelayClient interface {
	Start(ctx context.Context) error
	Stop()
	Reset()
	WaitReady(ctx context.Context) error

	Subscribe(topic relayclient.Topic, listener relayclient.Listener) relayclient.Subscription
	Unsubscribe(subscription relayclient.Subscription)
	UnsubscribeAll(topic relayclient.Topic)

	Room(roomID ref.RoomID) relayclient.Room
	JoinedRooms() []relayclient.Room
	CreateTrustedPrivateRoom(ctx context.Context, members ...ref.UserID) (ref.RoomID, error)
	JoinRooms(ctx context.Context, roomIDs ...ref.RoomID) error
	SendTextMessage(ctx context.Context, roomID ref.RoomID, body string) error

	UserID() (ref.UserID, error)
	RelayServer() (string, error)
}

var _ RelayClient = (*relayclient.Client)(nil)

// RoomManagerConfig configures a RoomManager.
type RoomManagerConfig struct {
	Client RelayClient
	Store  storage.Storage
	Clock  clock.Clock
	Logger *slog.Logger

	JoinFastInterval time.Duration
	JoinFastAttempts int
	JoinSlowInterval time.Duration
	JoinAttempts     int
}

// RoomManager routes peers to rooms. Safe for concurrent use.
type RoomManager struct {
	config RoomManagerConfig
	logger *slog.Logger

	// mu guards ignored and serializes index updates.
	mu      sync.Mutex
	ignored []ref.RoomID
}

// NewRoomManager creates a RoomManager.
func NewRoomManager(config RoomManagerConfig) *RoomManager {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.JoinFastInterval <= 0 {
		config.JoinFastInterval = DefaultJoinFastInterval
	}
	if config.JoinFastAttempts <= 0 {
		config.JoinFastAttempts = DefaultJoinFastAttempts
	}
	if config.JoinSlowInterval <= 0 {
		config.JoinSlowInterval = DefaultJoinSlowInterval
	}
	if config.JoinAttempts <= 0 {
		config.JoinAttempts = DefaultJoinAttempts
	}
	return &RoomManager{config: config, logger: config.Logger}
}

// roomIndex maps a recipient routing id to a room id.
type roomIndex map[string]string

func (m *RoomManager) loadIndex(ctx context.Context) (roomIndex, error) {
	index := roomIndex{}
	if _, err := m.config.Store.Get(ctx, storage.KeyPeerRoomIDs, &index); err != nil {
		return nil, fmt.Errorf("transport: loading room index: %w", err)
	}
	if index == nil {
		index = roomIndex{}
	}
	return index, nil
}

func (m *RoomManager) saveIndex(ctx context.Context, index roomIndex) error {
	if err := m.config.Store.Set(ctx, storage.KeyPeerRoomIDs, index); err != nil {
		return fmt.Errorf("transport: saving room index: %w", err)
	}
	return nil
}

// IndexedRoom returns the room the index holds for recipient.
func (m *RoomManager) IndexedRoom(ctx context.Context, recipient ref.UserID) (ref.RoomID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, err := m.loadIndex(ctx)
	if err != nil {
		return ref.RoomID{}, false, err
	}
	raw, ok := index[recipient.String()]
	if !ok {
		return ref.RoomID{}, false, nil
	}
	roomID, err := ref.ParseRoomID(raw)
	if err != nil {
		return ref.RoomID{}, false, nil
	}
	return roomID, true, nil
}

// RelevantRoom returns the room to message recipient in: the indexed
// room if there is one, otherwise a joined or newly created room,
// which is then indexed.
func (m *RoomManager) RelevantRoom(ctx context.Context, recipient ref.UserID) (ref.RoomID, error) {
	if roomID, ok, err := m.IndexedRoom(ctx, recipient); err != nil {
		return ref.RoomID{}, err
	} else if ok {
		return roomID, nil
	}

	m.logger.Debug("no indexed room for peer, checking joined rooms", "recipient", recipient)
	roomID, err := m.RelevantJoinedRoom(ctx, recipient)
	if err != nil {
		return ref.RoomID{}, err
	}
	if err := m.index(ctx, recipient, roomID); err != nil {
		return ref.RoomID{}, err
	}
	return roomID, nil
}

// RelevantJoinedRoom returns the first joined, non-ignored room that
// has recipient as a member. It creates a room inviting recipient when
// there is none, or when any room has been ignored: an ignored room
// means the relay state diverged from the local sync state, which then
// cannot be trusted for reuse. A created room is returned once
// recipient has joined it.
//
// The join is observed through sync, so this must not be called from
// an event listener.
func (m *RoomManager) RelevantJoinedRoom(ctx context.Context, recipient ref.UserID) (ref.RoomID, error) {
	m.mu.Lock()
	ignored := slices.Clone(m.ignored)
	m.mu.Unlock()

	var candidates []ref.RoomID
	for _, room := range m.config.Client.JoinedRooms() {
		if slices.Contains(ignored, room.ID) || !room.HasMember(recipient) {
			continue
		}
		candidates = append(candidates, room.ID)
	}

	if len(candidates) > 0 && len(ignored) == 0 {
		m.logger.Debug("reusing joined room", "room_id", candidates[0], "recipient", recipient)
		return candidates[0], nil
	}

	roomID, err := m.config.Client.CreateTrustedPrivateRoom(ctx, recipient)
	if err != nil {
		return ref.RoomID{}, err
	}
	m.logger.Info("created room for peer", "room_id", roomID, "recipient", recipient)
	if err := m.WaitForJoin(ctx, roomID); err != nil {
		return ref.RoomID{}, err
	}
	return roomID, nil
}

// FreshRoom creates a new room inviting recipient and indexes it.
func (m *RoomManager) FreshRoom(ctx context.Context, recipient ref.UserID) (ref.RoomID, error) {
	roomID, err := m.config.Client.CreateTrustedPrivateRoom(ctx, recipient)
	if err != nil {
		return ref.RoomID{}, err
	}
	if err := m.index(ctx, recipient, roomID); err != nil {
		return ref.RoomID{}, err
	}
	return roomID, nil
}

func (m *RoomManager) index(ctx context.Context, recipient ref.UserID, roomID ref.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, err := m.loadIndex(ctx)
	if err != nil {
		return err
	}
	index[recipient.String()] = roomID.String()
	return m.saveIndex(ctx, index)
}

// WaitForJoin waits until the room has at least two members: 50 checks
// at the fast interval, then the slow interval, up to JoinAttempts
// checks. A room the local sync state does not know yet is waited on
// like any other.
func (m *RoomManager) WaitForJoin(ctx context.Context, roomID ref.RoomID) error {
	for attempt := range m.config.JoinAttempts {
		members := len(m.config.Client.Room(roomID).Members)
		if members >= 2 {
			return nil
		}
		if attempt+1 == m.config.JoinAttempts {
			break
		}
		interval := m.config.JoinFastInterval
		if attempt >= m.config.JoinFastAttempts {
			interval = m.config.JoinSlowInterval
		}
		m.logger.Debug("waiting for join", "room_id", roomID, "members", members, "attempt", attempt+1)
		if err := clock.Wait(ctx, m.config.Clock, interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d checks", ErrNoJoinTimeout, roomID, m.config.JoinAttempts)
}

// DeleteRoom removes roomID from the index and ignores it from now on.
func (m *RoomManager) DeleteRoom(ctx context.Context, roomID ref.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.ignored, roomID) {
		m.ignored = append(m.ignored, roomID)
	}
	index, err := m.loadIndex(ctx)
	if err != nil {
		return err
	}
	for recipient, indexed := range index {
		if indexed == roomID.String() {
			delete(index, recipient)
		}
	}
	return m.saveIndex(ctx, index)
}

// UpdatePeerRoom points the index for recipient at roomID after the
// peer answered from it. The previously indexed room is ignored.
func (m *RoomManager) UpdatePeerRoom(ctx context.Context, recipient ref.UserID, roomID ref.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, err := m.loadIndex(ctx)
	if err != nil {
		return err
	}
	previous, ok := index[recipient.String()]
	if ok && previous == roomID.String() {
		return nil
	}
	if ok {
		if previousID, err := ref.ParseRoomID(previous); err == nil && !slices.Contains(m.ignored, previousID) {
			m.ignored = append(m.ignored, previousID)
		}
	}
	index[recipient.String()] = roomID.String()
	m.logger.Info("peer moved rooms", "recipient", recipient, "from", previous, "to", roomID)
	return m.saveIndex(ctx, index)
}

// Ignored reports whether roomID has been ignored.
func (m *RoomManager) Ignored(roomID ref.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.ignored, roomID)
}

// Reset forgets the ignored rooms.
func (m *RoomManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignored = nil
}

// Send delivers body to recipient in its relevant room.
func (m *RoomManager) Send(ctx context.Context, recipient ref.UserID, body string) error {
	roomID, err := m.RelevantRoom(ctx, recipient)
	if err != nil {
		return err
	}
	return m.SendToRoom(ctx, recipient, roomID, body)
}

// SendToRoom sends body to roomID. A FORBIDDEN answer means the room
// is gone for us: it is deleted and the send is retried once in the
// recipient's relevant room.
func (m *RoomManager) SendToRoom(ctx context.Context, recipient ref.UserID, roomID ref.RoomID, body string) error {
	err := m.config.Client.SendTextMessage(ctx, roomID, body)
	if err == nil || !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		return err
	}

	m.logger.Warn("send forbidden, retrying in another room", "room_id", roomID, "recipient", recipient)
	if err := m.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	retryRoom, err := m.RelevantRoom(ctx, recipient)
	if err != nil {
		return err
	}
	return m.config.Client.SendTextMessage(ctx, retryRoom, body)
}
