// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/secret"
)

// DirectSession is an authenticated relay session. It wraps a Client
// with an access token held in a secret.Buffer. The caller must call
// Close when the session is no longer needed.
type DirectSession struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string

	// transactionCounter makes transaction ids unique within a session.
	transactionCounter atomic.Int64
}

// UserID returns the fully-qualified user ID (e.g., "@<hash>:relay.example").
func (s *DirectSession) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device ID for this session.
func (s *DirectSession) DeviceID() string {
	return s.deviceID
}

// Server returns the base URL of the relay this session belongs to.
func (s *DirectSession) Server() string {
	return s.client.baseURL
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a sync error to force
// the next request to establish a fresh TCP connection.
func (s *DirectSession) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// Close releases the access token memory (zeros, unlocks, unmaps).
// Idempotent.
func (s *DirectSession) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// Sync performs an incremental sync. With SetTimeout the server holds
// the request for up to Timeout milliseconds waiting for new events.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, ClientAPIPrefix+"/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// CreateRoom creates a new room.
func (s *DirectSession) CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodPost, ClientAPIPrefix+"/createRoom", s.accessToken, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: create room failed: %w", err)
	}

	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}

	s.client.logger.Debug("created relay room",
		"room_id", response.RoomID,
		"invite", request.Invite,
	)
	return &response, nil
}

// InviteUser invites a user to a room.
func (s *DirectSession) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	path := fmt.Sprintf("%s/rooms/%s/invite", ClientAPIPrefix, url.PathEscape(roomID.String()))
	_, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, InviteRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("messaging: invite %q to %q failed: %w", userID, roomID, err)
	}
	return nil
}

// JoinRoom joins a room by ID. Returns the room ID.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := fmt.Sprintf("%s/rooms/%s/join", ClientAPIPrefix, url.PathEscape(roomID.String()))
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response JoinResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	if response.RoomID.IsZero() {
		return roomID, nil
	}
	return response.RoomID, nil
}

// SendMessage sends an m.room.message event to a room using an
// idempotent PUT with a fresh transaction ID. Returns the event ID.
func (s *DirectSession) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	transactionID := s.nextTransactionID()
	path := fmt.Sprintf("%s/rooms/%s/send/%s/%s",
		ClientAPIPrefix,
		url.PathEscape(roomID.String()),
		EventTypeRoomMessage,
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send message to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// TransactionCount returns how many transaction IDs this session has
// issued.
func (s *DirectSession) TransactionCount() int64 {
	return s.transactionCounter.Load()
}

// nextTransactionID generates a transaction ID for idempotent sends.
// Format: "m<unix_nanos>.<counter>".
func (s *DirectSession) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return "m" + strconv.FormatInt(time.Now().UnixNano(), 10) + "." + strconv.FormatInt(counter, 10)
}
