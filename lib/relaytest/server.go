// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relaytest

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/messaging"
)

// Options configures a test relay.
type Options struct {
	// Region reported by the info endpoint. Default "europe-west".
	Region string

	// KnownServers reported by the info endpoint.
	KnownServers []string

	// Now is the relay clock. Default time.Now.
	Now func() time.Time

	// InfoDelay is added before answering the info endpoint, to
	// shape relay race outcomes.
	InfoDelay time.Duration
}

// Endpoint names accepted by FailNext and Count.
const (
	EndpointInfo   = "info"
	EndpointLogin  = "login"
	EndpointSync   = "sync"
	EndpointCreate = "createRoom"
	EndpointInvite = "invite"
	EndpointJoin   = "join"
	EndpointSend   = "send"
)

// Server is an in-memory relay. All methods are safe for concurrent use.
type Server struct {
	httpServer *httptest.Server
	name       string
	options    Options

	mu            sync.Mutex
	changed       chan struct{}
	users         map[string]*user
	tokens        map[string]string
	rooms         map[string]*room
	deactivated   map[string]bool
	failures      map[string][]string
	counts        map[string]int
	nextRoom      int
	nextEvent     int
	nextToken     int
	lastLoginUser string
}

type user struct {
	id     string
	stream []streamEntry
}

// streamEntry is one delta addressed to a user: events for one room
// in one membership section.
type streamEntry struct {
	roomID   string
	section  string // "join", "invite", or "leave"
	state    []messaging.Event
	timeline []messaging.Event
}

type room struct {
	id         string
	membership map[string]string // user id -> "join" or "invite"
	state      []messaging.Event
	messages   []messaging.Event
}

// New starts a relay and registers its shutdown with t.Cleanup.
func New(t testing.TB, options Options) *Server {
	t.Helper()
	if options.Region == "" {
		options.Region = "europe-west"
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	server := &Server{
		options:     options,
		changed:     make(chan struct{}),
		users:       make(map[string]*user),
		tokens:      make(map[string]string),
		rooms:       make(map[string]*room),
		deactivated: make(map[string]bool),
		failures:    make(map[string][]string),
		counts:      make(map[string]int),
	}
	server.httpServer = httptest.NewServer(server.routes())
	parsed, err := url.Parse(server.httpServer.URL)
	if err != nil {
		t.Fatalf("relaytest: parsing server URL: %v", err)
	}
	server.name = parsed.Host
	t.Cleanup(server.Close)
	return server
}

// Name is the relay server name ("127.0.0.1:<port>"), the value used
// in routing identities and relay selection.
func (s *Server) Name() string { return s.name }

// URL is the base URL ("http://127.0.0.1:<port>").
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts the relay down. Idempotent.
func (s *Server) Close() {
	s.httpServer.CloseClientConnections()
	s.httpServer.Close()
}

// Deactivate makes every further login of localpart fail with
// M_USER_DEACTIVATED.
func (s *Server) Deactivate(localpart string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated[localpart] = true
}

// FailNext makes the next len(codes) requests to endpoint fail with
// the given error codes, in order. M_FORBIDDEN and M_USER_DEACTIVATED
// are returned as 403, anything else as 500.
func (s *Server) FailNext(endpoint string, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], codes...)
}

// Count returns how many requests endpoint has received.
func (s *Server) Count(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[endpoint]
}

// LastLoginUser returns the user of the most recent successful login.
func (s *Server) LastLoginUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLoginUser
}

// Members returns the joined members of a room.
func (s *Server) Members(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	var members []string
	for member, membership := range current.membership {
		if membership == "join" {
			members = append(members, member)
		}
	}
	return members
}

// Messages returns the bodies of the text messages sent to a room.
func (s *Server) Messages(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	bodies := make([]string, 0, len(current.messages))
	for _, event := range current.messages {
		bodies = append(bodies, event.ContentString("body"))
	}
	return bodies
}

// RoomCount returns the number of rooms created on the relay.
func (s *Server) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	prefix := messaging.ClientAPIPrefix
	mux.HandleFunc("GET "+messaging.BeaconInfoPath, s.handleInfo)
	mux.HandleFunc("POST "+prefix+"/login", s.handleLogin)
	mux.HandleFunc("GET "+prefix+"/sync", s.authenticated(EndpointSync, s.handleSync))
	mux.HandleFunc("POST "+prefix+"/createRoom", s.authenticated(EndpointCreate, s.handleCreateRoom))
	mux.HandleFunc("POST "+prefix+"/rooms/{roomID}/invite", s.authenticated(EndpointInvite, s.handleInvite))
	mux.HandleFunc("POST "+prefix+"/rooms/{roomID}/join", s.authenticated(EndpointJoin, s.handleJoin))
	mux.HandleFunc("PUT "+prefix+"/rooms/{roomID}/send/{eventType}/{txnID}", s.authenticated(EndpointSend, s.handleSend))
	return mux
}

// takeFailure counts the request and pops an injected failure.
// Caller holds s.mu.
func (s *Server) takeFailureLocked(endpoint string) string {
	s.counts[endpoint]++
	queue := s.failures[endpoint]
	if len(queue) == 0 {
		return ""
	}
	s.failures[endpoint] = queue[1:]
	return queue[0]
}

func (s *Server) handleInfo(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	failure := s.takeFailureLocked(EndpointInfo)
	s.mu.Unlock()
	if failure != "" {
		writeError(writer, failure, "injected failure")
		return
	}
	if s.options.InfoDelay > 0 {
		select {
		case <-time.After(s.options.InfoDelay):
		case <-request.Context().Done():
			return
		}
	}
	now := s.options.Now()
	writeJSON(writer, messaging.BeaconInfo{
		Region:       s.options.Region,
		KnownServers: s.options.KnownServers,
		Timestamp:    float64(now.UnixMilli()) / 1000,
	})
}

func (s *Server) handleLogin(writer http.ResponseWriter, request *http.Request) {
	var body messaging.LoginRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, messaging.ErrCodeInvalidParam, "malformed login body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if failure := s.takeFailureLocked(EndpointLogin); failure != "" {
		writeError(writer, failure, "injected failure")
		return
	}
	if body.Type != messaging.LoginTypePassword || body.Identifier.Type != messaging.IdentifierTypeUser {
		writeError(writer, messaging.ErrCodeUnknown, "unsupported login type")
		return
	}
	if s.deactivated[body.Identifier.User] {
		writeError(writer, messaging.ErrCodeUserDeactivated, "This account has been deactivated")
		return
	}
	if err := verifyPassword(body.Identifier.User, body.Password, s.options.Now()); err != nil {
		writeError(writer, messaging.ErrCodeForbidden, err.Error())
		return
	}

	userID := "@" + body.Identifier.User + ":" + s.name
	if _, ok := s.users[userID]; !ok {
		s.users[userID] = &user{id: userID}
	}
	s.nextToken++
	token := "syt_" + strconv.Itoa(s.nextToken)
	s.tokens[token] = userID
	s.lastLoginUser = body.Identifier.User

	writeJSON(writer, map[string]string{
		"user_id":      userID,
		"access_token": token,
		"device_id":    body.DeviceID,
	})
}

// verifyPassword checks "ed:<signature>:<public key>" against the
// current and previous login windows.
func verifyPassword(loginUser, password string, now time.Time) error {
	parts := strings.Split(password, ":")
	if len(parts) != 3 || parts[0] != "ed" {
		return fmt.Errorf("password is not an ed: signature")
	}
	signature, err := hex.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("signature is not hex")
	}
	publicKey, err := peercrypto.ParsePublicKey(parts[2])
	if err != nil {
		return err
	}
	if peercrypto.HexHash(publicKey) != loginUser {
		return fmt.Errorf("user does not match public key")
	}
	window := now.Unix() / 300
	for _, candidate := range []int64{window, window - 1} {
		digest := peercrypto.Hash([]byte("login:" + strconv.FormatInt(candidate, 10)))
		if ed25519.Verify(publicKey, digest[:], signature) {
			return nil
		}
	}
	return fmt.Errorf("invalid signature")
}

type authenticatedHandler func(writer http.ResponseWriter, request *http.Request, userID string)

func (s *Server) authenticated(endpoint string, handler authenticatedHandler) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		token := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		userID, ok := s.tokens[token]
		failure := s.takeFailureLocked(endpoint)
		s.mu.Unlock()
		if !ok {
			writeError(writer, messaging.ErrCodeUnknownToken, "unknown access token")
			return
		}
		if failure != "" {
			writeError(writer, failure, "injected failure")
			return
		}
		handler(writer, request, userID)
	}
}

func (s *Server) handleSync(writer http.ResponseWriter, request *http.Request, userID string) {
	query := request.URL.Query()
	since := 0
	if raw := query.Get("since"); raw != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(raw, "s"))
		if err != nil || parsed < 0 {
			writeError(writer, messaging.ErrCodeInvalidParam, "invalid since token")
			return
		}
		since = parsed
	}
	timeout := 0
	if raw := query.Get("timeout"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(writer, messaging.ErrCodeInvalidParam, "invalid timeout")
			return
		}
		timeout = parsed
	}
	deadline := time.After(time.Duration(timeout) * time.Millisecond)

	for {
		s.mu.Lock()
		stream := s.users[userID].stream
		changed := s.changed
		if since > len(stream) {
			since = len(stream)
		}
		if len(stream) > since || timeout == 0 {
			response := buildSyncResponse(stream[since:], len(stream))
			s.mu.Unlock()
			writeJSON(writer, response)
			return
		}
		s.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			writeJSON(writer, messaging.SyncResponse{NextBatch: "s" + strconv.Itoa(since)})
			return
		case <-request.Context().Done():
			return
		}
	}
}

func buildSyncResponse(entries []streamEntry, position int) messaging.SyncResponse {
	response := messaging.SyncResponse{NextBatch: "s" + strconv.Itoa(position)}
	for _, entry := range entries {
		roomID := ref.MustParseRoomID(entry.roomID)
		switch entry.section {
		case "join":
			if response.Rooms.Join == nil {
				response.Rooms.Join = make(map[ref.RoomID]messaging.JoinedRoom)
			}
			joined := response.Rooms.Join[roomID]
			joined.State.Events = append(joined.State.Events, entry.state...)
			joined.Timeline.Events = append(joined.Timeline.Events, entry.timeline...)
			response.Rooms.Join[roomID] = joined
		case "invite":
			if response.Rooms.Invite == nil {
				response.Rooms.Invite = make(map[ref.RoomID]messaging.InvitedRoom)
			}
			invited := response.Rooms.Invite[roomID]
			invited.InviteState.Events = append(invited.InviteState.Events, entry.state...)
			response.Rooms.Invite[roomID] = invited
		case "leave":
			if response.Rooms.Leave == nil {
				response.Rooms.Leave = make(map[ref.RoomID]messaging.LeftRoom)
			}
			left := response.Rooms.Leave[roomID]
			left.Timeline.Events = append(left.Timeline.Events, entry.timeline...)
			response.Rooms.Leave[roomID] = left
		}
	}
	// A room reports only its final membership within one batch.
	for roomID := range response.Rooms.Join {
		delete(response.Rooms.Invite, roomID)
	}
	return response
}

func (s *Server) handleCreateRoom(writer http.ResponseWriter, request *http.Request, userID string) {
	var body messaging.CreateRoomRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, messaging.ErrCodeInvalidParam, "malformed createRoom body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRoom++
	created := &room{
		id:         "!r" + strconv.Itoa(s.nextRoom) + ":" + s.name,
		membership: map[string]string{userID: "join"},
	}
	s.rooms[created.id] = created

	created.state = append(created.state,
		s.newEventLocked("m.room.create", userID, map[string]any{"creator": userID}, &userID),
		s.newEventLocked(messaging.EventTypeRoomMember, userID, map[string]any{"membership": "join"}, &userID),
	)
	s.appendEntryLocked(userID, streamEntry{roomID: created.id, section: "join", state: append([]messaging.Event(nil), created.state...)})

	for _, invitee := range body.Invite {
		s.inviteLocked(created, userID, invitee)
	}
	s.notifyLocked()

	writeJSON(writer, map[string]string{"room_id": created.id})
}

func (s *Server) handleInvite(writer http.ResponseWriter, request *http.Request, userID string) {
	var body messaging.InviteRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, messaging.ErrCodeInvalidParam, "malformed invite body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.rooms[request.PathValue("roomID")]
	if !ok || target.membership[userID] != "join" {
		writeError(writer, messaging.ErrCodeForbidden, "not a member of the room")
		return
	}
	s.inviteLocked(target, userID, body.UserID.String())
	s.notifyLocked()
	writeJSON(writer, struct{}{})
}

// inviteLocked records an invite and delivers the invite state (create
// and joined members) to the invitee. Caller holds s.mu.
func (s *Server) inviteLocked(target *room, inviter, invitee string) {
	if target.membership[invitee] == "join" {
		return
	}
	target.membership[invitee] = "invite"
	event := s.newEventLocked(messaging.EventTypeRoomMember, inviter, map[string]any{"membership": "invite"}, &invitee)
	target.state = append(target.state, event)
	s.broadcastLocked(target, streamEntry{roomID: target.id, section: "join", timeline: []messaging.Event{event}})

	if _, ok := s.users[invitee]; !ok {
		s.users[invitee] = &user{id: invitee}
	}
	s.appendEntryLocked(invitee, streamEntry{roomID: target.id, section: "invite", state: append([]messaging.Event(nil), target.state...)})
}

func (s *Server) handleJoin(writer http.ResponseWriter, request *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := request.PathValue("roomID")
	target, ok := s.rooms[roomID]
	if !ok {
		writeError(writer, messaging.ErrCodeNotFound, "unknown room")
		return
	}
	switch target.membership[userID] {
	case "join":
		writeJSON(writer, map[string]string{"room_id": roomID})
		return
	case "invite":
	default:
		writeError(writer, messaging.ErrCodeForbidden, "not invited to the room")
		return
	}

	target.membership[userID] = "join"
	event := s.newEventLocked(messaging.EventTypeRoomMember, userID, map[string]any{"membership": "join"}, &userID)
	target.state = append(target.state, event)
	s.broadcastLocked(target, streamEntry{roomID: roomID, section: "join", timeline: []messaging.Event{event}}, userID)
	s.appendEntryLocked(userID, streamEntry{
		roomID:   roomID,
		section:  "join",
		state:    append([]messaging.Event(nil), target.state...),
		timeline: append([]messaging.Event(nil), target.messages...),
	})
	s.notifyLocked()
	writeJSON(writer, map[string]string{"room_id": roomID})
}

func (s *Server) handleSend(writer http.ResponseWriter, request *http.Request, userID string) {
	var content messaging.MessageContent
	if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
		writeError(writer, messaging.ErrCodeInvalidParam, "malformed message body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.rooms[request.PathValue("roomID")]
	if !ok || target.membership[userID] != "join" {
		writeError(writer, messaging.ErrCodeForbidden, "not a member of the room")
		return
	}
	event := s.newEventLocked(request.PathValue("eventType"), userID, map[string]any{
		"msgtype": content.MsgType,
		"body":    content.Body,
	}, nil)
	target.messages = append(target.messages, event)
	s.broadcastLocked(target, streamEntry{roomID: target.id, section: "join", timeline: []messaging.Event{event}})
	s.notifyLocked()
	writeJSON(writer, map[string]string{"event_id": event.EventID.String()})
}

// broadcastLocked appends entry to the stream of every joined member
// except the excluded users. Caller holds s.mu.
func (s *Server) broadcastLocked(target *room, entry streamEntry, exclude ...string) {
	for member, membership := range target.membership {
		if membership != "join" || contains(exclude, member) {
			continue
		}
		s.appendEntryLocked(member, entry)
	}
}

func (s *Server) appendEntryLocked(userID string, entry streamEntry) {
	recipient, ok := s.users[userID]
	if !ok {
		recipient = &user{id: userID}
		s.users[userID] = recipient
	}
	recipient.stream = append(recipient.stream, entry)
}

// notifyLocked wakes every waiting long poll. Caller holds s.mu.
func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) newEventLocked(eventType, sender string, content map[string]any, stateKey *string) messaging.Event {
	s.nextEvent++
	event := messaging.Event{
		EventID:        ref.MustParseEventID("$e" + strconv.Itoa(s.nextEvent) + ":" + s.name),
		Type:           eventType,
		Sender:         ref.MustParseUserID(sender),
		OriginServerTS: s.options.Now().UnixMilli(),
		Content:        content,
	}
	if stateKey != nil {
		key := *stateKey
		event.StateKey = &key
	}
	return event
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func writeError(writer http.ResponseWriter, code, message string) {
	status := http.StatusInternalServerError
	switch code {
	case messaging.ErrCodeForbidden, messaging.ErrCodeUserDeactivated:
		status = http.StatusForbidden
	case messaging.ErrCodeUnknownToken:
		status = http.StatusUnauthorized
	case messaging.ErrCodeNotFound:
		status = http.StatusNotFound
	case messaging.ErrCodeInvalidParam:
		status = http.StatusBadRequest
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(messaging.MatrixError{Code: code, Message: message})
}
