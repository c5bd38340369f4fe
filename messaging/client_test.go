// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/secret"
)

func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestNewClient(t *testing.T) {
	t.Run("requires URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty HomeserverURL")
		}
	})

	t.Run("strips trailing slash", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "https://beacon-node-1.example.com/"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client.BaseURL() != "https://beacon-node-1.example.com" {
			t.Errorf("unexpected base URL: %s", client.BaseURL())
		}
	})
}

func TestBeaconInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != BeaconInfoPath {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if request.Header.Get("Authorization") != "" {
			t.Error("info endpoint must be unauthenticated")
		}
		writeJSON(writer, map[string]any{
			"region":        "europe-west",
			"known_servers": []string{"beacon-node-1.example.com"},
			"timestamp":     1800000000.25,
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	info, err := client.BeaconInfo(context.Background())
	if err != nil {
		t.Fatalf("BeaconInfo failed: %v", err)
	}
	if info.Region != "europe-west" || len(info.KnownServers) != 1 || info.Timestamp != 1800000000.25 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != ClientAPIPrefix+"/login" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			if request.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", request.Method)
			}

			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			if body.Type != "m.login.password" {
				t.Errorf("unexpected login type: %s", body.Type)
			}
			if body.Identifier.Type != "m.id.user" || body.Identifier.User != "abc123" {
				t.Errorf("unexpected identifier: %+v", body.Identifier)
			}
			if body.Password != "ed:sig:pk" {
				t.Errorf("unexpected password: %s", body.Password)
			}
			if body.DeviceID != "pk" {
				t.Errorf("unexpected device id: %s", body.DeviceID)
			}

			writeJSON(writer, AuthResponse{
				UserID:      ref.MustParseUserID("@abc123:relay.local"),
				AccessToken: "syt_token",
				DeviceID:    "pk",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		session, err := client.Login(context.Background(), "abc123", testBuffer(t, "ed:sig:pk"), "pk")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		defer session.Close()

		if session.UserID().String() != "@abc123:relay.local" {
			t.Errorf("unexpected user ID: %s", session.UserID())
		}
		if session.DeviceID() != "pk" {
			t.Errorf("unexpected device ID: %s", session.DeviceID())
		}
	})

	t.Run("deactivated account", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(MatrixError{
				Code:    ErrCodeUserDeactivated,
				Message: "This account has been deactivated",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		_, err = client.Login(context.Background(), "abc123", testBuffer(t, "ed:sig:pk"), "pk")
		if !IsMatrixError(err, ErrCodeUserDeactivated) {
			t.Fatalf("expected M_USER_DEACTIVATED, got: %v", err)
		}
		if IsMatrixError(err, ErrCodeForbidden) {
			t.Error("deactivation must not match M_FORBIDDEN")
		}
	})

	t.Run("non-JSON error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusBadGateway)
			writer.Write([]byte("upstream unavailable"))
		}))
		defer server.Close()

		client, _ := NewClient(ClientConfig{HomeserverURL: server.URL})
		_, err := client.Login(context.Background(), "abc123", testBuffer(t, "password"), "pk")
		if err == nil {
			t.Fatal("expected error")
		}
		if IsMatrixError(err, ErrCodeUnknown) {
			t.Error("a non-JSON body must not produce a MatrixError")
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		client, _ := NewClient(ClientConfig{HomeserverURL: "http://localhost:1"})
		if _, err := client.Login(context.Background(), "", testBuffer(t, "password"), "pk"); err == nil {
			t.Fatal("expected error for empty user")
		}
		if _, err := client.Login(context.Background(), "abc", nil, "pk"); err == nil {
			t.Fatal("expected error for nil password")
		}
	})
}

func TestSessionFromToken(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken(ref.MustParseUserID("@alice:relay.local"), "syt_token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if session.UserID().Server() != "relay.local" {
		t.Errorf("unexpected server: %s", session.UserID().Server())
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
