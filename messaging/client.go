// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/beacon/lib/netutil"
	"github.com/bureau-foundation/beacon/lib/ref"
	"github.com/bureau-foundation/beacon/lib/secret"
)

// ClientAPIPrefix is the path prefix of every client-server endpoint.
const ClientAPIPrefix = "/_matrix/client/r0"

// BeaconInfoPath is the relay metadata endpoint.
const BeaconInfoPath = "/_synapse/client/beacon/info"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the relay server (e.g.,
	// "https://beacon-node-1.diamond.papers.tech").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated client bound to one relay server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated relay client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}

	// Request URLs are built by concatenation; room IDs are escaped
	// per segment with url.PathEscape.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the server URL this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// BeaconInfo fetches the relay's region, known servers, and clock.
// Unauthenticated; relay selection uses it as a latency probe.
func (c *Client) BeaconInfo(ctx context.Context) (*BeaconInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, BeaconInfoPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: beacon info failed: %w", err)
	}

	var response BeaconInfo
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse beacon info response: %w", err)
	}
	return &response, nil
}

// Login authenticates with the password scheme and returns a
// DirectSession. The password Buffer is read but not closed; the
// caller retains ownership.
func (c *Client) Login(ctx context.Context, user string, password *secret.Buffer, deviceID string) (*DirectSession, error) {
	if user == "" {
		return nil, fmt.Errorf("messaging: user is required for login")
	}
	if password == nil {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	// Password is converted to string at the JSON serialization boundary.
	loginRequest := LoginRequest{
		Type:       LoginTypePassword,
		Identifier: UserIdentifier{Type: IdentifierTypeUser, User: user},
		Password:   password.String(),
		DeviceID:   deviceID,
	}

	body, err := c.doRequest(ctx, http.MethodPost, ClientAPIPrefix+"/login", nil, loginRequest)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in to relay",
		"server", c.baseURL,
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)

	return c.sessionFromAuth(&authResponse)
}

// SessionFromToken creates a DirectSession from an existing access token.
// The token is moved into mmap-backed memory. This does NOT validate
// the token; the first API call will fail if it is invalid.
//
// The caller must call Close on the returned DirectSession when done.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken string) (*DirectSession, error) {
	tokenBuffer, err := secret.NewFromBytes([]byte(accessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return &DirectSession{
		client:      c,
		accessToken: tokenBuffer,
		userID:      userID,
	}, nil
}

func (c *Client) sessionFromAuth(auth *AuthResponse) (*DirectSession, error) {
	if auth.AccessToken == "" {
		return nil, fmt.Errorf("messaging: login response has no access token")
	}
	tokenBuffer, err := secret.NewFromBytes([]byte(auth.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return &DirectSession{
		client:      c,
		accessToken: tokenBuffer,
		userID:      auth.UserID,
		deviceID:    auth.DeviceID,
	}, nil
}

// doRequest performs an HTTP request to the relay and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns a *MatrixError.
// accessToken may be nil for unauthenticated endpoints.
// query may be nil for endpoints without query parameters.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && query[0] != nil {
		requestURL += "?" + query[0].Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return nil, &matrixErr
}
