// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP and connection helpers shared by the
// relay client and the binary channel transport.
//
// Response helpers bound body reads at MaxResponseSize so that a
// misbehaving relay cannot exhaust memory with an oversized /sync or
// /info body. Connection helpers classify errors that occur during
// normal teardown.
package netutil

import "io"

// MaxResponseSize bounds JSON API response reads: 32 MB. A full initial
// /sync for a peer with many rooms stays well below this.
const MaxResponseSize int64 = 32 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
