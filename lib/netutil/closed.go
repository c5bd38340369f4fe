// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, a closed connection, a broken pipe, a connection
// reset, or a websocket close frame with a normal or going-away code.
// Read loops use it to decide between a debug log and a warning.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
