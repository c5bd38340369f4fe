// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the relay network's HTTP API: the Matrix
// client-server r0 endpoints the beacon relays expose, plus the beacon
// info endpoint used for relay selection and login timestamps.
//
// [Client] is unauthenticated and bound to one relay server. It probes
// the server ([Client.BeaconInfo]) and logs in with the signed
// "ed:" password scheme, returning a [DirectSession]. The session
// carries the access token in an mmap-backed secret.Buffer and exposes
// the operations the transport needs: long-poll sync, room creation,
// invites, joins, and text messages.
//
// All API errors are returned as [*MatrixError] with the relay's error
// code and HTTP status. [IsMatrixError] tests for a specific code; the
// transport reacts to [ErrCodeForbidden] and [ErrCodeUserDeactivated].
package messaging
