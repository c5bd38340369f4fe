// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wallet layers beacon request/response bookkeeping over a
// [transport.P2PTransport].
//
// [Client] is the wallet side. Every request it receives is
// acknowledged, recorded as pending, and handed to a [RequestHandler];
// by default [SignerHandler] answers it from a [Signer]. A response
// leaves the pending set when it is sent with [Client.Respond], so a
// handler may return nil and answer later (after user approval, for
// example).
//
// [DApp] is the requesting side: [DApp.Request] sends a request to a
// paired wallet and waits for the response with the same id.
//
// Messages are serialized per peer with the serializer matching the
// protocol version the peer advertised at pairing time.
package wallet
