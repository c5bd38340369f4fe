// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the beacon messages exchanged between a
// paired dApp and wallet once a transport channel exists.
//
// Every message shares the [Envelope] fields id, type, version and
// senderId. Blockchain-specific content (networks, operation details,
// app metadata) is carried as raw JSON and never interpreted here.
// [Message] is a closed set of variants; [Parse] selects the variant
// from the "type" field.
//
// A [Serializer] converts messages to the text the transport
// encrypts. Protocol v1 peers exchange base58check-encoded JSON; v2
// and later exchange plain JSON.
package protocol
