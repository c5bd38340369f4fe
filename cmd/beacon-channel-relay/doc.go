// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// beacon-channel-relay serves the binary channel protocol over
// WebSocket. Clients connect, prove possession of a P-256 key together
// with a proof of work against the configured difficulty, and then
// exchange payload frames addressed by 16-byte key hashes.
//
// Usage:
//
//	beacon-channel-relay [--config beacon.yaml] [--listen 127.0.0.1:8090] [--difficulty HEX]
//
// Listen address and difficulty default to channel.listen_address and
// channel.difficulty from the config file.
package main
