// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// beacon-peer runs one side of a beacon pairing against the relay
// network.
//
// In dapp mode it prints a pairing request as JSON on stdout, waits for
// a wallet to answer it, sends a permission request and prints the
// response. In wallet mode it accepts the pairing request given with
// --pair (JSON, or - for stdin) and answers the requests of every
// paired dApp with its own key. Peers and the identity persist in the
// configured store, so later runs reuse them.
//
// Channel mode bypasses the relay rooms: it connects to the binary
// channel relay at channel.url and sends each stdin line to the key
// given with --to.
//
// Usage:
//
//	beacon-peer --mode dapp [--network mainnet]
//	beacon-peer --mode wallet [--pair '{"type":"p2p-pairing-request",...}']
//	beacon-peer --mode channel --to 02ab...
package main
