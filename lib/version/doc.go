// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build information for the beacon binaries
// and the beacon protocol version this module speaks.
//
// Four variables are injected at build time via -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string
//
// [Protocol] is the version advertised in pairing requests and
// responses. [ParseProtocol] interprets a peer's advertised version;
// an empty version marks a legacy v1 peer.
package version
