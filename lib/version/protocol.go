// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"strconv"
)

// Protocol is the beacon protocol version this module advertises.
const Protocol = "3"

// JSONSerializerSince is the first protocol version that exchanges
// plain JSON messages. Earlier peers use base58check-wrapped JSON.
const JSONSerializerSince = 2

// ParseProtocol returns the numeric protocol version a peer advertised.
// An empty string is a legacy v1 peer that predates the version field.
func ParseProtocol(advertised string) (int, error) {
	if advertised == "" {
		return 1, nil
	}
	parsed, err := strconv.Atoi(advertised)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("version: invalid protocol version %q", advertised)
	}
	return parsed, nil
}

// IsLegacyPairing reports whether a pairing request with this version
// expects the bare-public-key pairing response of protocol v1.
func IsLegacyPairing(advertised string) bool {
	return advertised == ""
}
