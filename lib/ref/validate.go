// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parsePrefixedID extracts the local part and server from a relay
// identifier with the given sigil prefix ('@' for users, '!' for rooms).
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if identifier == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if identifier[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", kind, sigil, identifier)
	}
	colonIndex := strings.IndexByte(identifier[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, identifier)
	}
	if colonIndex == 0 {
		return "", "", fmt.Errorf("%s has empty local part: %q", kind, identifier)
	}
	localpart = identifier[1 : 1+colonIndex]
	server = identifier[1+colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", kind, identifier)
	}
	return localpart, server, nil
}
