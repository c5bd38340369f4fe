// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// ReadFromPath reads a secret file (for example an age identity) into
// a Buffer. Surrounding whitespace is trimmed. The caller must close
// the returned buffer.
func ReadFromPath(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: reading %s: %w", path, err)
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", path)
	}
	return NewFromBytes(trimmed)
}
