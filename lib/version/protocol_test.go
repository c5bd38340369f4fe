// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: "", want: 1},
		{input: "2", want: 2},
		{input: Protocol, want: 3},
		{input: "0", wantErr: true},
		{input: "three", wantErr: true},
	}
	for _, test := range tests {
		got, err := ParseProtocol(test.input)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseProtocol(%q) succeeded, want error", test.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseProtocol(%q): %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseProtocol(%q) = %d, want %d", test.input, got, test.want)
		}
	}
}

func TestIsLegacyPairing(t *testing.T) {
	if !IsLegacyPairing("") {
		t.Error("empty version should be legacy")
	}
	if IsLegacyPairing(Protocol) {
		t.Error("current protocol should not be legacy")
	}
}

func TestInfoMentionsProtocol(t *testing.T) {
	if !strings.Contains(Info(), "protocol "+Protocol) {
		t.Errorf("Info() = %q, want protocol version", Info())
	}
}
