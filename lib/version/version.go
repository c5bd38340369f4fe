// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/beacon/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s, protocol %s)", Version, GitCommit, dirty, BuildTime, Protocol)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
