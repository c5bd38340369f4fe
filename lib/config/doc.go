// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the beacon
// binaries.
//
// Configuration is loaded from a single file named by either the
// BEACON_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic discovery.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when the selected
// environment matches. The environment comes from the file's
// `environment` field unless BEACON_ENV is set.
//
// ${HOME} and ${VAR:-default} patterns are expanded in path fields
// after loading.
//
// [Config.Logger] builds the slog handler for a binary: text when
// stderr is a terminal, JSON otherwise, unless log_format says
// otherwise.
package config
