// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Storage.Compression != "zstd" {
		t.Errorf("expected compression=zstd, got %s", cfg.Storage.Compression)
	}
	if cfg.Relay.Scheme != "https" {
		t.Errorf("expected scheme=https, got %s", cfg.Relay.Scheme)
	}
	timeout, err := cfg.ConnectTimeout()
	if err != nil || timeout != 15*time.Second {
		t.Errorf("ConnectTimeout = %v, %v; want 15s", timeout, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresBeaconConfig(t *testing.T) {
	t.Setenv("BEACON_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BEACON_CONFIG not set")
	}
	if !strings.HasPrefix(err.Error(), "BEACON_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithBeaconConfig(t *testing.T) {
	path := writeConfig(t, `
environment: staging
app:
  name: Example dApp
  app_url: https://dapp.example
storage:
  path: /tmp/beacon-test/store.bin
  compression: lz4
`)
	t.Setenv("BEACON_CONFIG", path)
	t.Setenv("BEACON_ENV", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("environment = %s, want staging", cfg.Environment)
	}
	if cfg.App.Name != "Example dApp" || cfg.App.AppURL != "https://dapp.example" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Storage.Compression != "lz4" {
		t.Errorf("compression = %s, want lz4", cfg.Storage.Compression)
	}
	if cfg.Relay.Scheme != "https" {
		t.Errorf("unset fields should keep defaults, scheme = %s", cfg.Relay.Scheme)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: development
relay:
  scheme: https
development:
  log_level: debug
  relay:
    scheme: http
  channel:
    connect_timeout: 2s
production:
  relay:
    directory_file: /etc/beacon/relays.jsonc
    region: europe-west
`)
	t.Setenv("BEACON_ENV", "")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Relay.Scheme != "http" {
		t.Errorf("scheme = %s, want development override http", cfg.Relay.Scheme)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %s, want debug", cfg.LogLevel)
	}
	if cfg.Relay.DirectoryFile != "" {
		t.Errorf("production override leaked into development: %s", cfg.Relay.DirectoryFile)
	}

	t.Setenv("BEACON_ENV", "production")
	cfg, err = LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Relay.DirectoryFile != "/etc/beacon/relays.jsonc" {
		t.Errorf("directory_file = %q, want production override", cfg.Relay.DirectoryFile)
	}
	if cfg.Relay.Region != "europe-west" {
		t.Errorf("region = %q, want production override", cfg.Relay.Region)
	}
	if cfg.Relay.Scheme != "https" {
		t.Errorf("scheme = %s, want https in production", cfg.Relay.Scheme)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/peer")
	t.Setenv("BEACON_ENV", "")
	path := writeConfig(t, `
storage:
  path: ${HOME}/beacon/store.bin
  age_identity_file: ${BEACON_KEYS:-/etc/beacon}/identity.txt
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Storage.Path != "/home/peer/beacon/store.bin" {
		t.Errorf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Storage.AgeIdentityFile != "/etc/beacon/identity.txt" {
		t.Errorf("storage.age_identity_file = %q", cfg.Storage.AgeIdentityFile)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Environment = "moon"
	cfg.Storage.Compression = "brotli"
	cfg.Relay.Scheme = "ftp"
	cfg.LogFormat = "xml"
	cfg.Channel.ConnectTimeout = "soon"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"invalid environment", "storage.compression", "relay.scheme", "log_format", "connect_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q: %v", want, err)
		}
	}
}

func TestLoggerHonorsFormat(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "debug"
	logger := cfg.Logger()
	if logger == nil {
		t.Fatal("Logger returned nil")
	}
	if !logger.Enabled(t.Context(), -4) {
		t.Error("debug level should be enabled")
	}
}

func TestResolve(t *testing.T) {
	path := writeConfig(t, "app:\n  name: from-file\n")

	t.Setenv("BEACON_CONFIG", "")
	t.Setenv("BEACON_ENV", "")
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve without a file: %v", err)
	}
	if cfg.App.Name != "beacon-peer" {
		t.Errorf("app.name = %q, want the default", cfg.App.Name)
	}

	t.Setenv("BEACON_CONFIG", path)
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve from BEACON_CONFIG: %v", err)
	}
	if cfg.App.Name != "from-file" {
		t.Errorf("app.name = %q, want from-file", cfg.App.Name)
	}

	t.Setenv("BEACON_CONFIG", "")
	t.Setenv("BEACON_ENV", "production")
	cfg, err = Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Environment != Production || cfg.LogLevel != "warn" {
		t.Errorf("production defaults = %s/%s, want production/warn", cfg.Environment, cfg.LogLevel)
	}

	if _, err := Resolve(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Resolve accepted a missing explicit path")
	}
}
