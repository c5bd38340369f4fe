// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/relaytest"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/lib/testutil"
	"github.com/bureau-foundation/beacon/protocol"
	"github.com/bureau-foundation/beacon/relay"
	"github.com/bureau-foundation/beacon/transport"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "default wallet", want: modeWallet},
		{name: "dapp", args: []string{"--mode", "dapp"}, want: modeDApp},
		{name: "channel with recipient", args: []string{"--mode", "channel", "--to", "02ab"}, want: modeChannel},
		{name: "channel without recipient", args: []string{"--mode", "channel"}, wantErr: true},
		{name: "unknown mode", args: []string{"--mode", "bridge"}, wantErr: true},
		{name: "pair outside wallet mode", args: []string{"--mode", "dapp", "--pair", "{}"}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts, err := parseFlags(test.args)
			if test.wantErr {
				if err == nil {
					t.Fatal("parseFlags succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			if opts.mode != test.want {
				t.Errorf("mode = %q, want %q", opts.mode, test.want)
			}
		})
	}
}

func TestReadPairingRequest(t *testing.T) {
	encoded := `{"id":"r1","type":"p2p-pairing-request","name":"dapp","version":"3","publicKey":"aa","relayServer":"relay.test"}`

	request, err := readPairingRequest(encoded, nil)
	if err != nil {
		t.Fatalf("readPairingRequest: %v", err)
	}
	if request.ID != "r1" || request.RelayServer != "relay.test" {
		t.Errorf("request = %+v", request)
	}

	request, err = readPairingRequest("-", strings.NewReader(encoded))
	if err != nil || request.Name != "dapp" {
		t.Errorf("from stdin: %+v, %v", request, err)
	}

	if _, err := readPairingRequest(`{"type":"p2p-pairing-response"}`, nil); err == nil {
		t.Error("readPairingRequest accepted a pairing response")
	}
}

func writeDirectory(t *testing.T, region relay.Region, nodes ...string) string {
	t.Helper()
	encoded, err := json.Marshal(nodes)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "relays.jsonc")
	content := "{\n  // test relay\n  \"regions\": {\"" + string(region) + "\": " + string(encoded) + "},\n}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDirectoryMergesOverrideFile(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.DirectoryFile = writeDirectory(t, relay.RegionEuropeWest, "relay.example.org")

	merged, err := directory(cfg)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	if nodes := merged.Regions[relay.RegionEuropeWest]; len(nodes) != 1 || nodes[0] != "relay.example.org" {
		t.Errorf("europe-west = %v", nodes)
	}
	if len(merged.Regions[relay.RegionNorthAmericaEast]) == 0 {
		t.Error("override file removed an untouched region")
	}
}

func TestOpenStorePersists(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "store.bin")
	cfg.Storage.Compression = "lz4"

	store, err := openStore(cfg, &peerEnvironment{})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if err := store.Set(ctx, storage.KeySeed, "seed"); err != nil {
		t.Fatal(err)
	}

	reopened, err := openStore(cfg, &peerEnvironment{})
	if err != nil {
		t.Fatal(err)
	}
	var seed string
	if found, err := reopened.Get(ctx, storage.KeySeed, &seed); err != nil || !found || seed != "seed" {
		t.Errorf("reopened seed = %q, %v, %v", seed, found, err)
	}
}

// peerConfig points a peer at server through a directory file pinned
// to one region.
func peerConfig(t *testing.T, server *relaytest.Server, name string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.App.Name = name
	cfg.Storage.Path = ""
	cfg.Relay.Scheme = "http"
	cfg.Relay.Region = string(relay.RegionEuropeWest)
	cfg.Relay.DirectoryFile = writeDirectory(t, relay.RegionEuropeWest, server.Name())
	return cfg
}

func TestDAppAndWalletModes(t *testing.T) {
	server := relaytest.New(t, relaytest.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dappEnv, err := openPeer(ctx, peerConfig(t, server, "dapp"), logger)
	if err != nil {
		t.Fatalf("openPeer dapp: %v", err)
	}
	defer dappEnv.Close()
	walletEnv, err := openPeer(ctx, peerConfig(t, server, "wallet"), logger)
	if err != nil {
		t.Fatalf("openPeer wallet: %v", err)
	}
	defer walletEnv.Close()

	dappCtx, stopDApp := context.WithCancel(ctx)
	defer stopDApp()
	reader, writer := io.Pipe()
	dappDone := make(chan error, 1)
	go func() {
		dappDone <- runDApp(dappCtx, dappEnv, options{network: "ghostnet"}, writer, logger)
		writer.Close()
	}()

	decoder := json.NewDecoder(reader)
	var request transport.PairingRequest
	if err := decoder.Decode(&request); err != nil {
		t.Fatalf("decoding pairing request: %v", err)
	}
	if request.RelayServer != server.Name() || request.Name != "dapp" {
		t.Errorf("pairing request = %+v", request)
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}

	walletCtx, stopWallet := context.WithCancel(ctx)
	defer stopWallet()
	walletDone := make(chan error, 1)
	go func() {
		walletDone <- runWallet(walletCtx, walletEnv, options{pair: string(encoded)}, nil, logger)
	}()

	var response protocol.PermissionResponse
	if err := decoder.Decode(&response); err != nil {
		t.Fatalf("decoding permission response: %v", err)
	}
	if response.Type != protocol.TypePermissionResponse {
		t.Fatalf("response type = %q", response.Type)
	}
	if response.PublicKey != walletEnv.transport.Identity.KeyPair().PublicKeyHex() {
		t.Errorf("response public key = %q", response.PublicKey)
	}
	if string(response.Network) != `{"type":"ghostnet"}` {
		t.Errorf("response network = %s", response.Network)
	}

	stopDApp()
	stopWallet()
	if err := testutil.RequireReceive(t, dappDone, 15*time.Second, "dapp mode exit"); err != nil {
		t.Errorf("runDApp: %v", err)
	}
	if err := testutil.RequireReceive(t, walletDone, 15*time.Second, "wallet mode exit"); err != nil {
		t.Errorf("runWallet: %v", err)
	}
}
