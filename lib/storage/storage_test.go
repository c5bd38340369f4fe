// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/beacon/lib/codec"
	"github.com/bureau-foundation/beacon/lib/sealed"
)

type peerRecord struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
}

func exerciseStorage(t *testing.T, store Storage) {
	t.Helper()
	ctx := context.Background()

	var missing string
	found, err := store.Get(ctx, KeySeed, &missing)
	if err != nil || found {
		t.Fatalf("Get on empty store = %v, %v; want false, nil", found, err)
	}

	if err := store.Set(ctx, KeySeed, "seed-value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	peers := []peerRecord{{Name: "wallet", PublicKey: "aa"}, {Name: "dapp", PublicKey: "bb"}}
	if err := store.Set(ctx, KeyWalletPeers, peers); err != nil {
		t.Fatalf("Set peers: %v", err)
	}

	var seed string
	found, err = store.Get(ctx, KeySeed, &seed)
	if err != nil || !found || seed != "seed-value" {
		t.Fatalf("Get seed = %q, %v, %v", seed, found, err)
	}
	var loaded []peerRecord
	if _, err := store.Get(ctx, KeyWalletPeers, &loaded); err != nil {
		t.Fatalf("Get peers: %v", err)
	}
	if len(loaded) != 2 || loaded[1].PublicKey != "bb" {
		t.Fatalf("peers = %+v", loaded)
	}

	if err := store.Delete(ctx, KeySeed); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, KeySeed); err != nil {
		t.Fatalf("Delete of missing key should succeed: %v", err)
	}
	found, _ = store.Get(ctx, KeySeed, &seed)
	if found {
		t.Fatal("seed still present after Delete")
	}
}

func TestMemory(t *testing.T) {
	exerciseStorage(t, NewMemory())
}

func TestMemoryCancelledContext(t *testing.T) {
	store := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Set(ctx, KeySeed, "x"); err == nil {
		t.Fatal("Set with cancelled context should fail")
	}
	if store.Has(KeySeed) {
		t.Fatal("cancelled Set must not store")
	}
}

func TestFileReopen(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "store.bin")
			store, err := OpenFile(path, FileOptions{Compression: compression})
			if err != nil {
				t.Fatalf("OpenFile: %v", err)
			}
			exerciseStorage(t, store)

			ctx := context.Background()
			rooms := map[string]string{"@abc:relay.example": "!room:relay.example"}
			if err := store.Set(ctx, KeyPeerRoomIDs, rooms); err != nil {
				t.Fatalf("Set: %v", err)
			}

			reopened, err := OpenFile(path, FileOptions{Compression: compression})
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			var loaded map[string]string
			found, err := reopened.Get(ctx, KeyPeerRoomIDs, &loaded)
			if err != nil || !found {
				t.Fatalf("Get after reopen = %v, %v", found, err)
			}
			if loaded["@abc:relay.example"] != "!room:relay.example" {
				t.Fatalf("rooms = %v", loaded)
			}
			var peers []peerRecord
			if _, err := reopened.Get(ctx, KeyWalletPeers, &peers); err != nil || len(peers) != 2 {
				t.Fatalf("peers after reopen = %v, %v", peers, err)
			}
		})
	}
}

func TestFileCompressesRepetitiveState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")
	store, err := OpenFile(path, FileOptions{Compression: CompressionLZ4})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := store.Set(context.Background(), KeyPreservedState, strings.Repeat("sync-token-", 500)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var envelope fileEnvelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.Compression != CompressionLZ4 {
		t.Errorf("compression = %s, want lz4", envelope.Compression)
	}
	if len(envelope.Payload) >= envelope.Size {
		t.Errorf("payload %d bytes not smaller than %d", len(envelope.Payload), envelope.Size)
	}
}

func TestFileDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")
	store, err := OpenFile(path, FileOptions{Compression: CompressionNone})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := store.Set(context.Background(), KeySelectedRelay, "beacon-node-1.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	index := strings.Index(string(data), "beacon-node-1")
	if index < 0 {
		t.Fatal("uncompressed value not found in file")
	}
	data[index] = 'X'
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = OpenFile(path, FileOptions{Compression: CompressionNone})
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("OpenFile on corrupt file = %v, want digest mismatch", err)
	}
}

func TestFileSealedWithAge(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	path := filepath.Join(t.TempDir(), "store.bin")
	store, err := OpenFile(path, FileOptions{Compression: CompressionZstd, Identity: keypair.PrivateKey})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := store.Set(context.Background(), KeySeed, "very-secret-seed"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(data), "age-encryption.org/v1") {
		t.Fatalf("sealed file does not carry the age header: %q", data[:20])
	}

	if _, err := OpenFile(path, FileOptions{}); err == nil {
		t.Fatal("opening a sealed store without the identity should fail")
	}

	reopened, err := OpenFile(path, FileOptions{Compression: CompressionZstd, Identity: keypair.PrivateKey})
	if err != nil {
		t.Fatalf("reopen with identity: %v", err)
	}
	var seed string
	if found, err := reopened.Get(context.Background(), KeySeed, &seed); err != nil || !found || seed != "very-secret-seed" {
		t.Fatalf("Get = %q, %v, %v", seed, found, err)
	}
}

func TestParseCompression(t *testing.T) {
	cases := map[string]Compression{"": CompressionZstd, "zstd": CompressionZstd, "lz4": CompressionLZ4, "none": CompressionNone}
	for name, want := range cases {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("ParseCompression(brotli) should fail")
	}
}
