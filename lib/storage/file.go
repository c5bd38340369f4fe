// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/beacon/lib/codec"
	"github.com/bureau-foundation/beacon/lib/sealed"
	"github.com/bureau-foundation/beacon/lib/secret"
)

// fileFormatVersion is the envelope version written by this package.
const fileFormatVersion = 1

// digestKey is the BLAKE3 key for the payload digest: the ASCII
// domain name zero-padded to 32 bytes.
var digestKey = [32]byte{
	'b', 'e', 'a', 'c', 'o', 'n', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
	'f', 'i', 'l', 'e',
}

// FileOptions configures a file-backed store.
type FileOptions struct {
	// Compression applied to the encoded map on every write.
	Compression Compression

	// Identity, when non-nil, is an age private key. The file is
	// sealed to its recipient on write and opened with it on load.
	// The caller keeps ownership of the buffer.
	Identity *secret.Buffer
}

// fileEnvelope is the on-disk framing of the store, before optional
// age sealing.
type fileEnvelope struct {
	Version     int         `cbor:"1,keyasint"`
	Compression Compression `cbor:"2,keyasint"`
	Size        int         `cbor:"3,keyasint"`
	Digest      []byte      `cbor:"4,keyasint"`
	Payload     []byte      `cbor:"5,keyasint"`
}

// File is a Storage persisted to a single file. Reads are served from
// memory; every Set or Delete rewrites the file before returning.
type File struct {
	path      string
	options   FileOptions
	recipient string

	mu     sync.Mutex
	values map[Key]codec.RawMessage
}

// OpenFile loads the store at path, or starts an empty one if the file
// does not exist yet. The parent directory is created on first write.
func OpenFile(path string, options FileOptions) (*File, error) {
	store := &File{
		path:    path,
		options: options,
		values:  make(map[Key]codec.RawMessage),
	}
	if options.Identity != nil {
		recipient, err := sealed.RecipientOf(options.Identity)
		if err != nil {
			return nil, fmt.Errorf("storage: deriving age recipient: %w", err)
		}
		store.recipient = recipient
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading %s: %w", path, err)
	}
	if err := store.load(data); err != nil {
		return nil, fmt.Errorf("storage: loading %s: %w", path, err)
	}
	return store, nil
}

func (f *File) load(data []byte) error {
	if f.options.Identity != nil {
		opened, err := sealed.Open(data, f.options.Identity)
		if err != nil {
			return err
		}
		data = opened
	}

	var envelope fileEnvelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if envelope.Version != fileFormatVersion {
		return fmt.Errorf("unsupported format version %d", envelope.Version)
	}

	payload, err := decompress(envelope.Payload, envelope.Compression, envelope.Size)
	if err != nil {
		return err
	}
	digest := payloadDigest(payload)
	if !bytes.Equal(digest, envelope.Digest) {
		return fmt.Errorf("digest mismatch: file is corrupt")
	}

	values := make(map[Key]codec.RawMessage)
	if err := codec.Unmarshal(payload, &values); err != nil {
		return fmt.Errorf("decoding values: %w", err)
	}
	f.values = values
	return nil
}

func (f *File) Get(ctx context.Context, key Key, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	encoded, ok := f.values[key]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := codec.Unmarshal(encoded, out); err != nil {
		return true, fmt.Errorf("storage: decoding %s: %w", key, err)
	}
	return true, nil
}

func (f *File) Set(ctx context.Context, key Key, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encoding %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	previous, existed := f.values[key]
	f.values[key] = encoded
	if err := f.flushLocked(); err != nil {
		if existed {
			f.values[key] = previous
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *File) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	previous, existed := f.values[key]
	if !existed {
		return nil
	}
	delete(f.values, key)
	if err := f.flushLocked(); err != nil {
		f.values[key] = previous
		return err
	}
	return nil
}

// flushLocked writes the whole map to a temporary file in the target
// directory and renames it over the store. Caller holds f.mu.
func (f *File) flushLocked() error {
	payload, err := codec.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("storage: encoding values: %w", err)
	}
	compressed, used, err := compress(payload, f.options.Compression)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(fileEnvelope{
		Version:     fileFormatVersion,
		Compression: used,
		Size:        len(payload),
		Digest:      payloadDigest(payload),
		Payload:     compressed,
	})
	if err != nil {
		return fmt.Errorf("storage: encoding envelope: %w", err)
	}
	if f.recipient != "" {
		data, err = sealed.Seal(data, f.recipient)
		if err != nil {
			return fmt.Errorf("storage: sealing: %w", err)
		}
	}

	directory := filepath.Dir(f.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("storage: creating %s: %w", directory, err)
	}
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("storage: writing %s: %w", temporaryPath, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("storage: syncing %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("storage: closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, f.path); err != nil {
		return fmt.Errorf("storage: replacing %s: %w", f.path, err)
	}
	return nil
}

func payloadDigest(payload []byte) []byte {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("storage: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	return hasher.Sum(nil)
}
