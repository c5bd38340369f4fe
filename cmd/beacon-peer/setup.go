// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/peercrypto"
	"github.com/bureau-foundation/beacon/lib/secret"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/relay"
	"github.com/bureau-foundation/beacon/relayclient"
	"github.com/bureau-foundation/beacon/transport"
)

// peerEnvironment holds what a transport needs and what must be
// released after it.
type peerEnvironment struct {
	transport transport.Config
	closers   []func() error
}

func (e *peerEnvironment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// openStore opens the configured store. An empty path keeps state in
// memory, which makes every run a fresh identity.
func openStore(cfg *config.Config, env *peerEnvironment) (storage.Storage, error) {
	if cfg.Storage.Path == "" {
		return storage.NewMemory(), nil
	}
	compression, err := storage.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	options := storage.FileOptions{Compression: compression}
	if cfg.Storage.AgeIdentityFile != "" {
		identity, err := secret.ReadFromPath(cfg.Storage.AgeIdentityFile)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, identity.Close)
		options.Identity = identity
	}
	return storage.OpenFile(cfg.Storage.Path, options)
}

// directory returns the built-in relay directory merged with the
// configured override file.
func directory(cfg *config.Config) (relay.Directory, error) {
	base := relay.DefaultDirectory()
	if cfg.Relay.DirectoryFile == "" {
		return base, nil
	}
	overrides, err := relay.LoadDirectoryFile(cfg.Relay.DirectoryFile)
	if err != nil {
		return relay.Directory{}, err
	}
	return base.Merge(overrides), nil
}

// openPeer assembles the storage, identity, relay selector and relay
// client for one peer.
func openPeer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*peerEnvironment, error) {
	env := &peerEnvironment{}
	store, err := openStore(cfg, env)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	identity, err := peercrypto.LoadIdentity(ctx, store, logger)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, identity.Close)

	nodes, err := directory(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	selector, err := relay.NewSelector(relay.SelectorConfig{
		Directory: nodes,
		Storage:   store,
		Prober:    relay.HTTPProber{Scheme: cfg.Relay.Scheme},
		Region:    relay.Region(cfg.Relay.Region),
		Logger:    logger,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	client, err := relayclient.New(relayclient.Config{
		Identity: identity,
		Selector: selector,
		Storage:  store,
		Scheme:   cfg.Relay.Scheme,
		Logger:   logger,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	env.transport = transport.Config{
		Client:   client,
		Selector: selector,
		Identity: identity,
		Storage:  store,
		AppName:  cfg.App.Name,
		IconURL:  cfg.App.IconURL,
		AppURL:   cfg.App.AppURL,
		Logger:   logger,
	}
	return env, nil
}
