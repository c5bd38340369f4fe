// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/channel"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath    string
	listenAddress string
	difficulty    string
	showVersion   bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("beacon-channel-relay", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to beacon.yaml (default: $BEACON_CONFIG)")
	flagSet.StringVar(&opts.listenAddress, "listen", "", "address to serve on (overrides channel.listen_address)")
	flagSet.StringVar(&opts.difficulty, "difficulty", "", "hex proof-of-work prefix (overrides channel.difficulty)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, nil
}

// relayConfig resolves the listen address and relay settings from the
// config file and flag overrides.
func relayConfig(opts options, cfg *config.Config) (string, channel.RelayConfig, error) {
	listenAddress := cfg.Channel.ListenAddress
	if opts.listenAddress != "" {
		listenAddress = opts.listenAddress
	}
	if listenAddress == "" {
		return "", channel.RelayConfig{}, errors.New("no listen address: set channel.listen_address or --listen")
	}

	difficultyText := cfg.Channel.Difficulty
	if opts.difficulty != "" {
		difficultyText = opts.difficulty
	}
	settings := channel.RelayConfig{Logger: cfg.Logger()}
	if difficultyText != "" {
		difficulty, err := channel.ParseDifficulty(difficultyText)
		if err != nil {
			return "", channel.RelayConfig{}, err
		}
		settings.Difficulty = difficulty
	}
	return listenAddress, settings, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("beacon-channel-relay %s\n", version.Info())
		return nil
	}

	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger()

	listenAddress, settings, err := relayConfig(opts, cfg)
	if err != nil {
		return err
	}
	relay := channel.NewRelay(settings)

	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddress, err)
	}
	server := &http.Server{
		Handler:           relay,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()
	logger.Info("channel relay listening", "address", listener.Addr().String(), "version", version.Info())

	select {
	case err := <-serveErr:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down", "connected", relay.Connected())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Upgraded connections are hijacked, so Shutdown does not wait for
	// them; the process exit closes them.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
