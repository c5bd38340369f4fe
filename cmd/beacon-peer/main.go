// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/channel"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/version"
	"github.com/bureau-foundation/beacon/protocol"
	"github.com/bureau-foundation/beacon/transport"
	"github.com/bureau-foundation/beacon/wallet"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

const (
	modeDApp    = "dapp"
	modeWallet  = "wallet"
	modeChannel = "channel"
)

type options struct {
	configPath  string
	mode        string
	pair        string
	network     string
	recipient   string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("beacon-peer", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to beacon.yaml (default: $BEACON_CONFIG)")
	flagSet.StringVar(&opts.mode, "mode", modeWallet, "peer role: dapp, wallet, or channel")
	flagSet.StringVar(&opts.pair, "pair", "", "wallet: pairing request JSON to accept, or - to read it from stdin")
	flagSet.StringVar(&opts.network, "network", "mainnet", "dapp: network type in the permission request")
	flagSet.StringVar(&opts.recipient, "to", "", "channel: recipient compressed P-256 public key (hex)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if opts.showVersion {
		return opts, nil
	}
	switch opts.mode {
	case modeDApp, modeWallet:
	case modeChannel:
		if opts.recipient == "" {
			return options{}, errors.New("--to is required in channel mode")
		}
	default:
		return options{}, fmt.Errorf("unknown --mode %q (want dapp, wallet, or channel)", opts.mode)
	}
	if opts.pair != "" && opts.mode != modeWallet {
		return options{}, errors.New("--pair is only valid in wallet mode")
	}
	return opts, nil
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
		fmt.Printf("beacon-peer %s\n", version.Info())
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
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting beacon-peer", "mode", opts.mode, "version", version.Info())
	if opts.mode == modeChannel {
		return runChannel(ctx, cfg, opts, os.Stdin, os.Stdout, logger)
	}

	env, err := openPeer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	switch opts.mode {
	case modeDApp:
		return runDApp(ctx, env, opts, os.Stdout, logger)
	default:
		return runWallet(ctx, env, opts, os.Stdin, logger)
	}
}

// shutdown returns a context for cleanup after ctx was cancelled.
func shutdown() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// runDApp publishes a pairing request when no wallet is paired yet, then
// asks the first paired wallet for permission and prints its answer.
func runDApp(ctx context.Context, env *peerEnvironment, opts options, out io.Writer, logger *slog.Logger) error {
	dapp, err := wallet.NewDApp(wallet.DAppConfig{Transport: env.transport, Logger: logger})
	if err != nil {
		return err
	}
	paired := make(chan transport.PeerInfo, 1)
	dapp.OnPaired(func(peer transport.PeerInfo) {
		select {
		case paired <- peer:
		default:
		}
	})
	if err := dapp.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := shutdown()
		defer cancel()
		dapp.Close(cleanupCtx)
	}()

	peers, err := dapp.Peers(ctx)
	if err != nil {
		return err
	}
	var peer transport.PeerInfo
	if len(peers) > 0 {
		peer = peers[0]
	} else {
		request, err := dapp.PairingRequest(ctx)
		if err != nil {
			return err
		}
		if err := json.NewEncoder(out).Encode(request); err != nil {
			return err
		}
		logger.Info("waiting for a wallet to pair")
		select {
		case peer = <-paired:
		case <-ctx.Done():
			return nil
		}
	}
	logger.Info("paired wallet", "name", peer.Name, "relay", peer.RelayServer)

	network, err := json.Marshal(map[string]string{"type": opts.network})
	if err != nil {
		return err
	}
	response, err := dapp.Request(ctx, &protocol.PermissionRequest{
		Envelope: dapp.Envelope(protocol.TypePermissionRequest),
		Network:  network,
		Scopes:   []string{"sign", "operation_request"},
	}, peer)
	if err != nil && !errors.As(err, new(*protocol.Error)) {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("permission request: %w", err)
	}
	if err := json.NewEncoder(out).Encode(response); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// readPairingRequest decodes the --pair argument, reading stdin for "-".
func readPairingRequest(argument string, stdin io.Reader) (transport.PairingRequest, error) {
	var source io.Reader = strings.NewReader(argument)
	if argument == "-" {
		source = stdin
	}
	var request transport.PairingRequest
	if err := json.NewDecoder(source).Decode(&request); err != nil {
		return transport.PairingRequest{}, fmt.Errorf("decoding pairing request: %w", err)
	}
	if request.Type != transport.PairingRequestType {
		return transport.PairingRequest{}, fmt.Errorf("pairing request has type %q", request.Type)
	}
	return request, nil
}

// runWallet answers requests of paired dApps with the peer's own key,
// after accepting a pairing request when --pair is given.
func runWallet(ctx context.Context, env *peerEnvironment, opts options, stdin io.Reader, logger *slog.Logger) error {
	var request transport.PairingRequest
	if opts.pair != "" {
		var err error
		if request, err = readPairingRequest(opts.pair, stdin); err != nil {
			return err
		}
	}

	client, err := wallet.New(wallet.Config{
		Transport: env.transport,
		Signer:    wallet.KeySigner{KeyPair: env.transport.Identity.KeyPair()},
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := shutdown()
		defer cancel()
		client.Close(cleanupCtx)
	}()

	if opts.pair != "" {
		if _, err := client.Pair(ctx, request); err != nil {
			return err
		}
	}
	peers, err := client.Peers(ctx)
	if err != nil {
		return err
	}
	logger.Info("serving paired dapps", "peers", len(peers))

	<-ctx.Done()
	return nil
}

// runChannel connects to the channel relay, sends each stdin line to
// the recipient and prints every payload it receives.
func runChannel(ctx context.Context, cfg *config.Config, opts options, stdin io.Reader, out io.Writer, logger *slog.Logger) error {
	if cfg.Channel.URL == "" {
		return errors.New("channel.url is not configured")
	}
	recipient, err := hex.DecodeString(opts.recipient)
	if err != nil {
		return fmt.Errorf("--to is not hex: %w", err)
	}
	timeout, err := cfg.ConnectTimeout()
	if err != nil {
		return err
	}
	keyPair, err := channel.GenerateKeyPair()
	if err != nil {
		return err
	}

	client, err := channel.Dial(ctx, cfg.Channel.URL, keyPair, channel.ClientConfig{
		ConnectTimeout: timeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	publicKey := keyPair.CompressedPublicKey()
	fmt.Fprintf(out, "connected as %x (address %s)\n", publicKey, client.Address())
	client.OnMessage(func(delivery channel.Delivery) {
		fmt.Fprintf(out, "%s: %s\n", delivery.Sender, delivery.Data)
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if err := client.Send(ctx, recipient, []byte(line)); err != nil {
				return err
			}
		}
	}
}
