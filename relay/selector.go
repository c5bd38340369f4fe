// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/storage"
	"github.com/bureau-foundation/beacon/messaging"
)

// ErrNoServerResponded is returned when no relay node answered the
// info probe within the race window and the fallback polling period.
var ErrNoServerResponded = errors.New("relay: no server responded")

// Default selector timings.
const (
	DefaultRaceWindow       = 1000 * time.Millisecond
	DefaultRacePollInterval = 50 * time.Millisecond
	DefaultRacePollAttempts = 100
	DefaultCacheFreshness   = 60 * time.Second
)

// Selection is the chosen relay server.
type Selection struct {
	Server string
	Region Region

	// Timestamp is the relay-reported time, in seconds, at the moment
	// LocalTimestamp was taken.
	Timestamp      float64
	LocalTimestamp time.Time
}

// RelayTime estimates the relay's clock at local time now, in seconds.
func (s Selection) RelayTime(now time.Time) float64 {
	return s.Timestamp + now.Sub(s.LocalTimestamp).Seconds()
}

// Prober fetches relay metadata from the info endpoint of server.
type Prober interface {
	Info(ctx context.Context, server string) (*messaging.BeaconInfo, error)
}

// HTTPProber probes relays over HTTP.
type HTTPProber struct {
	// Scheme is "https" (default) or "http".
	Scheme     string
	HTTPClient *http.Client
}

// Info implements Prober.
func (p HTTPProber) Info(ctx context.Context, server string) (*messaging.BeaconInfo, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: ServerURL(p.Scheme, server),
		HTTPClient:    p.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return client.BeaconInfo(ctx)
}

// ServerURL builds the base URL of a relay server.
func ServerURL(scheme, server string) string {
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + server
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	// Directory is the node table. Zero value means DefaultDirectory().
	Directory Directory

	// Storage persists the selected server under KeySelectedRelay.
	Storage storage.Storage

	// Prober defaults to HTTPProber{Scheme: "https"}.
	Prober Prober

	// Region, when set, restricts every race to that region's nodes.
	Region Region

	Clock  clock.Clock
	Logger *slog.Logger

	RaceWindow       time.Duration
	RacePollInterval time.Duration
	RacePollAttempts int
	CacheFreshness   time.Duration

	// PickNode chooses the raced node of a region. Defaults to a
	// uniform random choice.
	PickNode func(nodes []string) string
}

// Selector chooses and caches the relay server. Safe for concurrent use.
type Selector struct {
	config SelectorConfig
	logger *slog.Logger
	flight singleflight.Group

	mu     sync.Mutex
	cache  *Selection
	pinned Region
}

// NewSelector creates a Selector.
func NewSelector(config SelectorConfig) (*Selector, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("relay: Storage is required")
	}
	if config.Directory.Regions == nil {
		config.Directory = DefaultDirectory()
	}
	if len(config.Directory.RegionNames()) == 0 {
		return nil, fmt.Errorf("relay: directory has no nodes")
	}
	if config.Region != "" && len(config.Directory.Regions[config.Region]) == 0 {
		return nil, fmt.Errorf("relay: region %q has no nodes", config.Region)
	}
	if config.Prober == nil {
		config.Prober = HTTPProber{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RaceWindow <= 0 {
		config.RaceWindow = DefaultRaceWindow
	}
	if config.RacePollInterval <= 0 {
		config.RacePollInterval = DefaultRacePollInterval
	}
	if config.RacePollAttempts <= 0 {
		config.RacePollAttempts = DefaultRacePollAttempts
	}
	if config.CacheFreshness <= 0 {
		config.CacheFreshness = DefaultCacheFreshness
	}
	if config.PickNode == nil {
		config.PickNode = func(nodes []string) string { return nodes[rand.IntN(len(nodes))] }
	}
	return &Selector{config: config, logger: config.Logger, pinned: config.Region}, nil
}

// Directory returns the selector's node table.
func (s *Selector) Directory() Directory {
	return s.config.Directory.Clone()
}

// Prober returns the prober used for info requests.
func (s *Selector) Prober() Prober {
	return s.config.Prober
}

// Current returns the cached selection, if any.
func (s *Selector) Current() (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return Selection{}, false
	}
	return *s.cache, true
}

// RelayServer returns the relay server to use, consulting in order the
// fresh cache, the revalidated stale cache, the persisted selection,
// and finally a latency race. Concurrent callers share one resolution.
func (s *Selector) RelayServer(ctx context.Context) (Selection, error) {
	result, err, _ := s.flight.Do("relay-server", func() (any, error) {
		return s.resolve(ctx)
	})
	if err != nil {
		return Selection{}, err
	}
	return result.(Selection), nil
}

func (s *Selector) resolve(ctx context.Context) (Selection, error) {
	now := s.config.Clock.Now()
	if cached, ok := s.Current(); ok {
		if now.Sub(cached.LocalTimestamp) < s.config.CacheFreshness {
			return cached, nil
		}
		info, err := s.config.Prober.Info(ctx, cached.Server)
		if err == nil {
			cached.Timestamp = info.Timestamp
			cached.LocalTimestamp = s.config.Clock.Now()
			s.setCache(cached)
			return cached, nil
		}
		s.logger.Warn("cached relay failed revalidation", "server", cached.Server, "error", err)
	}

	var stored string
	found, err := s.config.Storage.Get(ctx, storage.KeySelectedRelay, &stored)
	if err != nil {
		s.logger.Warn("reading persisted relay selection failed", "error", err)
	}
	if found && stored != "" {
		info, err := s.config.Prober.Info(ctx, stored)
		if err == nil {
			region, known := s.config.Directory.RegionOf(stored)
			if !known {
				region = Region(info.Region)
			}
			selection := Selection{
				Server:         stored,
				Region:         region,
				Timestamp:      info.Timestamp,
				LocalTimestamp: s.config.Clock.Now(),
			}
			s.mu.Lock()
			s.cache = &selection
			s.pinned = region
			s.mu.Unlock()
			return selection, nil
		}
		s.logger.Warn("persisted relay unreachable", "server", stored, "error", err)
	}

	selection, err := s.Race(ctx)
	if err != nil {
		return Selection{}, err
	}
	if err := s.config.Storage.Set(ctx, storage.KeySelectedRelay, selection.Server); err != nil {
		s.logger.Warn("persisting relay selection failed", "server", selection.Server, "error", err)
	}
	return selection, nil
}

func (s *Selector) setCache(selection Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = &selection
}

// probeResult is one completed info probe.
type probeResult struct {
	server    string
	region    Region
	elapsed   time.Duration
	timestamp float64
}

// fastest returns the result with the smallest elapsed time. Ties go
// to the earliest entry.
func fastest(results []probeResult) probeResult {
	best := results[0]
	for _, result := range results[1:] {
		if result.elapsed < best.elapsed {
			best = result
		}
	}
	return best
}

// Race probes one node per region (only the pinned region once a race
// has been won) and selects the lowest-latency responder. Each node is
// probed twice in sequence so that connection setup does not skew the
// measurement.
func (s *Selector) Race(ctx context.Context) (Selection, error) {
	s.mu.Lock()
	pinned := s.pinned
	s.mu.Unlock()

	regions := s.config.Directory.RegionNames()
	if pinned != "" && len(s.config.Directory.Regions[pinned]) > 0 {
		regions = []Region{pinned}
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		resultsMu sync.Mutex
		results   []probeResult
	)
	var group errgroup.Group
	for _, region := range regions {
		node := s.config.PickNode(s.config.Directory.Regions[region])
		group.Go(func() error {
			for range 2 {
				start := s.config.Clock.Now()
				server, info, err := s.probeNode(raceCtx, node)
				if err != nil {
					s.logger.Debug("relay probe failed", "node", node, "region", region, "error", err)
					return nil
				}
				resultsMu.Lock()
				results = append(results, probeResult{
					server:    server,
					region:    region,
					elapsed:   s.config.Clock.Now().Sub(start),
					timestamp: info.Timestamp,
				})
				resultsMu.Unlock()
			}
			return nil
		})
	}
	go group.Wait()

	collected := func() []probeResult {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		return slices.Clone(results)
	}

	if err := clock.Wait(ctx, s.config.Clock, s.config.RaceWindow); err != nil {
		return Selection{}, err
	}
	snapshot := collected()
	for attempt := 0; len(snapshot) == 0 && attempt < s.config.RacePollAttempts; attempt++ {
		if err := clock.Wait(ctx, s.config.Clock, s.config.RacePollInterval); err != nil {
			return Selection{}, err
		}
		snapshot = collected()
	}
	if len(snapshot) == 0 {
		return Selection{}, ErrNoServerResponded
	}

	winner := fastest(snapshot)
	selection := Selection{
		Server:         winner.server,
		Region:         winner.region,
		Timestamp:      winner.timestamp,
		LocalTimestamp: s.config.Clock.Now(),
	}
	s.mu.Lock()
	s.cache = &selection
	s.pinned = winner.region
	s.mu.Unlock()

	s.logger.Info("relay selected", "server", winner.server, "region", winner.region, "elapsed", winner.elapsed)
	return selection, nil
}

// probeNode tries node and then its aliases until one answers.
func (s *Selector) probeNode(ctx context.Context, node string) (string, *messaging.BeaconInfo, error) {
	var errs []error
	for _, candidate := range s.config.Directory.Candidates(node) {
		info, err := s.config.Prober.Info(ctx, candidate)
		if err == nil {
			return candidate, info, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", nil, errors.Join(errs...)
}

// RegionNodes returns the failover order for logins: the nodes of the
// selection's region shuffled for publicKey, with the selected server
// moved to the front.
func (s *Selector) RegionNodes(selection Selection, publicKey []byte) []string {
	nodes := DeterministicShuffle(s.config.Directory.Regions[selection.Region], publicKey)
	nodes = slices.DeleteFunc(nodes, func(node string) bool { return node == selection.Server })
	return append([]string{selection.Server}, nodes...)
}

// Reset forgets the cached selection and any region pinned by a race,
// and deletes the persisted selection.
func (s *Selector) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.cache = nil
	s.pinned = s.config.Region
	s.mu.Unlock()
	if err := s.config.Storage.Delete(ctx, storage.KeySelectedRelay); err != nil {
		return fmt.Errorf("relay: deleting persisted selection: %w", err)
	}
	return nil
}
