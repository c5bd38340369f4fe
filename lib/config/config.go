// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the configuration for a beacon peer or channel relay.
type Config struct {
	Environment Environment `yaml:"environment"`

	// LogFormat is "text", "json", or empty for terminal detection.
	LogFormat string `yaml:"log_format"`

	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`

	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Relay   RelayConfig   `yaml:"relay"`
	Channel ChannelConfig `yaml:"channel"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	LogLevel string         `yaml:"log_level,omitempty"`
	Storage  *StorageConfig `yaml:"storage,omitempty"`
	Relay    *RelayConfig   `yaml:"relay,omitempty"`
	Channel  *ChannelConfig `yaml:"channel,omitempty"`
}

// AppConfig describes this peer in pairing requests and responses.
type AppConfig struct {
	Name    string `yaml:"name"`
	IconURL string `yaml:"icon_url"`
	AppURL  string `yaml:"app_url"`
}

// StorageConfig configures the persistent key-value store.
type StorageConfig struct {
	// Path is the store file. Empty keeps state in memory only.
	Path string `yaml:"path"`

	// Compression is "zstd" (default), "lz4", or "none".
	Compression string `yaml:"compression"`

	// AgeIdentityFile, when set, seals the store to this age identity.
	AgeIdentityFile string `yaml:"age_identity_file"`
}

// RelayConfig configures relay selection.
type RelayConfig struct {
	// DirectoryFile is a JSONC file whose regions replace the built-in
	// ones of the same name.
	DirectoryFile string `yaml:"directory_file"`

	// Region restricts relay races to one region of the directory.
	Region string `yaml:"region"`

	// Scheme is "https" (default) or "http" for local test relays.
	Scheme string `yaml:"scheme"`
}

// ChannelConfig configures the binary channel transport.
type ChannelConfig struct {
	// URL is the websocket URL of the channel relay.
	URL string `yaml:"url"`

	// ConnectTimeout bounds the handshake. Go duration syntax.
	ConnectTimeout string `yaml:"connect_timeout"`

	// ListenAddress is where beacon-channel-relay serves.
	ListenAddress string `yaml:"listen_address"`

	// Difficulty is the hex proof-of-work prefix the relay demands.
	Difficulty string `yaml:"difficulty"`
}

// Default returns the defaults applied before the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		App: AppConfig{
			Name: "beacon-peer",
		},
		Storage: StorageConfig{
			Path:        filepath.Join(homeDir, ".local", "state", "beacon", "store.bin"),
			Compression: "zstd",
		},
		Relay: RelayConfig{
			Scheme: "https",
		},
		Channel: ChannelConfig{
			ConnectTimeout: "15s",
			ListenAddress:  "127.0.0.1:8090",
			Difficulty:     "00ffffffffffffffffffffffffffffff",
		},
	}
}

// Load loads configuration from the BEACON_CONFIG environment variable.
func Load() (*Config, error) {
	configPath := os.Getenv("BEACON_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BEACON_CONFIG environment variable not set; " +
			"set it to the path of your beacon.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// Resolve loads path, or the BEACON_CONFIG file when path is empty.
// With neither set it returns the defaults.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv("BEACON_CONFIG") != "" {
		return Load()
	}
	cfg := Default()
	if environment := os.Getenv("BEACON_ENV"); environment != "" {
		cfg.Environment = Environment(environment)
	}
	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if environment := os.Getenv("BEACON_ENV"); environment != "" {
		cfg.Environment = Environment(environment)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{LogLevel: "warn"}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if overrides.Storage != nil {
		setIfNonEmpty(&c.Storage.Path, overrides.Storage.Path)
		setIfNonEmpty(&c.Storage.Compression, overrides.Storage.Compression)
		setIfNonEmpty(&c.Storage.AgeIdentityFile, overrides.Storage.AgeIdentityFile)
	}
	if overrides.Relay != nil {
		setIfNonEmpty(&c.Relay.DirectoryFile, overrides.Relay.DirectoryFile)
		setIfNonEmpty(&c.Relay.Region, overrides.Relay.Region)
		setIfNonEmpty(&c.Relay.Scheme, overrides.Relay.Scheme)
	}
	if overrides.Channel != nil {
		setIfNonEmpty(&c.Channel.URL, overrides.Channel.URL)
		setIfNonEmpty(&c.Channel.ConnectTimeout, overrides.Channel.ConnectTimeout)
		setIfNonEmpty(&c.Channel.ListenAddress, overrides.Channel.ListenAddress)
		setIfNonEmpty(&c.Channel.Difficulty, overrides.Channel.Difficulty)
	}
}

func setIfNonEmpty(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Storage.Path = expandVars(c.Storage.Path, vars)
	c.Storage.AgeIdentityFile = expandVars(c.Storage.AgeIdentityFile, vars)
	c.Relay.DirectoryFile = expandVars(c.Relay.DirectoryFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ConnectTimeout returns the parsed channel connect timeout.
func (c *Config) ConnectTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Channel.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: channel.connect_timeout: %w", err)
	}
	return timeout, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Compression {
	case "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.compression must be zstd, lz4, or none, got %q", c.Storage.Compression))
	}
	if c.Storage.AgeIdentityFile != "" && c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.age_identity_file requires storage.path"))
	}
	switch c.Relay.Scheme {
	case "http", "https":
	default:
		errs = append(errs, fmt.Errorf("relay.scheme must be http or https, got %q", c.Relay.Scheme))
	}
	if c.App.Name == "" {
		errs = append(errs, fmt.Errorf("app.name is required"))
	}
	if _, err := c.ConnectTimeout(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
