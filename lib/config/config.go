// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lodestore/lodefs/lib/store"
)

// Config is the master configuration for lodefs.
type Config struct {
	// Mount configures the FUSE mount.
	Mount MountConfig `yaml:"mount"`

	// Store selects and configures the backing lode store.
	Store StoreConfig `yaml:"store"`

	// Write provides the default write options applied to every file
	// created through the mount.
	Write WriteConfig `yaml:"write"`

	// Log configures daemon logging.
	Log LogConfig `yaml:"log"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// Mountpoint is the directory the filesystem is mounted on.
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther passes allow_other to the kernel so users other than
	// the mounting user can access the mount. Requires
	// user_allow_other in /etc/fuse.conf when unprivileged.
	AllowOther bool `yaml:"allow_other"`

	// DefaultMode is the octal permission mode for files created
	// without an explicit mode, e.g. "0644".
	DefaultMode string `yaml:"default_mode"`

	// OpenWaitTimeout bounds how long an open blocks on a file that
	// another writer has not yet completed, e.g. "30s".
	OpenWaitTimeout string `yaml:"open_wait_timeout"`

	// Debug enables kernel-level FUSE request logging.
	Debug bool `yaml:"debug"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	// Backend is "local" (store directly against a directory) or
	// "remote" (connect to a lodefs-store daemon).
	Backend string `yaml:"backend"`

	// Directory is the store root for the local backend, and the
	// serving root for the lodefs-store daemon.
	Directory string `yaml:"directory"`

	// Socket is the Unix socket path of the store daemon: dialed by
	// the remote backend, listened on by lodefs-store.
	Socket string `yaml:"socket"`

	// VerifyOnOpen makes every open checksum the object first.
	VerifyOnOpen bool `yaml:"verify_on_open"`

	// PollInterval is how often completion waits re-check the store,
	// e.g. "100ms". Empty means the store default.
	PollInterval string `yaml:"poll_interval"`
}

// WriteConfig is the default write options for created files.
type WriteConfig struct {
	// BlockSize is the raw bytes per stored block. Zero means the
	// store default.
	BlockSize int64 `yaml:"block_size"`

	// Tier selects the storage tier: "hot", "standard", or "cold".
	Tier string `yaml:"tier"`

	// TTL is the object time-to-live, e.g. "720h". Empty means no
	// expiry.
	TTL string `yaml:"ttl"`

	// Policy names the placement policy recorded with each object.
	Policy string `yaml:"policy"`

	// PolicyOptions are free-form policy parameters.
	PolicyOptions map[string]string `yaml:"policy_options"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns the default configuration. Defaults exist so every
// field has a sensible zero value; the config file is still required
// for anything deployment-specific.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "lodefs")

	return &Config{
		Mount: MountConfig{
			DefaultMode:     "0644",
			OpenWaitTimeout: "30s",
		},
		Store: StoreConfig{
			Backend:   "local",
			Directory: filepath.Join(defaultRoot, "store"),
			Socket:    filepath.Join(defaultRoot, "store.sock"),
		},
		Write: WriteConfig{
			Tier: "standard",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from the LODEFS_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	path := os.Getenv("LODEFS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("LODEFS_CONFIG environment variable not set; " +
			"set it to the path of your lodefs.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency. Called by
// LoadFile; exported so programmatically built configs can check
// themselves the same way.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "local":
		if c.Store.Directory == "" {
			return fmt.Errorf("store.directory is required for the local backend")
		}
	case "remote":
		if c.Store.Socket == "" {
			return fmt.Errorf("store.socket is required for the remote backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", "local", "remote", c.Store.Backend)
	}

	if _, err := c.FileMode(); err != nil {
		return err
	}
	if _, err := c.OpenWaitTimeout(); err != nil {
		return err
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.WriteOptions(); err != nil {
		return err
	}

	switch c.Write.Tier {
	case "", "hot", "standard", "cold":
	default:
		return fmt.Errorf("write.tier must be hot, standard, or cold, got %q", c.Write.Tier)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// FileMode parses the configured default mode.
func (c *Config) FileMode() (uint32, error) {
	if c.Mount.DefaultMode == "" {
		return 0o644, nil
	}
	mode, err := strconv.ParseUint(c.Mount.DefaultMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("mount.default_mode %q is not an octal mode: %w", c.Mount.DefaultMode, err)
	}
	return uint32(mode), nil
}

// OpenWaitTimeout parses the configured completion-wait bound. Zero
// means the caller's default applies.
func (c *Config) OpenWaitTimeout() (time.Duration, error) {
	return parseDuration("mount.open_wait_timeout", c.Mount.OpenWaitTimeout)
}

// PollInterval parses the store polling interval. Zero means the
// store default.
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration("store.poll_interval", c.Store.PollInterval)
}

// WriteOptions materializes the configured write defaults. Hostname
// is filled from the OS.
func (c *Config) WriteOptions() (store.WriteOptions, error) {
	ttl, err := parseDuration("write.ttl", c.Write.TTL)
	if err != nil {
		return store.WriteOptions{}, err
	}
	hostname, _ := os.Hostname()
	return store.WriteOptions{
		BlockSize:     c.Write.BlockSize,
		Tier:          c.Write.Tier,
		TTL:           ttl,
		Policy:        c.Write.Policy,
		PolicyOptions: c.Write.PolicyOptions,
		Hostname:      hostname,
	}, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a duration: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
