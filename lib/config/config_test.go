// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lodefs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
mount:
  mountpoint: /mnt/lode
  default_mode: "0600"
  open_wait_timeout: 10s
store:
  backend: remote
  socket: /run/lodefs/store.sock
write:
  tier: cold
  block_size: 1048576
  ttl: 720h
  policy: spread
  policy_options:
    replicas: "3"
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Mount.Mountpoint != "/mnt/lode" {
		t.Errorf("mountpoint = %q", cfg.Mount.Mountpoint)
	}
	if cfg.Store.Backend != "remote" || cfg.Store.Socket != "/run/lodefs/store.sock" {
		t.Errorf("store = %+v", cfg.Store)
	}

	mode, err := cfg.FileMode()
	if err != nil || mode != 0o600 {
		t.Errorf("FileMode = %o, %v; want 600", mode, err)
	}
	timeout, err := cfg.OpenWaitTimeout()
	if err != nil || timeout != 10*time.Second {
		t.Errorf("OpenWaitTimeout = %v, %v; want 10s", timeout, err)
	}

	options, err := cfg.WriteOptions()
	if err != nil {
		t.Fatalf("WriteOptions: %v", err)
	}
	if options.Tier != "cold" || options.BlockSize != 1048576 || options.TTL != 720*time.Hour {
		t.Errorf("write options = %+v", options)
	}
	if options.PolicyOptions["replicas"] != "3" {
		t.Errorf("policy options = %v", options.PolicyOptions)
	}
	if options.Hostname == "" {
		t.Error("hostname not filled in")
	}

	// Unset fields keep their defaults.
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q, want default json", cfg.Log.Format)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "s3" }},
		{"remote without socket", func(c *Config) { c.Store.Backend = "remote"; c.Store.Socket = "" }},
		{"local without directory", func(c *Config) { c.Store.Directory = "" }},
		{"bad mode", func(c *Config) { c.Mount.DefaultMode = "rwxr--r--" }},
		{"bad timeout", func(c *Config) { c.Mount.OpenWaitTimeout = "soon" }},
		{"negative ttl", func(c *Config) { c.Write.TTL = "-1h" }},
		{"unknown tier", func(c *Config) { c.Write.Tier = "lukewarm" }},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv("LODEFS_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("Load without LODEFS_CONFIG should fail")
	}

	path := writeConfig(t, "store:\n  backend: local\n  directory: /tmp/store\n")
	t.Setenv("LODEFS_CONFIG", path)
	if _, err := Load(); err != nil {
		t.Errorf("Load: %v", err)
	}
}
