// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// lodefs mounts a lode store as a FUSE filesystem.
//
// The store backend comes from the config file: "local" serves
// directly from a store directory, "remote" connects to a
// lodefs-store daemon over its Unix socket. The mount stays up until
// SIGINT or SIGTERM, then unmounts cleanly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lodestore/lodefs/lib/config"
	"github.com/lodestore/lodefs/lib/fusefs"
	"github.com/lodestore/lodefs/lib/store"
	"github.com/lodestore/lodefs/lib/store/localstore"
	"github.com/lodestore/lodefs/lib/store/remotestore"
	"github.com/lodestore/lodefs/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		mountpoint  string
		debug       bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("lodefs", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lodefs.yaml (default: LODEFS_CONFIG)")
	flagSet.StringVar(&mountpoint, "mountpoint", "", "mount directory (overrides config)")
	flagSet.BoolVar(&debug, "debug", false, "enable kernel-level FUSE request logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		version.Print("lodefs")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if mountpoint != "" {
		cfg.Mount.Mountpoint = mountpoint
	}
	if cfg.Mount.Mountpoint == "" {
		return fmt.Errorf("no mountpoint: set mount.mountpoint in the config or pass --mountpoint")
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	client, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	defaultMode, err := cfg.FileMode()
	if err != nil {
		return err
	}
	waitTimeout, err := cfg.OpenWaitTimeout()
	if err != nil {
		return err
	}
	writeOptions, err := cfg.WriteOptions()
	if err != nil {
		return err
	}

	server, err := fusefs.Mount(fusefs.Options{
		Mountpoint:      cfg.Mount.Mountpoint,
		Client:          client,
		DefaultMode:     defaultMode,
		WriteOptions:    writeOptions,
		OpenWaitTimeout: waitTimeout,
		AllowOther:      cfg.Mount.AllowOther,
		Debug:           debug || cfg.Mount.Debug,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("unmounting", "mountpoint", cfg.Mount.Mountpoint)
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmounting %s: %w", cfg.Mount.Mountpoint, err)
	}
	server.Wait()
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("LODEFS_CONFIG") != "" {
		return config.Load()
	}
	// No file given: run on defaults, validated like a loaded file.
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildClient(cfg *config.Config, logger *slog.Logger) (store.Client, error) {
	switch cfg.Store.Backend {
	case "remote":
		logger.Info("using remote store", "socket", cfg.Store.Socket)
		return remotestore.Dial(cfg.Store.Socket), nil
	default:
		pollInterval, err := cfg.PollInterval()
		if err != nil {
			return nil, err
		}
		logger.Info("using local store", "directory", cfg.Store.Directory)
		return localstore.New(cfg.Store.Directory, localstore.Options{
			Logger:       logger,
			VerifyOnOpen: cfg.Store.VerifyOnOpen,
			PollInterval: pollInterval,
		})
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}
