// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// lodefs-store serves a local lode store directory over a Unix
// socket for remote lodefs mounts. One store daemon can back any
// number of mounts; the per-path exclusion that matters for
// correctness lives in the store itself, not in the mounts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lodestore/lodefs/lib/config"
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
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("lodefs-store", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lodefs.yaml (default: LODEFS_CONFIG)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		version.Print("lodefs-store")
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	pollInterval, err := cfg.PollInterval()
	if err != nil {
		return err
	}
	backend, err := localstore.New(cfg.Store.Directory, localstore.Options{
		Logger:       logger,
		VerifyOnOpen: cfg.Store.VerifyOnOpen,
		PollInterval: pollInterval,
	})
	if err != nil {
		return err
	}

	socketPath := cfg.Store.Socket
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	// A stale socket from a previous run blocks the listen.
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	logger.Info("store daemon listening",
		"socket", socketPath,
		"directory", cfg.Store.Directory,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return remotestore.NewServer(backend, logger).Serve(ctx, listener)
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
