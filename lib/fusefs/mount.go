// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package fusefs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lodestore/lodefs/lib/store"
	"github.com/lodestore/lodefs/lib/streams"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist.
	Mountpoint string

	// Client provides access to the backing lode store.
	Client store.Client

	// DefaultMode is the permission mode for files created without an
	// explicit mode. Zero means 0644.
	DefaultMode uint32

	// WriteOptions are applied to every file created through the
	// mount.
	WriteOptions store.WriteOptions

	// OpenWaitTimeout bounds how long an open blocks on a file another
	// writer has not completed. Zero means the stream default.
	OpenWaitTimeout time.Duration

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug enables kernel request logging.
	Debug bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Mount mounts the store filesystem at the configured mountpoint. The
// caller must call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Client == nil {
		return nil, fmt.Errorf("store client is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 128}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	fsys := &filesystem{
		client:       options.Client,
		locks:        streams.NewLockManager(),
		defaultMode:  options.DefaultMode,
		writeOptions: options.WriteOptions,
		waitTimeout:  options.OpenWaitTimeout,
		logger:       options.Logger,
		madeDirs:     make(map[string]bool),
	}
	root := &dirNode{fsys: fsys}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "lodefs",
			Name:       "lodefs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("lode store mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// filesystem is the state shared by every node of one mount.
type filesystem struct {
	client       store.Client
	locks        *streams.LockManager
	defaultMode  uint32
	writeOptions store.WriteOptions
	waitTimeout  time.Duration
	logger       *slog.Logger

	// mu guards madeDirs: directory prefixes created by mkdir that may
	// not contain any object yet. The store only knows about objects,
	// so empty directories exist purely in mount state.
	mu       sync.Mutex
	madeDirs map[string]bool
}

func (f *filesystem) openStream(ctx context.Context, path string, flags int, mode uint32) (*streams.Stream, error) {
	return streams.Open(ctx, streams.Options{
		Client:       f.client,
		Locks:        f.locks,
		Path:         path,
		Flags:        flags,
		Mode:         mode,
		DefaultMode:  f.defaultMode,
		WriteOptions: f.writeOptions,
		WaitTimeout:  f.waitTimeout,
		Logger:       f.logger,
	})
}

func (f *filesystem) rememberDir(prefix string) {
	f.mu.Lock()
	f.madeDirs[prefix] = true
	f.mu.Unlock()
}

func (f *filesystem) forgetDir(prefix string) {
	f.mu.Lock()
	delete(f.madeDirs, prefix)
	f.mu.Unlock()
}

func (f *filesystem) isMadeDir(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.madeDirs[prefix]
}

// madeDirsUnder returns the immediate child names of remembered
// directories below the given prefix.
func (f *filesystem) madeDirsUnder(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	for dir := range f.madeDirs {
		relative, ok := childComponent(dir, prefix)
		if ok {
			names = append(names, relative)
		}
	}
	return names
}
