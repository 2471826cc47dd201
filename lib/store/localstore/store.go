// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lodestore/lodefs/lib/clock"
	"github.com/lodestore/lodefs/lib/codec"
	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// DefaultBlockSize is the raw block size used when WriteOptions does
// not specify one.
const DefaultBlockSize = 4 << 20

// DefaultPollInterval is how often WaitForCompleted re-reads a
// sidecar. Completion is driven by another process's close, so
// polling the filesystem is the only signal available.
const DefaultPollInterval = 100 * time.Millisecond

// Options configures a Store.
type Options struct {
	// Clock drives the completion-wait polling. Nil means Real().
	Clock clock.Clock

	// Logger receives diagnostics. Nil means discard.
	Logger *slog.Logger

	// VerifyOnOpen makes Open stream every block through the checksum
	// before returning the handle. Costs a full read per open; meant
	// for stores on untrusted disks and for tests.
	VerifyOnOpen bool

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Store is a lode store over a local directory. Object content lives
// under root/data and CBOR sidecars under root/meta, in parallel
// trees so object names can never collide with metadata.
type Store struct {
	root         string
	clock        clock.Clock
	logger       *slog.Logger
	verifyOnOpen bool
	pollInterval time.Duration

	// mu guards writers: the open, not-yet-completed output handles
	// of this process. Status consults it so an in-flight file
	// reports live progress instead of the stale sidecar.
	mu      sync.Mutex
	writers map[string]*outFile
}

var _ store.Client = (*Store)(nil)

// metadata is the sidecar record for one object.
type metadata struct {
	Mode      uint32 `cbor:"mode"`
	Completed bool   `cbor:"completed"`
	Length    uint64 `cbor:"length"`
	BlockSize int64  `cbor:"block_size"`
	Tier      string `cbor:"tier,omitempty"`

	// Placement fields recorded verbatim from WriteOptions. The local
	// store has nowhere to place blocks, but operators inspect these
	// when debugging what a client asked for.
	TTLSeconds    int64             `cbor:"ttl_seconds,omitempty"`
	Policy        string            `cbor:"policy,omitempty"`
	PolicyOptions map[string]string `cbor:"policy_options,omitempty"`
	Hostname      string            `cbor:"hostname,omitempty"`

	// Checksum is the blake3 hash of the raw content, set when the
	// writer completes the file.
	Checksum []byte `cbor:"checksum,omitempty"`

	// Blocks is the block index, in raw-offset order.
	Blocks []blockEntry `cbor:"blocks,omitempty"`
}

// blockEntry locates one block in the data file.
type blockEntry struct {
	RawOffset  uint64   `cbor:"raw_offset"`
	RawSize    uint32   `cbor:"raw_size"`
	DataOffset int64    `cbor:"data_offset"`
	StoredSize uint32   `cbor:"stored_size"`
	Tag        blockTag `cbor:"tag"`
}

// New opens (creating if needed) a store rooted at root.
func New(root string, options Options) (*Store, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 128}))
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}

	for _, dir := range []string{filepath.Join(root, "data"), filepath.Join(root, "meta")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fserror.Wrap(fserror.KindIO, err, "creating store directory")
		}
	}

	return &Store{
		root:         root,
		clock:        options.Clock,
		logger:       options.Logger,
		verifyOnOpen: options.VerifyOnOpen,
		pollInterval: options.PollInterval,
		writers:      make(map[string]*outFile),
	}, nil
}

// resolve validates a logical object path and maps it to the data and
// sidecar file locations.
func (s *Store) resolve(logical string) (dataPath, metaPath string, err error) {
	clean := path.Clean(logical)
	if clean == "." || clean == "/" || clean == ".." ||
		strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "../") {
		return "", "", fserror.Errorf(fserror.KindInvalidArgument, "invalid object path %q", logical)
	}
	native := filepath.FromSlash(clean)
	return filepath.Join(s.root, "data", native), filepath.Join(s.root, "meta", native), nil
}

func readMeta(metaPath string) (*metadata, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := codec.Unmarshal(raw, &meta); err != nil {
		return nil, fserror.Wrap(fserror.KindIO, err, "decoding sidecar "+metaPath)
	}
	return &meta, nil
}

// writeMeta persists a sidecar atomically: temp file plus rename, so
// a crashed writer never leaves a half-written sidecar behind.
func writeMeta(metaPath string, meta *metadata) error {
	raw, err := codec.Marshal(meta)
	if err != nil {
		return fserror.Wrap(fserror.KindIO, err, "encoding sidecar")
	}
	tmp := metaPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "writing sidecar")
	}
	if err := os.Rename(tmp, metaPath); err != nil {
		return fserror.Wrap(fserror.KindIO, err, "publishing sidecar")
	}
	return nil
}

// Status implements store.Client.
func (s *Store) Status(_ context.Context, logical string) (store.Status, bool, error) {
	_, metaPath, err := s.resolve(logical)
	if err != nil {
		return store.Status{}, false, err
	}

	s.mu.Lock()
	if writer, ok := s.writers[logical]; ok {
		status := store.Status{Length: writer.BytesWritten(), Mode: writer.meta.Mode}
		s.mu.Unlock()
		return status, true, nil
	}
	s.mu.Unlock()

	meta, err := readMeta(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return store.Status{}, false, nil
	}
	if err != nil {
		return store.Status{}, false, err
	}
	return store.Status{Length: meta.Length, Mode: meta.Mode, Completed: meta.Completed}, true, nil
}

// WaitForCompleted implements store.Client. Completion is observed by
// polling the sidecar; a completing writer in another process
// publishes it with a rename.
func (s *Store) WaitForCompleted(ctx context.Context, logical string) (store.Status, error) {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		status, ok, err := s.Status(ctx, logical)
		if err != nil {
			return store.Status{}, err
		}
		if !ok {
			return store.Status{}, fserror.Errorf(fserror.KindNotFound,
				"%s disappeared while waiting for completion", logical)
		}
		if status.Completed {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return store.Status{}, fserror.Wrap(fserror.KindUnavailable, ctx.Err(),
				"waiting for completion of "+logical)
		case <-ticker.C:
		}
	}
}

// Create implements store.Client.
func (s *Store) Create(_ context.Context, logical string, mode uint32, options store.WriteOptions) (store.OutHandle, error) {
	dataPath, metaPath, err := s.resolve(logical)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.writers[logical]; open {
		return nil, fserror.Errorf(fserror.KindAlreadyExists, "%s is being written", logical)
	}
	if _, err := os.Stat(metaPath); err == nil {
		return nil, fserror.Errorf(fserror.KindAlreadyExists, "%s already exists", logical)
	}

	for _, p := range []string{dataPath, metaPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fserror.Wrap(fserror.KindIO, err, "creating parent directories for "+logical)
		}
	}

	blockSize := options.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	meta := metadata{
		Mode:          mode,
		BlockSize:     blockSize,
		Tier:          options.Tier,
		TTLSeconds:    int64(options.TTL / time.Second),
		Policy:        options.Policy,
		PolicyOptions: options.PolicyOptions,
		Hostname:      options.Hostname,
	}
	if err := writeMeta(metaPath, &meta); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(dataPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		os.Remove(metaPath)
		if errors.Is(err, fs.ErrExist) {
			return nil, fserror.Errorf(fserror.KindAlreadyExists, "%s already exists", logical)
		}
		return nil, fserror.Wrap(fserror.KindIO, err, "creating data file for "+logical)
	}

	writer := newOutFile(s, logical, dataPath, metaPath, file, meta)
	s.writers[logical] = writer
	return writer, nil
}

// Open implements store.Client.
func (s *Store) Open(_ context.Context, logical string) (store.ReadHandle, error) {
	dataPath, metaPath, err := s.resolve(logical)
	if err != nil {
		return nil, err
	}

	meta, err := readMeta(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fserror.Errorf(fserror.KindNotFound, "%s does not exist", logical)
	}
	if err != nil {
		return nil, err
	}
	if !meta.Completed {
		return nil, fserror.Errorf(fserror.KindUnavailable, "%s is still being written", logical)
	}

	file, err := os.Open(dataPath)
	if err != nil {
		return nil, fserror.Wrap(fserror.KindIO, err, "opening data file for "+logical)
	}

	handle := &readFile{logical: logical, file: file, meta: meta}
	if s.verifyOnOpen {
		if err := handle.verify(); err != nil {
			file.Close()
			return nil, err
		}
	}
	return handle, nil
}

// Delete implements store.Client.
func (s *Store) Delete(_ context.Context, logical string) error {
	dataPath, metaPath, err := s.resolve(logical)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if writer, open := s.writers[logical]; open {
		// An open handle on a deleted path must not resurrect the
		// sidecar when it is eventually closed.
		writer.cancel()
		delete(s.writers, logical)
	}
	s.mu.Unlock()

	metaErr := os.Remove(metaPath)
	if errors.Is(metaErr, fs.ErrNotExist) {
		return fserror.Errorf(fserror.KindNotFound, "%s does not exist", logical)
	}
	dataErr := os.Remove(dataPath)
	if dataErr != nil && !errors.Is(dataErr, fs.ErrNotExist) {
		metaErr = errors.Join(metaErr, dataErr)
	}
	return fserror.Wrap(fserror.KindIO, metaErr, "deleting "+logical)
}

// List implements store.Client.
func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	metaRoot := filepath.Join(s.root, "meta")
	var entries []store.Entry

	err := filepath.WalkDir(metaRoot, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(walkPath, ".tmp") {
			return nil
		}
		relative, err := filepath.Rel(metaRoot, walkPath)
		if err != nil {
			return err
		}
		logical := filepath.ToSlash(relative)
		if !strings.HasPrefix(logical, prefix) {
			return nil
		}

		status, ok, statErr := s.Status(ctx, logical)
		if statErr != nil || !ok {
			return statErr
		}
		entries = append(entries, store.Entry{Path: logical, Status: status})
		return nil
	})
	if err != nil {
		return nil, fserror.Wrap(fserror.KindIO, err, "listing "+prefix)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// forget drops a writer registration after its handle closes.
func (s *Store) forget(logical string, writer *outFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writers[logical] == writer {
		delete(s.writers, logical)
	}
}
