// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package remotestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/lodestore/lodefs/lib/codec"
	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// defaultWaitTimeout bounds a "wait" request that arrives without a
// client-side deadline, so an abandoned connection cannot pin a
// handler goroutine forever.
const defaultWaitTimeout = 5 * time.Minute

// Server serves a store.Client over a listener. Each connection gets
// its own goroutine; create and open sessions hold their connection
// for the life of the handle.
type Server struct {
	backend store.Client
	logger  *slog.Logger
}

// NewServer wraps a backend store. A nil logger discards diagnostics.
func NewServer(backend store.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 128}))
	}
	return &Server{backend: backend, logger: logger}
}

// Serve accepts connections until the listener is closed or the
// context is canceled. The caller owns the listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	var first request
	if err := decoder.Decode(&first); err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Error("decoding request", "error", err)
		}
		return
	}

	s.logger.Debug("request", "op", first.Op, "path", first.Path)

	var reply response
	switch first.Op {
	case opStatus:
		status, found, err := s.backend.Status(ctx, first.Path)
		if err != nil {
			reply = errorResponse(err)
		} else {
			reply = response{OK: true, Found: found}
			if found {
				reply.Status = toWireStatus(status)
			}
		}

	case opWait:
		timeout := defaultWaitTimeout
		if first.TimeoutMillis > 0 {
			timeout = time.Duration(first.TimeoutMillis) * time.Millisecond
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		status, err := s.backend.WaitForCompleted(waitCtx, first.Path)
		cancel()
		if err != nil {
			reply = errorResponse(err)
		} else {
			reply = response{OK: true, Found: true, Status: toWireStatus(status)}
		}

	case opDelete:
		if err := s.backend.Delete(ctx, first.Path); err != nil {
			reply = errorResponse(err)
		} else {
			reply = response{OK: true}
		}

	case opList:
		entries, err := s.backend.List(ctx, first.Prefix)
		if err != nil {
			reply = errorResponse(err)
		} else {
			reply = response{OK: true}
			for _, entry := range entries {
				reply.Entries = append(reply.Entries, wireEntry{
					Path:   entry.Path,
					Status: *toWireStatus(entry.Status),
				})
			}
		}

	case opCreate:
		s.serveWriteSession(ctx, encoder, decoder, &first)
		return

	case opOpen:
		s.serveReadSession(ctx, encoder, decoder, &first)
		return

	default:
		reply = errorResponse(fserror.Errorf(fserror.KindInvalidArgument,
			"unknown operation %q", first.Op))
	}

	if err := encoder.Encode(&reply); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// serveWriteSession handles a create session: the connection carries
// write and flush frames until a close frame or disconnect. A
// disconnect without close abandons the handle; closing it leaves the
// object incomplete for a later writer to observe.
func (s *Server) serveWriteSession(ctx context.Context, encoder *codec.Encoder, decoder *codec.Decoder, first *request) {
	out, err := s.backend.Create(ctx, first.Path, first.Mode, fromWireOptions(first.Options))
	if err != nil {
		s.send(encoder, errorResponse(err))
		return
	}
	defer out.Close()

	if !s.send(encoder, response{OK: true}) {
		return
	}

	for {
		var frame request
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("decoding write frame", "path", first.Path, "error", err)
			}
			return
		}

		var reply response
		switch frame.Op {
		case opWrite:
			if err := out.Write(frame.Data); err != nil {
				reply = errorResponse(err)
			} else {
				reply = response{OK: true, Written: out.BytesWritten()}
			}

		case opFlush:
			if err := out.Flush(); err != nil {
				reply = errorResponse(err)
			} else {
				reply = response{OK: true, Written: out.BytesWritten()}
			}

		case opClose:
			if err := out.Close(); err != nil {
				reply = errorResponse(err)
			} else {
				reply = response{OK: true, Written: out.BytesWritten()}
			}
			s.send(encoder, reply)
			return

		default:
			reply = errorResponse(fserror.Errorf(fserror.KindInvalidArgument,
				"operation %q not valid in a write session", frame.Op))
		}

		if !s.send(encoder, reply) {
			return
		}
	}
}

// serveReadSession handles an open session: the connection answers
// positioned read frames until a close frame or disconnect.
func (s *Server) serveReadSession(ctx context.Context, encoder *codec.Encoder, decoder *codec.Decoder, first *request) {
	handle, err := s.backend.Open(ctx, first.Path)
	if err != nil {
		s.send(encoder, errorResponse(err))
		return
	}
	defer handle.Close()

	opened := response{OK: true, Status: &wireStatus{Length: handle.Size(), Completed: true}}
	if !s.send(encoder, opened) {
		return
	}

	for {
		var frame request
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("decoding read frame", "path", first.Path, "error", err)
			}
			return
		}

		var reply response
		switch frame.Op {
		case opRead:
			if frame.Length < 0 || frame.Offset < 0 {
				reply = errorResponse(fserror.Errorf(fserror.KindInvalidArgument,
					"invalid read extent offset=%d length=%d", frame.Offset, frame.Length))
				break
			}
			buf := make([]byte, frame.Length)
			n, err := handle.ReadAt(buf, frame.Offset)
			if err != nil && !errors.Is(err, io.EOF) {
				reply = errorResponse(err)
			} else {
				// A short Data slice is the EOF signal.
				reply = response{OK: true, Data: buf[:n]}
			}

		case opClose:
			reply = response{OK: true}
			if err := handle.Close(); err != nil {
				reply = errorResponse(err)
			}
			s.send(encoder, reply)
			return

		default:
			reply = errorResponse(fserror.Errorf(fserror.KindInvalidArgument,
				"operation %q not valid in a read session", frame.Op))
		}

		if !s.send(encoder, reply) {
			return
		}
	}
}

func (s *Server) send(encoder *codec.Encoder, reply response) bool {
	if err := encoder.Encode(&reply); err != nil {
		s.logger.Error("encoding response", "error", err)
		return false
	}
	return true
}
