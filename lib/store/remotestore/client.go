// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package remotestore

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lodestore/lodefs/lib/codec"
	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// Client is a store.Client backed by a remote store server. Metadata
// operations dial a fresh connection per call; write and read handles
// each own a dedicated session connection.
type Client struct {
	network string
	address string
	dialer  net.Dialer
}

var _ store.Client = (*Client)(nil)

// Dial returns a client for the server at the given Unix socket path.
// No connection is made until the first operation.
func Dial(socketPath string) *Client {
	return &Client{network: "unix", address: socketPath}
}

func (c *Client) connect(ctx context.Context) (net.Conn, *codec.Encoder, *codec.Decoder, error) {
	conn, err := c.dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, nil, nil, fserror.Wrap(fserror.KindUnavailable, err, "dialing store server")
	}
	return conn, codec.NewEncoder(conn), codec.NewDecoder(conn), nil
}

// roundTrip runs one single-shot exchange on a fresh connection.
func (c *Client) roundTrip(ctx context.Context, req *request) (*response, error) {
	conn, encoder, decoder, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return exchange(encoder, decoder, req)
}

// exchange sends one frame and decodes one reply, mapping a failed
// reply back to its fserror.
func exchange(encoder *codec.Encoder, decoder *codec.Decoder, req *request) (*response, error) {
	if err := encoder.Encode(req); err != nil {
		return nil, fserror.Wrap(fserror.KindUnavailable, err, "sending request")
	}
	var reply response
	if err := decoder.Decode(&reply); err != nil {
		return nil, fserror.Wrap(fserror.KindUnavailable, err, "reading response")
	}
	if !reply.OK {
		return nil, responseError(&reply)
	}
	return &reply, nil
}

// Status implements store.Client.
func (c *Client) Status(ctx context.Context, path string) (store.Status, bool, error) {
	reply, err := c.roundTrip(ctx, &request{Op: opStatus, Path: path})
	if err != nil {
		return store.Status{}, false, err
	}
	if !reply.Found {
		return store.Status{}, false, nil
	}
	return fromWireStatus(reply.Status), true, nil
}

// WaitForCompleted implements store.Client. The context deadline is
// forwarded so the server stops polling when the client gives up.
func (c *Client) WaitForCompleted(ctx context.Context, path string) (store.Status, error) {
	req := request{Op: opWait, Path: path}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			req.TimeoutMillis = remaining.Milliseconds()
		}
	}
	reply, err := c.roundTrip(ctx, &req)
	if err != nil {
		return store.Status{}, err
	}
	return fromWireStatus(reply.Status), nil
}

// Delete implements store.Client.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.roundTrip(ctx, &request{Op: opDelete, Path: path})
	return err
}

// List implements store.Client.
func (c *Client) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	reply, err := c.roundTrip(ctx, &request{Op: opList, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	entries := make([]store.Entry, 0, len(reply.Entries))
	for _, entry := range reply.Entries {
		status := entry.Status
		entries = append(entries, store.Entry{Path: entry.Path, Status: fromWireStatus(&status)})
	}
	return entries, nil
}

// Create implements store.Client. The returned handle owns its
// session connection until Close.
func (c *Client) Create(ctx context.Context, path string, mode uint32, options store.WriteOptions) (store.OutHandle, error) {
	conn, encoder, decoder, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := request{Op: opCreate, Path: path, Mode: mode, Options: toWireOptions(options)}
	if _, err := exchange(encoder, decoder, &req); err != nil {
		conn.Close()
		return nil, err
	}
	return &remoteOut{conn: conn, encoder: encoder, decoder: decoder}, nil
}

// Open implements store.Client. The returned handle owns its session
// connection until Close.
func (c *Client) Open(ctx context.Context, path string) (store.ReadHandle, error) {
	conn, encoder, decoder, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := exchange(encoder, decoder, &request{Op: opOpen, Path: path})
	if err != nil {
		conn.Close()
		return nil, err
	}
	size := uint64(0)
	if reply.Status != nil {
		size = reply.Status.Length
	}
	return &remoteRead{conn: conn, encoder: encoder, decoder: decoder, size: size}, nil
}

// remoteOut is the client side of a write session.
type remoteOut struct {
	mu      sync.Mutex
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
	written uint64
	closed  bool
}

var _ store.OutHandle = (*remoteOut)(nil)

func (o *remoteOut) Write(p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fserror.New(fserror.KindIO, "write on closed handle")
	}
	reply, err := exchange(o.encoder, o.decoder, &request{Op: opWrite, Data: p})
	if err != nil {
		return err
	}
	o.written = reply.Written
	return nil
}

func (o *remoteOut) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	_, err := exchange(o.encoder, o.decoder, &request{Op: opFlush})
	return err
}

func (o *remoteOut) BytesWritten() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

func (o *remoteOut) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	_, err := exchange(o.encoder, o.decoder, &request{Op: opClose})
	o.conn.Close()
	return err
}

// remoteRead is the client side of a read session. The session
// carries one read at a time, so concurrent ReadAt calls serialize on
// the mutex.
type remoteRead struct {
	mu      sync.Mutex
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
	size    uint64
	closed  bool
}

var _ store.ReadHandle = (*remoteRead)(nil)

func (r *remoteRead) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fserror.New(fserror.KindIO, "read on closed handle")
	}

	reply, err := exchange(r.encoder, r.decoder, &request{Op: opRead, Offset: off, Length: len(p)})
	if err != nil {
		return 0, err
	}
	n := copy(p, reply.Data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *remoteRead) Size() uint64 { return r.size }

func (r *remoteRead) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_, err := exchange(r.encoder, r.decoder, &request{Op: opClose})
	r.conn.Close()
	return err
}
