// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package remotestore

import (
	"time"

	"github.com/lodestore/lodefs/lib/fserror"
	"github.com/lodestore/lodefs/lib/store"
)

// Operation names. The first frame on a connection names one of
// these; "write", "flush", "read", and "close" are only valid inside
// a session opened by "create" or "open".
const (
	opStatus = "status"
	opWait   = "wait"
	opDelete = "delete"
	opList   = "list"
	opCreate = "create"
	opOpen   = "open"
	opWrite  = "write"
	opFlush  = "flush"
	opRead   = "read"
	opClose  = "close"
)

// request is one CBOR frame from client to server.
type request struct {
	// Op is the operation name.
	Op string `cbor:"op"`

	// Path is the logical object path for path-addressed operations.
	Path string `cbor:"path,omitempty"`

	// Prefix filters "list".
	Prefix string `cbor:"prefix,omitempty"`

	// Mode is the permission mode for "create".
	Mode uint32 `cbor:"mode,omitempty"`

	// Options carries the write options for "create".
	Options *wireWriteOptions `cbor:"options,omitempty"`

	// Data is the payload for "write".
	Data []byte `cbor:"data,omitempty"`

	// Offset and Length address a "read".
	Offset int64 `cbor:"offset,omitempty"`
	Length int   `cbor:"length,omitempty"`

	// TimeoutMillis bounds a "wait" server-side. Zero means the
	// server's own default applies.
	TimeoutMillis int64 `cbor:"timeout_millis,omitempty"`
}

// response is one CBOR frame from server to client.
type response struct {
	OK bool `cbor:"ok"`

	// ErrorKind and Error reconstruct the fserror on the client when
	// OK is false. ErrorKind holds the wire name of the kind.
	ErrorKind string `cbor:"error_kind,omitempty"`
	Error     string `cbor:"error,omitempty"`

	// Status is set by "status", "wait", and "open". For "status" the
	// Found flag distinguishes absent objects from errors.
	Status *wireStatus `cbor:"status,omitempty"`
	Found  bool        `cbor:"found,omitempty"`

	// Entries is the "list" result.
	Entries []wireEntry `cbor:"entries,omitempty"`

	// Data is the "read" result; Data shorter than the requested
	// length means the read hit the end of the object.
	Data []byte `cbor:"data,omitempty"`

	// Written acknowledges the handle's total accepted bytes after a
	// "write" or "flush".
	Written uint64 `cbor:"written,omitempty"`
}

type wireStatus struct {
	Length    uint64 `cbor:"length"`
	Mode      uint32 `cbor:"mode"`
	Completed bool   `cbor:"completed"`
}

type wireEntry struct {
	Path   string     `cbor:"path"`
	Status wireStatus `cbor:"status"`
}

type wireWriteOptions struct {
	BlockSize     int64             `cbor:"block_size,omitempty"`
	Tier          string            `cbor:"tier,omitempty"`
	TTLSeconds    int64             `cbor:"ttl_seconds,omitempty"`
	Policy        string            `cbor:"policy,omitempty"`
	PolicyOptions map[string]string `cbor:"policy_options,omitempty"`
	Hostname      string            `cbor:"hostname,omitempty"`
}

func toWireStatus(s store.Status) *wireStatus {
	return &wireStatus{Length: s.Length, Mode: s.Mode, Completed: s.Completed}
}

func fromWireStatus(w *wireStatus) store.Status {
	if w == nil {
		return store.Status{}
	}
	return store.Status{Length: w.Length, Mode: w.Mode, Completed: w.Completed}
}

func toWireOptions(o store.WriteOptions) *wireWriteOptions {
	return &wireWriteOptions{
		BlockSize:     o.BlockSize,
		Tier:          o.Tier,
		TTLSeconds:    int64(o.TTL / time.Second),
		Policy:        o.Policy,
		PolicyOptions: o.PolicyOptions,
		Hostname:      o.Hostname,
	}
}

func fromWireOptions(w *wireWriteOptions) store.WriteOptions {
	if w == nil {
		return store.WriteOptions{}
	}
	return store.WriteOptions{
		BlockSize:     w.BlockSize,
		Tier:          w.Tier,
		TTL:           time.Duration(w.TTLSeconds) * time.Second,
		Policy:        w.Policy,
		PolicyOptions: w.PolicyOptions,
		Hostname:      w.Hostname,
	}
}

// errorResponse converts a server-side error into a frame that
// preserves the fserror kind across the wire.
func errorResponse(err error) response {
	return response{
		OK:        false,
		ErrorKind: fserror.KindOf(err).String(),
		Error:     err.Error(),
	}
}

// responseError reconstructs the error carried by a failed frame.
func responseError(r *response) error {
	kind := fserror.ParseKind(r.ErrorKind)
	if kind == fserror.KindUnknown {
		kind = fserror.KindIO
	}
	return fserror.New(kind, r.Error)
}
