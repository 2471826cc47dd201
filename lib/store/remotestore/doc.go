// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotestore exposes a lode store over a Unix socket and
// provides the matching client. The wire protocol is CBOR
// request/response frames: metadata operations (status, wait, delete,
// list) use one connection per exchange, while create and open turn
// their connection into a session carrying the write or read frames
// for one handle. Error kinds survive the wire, so a client-side
// caller sees the same fserror taxonomy it would against the local
// store.
package remotestore
