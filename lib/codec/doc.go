// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for store metadata
// sidecars and the store wire protocol.
//
// Encoding is Core Deterministic Encoding (RFC 8949 §4.2): the same
// logical value always produces identical bytes, which keeps sidecar
// rewrites comparable and wire frames reproducible. Decoding ignores
// unknown fields for forward compatibility, so an older gateway can
// talk to a newer store daemon.
package codec
