// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the contract between the gateway and a lode
// store backend.
//
// A lode store holds write-once files with sequential, gap-free write
// semantics: a file is created, appended to by exactly one writer, and
// finalized. Until finalized, the file is "incomplete" — a
// backend-visible state that other writers use for cooperative
// cross-process exclusion. The Client interface covers the operations
// the stream adapter and the FUSE layer need; concrete backends live
// in the localstore and remotestore subpackages, with an in-memory
// fake in storetest.
package store
