// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest provides an in-memory store.Client fake for unit
// tests of the stream adapter and the FUSE layer.
//
// The fake holds files in a map, tracks completion per path, records
// the WriteOptions passed to Create, and supports failure injection on
// the output-handle operations. WaitForCompleted blocks on a
// broadcast channel, so a test can hold a file incomplete, start an
// open in a goroutine, and then complete the file to release it.
package storetest
