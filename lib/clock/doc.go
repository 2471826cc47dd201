// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() provides
// standard library behavior; Fake() provides a deterministic clock that
// advances only when Advance is called.
//
// The completion-wait polling in the local store is the main consumer:
// its tests register a fake ticker, advance the clock past the poll
// interval, and observe the poll fire without any real sleeping.
package clock
