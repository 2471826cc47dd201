// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package fserror classifies gateway failures into a small closed
// taxonomy and translates them to kernel errno values.
//
// Every error that crosses a package boundary in lodefs carries a Kind.
// The stream adapter and the store clients attach kinds at the point of
// failure; the FUSE layer calls Errno at the syscall boundary to pick
// the errno the kernel reports to applications. Inner causes stay
// reachable through errors.Is and errors.As, so callers can both switch
// on the kind and inspect the underlying transport failure.
package fserror
