// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for lodefs daemons.
//
// Configuration is loaded from a single YAML file specified by:
//   - LODEFS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// do not override file values; the file is the single source of truth.
package config
