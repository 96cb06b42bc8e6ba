// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package flowtest holds end-to-end scenarios exercising the full stack:
// store, photo cache, sync engine and finalization flow against an
// in-memory remote backend, through connectivity changes and across
// devices.
package flowtest
