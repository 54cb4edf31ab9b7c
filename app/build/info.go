// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package build carries version metadata stamped at link time.
package build

// Overridden with -ldflags at release build time.
var (
	Rev       = "unknown"
	Tag       = "dev"
	BuildTime = "unknown"
)

// Version returns the human-readable version string.
func Version() string {
	return Tag + " (" + Rev + ")"
}
