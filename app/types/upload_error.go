// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// UploadError is the user-facing record of a failed transfer. A file holds at
// most one active error; history beyond the latest is not retained.
type UploadError struct {
	ID              string
	FileID          string
	Kind            ErrorKind
	Message         string
	FirstObservedAt time.Time
	AttemptCount    int
	MaxAttempts     int
}

// Retryable reports whether a manual retry can still succeed: the kind must
// be transient and the attempt budget not exhausted.
func (e *UploadError) Retryable() bool {
	return !e.Kind.Permanent() && e.AttemptCount < e.MaxAttempts
}

// Synthetic reports whether the error is a systemic advisory (offline or
// unhealthy server) rather than a per-file failure.
func (e *UploadError) Synthetic() bool {
	return e.FileID == ""
}
