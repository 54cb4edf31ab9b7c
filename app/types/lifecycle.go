// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package types defines the core data model for the upload reliability layer:
// tracked files and their lifecycle, upload errors, network telemetry
// snapshots, and the events published by the file registry.
package types

// LifecycleState is the position of a tracked file in the upload state
// machine.
type LifecycleState string

const (
	FilePending   LifecycleState = "pending"
	FileUploading LifecycleState = "uploading"
	FileCompleted LifecycleState = "completed"
	FileError     LifecycleState = "error"
	FileCancelled LifecycleState = "cancelled"
)

// lifecycleTransitions is the full set of legal state changes. Completion and
// failure are only reachable through Uploading, so progress telemetry is
// always defined for them. Cancellation is reachable from every non-terminal
// state: a queued or failed file can be cancelled without ever starting a
// transfer.
var lifecycleTransitions = map[LifecycleState][]LifecycleState{
	FilePending:   {FileUploading, FileCancelled},
	FileUploading: {FileCompleted, FileError, FileCancelled},
	FileError:     {FilePending, FileCancelled},
	FileCompleted: {},
	FileCancelled: {},
}

// CanTransition reports whether moving from one lifecycle state to another is
// legal. A transition to the current state is always allowed; callers treat
// it as an idempotent repeat.
func CanTransition(from, to LifecycleState) bool {
	if from == to {
		return true
	}
	for _, next := range lifecycleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing transitions besides
// retry re-entry.
func (s LifecycleState) Terminal() bool {
	return s == FileCompleted || s == FileCancelled
}

func (s LifecycleState) String() string {
	return string(s)
}
