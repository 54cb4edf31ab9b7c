// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

// RegistryEventKind identifies what changed in the file registry.
type RegistryEventKind string

const (
	EventFileRegistered  RegistryEventKind = "file_registered"
	EventFileTransition  RegistryEventKind = "file_transition"
	EventFileProgress    RegistryEventKind = "file_progress"
	EventFileRemoved     RegistryEventKind = "file_removed"
	EventRegistryCleared RegistryEventKind = "registry_cleared"
)

// RegistryEvent is published on every registry mutation so independent UI
// surfaces can observe state without sharing the store itself. File is a
// snapshot taken at publish time.
type RegistryEvent struct {
	Kind RegistryEventKind
	File TrackedFile
}
