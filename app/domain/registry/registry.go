// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the canonical store of tracked files. All
// lifecycle mutations flow through Transition, which enforces the upload
// state machine; independent UI surfaces observe the store through the
// publish/subscribe channel rather than shared globals.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nstephens/glowworm/app/config"
	"github.com/nstephens/glowworm/app/types"
)

const eventBuffer = 64

var (
	ErrFileNotFound      = errors.New("file not found in the registry")
	ErrInvalidTransition = errors.New("illegal lifecycle transition")
	ErrNotUploading      = errors.New("progress updates require the uploading state")
)

// Registry is the single owned store of tracked files.
type Registry struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	files   map[string]*types.TrackedFile
	order   []string
	subs    map[int]chan types.RegistryEvent
	nextSub int

	maxFileSize   int64
	acceptedTypes map[string]struct{}
	maxFiles      int
}

// New creates an empty registry with admission limits taken from settings.
func New(settings *config.Settings, logger zerolog.Logger) *Registry {
	accepted := make(map[string]struct{}, len(settings.Uploads.AcceptedTypes))
	for _, t := range settings.Uploads.AcceptedTypes {
		accepted[t] = struct{}{}
	}

	return &Registry{
		logger:        logger.With().Str("component", "registry").Logger(),
		files:         make(map[string]*types.TrackedFile),
		subs:          make(map[int]chan types.RegistryEvent),
		maxFileSize:   settings.GetMaxFileSizeBytes(),
		acceptedTypes: accepted,
		maxFiles:      settings.Uploads.MaxFiles,
	}
}

// Subscribe returns a buffered event channel and its unsubscribe function.
// Slow subscribers drop events rather than blocking mutations.
func (r *Registry) Subscribe() (<-chan types.RegistryEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan types.RegistryEvent, eventBuffer)
	r.subs[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
}

// publish fans the event out to subscribers. Callers hold r.mu.
func (r *Registry) publish(event types.RegistryEvent) {
	for id, sub := range r.subs {
		select {
		case sub <- event:
		default:
			r.logger.Warn().Int("subscriber", id).Str("event", string(event.Kind)).Msg("subscriber is slow, dropping event")
		}
	}
}

// Get returns a snapshot of one tracked file.
func (r *Registry) Get(id string) (types.TrackedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return types.TrackedFile{}, ErrFileNotFound
	}
	return f.Snapshot(), nil
}

// Has reports whether the id is currently tracked.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[id]
	return ok
}

// List returns snapshots of every tracked file in admission order.
func (r *Registry) List() []types.TrackedFile {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.TrackedFile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.files[id].Snapshot())
	}
	return out
}

// ListByState returns snapshots of files currently in the given state.
func (r *Registry) ListByState(state types.LifecycleState) []types.TrackedFile {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.TrackedFile
	for _, id := range r.order {
		if f := r.files[id]; f.State == state {
			out = append(out, f.Snapshot())
		}
	}
	return out
}

// Count returns how many files the registry tracks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// Transition moves a file to a new lifecycle state. It is the only mutation
// path for State. Repeating the current state is an idempotent no-op. The
// detail argument carries the error message for transitions into FileError
// and is ignored otherwise.
func (r *Registry) Transition(id string, newState types.LifecycleState, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return ErrFileNotFound
	}

	if f.State == newState {
		return nil
	}
	if !types.CanTransition(f.State, newState) {
		return fmt.Errorf("%w: %s -> %s for file %s", ErrInvalidTransition, f.State, newState, id)
	}

	f.State = newState
	f.TransitionedAt = time.Now().UTC()

	switch newState {
	case types.FileCompleted:
		f.ProgressPercent = 100
		f.ErrorMessage = ""
	case types.FileError:
		if detail == "" {
			detail = "upload failed"
		}
		f.ErrorMessage = detail
	case types.FilePending:
		// retry re-entry restarts progress telemetry
		f.ProgressPercent = 0
		f.ErrorMessage = ""
	default:
		f.ErrorMessage = ""
	}

	r.logger.Debug().Str("file", id).Str("state", newState.String()).Msg("file transitioned")
	r.publish(types.RegistryEvent{Kind: types.EventFileTransition, File: f.Snapshot()})
	return nil
}

// SetProgress records transfer progress for a file that is currently
// uploading. 100 is reserved for the Completed transition, so values are
// clamped to 99 here.
func (r *Registry) SetProgress(id string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return ErrFileNotFound
	}
	if f.State != types.FileUploading {
		return ErrNotUploading
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		percent = 99
	}
	if percent == f.ProgressPercent {
		return nil
	}

	f.ProgressPercent = percent
	r.publish(types.RegistryEvent{Kind: types.EventFileProgress, File: f.Snapshot()})
	return nil
}

// Remove destroys a tracked file: the preview handle is released exactly
// once and a removal event notifies downstream consumers (the orchestrator
// cancels any in-flight transfer and pending retry for the id).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return ErrFileNotFound
	}

	f.ReleasePreview()
	delete(r.files, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Debug().Str("file", id).Msg("file removed")
	r.publish(types.RegistryEvent{Kind: types.EventFileRemoved, File: f.Snapshot()})
	return nil
}

// Clear removes every tracked file, releasing each preview handle and
// publishing per-file removal events followed by one cleared event.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		f := r.files[id]
		f.ReleasePreview()
		delete(r.files, id)
		r.publish(types.RegistryEvent{Kind: types.EventFileRemoved, File: f.Snapshot()})
	}
	r.order = r.order[:0]

	r.logger.Debug().Msg("registry cleared")
	r.publish(types.RegistryEvent{Kind: types.EventRegistryCleared})
}
