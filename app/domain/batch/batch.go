// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package batch manages multi-file selections and dispatches bulk actions.
// The selection stores ids only; file snapshots are resolved at dispatch time
// and nothing is retained afterwards, so a stale selection can never act on a
// removed file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/nstephens/glowworm/app/domain/orchestrator"
	"github.com/nstephens/glowworm/app/domain/registry"
	"github.com/nstephens/glowworm/app/types"
)

// Action is a bulk operation applied to the current selection.
type Action string

const (
	ActionRetry       Action = "retry"
	ActionCancel      Action = "cancel"
	ActionDelete      Action = "delete"
	ActionMoveToAlbum Action = "move_to_album"
	ActionAddTags     Action = "add_tags"
)

var (
	ErrEmptySelection = errors.New("the selection is empty")
	ErrUnknownAction  = errors.New("unknown batch action")
	ErrNoLibrarian    = errors.New("no librarian collaborator is configured")
)

// Transfers is the orchestrator surface batch actions need.
type Transfers interface {
	Cancel(fileID string) error
	RetryFile(fileID string) error
}

// Librarian applies library mutations (albums, tags) on the server side.
// Album and tag management is out of scope here, so the collaborator is
// injected and may be absent.
type Librarian interface {
	MoveToAlbum(ctx context.Context, fileIDs []string, albumID string) error
	AddTags(ctx context.Context, fileIDs []string, tags []string) error
}

// DispatchData carries the action-specific payload.
type DispatchData struct {
	AlbumID string
	Tags    []string
}

// Manager tracks the current selection.
type Manager struct {
	mu        sync.Mutex
	registry  *registry.Registry
	transfers Transfers
	librarian Librarian
	selected  map[string]struct{}
}

// New creates an empty selection manager. librarian may be nil.
func New(reg *registry.Registry, transfers Transfers, librarian Librarian) *Manager {
	return &Manager{
		registry:  reg,
		transfers: transfers,
		librarian: librarian,
		selected:  make(map[string]struct{}),
	}
}

// Toggle flips the selection state of one file and reports whether the file
// is selected afterwards. Unknown ids are ignored.
func (m *Manager) Toggle(fileID string) bool {
	if !m.registry.Has(fileID) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.selected[fileID]; ok {
		delete(m.selected, fileID)
		return false
	}
	m.selected[fileID] = struct{}{}
	return true
}

// SelectAll selects every currently tracked file.
func (m *Manager) SelectAll() {
	ids := lo.Map(m.registry.List(), func(f types.TrackedFile, _ int) string { return f.ID })

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.selected[id] = struct{}{}
	}
}

// Clear empties the selection.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[string]struct{})
}

// Selection returns the selected ids with stale entries pruned. Pruning is
// lazy: files removed since selection drop out here, not at removal time.
func (m *Manager) Selection() []string {
	m.mu.Lock()
	ids := lo.Keys(m.selected)
	m.mu.Unlock()

	live := lo.Filter(ids, func(id string, _ int) bool { return m.registry.Has(id) })

	m.mu.Lock()
	for _, id := range ids {
		if !m.registry.Has(id) {
			delete(m.selected, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(live)
	return live
}

// Count returns the live selection size.
func (m *Manager) Count() int {
	return len(m.Selection())
}

// Dispatch applies one action to the live selection, then clears it. File
// snapshots are resolved here, at call time.
func (m *Manager) Dispatch(ctx context.Context, action Action, data DispatchData) error {
	ids := m.Selection()
	if len(ids) == 0 {
		return ErrEmptySelection
	}
	defer m.Clear()

	log.Ctx(ctx).Info().Str("action", string(action)).Int("files", len(ids)).Msg("dispatching batch action")

	switch action {
	case ActionDelete:
		return m.each(ids, m.registry.Remove)
	case ActionCancel:
		return m.each(ids, m.transfers.Cancel)
	case ActionRetry:
		return m.each(ids, func(id string) error {
			err := m.transfers.RetryFile(id)
			if errors.Is(err, orchestrator.ErrErrorNotFound) {
				// selected files without a surfaced error have nothing to retry
				return nil
			}
			return err
		})
	case ActionMoveToAlbum:
		if m.librarian == nil {
			return ErrNoLibrarian
		}
		return m.librarian.MoveToAlbum(ctx, ids, data.AlbumID)
	case ActionAddTags:
		if m.librarian == nil {
			return ErrNoLibrarian
		}
		return m.librarian.AddTags(ctx, ids, data.Tags)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// each applies fn per file, collecting failures instead of stopping at the
// first one.
func (m *Manager) each(ids []string, fn func(string) error) error {
	var errs []error
	for _, id := range ids {
		if err := fn(id); err != nil {
			errs = append(errs, fmt.Errorf("file %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
