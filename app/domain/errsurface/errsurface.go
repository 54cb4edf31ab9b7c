// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package errsurface derives the user-facing error list from the stream of
// surfaced upload errors: at most one entry per file plus at most one
// systemic advisory. The surface is presentational; dismissing an entry
// never changes transfer state.
package errsurface

import (
	"context"
	"sort"
	"sync"

	"github.com/nstephens/glowworm/app/types"
)

// Retrier is the orchestrator surface a retry delegates to.
type Retrier interface {
	Retry(errorID string) error
}

// Surface holds the visible errors.
type Surface struct {
	mu       sync.Mutex
	retrier  Retrier
	byID     map[string]types.UploadError
	byFile   map[string]string // fileID -> error id
	advisory *types.UploadError
}

// New creates an empty surface. Wire Observe into the orchestrator with
// AddErrorListener.
func New(retrier Retrier) *Surface {
	return &Surface{
		retrier: retrier,
		byID:    make(map[string]types.UploadError),
		byFile:  make(map[string]string),
	}
}

// Observe folds one surfaced error in. A duplicate of the current entry for
// the same file (same kind and message) is coalesced rather than re-added; a
// different error replaces the file's entry, keeping at most one per file.
func (s *Surface) Observe(e types.UploadError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Synthetic() {
		if s.advisory != nil && s.advisory.Kind == e.Kind && s.advisory.Message == e.Message {
			return
		}
		s.advisory = &e
		return
	}

	if prevID, ok := s.byFile[e.FileID]; ok {
		prev := s.byID[prevID]
		if prev.Kind == e.Kind && prev.Message == e.Message {
			// same failure again; keep the original observation time but
			// track the spent attempts
			prev.AttemptCount = e.AttemptCount
			s.byID[prevID] = prev
			return
		}
		delete(s.byID, prevID)
	}

	s.byID[e.ID] = e
	s.byFile[e.FileID] = e.ID
}

// List returns the advisory (if any) followed by per-file entries ordered by
// first observation.
func (s *Surface) List() []types.UploadError {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.UploadError, 0, len(s.byID)+1)
	if s.advisory != nil {
		out = append(out, *s.advisory)
	}

	files := make([]types.UploadError, 0, len(s.byID))
	for _, e := range s.byID {
		files = append(files, e)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].FirstObservedAt.Equal(files[j].FirstObservedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].FirstObservedAt.Before(files[j].FirstObservedAt)
	})

	return append(out, files...)
}

// Dismiss hides one entry. It reports whether anything was dismissed. The
// underlying file state is untouched; a file in Error stays in Error.
func (s *Surface) Dismiss(errorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.advisory != nil && s.advisory.ID == errorID {
		s.advisory = nil
		return true
	}

	e, ok := s.byID[errorID]
	if !ok {
		return false
	}
	delete(s.byID, errorID)
	delete(s.byFile, e.FileID)
	return true
}

// DropFile removes the entry for a file that left the registry.
func (s *Surface) DropFile(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byFile[fileID]; ok {
		delete(s.byID, id)
		delete(s.byFile, fileID)
	}
}

// dropAllFiles removes every per-file entry. The systemic advisory is not
// file-bound and stays.
func (s *Surface) dropAllFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]types.UploadError)
	s.byFile = make(map[string]string)
}

// Watch consumes registry events and prunes entries for files that left the
// registry, keeping at most one entry per tracked file. It blocks until the
// channel closes or ctx is cancelled; run it on its own goroutine next to the
// orchestrator's event loop.
func (s *Surface) Watch(ctx context.Context, events <-chan types.RegistryEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case types.EventFileRemoved:
				s.DropFile(ev.File.ID)
			case types.EventRegistryCleared:
				s.dropAllFiles()
			default:
			}
		}
	}
}

// Retry delegates to the orchestrator and removes the entry when the retry
// was accepted.
func (s *Surface) Retry(errorID string) error {
	s.mu.Lock()
	isAdvisory := s.advisory != nil && s.advisory.ID == errorID
	s.mu.Unlock()

	if isAdvisory {
		// an advisory has no file to retry; dismissing is the only action
		s.Dismiss(errorID)
		return nil
	}

	if err := s.retrier.Retry(errorID); err != nil {
		return err
	}
	s.Dismiss(errorID)
	return nil
}
