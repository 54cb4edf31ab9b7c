// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package scheduler runs functions after a delay and hands back a cancellable
// handle per scheduled task. The orchestrator keys handles by file id so
// removing or cancelling a file also cancels its pending retry.
package scheduler

import (
	"sync"
	"time"
)

// Handle cancels one scheduled task.
type Handle interface {
	// Cancel stops the task if it has not fired yet. Reports whether the
	// cancellation prevented the task from running.
	Cancel() bool
}

// Scheduler schedules delayed tasks. Implementations must be safe for
// concurrent use. Tests substitute a recording implementation so retry
// delays are observable without sleeping.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Handle
}

// Timed is the production Scheduler backed by the runtime timer wheel.
type Timed struct {
	mu      sync.Mutex
	stopped bool
	pending map[*timedHandle]struct{}
}

// NewTimed creates a ready-to-use Timed scheduler.
func NewTimed() *Timed {
	return &Timed{pending: make(map[*timedHandle]struct{})}
}

type timedHandle struct {
	s     *Timed
	timer *time.Timer
}

func (h *timedHandle) Cancel() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if _, ok := h.s.pending[h]; !ok {
		return false
	}
	delete(h.s.pending, h)
	return h.timer.Stop()
}

// Schedule runs fn after delay. After Stop, scheduling becomes a no-op and
// the returned handle reports the task as already cancelled.
func (s *Timed) Schedule(delay time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return noopHandle{}
	}

	h := &timedHandle{s: s}
	h.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.pending[h]
		delete(s.pending, h)
		s.mu.Unlock()

		// a concurrent Cancel or Stop already claimed this task
		if !live {
			return
		}
		fn()
	})
	s.pending[h] = struct{}{}
	return h
}

// Stop cancels every pending task and rejects new ones.
func (s *Timed) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for h := range s.pending {
		h.timer.Stop()
	}
	s.pending = make(map[*timedHandle]struct{})
}

type noopHandle struct{}

func (noopHandle) Cancel() bool { return false }
