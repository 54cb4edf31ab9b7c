// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nstephens/glowworm/app/utils/scheduler"
)

func TestScheduler_Unit_FiresAfterDelay(t *testing.T) {
	s := scheduler.NewTimed()
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never fired")
	}
}

func TestScheduler_Unit_CancelPreventsRun(t *testing.T) {
	s := scheduler.NewTimed()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	h := s.Schedule(time.Hour, func() { fired <- struct{}{} })
	assert.True(t, h.Cancel())

	select {
	case <-fired:
		t.Fatal("cancelled task ran anyway")
	case <-time.After(20 * time.Millisecond):
	}

	// second cancel is a no-op
	assert.False(t, h.Cancel())
}

func TestScheduler_Unit_StopCancelsPending(t *testing.T) {
	s := scheduler.NewTimed()

	fired := make(chan struct{}, 2)
	s.Schedule(time.Hour, func() { fired <- struct{}{} })
	s.Schedule(time.Hour, func() { fired <- struct{}{} })
	s.Stop()

	// post-stop scheduling is inert
	h := s.Schedule(time.Millisecond, func() { fired <- struct{}{} })
	assert.False(t, h.Cancel())

	select {
	case <-fired:
		t.Fatal("task ran after Stop")
	case <-time.After(20 * time.Millisecond):
	}
}
