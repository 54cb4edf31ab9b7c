// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package pool_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nstephens/glowworm/app/utils/pool"
)

func TestPool_Unit_BoundsConcurrency(t *testing.T) {
	const size = 2
	p := pool.New(size)
	waiter := pool.NewWaiter()

	var current, peak int64
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		p.Run(func() error {
			n := atomic.AddInt64(&current, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			atomic.AddInt64(&current, -1)
			return nil
		}, waiter)
	}
	waiter.Wait()
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(size))
}

func TestPool_Unit_CollectsErrors(t *testing.T) {
	p := pool.New(4)
	waiter := pool.NewWaiter()

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		p.Run(func() error { return boom }, waiter)
	}
	p.Run(func() error { return nil }, waiter)
	waiter.Wait()
	p.Close()

	var count int
	for err := range waiter.Err() {
		assert.ErrorIs(t, err, boom)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestPool_Unit_ClampsSize(t *testing.T) {
	p := pool.New(0)
	waiter := pool.NewWaiter()
	p.Run(func() error { return nil }, waiter)
	waiter.Wait()
	p.Close()
	assert.Equal(t, 0, p.InFlight())
}
