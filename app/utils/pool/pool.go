// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pool provides a semaphore-bounded worker pool. The orchestrator
// uses it to cap the number of simultaneous in-flight transfers: excess work
// queues on the semaphore until a slot frees up.
package pool

import "sync"

const errChannelBuffer = 128

// Task is a unit of work submitted to the pool.
type Task func() error

// Pool runs tasks with bounded concurrency.
type Pool struct {
	wg        sync.WaitGroup
	semaphore chan struct{}
}

// New creates a pool with the given number of slots. A size below one is
// clamped to one so a misconfigured pool still makes progress.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		semaphore: make(chan struct{}, size),
	}
}

// InFlight reports how many tasks currently hold a slot.
func (p *Pool) InFlight() int {
	return len(p.semaphore)
}

// Run blocks until a slot is free, then executes the task on its own
// goroutine. Task errors are delivered to the waiter.
func (p *Pool) Run(fn Task, waiter *Waiter) {
	waiter.wg.Add(1)
	p.semaphore <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer waiter.wg.Done()
		defer func() {
			p.wg.Done()
			<-p.semaphore
		}()

		if err := fn(); err != nil {
			waiter.errch <- err
		}
	}()
}

// Close waits for all running tasks to finish.
func (p *Pool) Close() {
	p.wg.Wait()
}

// Waiter aggregates completion and errors for one batch of tasks.
type Waiter struct {
	wg    sync.WaitGroup
	errch chan error
}

// NewWaiter creates a waiter for a batch submission.
func NewWaiter() *Waiter {
	return &Waiter{errch: make(chan error, errChannelBuffer)}
}

// Wait blocks until every submitted task completed, then closes the error
// channel.
func (w *Waiter) Wait() {
	w.wg.Wait()
	close(w.errch)
}

// Err returns the read-only error channel; drain it after Wait.
func (w *Waiter) Err() <-chan error {
	return w.errch
}
