// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package healthz is the process-wide health check registry. Components
// register named checks at startup; the control API exposes them on one
// /healthz endpoint that fails fast on the first unhealthy check.
package healthz

import (
	"net/http"
	"sync"
)

// HealthCheck reports nil when the component is healthy. Checks run on every
// endpoint hit, so keep them cheap.
type HealthCheck func() error

// HealthChecker serves the registered checks over HTTP.
type HealthChecker interface {
	// EndpointHandler returns 200 "ok" when every check passes and 500 with
	// the failing check's name otherwise.
	EndpointHandler() http.HandlerFunc
}

var (
	h    *checker
	once sync.Once
)

// Register adds a named check to the global registry. Safe for concurrent
// use; registering the same name again replaces the check.
func Register(name string, fn HealthCheck) {
	chkr, ok := NewHealthz().(*checker)
	if !ok {
		panic("unexpected type mismatch")
	}
	chkr.add(name, fn)
}

// NewHealthz returns the singleton checker.
func NewHealthz() HealthChecker {
	once.Do(func() {
		h = &checker{}
	})
	return h
}

type checker struct {
	mu     sync.Mutex
	checks map[string]HealthCheck
}

func (x *checker) add(name string, fn HealthCheck) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.checks == nil {
		x.checks = make(map[string]HealthCheck)
	}
	x.checks[name] = fn
}

func (x *checker) snapshot() map[string]HealthCheck {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make(map[string]HealthCheck, len(x.checks))
	for name, fn := range x.checks {
		out[name] = fn
	}
	return out
}

func (x *checker) EndpointHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for name, check := range x.snapshot() {
			if err := check(); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(name + " failed: " + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
