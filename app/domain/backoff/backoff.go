// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package backoff computes retry delays for failed transfers. The policy is
// pure: given the same attempt number and random source it always produces
// the same delay, so tests inject a fixed source.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/nstephens/glowworm/app/types"
)

const jitterFraction = 0.1

// Source provides the randomness used for jitter. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Strategy holds the tunables of the exponential backoff curve.
type Strategy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// Policy computes delays under a Strategy.
type Policy struct {
	strategy Strategy
	rng      Source
}

// NewPolicy creates a Policy. A nil source falls back to a time-seeded
// rand.Rand; tests pass a fixed source instead.
func NewPolicy(strategy Strategy, rng Source) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter, not crypto
	}
	if strategy.Multiplier <= 0 {
		strategy.Multiplier = 1
	}
	return &Policy{strategy: strategy, rng: rng}
}

// Delay returns the wait before retry number attempt (0-based: attempt 0 is
// the delay after the first failure). The raw curve is
// base * multiplier^attempt capped at MaxDelay; when jitter is enabled a
// uniform value in [0, 0.1*delay) is added so many files failing at once do
// not retry in lockstep.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	raw := float64(p.strategy.BaseDelay) * math.Pow(p.strategy.Multiplier, float64(attempt))
	capped := float64(p.strategy.MaxDelay)
	if p.strategy.MaxDelay > 0 && raw > capped {
		raw = capped
	}

	delay := time.Duration(raw)
	if p.strategy.JitterEnabled && delay > 0 {
		delay += time.Duration(p.rng.Float64() * jitterFraction * float64(delay))
	}
	return delay
}

// Retryable reports whether another automatic attempt is allowed: permanent
// kinds are never retried regardless of attempts, and transient kinds stop
// once the attempt budget is spent.
func Retryable(kind types.ErrorKind, attemptCount, maxAttempts int) bool {
	if kind.Permanent() {
		return false
	}
	return attemptCount < maxAttempts
}
