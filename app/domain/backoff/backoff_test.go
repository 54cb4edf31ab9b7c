// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nstephens/glowworm/app/domain/backoff"
	"github.com/nstephens/glowworm/app/types"
)

// fixedSource always returns the same value, making jitter deterministic.
type fixedSource struct{ v float64 }

func (s fixedSource) Float64() float64 { return s.v }

func TestBackoff_Unit_DelayCurve(t *testing.T) {
	p := backoff.NewPolicy(backoff.Strategy{
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}, fixedSource{0})

	assert.Equal(t, 1*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
}

func TestBackoff_Unit_DelayMonotonicAndCapped(t *testing.T) {
	p := backoff.NewPolicy(backoff.Strategy{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}, fixedSource{0})

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, d, 10*time.Second, "delay must never exceed MaxDelay")
		prev = d
	}
	assert.Equal(t, 10*time.Second, p.Delay(19))
}

func TestBackoff_Unit_JitterBound(t *testing.T) {
	base := 1 * time.Second

	// maximum jitter draws at most 10% on top of the raw delay
	high := backoff.NewPolicy(backoff.Strategy{
		BaseDelay:     base,
		MaxDelay:      time.Minute,
		Multiplier:    2,
		JitterEnabled: true,
	}, fixedSource{0.999999})
	assert.Less(t, high.Delay(0), time.Duration(float64(base)*1.1)+time.Millisecond)
	assert.GreaterOrEqual(t, high.Delay(0), base)

	// zero draw leaves the raw delay untouched
	low := backoff.NewPolicy(backoff.Strategy{
		BaseDelay:     base,
		MaxDelay:      time.Minute,
		Multiplier:    2,
		JitterEnabled: true,
	}, fixedSource{0})
	assert.Equal(t, base, low.Delay(0))
}

func TestBackoff_Unit_NegativeAttemptClamped(t *testing.T) {
	p := backoff.NewPolicy(backoff.Strategy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}, fixedSource{0})
	assert.Equal(t, p.Delay(0), p.Delay(-3))
}

func TestBackoff_Unit_Retryable(t *testing.T) {
	cases := []struct {
		name     string
		kind     types.ErrorKind
		attempts int
		max      int
		want     bool
	}{
		{"transient under budget", types.ErrorKindNetwork, 1, 3, true},
		{"transient at budget", types.ErrorKindNetwork, 3, 3, false},
		{"transient over budget", types.ErrorKindTimeout, 5, 3, false},
		{"permanent first attempt", types.ErrorKindFileTooLarge, 0, 3, false},
		{"auth never retried", types.ErrorKindAuthentication, 1, 10, false},
		{"quota never retried", types.ErrorKindQuotaExceeded, 0, 10, false},
		{"server under budget", types.ErrorKindServer, 2, 3, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, backoff.Retryable(c.kind, c.attempts, c.max))
		})
	}
}
