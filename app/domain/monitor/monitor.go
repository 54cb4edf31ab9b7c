// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package monitor tracks local connectivity and remote server health so the
// orchestrator can refuse doomed transfer batches up front. Snapshots are
// continuously replaced; nothing here accumulates.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nstephens/glowworm/app/config"
	"github.com/nstephens/glowworm/app/transport"
	"github.com/nstephens/glowworm/app/types"
)

// latency ceilings for the link quality classes derived from health probes
const (
	fastLatencyCeiling   = 100 * time.Millisecond
	mediumLatencyCeiling = 400 * time.Millisecond
)

// ConnectivitySource reports the local link state. Platform integrations
// implement it; the default source assumes connectivity and leaves the link
// quality unknown until probe latency fills it in.
type ConnectivitySource interface {
	Snapshot() types.NetworkSnapshot
}

type staticSource struct{}

func (staticSource) Snapshot() types.NetworkSnapshot {
	return types.NetworkSnapshot{
		IsOnline:    true,
		LinkQuality: types.LinkUnknown,
		CapturedAt:  time.Now().UTC(),
	}
}

// AlwaysOnline is the fallback connectivity source used when no platform
// signal is wired in.
func AlwaysOnline() ConnectivitySource { return staticSource{} }

// Monitor periodically refreshes the network snapshot and probes the remote
// health endpoint. It implements types.Runnable.
type Monitor struct {
	settings *config.Settings
	prober   transport.HealthProber
	source   ConnectivitySource

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	mu        sync.RWMutex
	snapshot  types.NetworkSnapshot
	health    types.ServerHealth
	probeFail int // consecutive probe failures
}

// New creates the monitor. A nil source falls back to AlwaysOnline.
func New(ctx context.Context, settings *config.Settings, prober transport.HealthProber, source ConnectivitySource) *Monitor {
	if source == nil {
		source = AlwaysOnline()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Monitor{
		settings: settings,
		prober:   prober,
		source:   source,
		ctx:      ctx,
		cancel:   cancel,
		snapshot: source.Snapshot(),
		health: types.ServerHealth{
			// optimistic until the first probe lands, so a fresh start is not
			// gated on probe timing
			IsHealthy: true,
		},
	}
}

var _ types.Runnable = (*Monitor)(nil)

// Run starts the snapshot and probe loops and blocks until Shutdown or
// context cancellation.
func (m *Monitor) Run() error {
	m.running.Store(true)
	defer m.running.Store(false)

	log.Ctx(m.ctx).Info().
		Dur("snapshotInterval", m.settings.Telemetry.SnapshotInterval).
		Dur("probeInterval", m.settings.Telemetry.ProbeInterval).
		Msg("Telemetry monitor starting ...")

	// run both once at the start so SafeToUpload has real data immediately
	m.RefreshSnapshot()
	m.ProbeOnce()

	group, ctx := errgroup.WithContext(m.ctx)

	group.Go(func() error {
		ticker := time.NewTicker(m.settings.Telemetry.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.RefreshSnapshot()
			}
		}
	})

	group.Go(func() error {
		ticker := time.NewTicker(m.settings.Telemetry.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.ProbeOnce()
			}
		}
	})

	err := group.Wait()
	log.Ctx(m.ctx).Info().Msg("Telemetry monitor stopping")
	return err
}

// IsRunning reports whether the loops are active.
func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}

// Shutdown stops the monitor loops.
func (m *Monitor) Shutdown() error {
	m.cancel()
	return nil
}

// RefreshSnapshot pulls a fresh snapshot from the connectivity source and
// overlays locally known fields: the data saver setting and, when the source
// has no link quality signal of its own, the class derived from probe
// latency.
func (m *Monitor) RefreshSnapshot() {
	snap := m.source.Snapshot()
	snap.CapturedAt = time.Now().UTC()
	if m.settings.Uploads.DataSaver {
		snap.DataSaverEnabled = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.LinkQuality == types.LinkUnknown && m.health.IsHealthy && m.health.ResponseLatency > 0 {
		snap.LinkQuality = classifyLatency(m.health.ResponseLatency)
		snap.MeasuredLatency = m.health.ResponseLatency
	}
	m.snapshot = snap
}

// ProbeOnce issues a single health probe under the configured hard deadline.
// A probe that neither returns nor times out by the deadline counts as a
// failure; the probe goroutine is abandoned rather than waited on.
func (m *Monitor) ProbeOnce() {
	type probeResult struct {
		latency time.Duration
		err     error
	}

	pctx, cancel := context.WithTimeout(m.ctx, m.settings.Telemetry.ProbeDeadline)
	defer cancel()

	results := make(chan probeResult, 1)
	go func() {
		latency, err := m.prober.Probe(pctx)
		results <- probeResult{latency: latency, err: err}
	}()

	deadline := time.NewTimer(m.settings.Telemetry.ProbeDeadline)
	defer deadline.Stop()

	select {
	case res := <-results:
		m.recordProbe(res.latency, res.err)
	case <-deadline.C:
		m.recordProbe(m.settings.Telemetry.ProbeDeadline, fmt.Errorf("health probe missed the %s deadline", m.settings.Telemetry.ProbeDeadline))
	}
}

// recordProbe folds one probe outcome into ServerHealth. A single failed
// probe does not flip a healthy server to unhealthy; it takes the configured
// number of consecutive failures.
func (m *Monitor) recordProbe(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if err != nil {
		m.probeFail++
		m.health.LastCheckedAt = now
		m.health.LastError = err.Error()
		if m.probeFail >= m.settings.Telemetry.FailureThreshold {
			if m.health.IsHealthy {
				log.Ctx(m.ctx).Warn().Int("consecutiveFailures", m.probeFail).Err(err).Msg("server marked unhealthy")
			}
			m.health.IsHealthy = false
		}
		return
	}

	if !m.health.IsHealthy {
		log.Ctx(m.ctx).Info().Dur("latency", latency).Msg("server recovered")
	}
	m.probeFail = 0
	m.health = types.ServerHealth{
		IsHealthy:       true,
		ResponseLatency: latency,
		LastCheckedAt:   now,
	}

	if m.snapshot.LinkQuality == types.LinkUnknown || m.snapshot.MeasuredLatency > 0 {
		m.snapshot.LinkQuality = classifyLatency(latency)
		m.snapshot.MeasuredLatency = latency
	}
}

// Snapshot returns the latest network snapshot.
func (m *Monitor) Snapshot() types.NetworkSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Health returns the latest server health view.
func (m *Monitor) Health() types.ServerHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// SafeToUpload reports whether starting transfers now has a chance of
// succeeding: the device is online and the server looks healthy.
func (m *Monitor) SafeToUpload() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.IsOnline && m.health.IsHealthy
}

func classifyLatency(latency time.Duration) types.LinkQuality {
	switch {
	case latency <= 0:
		return types.LinkUnknown
	case latency < fastLatencyCeiling:
		return types.LinkFast
	case latency < mediumLatencyCeiling:
		return types.LinkMedium
	default:
		return types.LinkSlow
	}
}
