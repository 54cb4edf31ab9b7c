// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nstephens/glowworm/app/instr"
)

var (
	metricAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glowworm_upload_attempts_total",
		Help: "Total transfer attempts started, including automatic retries.",
	})

	metricFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glowworm_upload_failures_total",
		Help: "Surfaced transfer failures by error kind.",
	}, []string{"kind"})

	metricRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glowworm_upload_retries_scheduled_total",
		Help: "Automatic retries scheduled after transient failures.",
	})

	metricCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glowworm_upload_completed_total",
		Help: "Transfers confirmed by the server.",
	})

	metricInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glowworm_upload_in_flight",
		Help: "Transfers currently holding a pool slot.",
	})
)

// InitMetrics builds the orchestrator metrics registry.
func InitMetrics() (*instr.PrometheusMetrics, error) {
	m, err := instr.NewPrometheusMetrics()
	if err != nil {
		return nil, err
	}
	if err := m.Register(
		metricAttemptsTotal,
		metricFailuresTotal,
		metricRetriesTotal,
		metricCompletedTotal,
		metricInFlight,
	); err != nil {
		return nil, err
	}
	return m, nil
}
