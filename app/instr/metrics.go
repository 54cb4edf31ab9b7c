// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package instr wraps a dedicated prometheus registry so domain packages can
// register their own collectors and the control API can expose one /metrics
// handler.
package instr

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics owns the registry for the uploader process.
type PrometheusMetrics struct {
	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a registry pre-loaded with the standard Go
// process collectors.
func NewPrometheusMetrics() (*PrometheusMetrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register the go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register the process collector: %w", err)
	}

	return &PrometheusMetrics{registry: registry}, nil
}

// Register adds domain collectors to the registry.
func (m *PrometheusMetrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register the collector: %w", err)
		}
	}
	return nil
}

// Handler serves the registry in the prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
