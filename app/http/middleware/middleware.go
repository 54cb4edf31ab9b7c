// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides the shared HTTP middleware for the control API.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

var (
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	metricsOnce         sync.Once
)

// getPrometheusMetrics lazily creates and registers the request metrics.
// Registration is tolerant of duplicates so test servers can stack.
func getPrometheusMetrics() (*prometheus.HistogramVec, *prometheus.CounterVec) {
	metricsOnce.Do(func() {
		httpRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds.",
			},
			[]string{"code", "method"},
		)
		httpRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Count of all HTTP requests processed, labeled by method and status code.",
			},
			[]string{"code", "method"},
		)
		if err := prometheus.Register(httpRequestDuration); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
		if err := prometheus.Register(httpRequestsTotal); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	})
	return httpRequestDuration, httpRequestsTotal
}

// PromHTTPMiddleware instruments HTTP requests with Prometheus metrics.
func PromHTTPMiddleware(next http.Handler) http.Handler {
	duration, counter := getPrometheusMetrics()
	return promhttp.InstrumentHandlerDuration(
		duration,
		promhttp.InstrumentHandlerCounter(
			counter,
			next,
		),
	)
}

// LoggingMiddlewareWrapper logs one line per request. Status and telemetry
// scrape routes are demoted to trace so steady-state polling stays quiet.
func LoggingMiddlewareWrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(startTime)
		statusCode := recorder.status
		route := r.URL.Path
		method := r.Method

		level := zerolog.DebugLevel
		if route == "/healthz" || route == "/metrics" || route == "/api/v1/telemetry" {
			level = zerolog.TraceLevel
		}

		log.Ctx(r.Context()).WithLevel(level).
			Str("method", method).
			Str("route", route).
			Int("statusCode", statusCode).
			Str("status", http.StatusText(statusCode)).
			Dur("duration", duration).
			Str("client", r.RemoteAddr).
			Msg("HTTP request")
	})
}
