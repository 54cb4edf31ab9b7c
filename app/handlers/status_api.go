// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-obvious/server"
	"github.com/go-obvious/server/api"

	"github.com/nstephens/glowworm/app/domain/healthz"
)

// StatusAPI mounts the process status routes: the aggregated health checks
// and the prometheus exposition endpoint.
type StatusAPI struct {
	api.Service
	metrics http.Handler
}

// NewStatusAPI creates the status service mounted at base.
func NewStatusAPI(base string, metrics http.Handler) *StatusAPI {
	a := &StatusAPI{
		metrics: metrics,
		Service: api.Service{
			APIName: "status",
			Mounts:  map[string]*chi.Mux{},
		},
	}
	a.Service.Mounts[base] = a.Routes()
	return a
}

func (a *StatusAPI) Register(app server.Server) error {
	return a.Service.Register(app)
}

func (a *StatusAPI) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/healthz", healthz.NewHealthz().EndpointHandler())
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}
	return r
}
