// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package handlers exposes the uploader control API: file admission and
// lifecycle, batch selections, surfaced errors and telemetry.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-obvious/server"
	"github.com/go-obvious/server/api"
	"github.com/go-obvious/server/request"
	"github.com/rs/zerolog/log"

	"github.com/nstephens/glowworm/app/domain/batch"
	"github.com/nstephens/glowworm/app/domain/errsurface"
	"github.com/nstephens/glowworm/app/domain/orchestrator"
	"github.com/nstephens/glowworm/app/domain/registry"
	"github.com/nstephens/glowworm/app/storage/core"
	"github.com/nstephens/glowworm/app/storage/sqlite"
	"github.com/nstephens/glowworm/app/types"
)

const multipartMemoryLimit = 32 << 20

// UploaderAPI mounts the uploader control routes.
type UploaderAPI struct {
	api.Service
	registry  *registry.Registry
	orch      *orchestrator.Orchestrator
	selection *batch.Manager
	surface   *errsurface.Surface
	gate      orchestrator.Gate
	journal   *sqlite.Journal // nil disables the history routes
}

// NewUploaderAPI creates the API service mounted at base.
func NewUploaderAPI(base string, reg *registry.Registry, orch *orchestrator.Orchestrator, selection *batch.Manager, surface *errsurface.Surface, gate orchestrator.Gate, journal *sqlite.Journal) *UploaderAPI {
	a := &UploaderAPI{
		registry:  reg,
		orch:      orch,
		selection: selection,
		surface:   surface,
		gate:      gate,
		journal:   journal,
		Service: api.Service{
			APIName: "uploader",
			Mounts:  map[string]*chi.Mux{},
		},
	}
	a.Service.Mounts[base] = a.Routes()
	return a
}

func (a *UploaderAPI) Register(app server.Server) error {
	return a.Service.Register(app)
}

func (a *UploaderAPI) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Post("/files", a.PostFiles)
	r.Get("/files", a.GetFiles)
	r.Delete("/files", a.DeleteFiles)
	r.Get("/files/{id}", a.GetFile)
	r.Delete("/files/{id}", a.DeleteFile)
	r.Post("/files/{id}/cancel", a.PostCancel)
	r.Get("/files/{id}/history", a.GetFileHistory)

	r.Post("/uploads/start", a.PostStart)

	r.Get("/selection", a.GetSelection)
	r.Post("/selection/{id}", a.PostToggleSelection)
	r.Put("/selection", a.PutSelectAll)
	r.Delete("/selection", a.DeleteSelection)
	r.Post("/selection/dispatch", a.PostDispatch)

	r.Get("/errors", a.GetErrors)
	r.Post("/errors/retry_all", a.PostRetryAll)
	r.Post("/errors/{id}/retry", a.PostRetryError)
	r.Delete("/errors/{id}", a.DeleteError)

	r.Get("/telemetry", a.GetTelemetry)
	r.Get("/journal", a.GetJournal)
	r.Get("/journal/{id}", a.GetJournalRecord)
	r.Delete("/journal", a.DeleteJournal)

	return r
}

type fileView struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MimeType       string    `json:"mime_type"`
	ByteSize       int64     `json:"byte_size"`
	Progress       int       `json:"progress"`
	State          string    `json:"state"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	TransitionedAt time.Time `json:"transitioned_at"`
}

func toFileView(f types.TrackedFile) fileView {
	return fileView{
		ID:             f.ID,
		Name:           f.Name,
		MimeType:       f.MimeType,
		ByteSize:       f.ByteSize,
		Progress:       f.ProgressPercent,
		State:          f.State.String(),
		ErrorMessage:   f.ErrorMessage,
		EnqueuedAt:     f.EnqueuedAt,
		TransitionedAt: f.TransitionedAt,
	}
}

type rejectionView struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type registerResponse struct {
	Admitted []fileView      `json:"admitted"`
	Rejected []rejectionView `json:"rejected"`
}

// PostFiles admits files submitted as a multipart form. Each part named
// "files" becomes one candidate; title and description fields apply to every
// file in the form.
func (a *UploaderAPI) PostFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("failed to parse the multipart form")
		request.Reply(r, w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		request.Reply(r, w, "no files in the request", http.StatusBadRequest)
		return
	}

	raw := make([]types.RawFile, 0, len(parts))
	for _, header := range parts {
		part, err := header.Open()
		if err != nil {
			request.Reply(r, w, "failed to open an uploaded file", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			request.Reply(r, w, "failed to read an uploaded file", http.StatusBadRequest)
			return
		}

		raw = append(raw, types.RawFile{
			Name:        header.Filename,
			ByteSize:    header.Size,
			MimeType:    header.Header.Get("Content-Type"),
			Data:        data,
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
		})
	}

	admitted, rejected := a.registry.Register(raw)

	resp := registerResponse{
		Admitted: make([]fileView, 0, len(admitted)),
		Rejected: make([]rejectionView, 0, len(rejected)),
	}
	for _, f := range admitted {
		resp.Admitted = append(resp.Admitted, toFileView(f))
	}
	for _, rej := range rejected {
		resp.Rejected = append(resp.Rejected, rejectionView{
			Name:   rej.Name,
			Kind:   string(rej.Kind),
			Reason: rej.Reason,
		})
	}
	replyJSON(ctx, w, http.StatusOK, resp)
}

// GetFiles lists tracked files, optionally filtered with ?state=.
func (a *UploaderAPI) GetFiles(w http.ResponseWriter, r *http.Request) {
	var files []types.TrackedFile
	if state := r.URL.Query().Get("state"); state != "" {
		files = a.registry.ListByState(types.LifecycleState(state))
	} else {
		files = a.registry.List()
	}

	out := make([]fileView, 0, len(files))
	for _, f := range files {
		out = append(out, toFileView(f))
	}
	replyJSON(r.Context(), w, http.StatusOK, out)
}

func (a *UploaderAPI) GetFile(w http.ResponseWriter, r *http.Request) {
	f, err := a.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusNotFound)
		return
	}
	replyJSON(r.Context(), w, http.StatusOK, toFileView(f))
}

func (a *UploaderAPI) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Remove(chi.URLParam(r, "id")); err != nil {
		request.Reply(r, w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *UploaderAPI) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	a.registry.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type startRequest struct {
	FileIDs []string `json:"file_ids"`
	AlbumID string   `json:"album_id"`
	Tags    []string `json:"tags"`
}

// PostStart submits a batch for transfer. A telemetry veto returns 503; the
// advisory is visible on the errors route.
func (a *UploaderAPI) PostStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		request.Reply(r, w, "invalid JSON request", http.StatusBadRequest)
		return
	}

	err := a.orch.Start(ctx, orchestrator.StartOptions{
		FileIDs: req.FileIDs,
		AlbumID: req.AlbumID,
		Tags:    req.Tags,
	})
	if errors.Is(err, orchestrator.ErrUploadsGated) {
		request.Reply(r, w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusInternalServerError)
		return
	}
	replyJSON(ctx, w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (a *UploaderAPI) PostCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.orch.Cancel(id); err != nil {
		status := http.StatusConflict
		if errors.Is(err, registry.ErrFileNotFound) {
			status = http.StatusNotFound
		}
		request.Reply(r, w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *UploaderAPI) GetSelection(w http.ResponseWriter, r *http.Request) {
	replyJSON(r.Context(), w, http.StatusOK, a.selection.Selection())
}

func (a *UploaderAPI) PostToggleSelection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.registry.Has(id) {
		request.Reply(r, w, "file not found", http.StatusNotFound)
		return
	}
	selected := a.selection.Toggle(id)
	replyJSON(r.Context(), w, http.StatusOK, map[string]bool{"selected": selected})
}

func (a *UploaderAPI) PutSelectAll(w http.ResponseWriter, r *http.Request) {
	a.selection.SelectAll()
	replyJSON(r.Context(), w, http.StatusOK, a.selection.Selection())
}

func (a *UploaderAPI) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	a.selection.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type dispatchRequest struct {
	Action  string   `json:"action"`
	AlbumID string   `json:"album_id"`
	Tags    []string `json:"tags"`
}

func (a *UploaderAPI) PostDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		request.Reply(r, w, "invalid JSON request", http.StatusBadRequest)
		return
	}

	err := a.selection.Dispatch(ctx, batch.Action(strings.ToLower(req.Action)), batch.DispatchData{
		AlbumID: req.AlbumID,
		Tags:    req.Tags,
	})
	switch {
	case err == nil:
		replyJSON(ctx, w, http.StatusOK, map[string]bool{"dispatched": true})
	case errors.Is(err, batch.ErrEmptySelection), errors.Is(err, batch.ErrUnknownAction):
		request.Reply(r, w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, batch.ErrNoLibrarian):
		request.Reply(r, w, err.Error(), http.StatusNotImplemented)
	default:
		request.Reply(r, w, err.Error(), http.StatusInternalServerError)
	}
}

type errorView struct {
	ID              string    `json:"id"`
	FileID          string    `json:"file_id,omitempty"`
	Kind            string    `json:"kind"`
	Message         string    `json:"message"`
	FirstObservedAt time.Time `json:"first_observed_at"`
	AttemptCount    int       `json:"attempt_count"`
	MaxAttempts     int       `json:"max_attempts"`
	Retryable       bool      `json:"retryable"`
	Advisory        bool      `json:"advisory"`
}

func (a *UploaderAPI) GetErrors(w http.ResponseWriter, r *http.Request) {
	listed := a.surface.List()
	out := make([]errorView, 0, len(listed))
	for i := range listed {
		e := listed[i]
		out = append(out, errorView{
			ID:              e.ID,
			FileID:          e.FileID,
			Kind:            string(e.Kind),
			Message:         e.Message,
			FirstObservedAt: e.FirstObservedAt,
			AttemptCount:    e.AttemptCount,
			MaxAttempts:     e.MaxAttempts,
			Retryable:       e.Retryable(),
			Advisory:        e.Synthetic(),
		})
	}
	replyJSON(r.Context(), w, http.StatusOK, out)
}

func (a *UploaderAPI) PostRetryError(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.surface.Retry(id); err != nil {
		status := http.StatusConflict
		if errors.Is(err, orchestrator.ErrErrorNotFound) {
			status = http.StatusNotFound
		}
		request.Reply(r, w, err.Error(), status)
		return
	}
	replyJSON(r.Context(), w, http.StatusOK, map[string]bool{"retried": true})
}

func (a *UploaderAPI) PostRetryAll(w http.ResponseWriter, r *http.Request) {
	count := a.orch.RetryAll()
	replyJSON(r.Context(), w, http.StatusOK, map[string]int{"retried": count})
}

func (a *UploaderAPI) DeleteError(w http.ResponseWriter, r *http.Request) {
	if !a.surface.Dismiss(chi.URLParam(r, "id")) {
		request.Reply(r, w, "error not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type telemetryView struct {
	Network types.NetworkSnapshot `json:"network"`
	Server  types.ServerHealth    `json:"server"`
	Safe    bool                  `json:"safe_to_upload"`
}

func (a *UploaderAPI) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	replyJSON(r.Context(), w, http.StatusOK, telemetryView{
		Network: a.gate.Snapshot(),
		Server:  a.gate.Health(),
		Safe:    a.gate.SafeToUpload(),
	})
}

func (a *UploaderAPI) journalEnabled(w http.ResponseWriter, r *http.Request) bool {
	if a.journal == nil {
		request.Reply(r, w, "the transfer journal is disabled", http.StatusNotFound)
		return false
	}
	return true
}

func (a *UploaderAPI) GetJournal(w http.ResponseWriter, r *http.Request) {
	if !a.journalEnabled(w, r) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := a.journal.ListRecent(r.Context(), limit)
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusInternalServerError)
		return
	}
	replyJSON(r.Context(), w, http.StatusOK, recs)
}

func (a *UploaderAPI) GetJournalRecord(w http.ResponseWriter, r *http.Request) {
	if !a.journalEnabled(w, r) {
		return
	}

	rec, err := a.journal.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrNotFound) {
			status = http.StatusNotFound
		}
		request.Reply(r, w, err.Error(), status)
		return
	}
	replyJSON(r.Context(), w, http.StatusOK, rec)
}

// GetFileHistory lists every journalled outcome for one file, oldest first.
// The file itself may already be gone from the registry; history outlives it.
func (a *UploaderAPI) GetFileHistory(w http.ResponseWriter, r *http.Request) {
	if !a.journalEnabled(w, r) {
		return
	}

	recs, err := a.journal.ListByFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusInternalServerError)
		return
	}
	replyJSON(r.Context(), w, http.StatusOK, recs)
}

// DeleteJournal purges records older than the ?older_than= duration, e.g.
// 720h for thirty days.
func (a *UploaderAPI) DeleteJournal(w http.ResponseWriter, r *http.Request) {
	if !a.journalEnabled(w, r) {
		return
	}

	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		request.Reply(r, w, "the older_than query parameter is required", http.StatusBadRequest)
		return
	}
	age, err := time.ParseDuration(raw)
	if err != nil || age < 0 {
		request.Reply(r, w, "older_than must be a non-negative duration", http.StatusBadRequest)
		return
	}

	purged, err := a.journal.PurgeOlderThan(r.Context(), core.DatabaseNow().Add(-age))
	if err != nil {
		request.Reply(r, w, err.Error(), http.StatusInternalServerError)
		return
	}
	replyJSON(r.Context(), w, http.StatusOK, map[string]int{"purged": purged})
}
