// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives the upload pipeline: it gates batches on
// network telemetry, bounds in-flight transfers with a worker pool, applies
// the backoff policy to transient failures, and surfaces the errors that
// automatic retries could not absorb.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nstephens/glowworm/app/config"
	"github.com/nstephens/glowworm/app/domain/backoff"
	"github.com/nstephens/glowworm/app/domain/registry"
	"github.com/nstephens/glowworm/app/instr"
	"github.com/nstephens/glowworm/app/transport"
	"github.com/nstephens/glowworm/app/types"
	"github.com/nstephens/glowworm/app/utils/pool"
	"github.com/nstephens/glowworm/app/utils/scheduler"
)

var (
	// ErrUploadsGated means the telemetry monitor vetoed the batch before any
	// transfer started.
	ErrUploadsGated = errors.New("uploads are gated by network telemetry")

	ErrErrorNotFound = errors.New("no surfaced error with that id")
	ErrNotRetryable  = errors.New("the error is permanent and cannot be retried")
)

// Gate is the telemetry view the orchestrator consults before starting a
// batch. The monitor implements it.
type Gate interface {
	SafeToUpload() bool
	Snapshot() types.NetworkSnapshot
	Health() types.ServerHealth
}

// Outcome is one terminal transfer result handed to the ResultSink.
type Outcome struct {
	FileID       string
	FileName     string
	MimeType     string
	ByteSize     int64
	State        types.LifecycleState
	Attempts     int
	ErrorKind    types.ErrorKind
	ErrorMessage string
	RemoteID     string
	RemoteURL    string
	FinishedAt   time.Time
}

// ResultSink receives terminal outcomes (completed, failed, cancelled). The
// sqlite journal implements it; a nil sink disables recording.
type ResultSink interface {
	Record(ctx context.Context, outcome Outcome) error
}

// StartOptions selects and decorates one upload batch.
type StartOptions struct {
	// FileIDs restricts the batch; empty means every Pending file.
	FileIDs []string
	AlbumID string
	Tags    []string
}

// attempt is one in-flight transfer. Late callbacks compare their attempt
// pointer against the active map so a cancelled file cannot be resurrected.
type attempt struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

type fileOptions struct {
	albumID string
	tags    []string
}

// Orchestrator coordinates transfers between the registry, the transport and
// the telemetry monitor. It implements types.Runnable; Run consumes registry
// removal events so deleting a file also cancels its in-flight work.
type Orchestrator struct {
	settings *config.Settings
	registry *registry.Registry
	gate     Gate
	uploader transport.Uploader
	policy   *backoff.Policy
	sched    scheduler.Scheduler
	sink     ResultSink
	pool     *pool.Pool
	metrics  *instr.PrometheusMetrics

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	mu        sync.Mutex
	queued    map[string]fileOptions      // waiting for a pool slot
	active    map[string]*attempt         // holding a pool slot
	retries   map[string]scheduler.Handle // waiting out a backoff delay
	counts    map[string]int              // attempts made per file
	opts      map[string]fileOptions      // batch options pinned at Start
	errors    map[string]types.UploadError
	fileError map[string]string // fileID -> surfaced error id
	listeners []func(types.UploadError)
}

// New creates the orchestrator. sink may be nil.
func New(ctx context.Context, settings *config.Settings, reg *registry.Registry, gate Gate, uploader transport.Uploader, sched scheduler.Scheduler, sink ResultSink) (*Orchestrator, error) {
	metrics, err := InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Orchestrator{
		settings: settings,
		registry: reg,
		gate:     gate,
		uploader: uploader,
		policy: backoff.NewPolicy(backoff.Strategy{
			BaseDelay:     settings.Uploads.BaseDelay,
			MaxDelay:      settings.Uploads.MaxDelay,
			Multiplier:    settings.Uploads.Multiplier,
			JitterEnabled: settings.Uploads.JitterEnabled,
		}, nil),
		sched:     sched,
		sink:      sink,
		pool:      pool.New(settings.Uploads.PoolSize),
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
		queued:    make(map[string]fileOptions),
		active:    make(map[string]*attempt),
		retries:   make(map[string]scheduler.Handle),
		counts:    make(map[string]int),
		opts:      make(map[string]fileOptions),
		errors:    make(map[string]types.UploadError),
		fileError: make(map[string]string),
	}, nil
}

var _ types.Runnable = (*Orchestrator)(nil)

// GetMetricHandler exposes the orchestrator metrics registry.
func (o *Orchestrator) GetMetricHandler() http.Handler {
	return o.metrics.Handler()
}

// AddErrorListener registers a callback invoked for every surfaced
// UploadError, synthetic advisories included. Register listeners before the
// first Start.
func (o *Orchestrator) AddErrorListener(fn func(types.UploadError)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Run consumes registry events until Shutdown: removing or clearing files
// cancels their in-flight transfers and pending retries.
func (o *Orchestrator) Run() error {
	o.running.Store(true)
	defer o.running.Store(false)

	events, unsubscribe := o.registry.Subscribe()
	defer unsubscribe()

	log.Ctx(o.ctx).Info().Int("poolSize", o.settings.Uploads.PoolSize).Msg("Upload orchestrator starting ...")

	for {
		select {
		case <-o.ctx.Done():
			log.Ctx(o.ctx).Info().Msg("Upload orchestrator stopping")
			o.pool.Close()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case types.EventFileRemoved:
				o.abandon(ev.File.ID)
			case types.EventRegistryCleared:
				o.abandonAll()
			default:
			}
		}
	}
}

// IsRunning reports whether the event loop is active.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Shutdown cancels every in-flight transfer and stops the event loop.
func (o *Orchestrator) Shutdown() error {
	o.abandonAll()
	o.cancel()
	return nil
}

// Start submits a batch of Pending files for transfer. When telemetry says
// the batch is doomed, no transfer is attempted and exactly one synthetic
// advisory error is surfaced.
func (o *Orchestrator) Start(ctx context.Context, options StartOptions) error {
	if !o.gate.SafeToUpload() {
		advisory := o.buildAdvisory()
		log.Ctx(ctx).Warn().Str("kind", string(advisory.Kind)).Msg("upload batch refused by telemetry gate")
		o.emit(advisory)
		return ErrUploadsGated
	}

	candidates := options.FileIDs
	if len(candidates) == 0 {
		for _, f := range o.registry.ListByState(types.FilePending) {
			candidates = append(candidates, f.ID)
		}
	}

	batchOpts := fileOptions{albumID: options.AlbumID, tags: options.Tags}

	o.mu.Lock()
	var accepted []string
	for _, id := range candidates {
		if !o.submittable(id) {
			continue
		}
		o.queued[id] = batchOpts
		o.opts[id] = batchOpts
		accepted = append(accepted, id)
	}
	o.mu.Unlock()

	if len(accepted) == 0 {
		return nil
	}

	log.Ctx(ctx).Info().Int("files", len(accepted)).Msg("upload batch accepted")
	go o.submit(accepted)
	return nil
}

// submittable reports whether the file can join a batch. Callers hold o.mu.
func (o *Orchestrator) submittable(id string) bool {
	f, err := o.registry.Get(id)
	if err != nil || f.State != types.FilePending {
		return false
	}
	if _, ok := o.queued[id]; ok {
		return false
	}
	if _, ok := o.active[id]; ok {
		return false
	}
	if _, ok := o.retries[id]; ok {
		return false
	}
	return true
}

// submit feeds files through the pool; Run blocks per file until a slot
// frees, which is what bounds in-flight transfers.
func (o *Orchestrator) submit(ids []string) {
	waiter := pool.NewWaiter()
	for _, id := range ids {
		o.pool.Run(o.transferTask(id), waiter)
	}
	waiter.Wait()
	for err := range waiter.Err() {
		log.Ctx(o.ctx).Debug().Err(err).Msg("transfer task finished with an error")
	}
}

func (o *Orchestrator) buildAdvisory() types.UploadError {
	kind := types.ErrorKindServer
	message := "the media server is not responding to health checks"
	if !o.gate.Snapshot().IsOnline {
		kind = types.ErrorKindNetwork
		message = "the device is offline"
	} else if lastErr := o.gate.Health().LastError; lastErr != "" {
		message = fmt.Sprintf("the media server is unhealthy: %s", lastErr)
	}

	return types.UploadError{
		ID:              uuid.NewString(),
		Kind:            kind,
		Message:         message,
		FirstObservedAt: time.Now().UTC(),
	}
}

// Errors returns a snapshot of the surfaced errors.
func (o *Orchestrator) Errors() []types.UploadError {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]types.UploadError, 0, len(o.errors))
	for _, e := range o.errors {
		out = append(out, e)
	}
	return out
}

// emit delivers one surfaced error to the listeners outside o.mu.
func (o *Orchestrator) emit(e types.UploadError) {
	o.mu.Lock()
	listeners := make([]func(types.UploadError), len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
}
