// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nstephens/glowworm/app/domain/backoff"
	"github.com/nstephens/glowworm/app/transport"
	"github.com/nstephens/glowworm/app/types"
	"github.com/nstephens/glowworm/app/utils/pool"
)

// transferTask builds the pool task for one file. The task runs once a pool
// slot is free; by then the file may have been cancelled or removed, so it
// re-checks before touching the wire.
func (o *Orchestrator) transferTask(id string) pool.Task {
	return func() error {
		att, file, fopts, ok := o.beginAttempt(id)
		if !ok {
			return nil
		}
		defer att.cancel()

		metricAttemptsTotal.Inc()
		metricInFlight.Inc()
		defer metricInFlight.Dec()

		result, err := o.uploader.Upload(att.ctx, &transport.UploadRequest{
			FileName:    file.Name,
			MimeType:    file.MimeType,
			Data:        file.Data,
			AlbumID:     fopts.albumID,
			Tags:        fopts.tags,
			Title:       file.Title,
			Description: file.Description,
		}, func(pct int) {
			// a stale attempt must not touch progress after cancellation
			if o.isCurrent(id, att) {
				_ = o.registry.SetProgress(id, pct)
			}
		})

		o.finishAttempt(id, att, result, err)
		return err
	}
}

// beginAttempt claims the file for one transfer attempt: it moves the file
// from queued to active, bumps the attempt counter and transitions the
// registry entry to Uploading.
func (o *Orchestrator) beginAttempt(id string) (*attempt, types.TrackedFile, fileOptions, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fopts, wasQueued := o.queued[id]
	if !wasQueued {
		return nil, types.TrackedFile{}, fileOptions{}, false
	}
	delete(o.queued, id)

	file, err := o.registry.Get(id)
	if err != nil || file.State != types.FilePending {
		return nil, types.TrackedFile{}, fileOptions{}, false
	}

	ctx, cancel := context.WithCancel(o.ctx)
	att := &attempt{id: uuid.NewString(), ctx: ctx, cancel: cancel}
	o.active[id] = att
	o.counts[id]++

	if err := o.registry.Transition(id, types.FileUploading, ""); err != nil {
		delete(o.active, id)
		cancel()
		return nil, types.TrackedFile{}, fileOptions{}, false
	}

	log.Ctx(o.ctx).Debug().Str("file", id).Str("attempt", att.id).Int("attemptNumber", o.counts[id]).Msg("transfer attempt starting")
	return att, file, fopts, true
}

// isCurrent reports whether att is still the active attempt for the file.
func (o *Orchestrator) isCurrent(id string, att *attempt) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[id] == att
}

// finishAttempt folds one transfer result back into the pipeline. Results
// from attempts that lost a race against Cancel or Remove are discarded.
func (o *Orchestrator) finishAttempt(id string, att *attempt, result *transport.UploadResult, err error) {
	o.mu.Lock()

	if o.active[id] != att {
		o.mu.Unlock()
		log.Ctx(o.ctx).Debug().Str("file", id).Str("attempt", att.id).Msg("discarding a stale attempt result")
		return
	}
	delete(o.active, id)
	attemptCount := o.counts[id]

	if err == nil {
		o.clearFileErrorLocked(id)
		o.mu.Unlock()

		metricCompletedTotal.Inc()
		if terr := o.registry.Transition(id, types.FileCompleted, ""); terr != nil {
			log.Ctx(o.ctx).Warn().Err(terr).Str("file", id).Msg("failed to mark the file completed")
			return
		}
		o.recordOutcome(id, types.FileCompleted, attemptCount, "", "", result)
		return
	}

	// the attempt context is cancelled by Cancel, Remove and Shutdown; the
	// failure is an artifact of that cancellation, not a transfer outcome
	if att.ctx.Err() != nil {
		o.mu.Unlock()
		return
	}

	kind := transport.Classify(err)
	message := err.Error()
	var terr *transport.TransferError
	if errors.As(err, &terr) {
		message = terr.Message
	}

	if rerr := o.registry.Transition(id, types.FileError, message); rerr != nil {
		o.mu.Unlock()
		log.Ctx(o.ctx).Warn().Err(rerr).Str("file", id).Msg("failed to mark the file errored")
		return
	}

	if backoff.Retryable(kind, attemptCount, o.settings.Uploads.MaxAttempts) {
		delay := o.policy.Delay(attemptCount - 1)
		o.retries[id] = o.sched.Schedule(delay, func() { o.runRetry(id) })
		o.mu.Unlock()

		metricRetriesTotal.Inc()
		log.Ctx(o.ctx).Info().Str("file", id).Str("kind", string(kind)).Dur("delay", delay).Int("attempt", attemptCount).Msg("transient failure, retry scheduled")
		return
	}

	surfaced := types.UploadError{
		ID:              uuid.NewString(),
		FileID:          id,
		Kind:            kind,
		Message:         message,
		FirstObservedAt: time.Now().UTC(),
		AttemptCount:    attemptCount,
		MaxAttempts:     o.settings.Uploads.MaxAttempts,
	}
	o.errors[surfaced.ID] = surfaced
	o.fileError[id] = surfaced.ID
	o.mu.Unlock()

	metricFailuresTotal.WithLabelValues(string(kind)).Inc()
	log.Ctx(o.ctx).Warn().Str("file", id).Str("kind", string(kind)).Int("attempts", attemptCount).Msg("transfer failed")
	o.emit(surfaced)
	o.recordOutcome(id, types.FileError, attemptCount, kind, message, nil)
}

// runRetry is the scheduler callback: Error -> Pending re-entry followed by a
// fresh pool submission.
func (o *Orchestrator) runRetry(id string) {
	o.mu.Lock()
	delete(o.retries, id)

	f, err := o.registry.Get(id)
	if err != nil || f.State != types.FileError {
		o.mu.Unlock()
		return
	}
	if rerr := o.registry.Transition(id, types.FilePending, ""); rerr != nil {
		o.mu.Unlock()
		return
	}
	o.queued[id] = o.opts[id]
	o.mu.Unlock()

	go o.submit([]string{id})
}

// Cancel stops any pending retry and in-flight transfer for the file and
// moves it to Cancelled. A late success from an already cancelled attempt is
// discarded, never resurrected.
func (o *Orchestrator) Cancel(fileID string) error {
	o.mu.Lock()

	if h, ok := o.retries[fileID]; ok {
		h.Cancel()
		delete(o.retries, fileID)
	}
	delete(o.queued, fileID)
	if att, ok := o.active[fileID]; ok {
		att.cancel()
		delete(o.active, fileID)
	}
	o.clearFileErrorLocked(fileID)
	attemptCount := o.counts[fileID]
	o.mu.Unlock()

	if err := o.registry.Transition(fileID, types.FileCancelled, ""); err != nil {
		return err
	}

	log.Ctx(o.ctx).Info().Str("file", fileID).Msg("transfer cancelled")
	o.recordOutcome(fileID, types.FileCancelled, attemptCount, "", "", nil)
	return nil
}

// Retry re-queues the file behind a surfaced error. A manual retry restores
// the automatic attempt budget; permanent failures stay failed.
func (o *Orchestrator) Retry(errorID string) error {
	o.mu.Lock()
	surfaced, ok := o.errors[errorID]
	if !ok {
		o.mu.Unlock()
		return ErrErrorNotFound
	}
	if surfaced.Synthetic() || surfaced.Kind.Permanent() {
		o.mu.Unlock()
		return ErrNotRetryable
	}

	id := surfaced.FileID
	delete(o.errors, errorID)
	delete(o.fileError, id)
	o.counts[id] = 0

	f, err := o.registry.Get(id)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if f.State == types.FileError {
		if rerr := o.registry.Transition(id, types.FilePending, ""); rerr != nil {
			o.mu.Unlock()
			return rerr
		}
	}
	o.queued[id] = o.opts[id]
	o.mu.Unlock()

	log.Ctx(o.ctx).Info().Str("file", id).Msg("manual retry accepted")
	go o.submit([]string{id})
	return nil
}

// RetryFile retries by file id instead of error id. Batch operations work on
// file selections and do not know surfaced error ids.
func (o *Orchestrator) RetryFile(fileID string) error {
	o.mu.Lock()
	errID, ok := o.fileError[fileID]
	o.mu.Unlock()
	if !ok {
		return ErrErrorNotFound
	}
	return o.Retry(errID)
}

// RetryAll retries every retryable surfaced error.
func (o *Orchestrator) RetryAll() int {
	o.mu.Lock()
	ids := make([]string, 0, len(o.errors))
	for id, e := range o.errors {
		if !e.Synthetic() && !e.Kind.Permanent() {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	retried := 0
	for _, id := range ids {
		if err := o.Retry(id); err == nil {
			retried++
		}
	}
	return retried
}

// abandon drops every reference to a file that left the registry. No
// transition happens; the file is already gone.
func (o *Orchestrator) abandon(fileID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if h, ok := o.retries[fileID]; ok {
		h.Cancel()
		delete(o.retries, fileID)
	}
	delete(o.queued, fileID)
	if att, ok := o.active[fileID]; ok {
		att.cancel()
		delete(o.active, fileID)
	}
	o.clearFileErrorLocked(fileID)
	delete(o.counts, fileID)
	delete(o.opts, fileID)
}

func (o *Orchestrator) abandonAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.counts)+len(o.queued)+len(o.active))
	seen := map[string]struct{}{}
	for id := range o.counts {
		seen[id] = struct{}{}
	}
	for id := range o.queued {
		seen[id] = struct{}{}
	}
	for id := range o.active {
		seen[id] = struct{}{}
	}
	for id := range o.retries {
		seen[id] = struct{}{}
	}
	for id := range seen {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.abandon(id)
	}
}

// clearFileErrorLocked removes the surfaced error for a file. Callers hold
// o.mu.
func (o *Orchestrator) clearFileErrorLocked(fileID string) {
	if errID, ok := o.fileError[fileID]; ok {
		delete(o.errors, errID)
		delete(o.fileError, fileID)
	}
}

// recordOutcome hands one terminal result to the sink.
func (o *Orchestrator) recordOutcome(fileID string, state types.LifecycleState, attempts int, kind types.ErrorKind, message string, result *transport.UploadResult) {
	if o.sink == nil {
		return
	}

	outcome := Outcome{
		FileID:       fileID,
		State:        state,
		Attempts:     attempts,
		ErrorKind:    kind,
		ErrorMessage: message,
		FinishedAt:   time.Now().UTC(),
	}
	if f, err := o.registry.Get(fileID); err == nil {
		outcome.FileName = f.Name
		outcome.MimeType = f.MimeType
		outcome.ByteSize = f.ByteSize
	}
	if result != nil {
		outcome.RemoteID = result.RemoteID
		outcome.RemoteURL = result.URL
	}

	if err := o.sink.Record(o.ctx, outcome); err != nil {
		log.Ctx(o.ctx).Warn().Err(err).Str("file", fileID).Msg("failed to record the transfer outcome")
	}
}
