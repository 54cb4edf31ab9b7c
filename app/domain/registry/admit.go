// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/nstephens/glowworm/app/types"
)

// Rejection explains why one submitted file was not admitted. Rejected files
// never become tracked entries.
type Rejection struct {
	Name   string
	Kind   types.ErrorKind
	Reason string
}

// Register validates a batch of raw files and admits the valid ones as
// Pending entries. Validation is per file: one oversized image does not
// block its siblings. The returned snapshots are in admission order.
func (r *Registry) Register(files []types.RawFile) ([]types.TrackedFile, []Rejection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		admitted []types.TrackedFile
		rejected []Rejection
	)

	for i := range files {
		raw := &files[i]

		if rej, ok := r.admit(raw); !ok {
			// a rejected file never gains an owner, so its preview is freed here
			if raw.Preview != nil {
				raw.Preview.Release()
			}
			rejected = append(rejected, rej)
			continue
		}

		now := time.Now().UTC()
		tracked := &types.TrackedFile{
			ID:             uuid.NewString(),
			Name:           raw.Name,
			MimeType:       r.effectiveType(raw),
			ByteSize:       raw.ByteSize,
			Data:           raw.Data,
			Title:          raw.Title,
			Description:    raw.Description,
			State:          types.FilePending,
			EnqueuedAt:     now,
			TransitionedAt: now,
		}
		tracked.SetPreview(raw.Preview)

		r.files[tracked.ID] = tracked
		r.order = append(r.order, tracked.ID)
		r.publish(types.RegistryEvent{Kind: types.EventFileRegistered, File: tracked.Snapshot()})
		admitted = append(admitted, tracked.Snapshot())
	}

	if len(rejected) > 0 {
		r.logger.Info().Int("admitted", len(admitted)).Int("rejected", len(rejected)).Msg("registration finished with rejections")
	}
	return admitted, rejected
}

// admit checks one file against the registry limits. Callers hold r.mu.
func (r *Registry) admit(raw *types.RawFile) (Rejection, bool) {
	if r.maxFiles > 0 && len(r.files) >= r.maxFiles {
		return Rejection{
			Name:   raw.Name,
			Kind:   types.ErrorKindQuotaExceeded,
			Reason: fmt.Sprintf("the registry already tracks the maximum of %d files", r.maxFiles),
		}, false
	}

	size := raw.ByteSize
	if size == 0 {
		size = int64(len(raw.Data))
	}
	if r.maxFileSize > 0 && size > r.maxFileSize {
		return Rejection{
			Name:   raw.Name,
			Kind:   types.ErrorKindFileTooLarge,
			Reason: fmt.Sprintf("file is %d bytes, the maximum is %d", size, r.maxFileSize),
		}, false
	}

	if len(r.acceptedTypes) > 0 {
		if _, ok := r.acceptedTypes[r.effectiveType(raw)]; !ok {
			return Rejection{
				Name:   raw.Name,
				Kind:   types.ErrorKindInvalidType,
				Reason: fmt.Sprintf("type %q is not accepted", r.effectiveType(raw)),
			}, false
		}
	}

	return Rejection{}, true
}

// effectiveType sniffs the content and falls back to the declared type when
// sniffing yields the generic octet-stream (tiny or truncated payloads).
func (r *Registry) effectiveType(raw *types.RawFile) string {
	if len(raw.Data) > 0 {
		detected := mimetype.Detect(raw.Data)
		if detected.String() != "application/octet-stream" {
			return detected.String()
		}
	}
	return raw.MimeType
}
