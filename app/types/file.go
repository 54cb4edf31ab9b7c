// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"sync"
	"time"
)

// RawFile is the admission input to the file registry: the raw handle the UI
// produces when the user selects or drops a file.
type RawFile struct {
	Name     string
	ByteSize int64
	MimeType string
	Data     []byte

	// Title and Description are optional user-supplied metadata forwarded to
	// the transfer collaborator verbatim.
	Title       string
	Description string

	// Preview, when present, is owned by the TrackedFile created from this
	// input and is released exactly once on removal.
	Preview PreviewHandle
}

// PreviewHandle is a resource backing a UI thumbnail (object URL, temp file,
// decoded bitmap). It is exclusively owned by its TrackedFile.
type PreviewHandle interface {
	Release()
}

// TrackedFile is one selected file moving through the upload lifecycle.
//
// Invariants maintained by the registry:
//   - ProgressPercent == 100 iff State == FileCompleted
//   - ErrorMessage != "" iff State == FileError
type TrackedFile struct {
	ID              string
	Name            string
	MimeType        string
	ByteSize        int64
	Data            []byte
	Title           string
	Description     string
	ProgressPercent int
	State           LifecycleState
	ErrorMessage    string
	EnqueuedAt      time.Time
	TransitionedAt  time.Time

	preview     PreviewHandle
	previewOnce sync.Once
}

// ReleasePreview frees the preview handle. Safe to call more than once; the
// underlying Release runs exactly once.
func (f *TrackedFile) ReleasePreview() {
	f.previewOnce.Do(func() {
		if f.preview != nil {
			f.preview.Release()
		}
	})
}

// SetPreview attaches the preview handle at admission time.
func (f *TrackedFile) SetPreview(p PreviewHandle) {
	f.preview = p
}

// Snapshot returns a copy of the file safe to hand to subscribers and UI
// surfaces. The payload slice is shared (it is immutable after admission)
// but the preview handle and its once-guard are not carried over, so a
// snapshot can never release the owned resource.
func (f *TrackedFile) Snapshot() TrackedFile {
	return TrackedFile{
		ID:              f.ID,
		Name:            f.Name,
		MimeType:        f.MimeType,
		ByteSize:        f.ByteSize,
		Data:            f.Data,
		Title:           f.Title,
		Description:     f.Description,
		ProgressPercent: f.ProgressPercent,
		State:           f.State,
		ErrorMessage:    f.ErrorMessage,
		EnqueuedAt:      f.EnqueuedAt,
		TransitionedAt:  f.TransitionedAt,
	}
}
