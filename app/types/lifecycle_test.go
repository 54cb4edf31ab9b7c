// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nstephens/glowworm/app/types"
)

func TestLifecycle_Unit_Transitions(t *testing.T) {
	cases := []struct {
		from, to types.LifecycleState
		ok       bool
	}{
		{types.FilePending, types.FileUploading, true},
		{types.FilePending, types.FileCompleted, false}, // must pass through Uploading
		{types.FilePending, types.FileError, false},
		{types.FilePending, types.FileCancelled, true},
		{types.FileUploading, types.FileCompleted, true},
		{types.FileUploading, types.FileError, true},
		{types.FileUploading, types.FileCancelled, true},
		{types.FileUploading, types.FilePending, false},
		{types.FileError, types.FilePending, true}, // retry re-entry
		{types.FileError, types.FileUploading, false},
		{types.FileError, types.FileCancelled, true}, // a failed file is cancellable without a retry
		{types.FileCompleted, types.FilePending, false},
		{types.FileCancelled, types.FileUploading, false},
	}

	for _, c := range cases {
		assert.Equalf(t, c.ok, types.CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestLifecycle_Unit_IdenticalTransitionAllowed(t *testing.T) {
	for _, s := range []types.LifecycleState{
		types.FilePending, types.FileUploading, types.FileCompleted, types.FileError, types.FileCancelled,
	} {
		assert.True(t, types.CanTransition(s, s))
	}
}

func TestErrorKind_Unit_Permanence(t *testing.T) {
	permanent := []types.ErrorKind{
		types.ErrorKindFileTooLarge,
		types.ErrorKindInvalidType,
		types.ErrorKindQuotaExceeded,
		types.ErrorKindAuthentication,
	}
	transient := []types.ErrorKind{
		types.ErrorKindNetwork,
		types.ErrorKindServer,
		types.ErrorKindTimeout,
		types.ErrorKindUnknown,
	}

	for _, k := range permanent {
		assert.Truef(t, k.Permanent(), "%s", k)
	}
	for _, k := range transient {
		assert.Falsef(t, k.Permanent(), "%s", k)
	}
}

type countingPreview struct{ released int }

func (p *countingPreview) Release() { p.released++ }

func TestTrackedFile_Unit_PreviewReleasedOnce(t *testing.T) {
	preview := &countingPreview{}
	f := &types.TrackedFile{ID: "f1"}
	f.SetPreview(preview)

	f.ReleasePreview()
	f.ReleasePreview()

	assert.Equal(t, 1, preview.released)
}

func TestTrackedFile_Unit_SnapshotCannotReleasePreview(t *testing.T) {
	preview := &countingPreview{}
	f := &types.TrackedFile{ID: "f1", State: types.FilePending}
	f.SetPreview(preview)

	snap := f.Snapshot()
	snap.ReleasePreview()
	assert.Equal(t, 0, preview.released)

	f.ReleasePreview()
	assert.Equal(t, 1, preview.released)
}
