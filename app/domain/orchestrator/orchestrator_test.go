// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstephens/glowworm/app/config"
	"github.com/nstephens/glowworm/app/domain/orchestrator"
	"github.com/nstephens/glowworm/app/domain/registry"
	"github.com/nstephens/glowworm/app/transport"
	"github.com/nstephens/glowworm/app/types"
	"github.com/nstephens/glowworm/app/utils/scheduler"
)

// fakeUploader scripts per-call outcomes and records invocations.
type fakeUploader struct {
	mu           sync.Mutex
	outcomes     []error // consumed per call; nil means success
	calls        int
	inFlight     int
	peak         int
	block        chan struct{} // when set, calls park here until the channel closes
	ignoreCancel bool          // when set, a blocked call reports its outcome even after cancellation
}

func (u *fakeUploader) Upload(ctx context.Context, req *transport.UploadRequest, progress transport.ProgressFunc) (*transport.UploadResult, error) {
	u.mu.Lock()
	u.calls++
	u.inFlight++
	if u.inFlight > u.peak {
		u.peak = u.inFlight
	}
	var outcome error
	if len(u.outcomes) > 0 {
		outcome = u.outcomes[0]
		u.outcomes = u.outcomes[1:]
	}
	block := u.block
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.inFlight--
		u.mu.Unlock()
	}()

	if block != nil {
		if u.ignoreCancel {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if !u.ignoreCancel && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if outcome != nil {
		return nil, outcome
	}
	if progress != nil {
		progress(100)
	}
	return &transport.UploadResult{RemoteID: "remote-1"}, nil
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// recordingScheduler captures delays and lets tests fire tasks on demand.
type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	tasks  []func()
}

type recordedHandle struct {
	cancelled bool
}

func (h *recordedHandle) Cancel() bool {
	fired := h.cancelled
	h.cancelled = true
	return !fired
}

func (s *recordingScheduler) Schedule(delay time.Duration, fn func()) scheduler.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, delay)
	s.tasks = append(s.tasks, fn)
	return &recordedHandle{}
}

// fireNext runs the oldest scheduled task, if any.
func (s *recordingScheduler) fireNext() bool {
	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return false
	}
	fn := s.tasks[0]
	s.tasks = s.tasks[1:]
	s.mu.Unlock()
	fn()
	return true
}

func (s *recordingScheduler) recordedDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

type fakeGate struct {
	safe    bool
	online  bool
	healthy bool
}

func (g *fakeGate) SafeToUpload() bool { return g.safe }
func (g *fakeGate) Snapshot() types.NetworkSnapshot {
	return types.NetworkSnapshot{IsOnline: g.online}
}
func (g *fakeGate) Health() types.ServerHealth {
	return types.ServerHealth{IsHealthy: g.healthy}
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []orchestrator.Outcome
}

func (s *recordingSink) Record(_ context.Context, o orchestrator.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func testSettings(poolSize int) *config.Settings {
	return &config.Settings{
		Uploads: config.Uploads{
			MaxFileSize:   "10M",
			AcceptedTypes: []string{"image/jpeg"},
			MaxFiles:      100,
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2,
			JitterEnabled: false, // deterministic delays for assertions
			PoolSize:      poolSize,
		},
	}
}

func jpegBytes() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
}

type fixture struct {
	registry *registry.Registry
	uploader *fakeUploader
	sched    *recordingScheduler
	gate     *fakeGate
	sink     *recordingSink
	orch     *orchestrator.Orchestrator
}

func newFixture(t *testing.T, poolSize int) *fixture {
	t.Helper()

	settings := testSettings(poolSize)
	reg := registry.New(settings, zerolog.Nop())
	uploader := &fakeUploader{}
	sched := &recordingScheduler{}
	gate := &fakeGate{safe: true, online: true, healthy: true}
	sink := &recordingSink{}

	orch, err := orchestrator.New(context.Background(), settings, reg, gate, uploader, sched, sink)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Shutdown() })

	return &fixture{registry: reg, uploader: uploader, sched: sched, gate: gate, sink: sink, orch: orch}
}

func (f *fixture) addFile(t *testing.T, name string) string {
	t.Helper()
	admitted, rejected := f.registry.Register([]types.RawFile{
		{Name: name, MimeType: "image/jpeg", Data: jpegBytes()},
	})
	require.Empty(t, rejected)
	return admitted[0].ID
}

func (f *fixture) waitForState(t *testing.T, id string, want types.LifecycleState) {
	t.Helper()
	require.Eventually(t, func() bool {
		file, err := f.registry.Get(id)
		return err == nil && file.State == want
	}, 2*time.Second, 2*time.Millisecond, "file %s never reached %s", id, want)
}

func TestOrchestrator_Unit_FailTwiceThenSucceed(t *testing.T) {
	f := newFixture(t, 2)
	id := f.addFile(t, "a.jpg")

	f.uploader.outcomes = []error{
		&transport.TransferError{Kind: types.ErrorKindNetwork, Message: "reset"},
		&transport.TransferError{Kind: types.ErrorKindTimeout, Message: "slow"},
		nil,
	}

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{}))

	// first failure schedules the first retry
	require.Eventually(t, func() bool { return len(f.sched.recordedDelays()) == 1 }, time.Second, 2*time.Millisecond)
	require.True(t, f.sched.fireNext())

	require.Eventually(t, func() bool { return len(f.sched.recordedDelays()) == 2 }, time.Second, 2*time.Millisecond)
	require.True(t, f.sched.fireNext())

	f.waitForState(t, id, types.FileCompleted)

	assert.Equal(t, 3, f.uploader.callCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sched.recordedDelays())
	assert.Empty(t, f.orch.Errors(), "absorbed transient failures must not surface")

	file, err := f.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 100, file.ProgressPercent)
}

func TestOrchestrator_Unit_GatedStartMakesZeroCalls(t *testing.T) {
	f := newFixture(t, 2)
	f.addFile(t, "a.jpg")
	f.gate.safe = false
	f.gate.online = false

	var advisories []types.UploadError
	var mu sync.Mutex
	f.orch.AddErrorListener(func(e types.UploadError) {
		mu.Lock()
		advisories = append(advisories, e)
		mu.Unlock()
	})

	err := f.orch.Start(context.Background(), orchestrator.StartOptions{})
	require.ErrorIs(t, err, orchestrator.ErrUploadsGated)

	assert.Equal(t, 0, f.uploader.callCount())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, advisories, 1)
	assert.True(t, advisories[0].Synthetic())
	assert.Equal(t, types.ErrorKindNetwork, advisories[0].Kind)
}

func TestOrchestrator_Unit_UnhealthyServerAdvisory(t *testing.T) {
	f := newFixture(t, 2)
	f.gate.safe = false
	f.gate.online = true

	var got types.UploadError
	f.orch.AddErrorListener(func(e types.UploadError) { got = e })

	require.ErrorIs(t, f.orch.Start(context.Background(), orchestrator.StartOptions{}), orchestrator.ErrUploadsGated)
	assert.Equal(t, types.ErrorKindServer, got.Kind)
}

func TestOrchestrator_Unit_PoolBoundsConcurrency(t *testing.T) {
	f := newFixture(t, 2)
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = f.addFile(t, "f.jpg")
	}

	release := make(chan struct{})
	f.uploader.block = release

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{}))

	require.Eventually(t, func() bool { return f.uploader.callCount() >= 2 }, time.Second, 2*time.Millisecond)
	// give any excess submissions a moment to (incorrectly) start
	time.Sleep(20 * time.Millisecond)
	close(release)

	for _, id := range ids {
		f.waitForState(t, id, types.FileCompleted)
	}

	f.uploader.mu.Lock()
	peak := f.uploader.peak
	f.uploader.mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "in-flight transfers must respect the pool size")
	assert.Equal(t, 10, f.uploader.callCount())
}

func TestOrchestrator_Unit_CancelBeatsLateSuccess(t *testing.T) {
	f := newFixture(t, 1)
	id := f.addFile(t, "a.jpg")

	release := make(chan struct{})
	f.uploader.block = release
	// the blocked attempt ignores its cancelled context and reports a full
	// success once released, as a slow wire eventually would
	f.uploader.ignoreCancel = true

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{}))
	f.waitForState(t, id, types.FileUploading)

	require.NoError(t, f.orch.Cancel(id))
	file, err := f.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.FileCancelled, file.State)

	// the late success must be discarded, never resurrect the file
	close(release)
	require.Eventually(t, func() bool {
		f.uploader.mu.Lock()
		defer f.uploader.mu.Unlock()
		return f.uploader.inFlight == 0
	}, time.Second, 2*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	file, err = f.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.FileCancelled, file.State)
	assert.NotEqual(t, 100, file.ProgressPercent)
	assert.Empty(t, f.orch.Errors(), "a discarded stale success surfaces nothing")
}

func TestOrchestrator_Unit_PermanentFailureNeverRetries(t *testing.T) {
	f := newFixture(t, 2)
	id := f.addFile(t, "big.jpg")

	f.uploader.outcomes = []error{
		&transport.TransferError{Kind: types.ErrorKindFileTooLarge, Message: "too big"},
	}

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{}))
	f.waitForState(t, id, types.FileError)

	require.Eventually(t, func() bool { return len(f.orch.Errors()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Empty(t, f.sched.recordedDelays(), "permanent failures must not schedule retries")
	assert.Equal(t, 1, f.uploader.callCount())

	surfaced := f.orch.Errors()[0]
	assert.Equal(t, types.ErrorKindFileTooLarge, surfaced.Kind)
	assert.Equal(t, 1, surfaced.AttemptCount)
	assert.False(t, surfaced.Retryable())

	// a manual retry of a permanent failure is refused
	require.ErrorIs(t, f.orch.Retry(surfaced.ID), orchestrator.ErrNotRetryable)
}

func TestOrchestrator_Unit_BudgetExhaustionSurfacesError(t *testing.T) {
	f := newFixture(t, 2)
	id := f.addFile(t, "a.jpg")

	f.uploader.outcomes = []error{
		&transport.TransferError{Kind: types.ErrorKindServer, Message: "boom"},
		&transport.TransferError{Kind: types.ErrorKindServer, Message: "boom"},
		&transport.TransferError{Kind: types.ErrorKindServer, Message: "boom"},
	}

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{}))
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool { return len(f.sched.recordedDelays()) == i+1 }, time.Second, 2*time.Millisecond)
		require.True(t, f.sched.fireNext())
	}

	f.waitForState(t, id, types.FileError)
	require.Eventually(t, func() bool { return len(f.orch.Errors()) == 1 }, time.Second, 2*time.Millisecond)

	surfaced := f.orch.Errors()[0]
	assert.Equal(t, 3, surfaced.AttemptCount)
	assert.Equal(t, 3, f.uploader.callCount())

	// a manual retry restores the budget and succeeds
	require.NoError(t, f.orch.Retry(surfaced.ID))
	f.waitForState(t, id, types.FileCompleted)
	assert.Empty(t, f.orch.Errors())
}

func TestOrchestrator_Unit_RemovalCancelsPendingRetry(t *testing.T) {
	f := newFixture(t, 1)
	id := f.addFile(t, "a.jpg")

	done := make(chan error, 1)
	go func() { done <- f.orch.Run() }()
	require.Eventually(t, f.orch.IsRunning, time.Second, 2*time.Millisecond)

	f.uploader.outcomes = []error{
		&transport.TransferError{Kind: types.ErrorKindNetwork, Message: "reset"},
	}

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{}))
	require.Eventually(t, func() bool { return len(f.sched.recordedDelays()) == 1 }, time.Second, 2*time.Millisecond)

	require.NoError(t, f.registry.Remove(id))

	// the retry fires after removal and must be a no-op
	time.Sleep(20 * time.Millisecond)
	f.sched.fireNext()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.uploader.callCount())

	require.NoError(t, f.orch.Shutdown())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after Shutdown")
	}
}

func TestOrchestrator_Unit_SinkReceivesTerminalOutcomes(t *testing.T) {
	f := newFixture(t, 2)
	id := f.addFile(t, "a.jpg")

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{AlbumID: "album-1"}))
	f.waitForState(t, id, types.FileCompleted)

	require.Eventually(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.outcomes) == 1
	}, time.Second, 2*time.Millisecond)

	f.sink.mu.Lock()
	outcome := f.sink.outcomes[0]
	f.sink.mu.Unlock()
	assert.Equal(t, id, outcome.FileID)
	assert.Equal(t, types.FileCompleted, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, "remote-1", outcome.RemoteID)
}

func TestOrchestrator_Unit_NoDoubleSubmission(t *testing.T) {
	f := newFixture(t, 2)
	id := f.addFile(t, "a.jpg")

	release := make(chan struct{})
	f.uploader.block = release

	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{FileIDs: []string{id}}))
	f.waitForState(t, id, types.FileUploading)

	// a second Start for the same file must not submit it again
	require.NoError(t, f.orch.Start(context.Background(), orchestrator.StartOptions{FileIDs: []string{id}}))
	close(release)

	f.waitForState(t, id, types.FileCompleted)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.uploader.callCount())
}
