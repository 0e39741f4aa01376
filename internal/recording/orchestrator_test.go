package recording

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

func newTestOrchestrator() *Orchestrator {
	return New(store.NewMemory(), nil, map[string]Backend{"memory": NewMemBackend()})
}

// fakeClock steps time manually so pause accounting is deterministic.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestValidateCombo(t *testing.T) {
	p, err := ValidateCombo("medium", "webm")
	require.NoError(t, err)
	assert.Equal(t, 1280, p.Width)

	_, err = ValidateCombo("ultra", "webm")
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	_, err = ValidateCombo("medium", "avi")
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	// mkv only carries the high-bitrate presets.
	_, err = ValidateCombo("low", "mkv")
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
	_, err = ValidateCombo("hd", "mkv")
	assert.NoError(t, err)
}

func TestStartValidates(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator()

	_, err := o.Start(ctx, "room-1", "alice", "bogus", "webm", "memory")
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	_, err = o.Start(ctx, "room-1", "alice", "medium", "webm", "s3")
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	rec, err := o.Start(ctx, "room-1", "alice", "medium", "webm", "memory")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingActive, rec.State)
	assert.False(t, rec.StartedAt.IsZero())
}

// TestStartCapacity starts recordings up to the global cap; the next one
// must bounce, and a stop must free the slot.
func TestStartCapacity(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator()
	o.MaxLive = 3

	var last *domain.Recording
	for i := 0; i < 3; i++ {
		rec, err := o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
		require.NoError(t, err)
		last = rec
	}

	_, err := o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
	assert.True(t, domain.IsCode(err, domain.ErrCapacity))

	_, err = o.Stop(ctx, last.ID, "alice")
	require.NoError(t, err)

	_, err = o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
	assert.NoError(t, err)
}

func TestOwnerOnlyControl(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator()

	rec, err := o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
	require.NoError(t, err)

	_, err = o.Pause(ctx, rec.ID, "bob")
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))
	_, err = o.Stop(ctx, rec.ID, "bob")
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))
}

// TestDurationExcludesPauses drives a session on a fake clock: 10 minutes
// wall time with a 4 minute pause must account 6 minutes.
func TestDurationExcludesPauses(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	o.Now = clock.Now

	rec, err := o.Start(ctx, "room-1", "alice", "high", "mkv", "memory")
	require.NoError(t, err)

	clock.advance(3 * time.Minute)
	_, err = o.Pause(ctx, rec.ID, "alice")
	require.NoError(t, err)

	clock.advance(4 * time.Minute)
	_, err = o.Resume(ctx, rec.ID, "alice")
	require.NoError(t, err)

	clock.advance(3 * time.Minute)
	stopped, err := o.Stop(ctx, rec.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, (6 * time.Minute).Seconds(), stopped.DurationSeconds)
	require.Len(t, stopped.PausedIntervals, 1)
	assert.False(t, stopped.PausedIntervals[0].End.IsZero())
}

// TestStopWhilePaused must close the dangling pause interval.
func TestStopWhilePaused(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	o.Now = clock.Now

	rec, err := o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
	require.NoError(t, err)

	clock.advance(5 * time.Minute)
	_, err = o.Pause(ctx, rec.ID, "alice")
	require.NoError(t, err)

	clock.advance(2 * time.Minute)
	stopped, err := o.Stop(ctx, rec.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, (5 * time.Minute).Seconds(), stopped.DurationSeconds)
	require.Len(t, stopped.PausedIntervals, 1)
	assert.False(t, stopped.PausedIntervals[0].End.IsZero())
}

func TestIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator()

	rec, err := o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
	require.NoError(t, err)

	// Resume without pause.
	_, err = o.Resume(ctx, rec.ID, "alice")
	assert.True(t, domain.IsCode(err, domain.ErrConflict))

	_, err = o.Stop(ctx, rec.ID, "alice")
	require.NoError(t, err)

	// Stop twice.
	_, err = o.Stop(ctx, rec.ID, "alice")
	assert.True(t, domain.IsCode(err, domain.ErrConflict))
}

// TestStopFinalizes runs the worker pool and waits for the background
// finalizer to land the session in finalized with an artifact location.
func TestStopFinalizes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newTestOrchestrator()
	o.StartWorkers(ctx, 1)

	rec, err := o.Start(ctx, "room-1", "alice", "medium", "mp4", "memory")
	require.NoError(t, err)

	_, err = o.Stop(ctx, rec.ID, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := o.Get(ctx, rec.ID)
		return err == nil && got.State == domain.RecordingFinalized
	}, 2*time.Second, 10*time.Millisecond)

	got, err := o.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.FileLocation)
	assert.Contains(t, got.FileLocation, string(rec.ID))
}

// TestFinalizationFailure points a session at a backend that disappears
// before finalization; it must land in failed with the reason recorded.
func TestFinalizationFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newTestOrchestrator()
	o.StartWorkers(ctx, 1)

	rec, err := o.Start(ctx, "room-1", "alice", "medium", "mp4", "memory")
	require.NoError(t, err)

	// Backend removed between start and stop.
	delete(o.Backends, "memory")

	_, err = o.Stop(ctx, rec.ID, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := o.Get(ctx, rec.ID)
		return err == nil && got.State == domain.RecordingFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := o.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.FailureReason)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator()
	o.MaxLive = 1

	rec, err := o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
	require.NoError(t, err)

	got, err := o.Cancel(ctx, rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingCancelled, got.State)

	// Slot released, a new recording fits again.
	_, err = o.Start(ctx, "room-1", "alice", "low", "webm", "memory")
	assert.NoError(t, err)

	// Terminal, cannot cancel twice.
	_, err = o.Cancel(ctx, rec.ID, "alice")
	assert.True(t, domain.IsCode(err, domain.ErrConflict))
}

func TestRecordingStateTable(t *testing.T) {
	assert.True(t, domain.RecordingIdle.CanTransition(domain.RecordingActive))
	assert.True(t, domain.RecordingActive.CanTransition(domain.RecordingPaused))
	assert.True(t, domain.RecordingPaused.CanTransition(domain.RecordingStopped))
	assert.True(t, domain.RecordingProcessing.CanTransition(domain.RecordingFailed))
	assert.True(t, domain.RecordingStopped.CanTransition(domain.RecordingCancelled))
	assert.False(t, domain.RecordingFinalized.CanTransition(domain.RecordingCancelled))
	assert.False(t, domain.RecordingActive.CanTransition(domain.RecordingFinalized))
}
