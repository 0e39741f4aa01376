// Package recording drives server-side recording sessions through their
// lifecycle and hands finished artifacts off to a storage backend.
package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

// Publisher is the slice of the relay used for status broadcasts.
type Publisher interface {
	Publish(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error)
}

type Orchestrator struct {
	Store    store.Store
	Relay    Publisher
	Backends map[string]Backend
	MaxLive  int64

	// Now is injectable for interval accounting in tests.
	Now func() time.Time

	fin *finalizer
}

func New(s store.Store, relay Publisher, backends map[string]Backend) *Orchestrator {
	o := &Orchestrator{
		Store:    s,
		Relay:    relay,
		Backends: backends,
		MaxLive:  domain.MaxConcurrentRecordings,
		Now:      time.Now,
	}
	o.fin = newFinalizer(o)
	return o
}

// StartWorkers launches the background finalization pool.
func (o *Orchestrator) StartWorkers(ctx context.Context, workers int) {
	o.fin.start(ctx, workers)
}

func metaKey(id domain.RecordingID) string { return fmt.Sprintf("recording:meta:%s", id) }

const activeKey = "recording:active"

// Start opens a recording session. The preset/format pairing must be
// supported and the global concurrency cap not exceeded.
func (o *Orchestrator) Start(ctx context.Context, roomID domain.RoomID, ownerID domain.UserID, preset, format, backend string) (*domain.Recording, error) {
	if _, err := ValidateCombo(preset, format); err != nil {
		return nil, err
	}
	if _, ok := o.Backends[backend]; !ok {
		return nil, domain.Errorf(domain.ErrValidation, "unknown storage backend %q", backend)
	}

	// Claim a slot first; no partial allocation on rejection.
	active, err := o.Store.Incr(ctx, activeKey)
	if err != nil {
		return nil, fmt.Errorf("claim recording slot: %w", err)
	}
	if active > o.MaxLive {
		_, _ = o.Store.Decr(ctx, activeKey)
		return nil, domain.Errorf(domain.ErrCapacity, "global recording limit %d reached", o.MaxLive)
	}

	rec := &domain.Recording{
		ID:             domain.RecordingID(uuid.NewString()),
		RoomID:         roomID,
		OwnerID:        ownerID,
		QualityPreset:  preset,
		Format:         format,
		StorageBackend: backend,
		State:          domain.RecordingIdle,
		StartedAt:      o.Now().UTC(),
	}
	// Fresh sessions go through the table like every other change.
	if err := o.transition(ctx, rec, domain.RecordingActive, nil); err != nil {
		_, _ = o.Store.Decr(ctx, activeKey)
		return nil, err
	}
	log.Info().Str("module", "recording").Str("recording", string(rec.ID)).
		Str("room", string(roomID)).Str("preset", preset).Str("format", format).Msg("started")
	o.broadcast(ctx, rec, domain.TypeRecordingStarted)
	return rec, nil
}

// Pause opens a pause interval. Owner only.
func (o *Orchestrator) Pause(ctx context.Context, id domain.RecordingID, callerID domain.UserID) (*domain.Recording, error) {
	rec, err := o.owned(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if err := o.transition(ctx, rec, domain.RecordingPaused, func(r *domain.Recording) {
		r.PausedIntervals = append(r.PausedIntervals, domain.PausedInterval{Start: o.Now().UTC()})
	}); err != nil {
		return nil, err
	}
	o.broadcast(ctx, rec, domain.TypeRecordingPaused)
	return rec, nil
}

// Resume closes the open pause interval. Owner only.
func (o *Orchestrator) Resume(ctx context.Context, id domain.RecordingID, callerID domain.UserID) (*domain.Recording, error) {
	rec, err := o.owned(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if err := o.transition(ctx, rec, domain.RecordingActive, func(r *domain.Recording) {
		if n := len(r.PausedIntervals); n > 0 && r.PausedIntervals[n-1].End.IsZero() {
			r.PausedIntervals[n-1].End = o.Now().UTC()
		}
	}); err != nil {
		return nil, err
	}
	o.broadcast(ctx, rec, domain.TypeRecordingResumed)
	return rec, nil
}

// Stop ends capture and hands the session to the background finalizer; the
// caller's request returns immediately.
func (o *Orchestrator) Stop(ctx context.Context, id domain.RecordingID, callerID domain.UserID) (*domain.Recording, error) {
	rec, err := o.owned(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if err := o.transition(ctx, rec, domain.RecordingStopped, func(r *domain.Recording) {
		now := o.Now().UTC()
		// A stop while paused closes the dangling interval.
		if n := len(r.PausedIntervals); n > 0 && r.PausedIntervals[n-1].End.IsZero() {
			r.PausedIntervals[n-1].End = now
		}
		r.StoppedAt = now
		r.DurationSeconds = r.Duration().Seconds()
	}); err != nil {
		return nil, err
	}
	o.releaseSlot(ctx)
	log.Info().Str("module", "recording").Str("recording", string(id)).
		Float64("duration_s", rec.DurationSeconds).Msg("stopped")
	o.broadcast(ctx, rec, domain.TypeRecordingStopped)
	o.fin.enqueue(id)
	return rec, nil
}

// Cancel aborts a recording before finalization and deletes partial output.
func (o *Orchestrator) Cancel(ctx context.Context, id domain.RecordingID, callerID domain.UserID) (*domain.Recording, error) {
	rec, err := o.owned(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	wasCapturing := rec.State == domain.RecordingActive || rec.State == domain.RecordingPaused
	if err := o.transition(ctx, rec, domain.RecordingCancelled, nil); err != nil {
		return nil, err
	}
	if wasCapturing {
		o.releaseSlot(ctx)
	}
	if rec.FileLocation != "" {
		if b, ok := o.Backends[rec.StorageBackend]; ok {
			if err := b.Delete(ctx, rec.FileLocation); err != nil {
				log.Error().Err(err).Str("module", "recording").Str("recording", string(id)).Msg("partial output cleanup")
			}
		}
	}
	log.Info().Str("module", "recording").Str("recording", string(id)).Msg("cancelled")
	o.broadcast(ctx, rec, domain.TypeRecordingCancelled)
	return rec, nil
}

// Get loads a recording session.
func (o *Orchestrator) Get(ctx context.Context, id domain.RecordingID) (*domain.Recording, error) {
	raw, err := o.Store.Get(ctx, metaKey(id))
	if err != nil {
		return nil, domain.Errorf(domain.ErrNotFound, "recording %s not found or expired", id)
	}
	var rec domain.Recording
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "corrupt recording record %s", id)
	}
	return &rec, nil
}

func (o *Orchestrator) owned(ctx context.Context, id domain.RecordingID, callerID domain.UserID) (*domain.Recording, error) {
	rec, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != callerID {
		return nil, domain.Errorf(domain.ErrUnauthorized, "only the recording owner may control it")
	}
	return rec, nil
}

// transition applies a table-validated state change plus an optional
// mutation, then persists.
func (o *Orchestrator) transition(ctx context.Context, rec *domain.Recording, to domain.RecordingState, mutate func(*domain.Recording)) error {
	if !rec.State.CanTransition(to) {
		return domain.Errorf(domain.ErrConflict, "illegal recording transition %s -> %s", rec.State, to)
	}
	rec.State = to
	if mutate != nil {
		mutate(rec)
	}
	return o.write(ctx, rec)
}

func (o *Orchestrator) releaseSlot(ctx context.Context) {
	if n, err := o.Store.Decr(ctx, activeKey); err == nil && n < 0 {
		// Counter drift from a crashed instance; clamp.
		_, _ = o.Store.Incr(ctx, activeKey)
	}
}

func (o *Orchestrator) write(ctx context.Context, rec *domain.Recording) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := o.Store.Set(ctx, metaKey(rec.ID), string(raw), domain.RecordingTTL); err != nil {
		return fmt.Errorf("write recording %s: %w", rec.ID, err)
	}
	return nil
}

func (o *Orchestrator) broadcast(ctx context.Context, rec *domain.Recording, evt domain.EnvelopeType) {
	if o.Relay == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if _, err := o.Relay.Publish(ctx, &domain.Envelope{
		Type:     evt,
		Payload:  payload,
		SenderID: rec.OwnerID,
		RoomID:   rec.RoomID,
	}); err != nil {
		log.Error().Err(err).Str("module", "recording").Str("type", string(evt)).Msg("status broadcast")
	}
}
