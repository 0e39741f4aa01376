// Package relay publishes signaling envelopes to room channels and keeps
// the sliding reconnection buffer. Sequence numbers are assigned here, at
// publish time, and define the per-room total order.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

const (
	DefaultBufferLen = 50
	DefaultBufferTTL = 5 * time.Minute
	QualityTTL       = 1 * time.Minute
)

type Relay struct {
	Store     store.Store
	BufferLen int64
	BufferTTL time.Duration
}

func New(s store.Store) *Relay {
	return &Relay{Store: s, BufferLen: DefaultBufferLen, BufferTTL: DefaultBufferTTL}
}

func seqKey(room domain.RoomID) string     { return fmt.Sprintf("room:%s:seq", room) }
func bufferKey(room domain.RoomID) string  { return fmt.Sprintf("room:%s:buffer", room) }
func qualityKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("room:%s:quality:%s", room, user)
}

// Channel is the pub/sub channel name for a room.
func Channel(room domain.RoomID) string { return fmt.Sprintf("room:%s:channel", room) }

// Publish assigns the next sequence number, appends the envelope to the
// room's bounded buffer and fans it out on the room channel. Buffer append
// and publish happen as one atomic store step so subscribers never observe
// an envelope the buffer doesn't hold.
func (r *Relay) Publish(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	seq, err := r.Store.Incr(ctx, seqKey(env.RoomID))
	if err != nil {
		return nil, fmt.Errorf("assign seq %s: %w", env.RoomID, err)
	}
	_, _ = r.Store.Expire(ctx, seqKey(env.RoomID), domain.RoomTTL)

	env.SequenceNumber = seq
	env.Timestamp = time.Now().UTC()

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	err = r.Store.AppendPublish(ctx, bufferKey(env.RoomID), Channel(env.RoomID), string(raw), r.BufferLen, r.BufferTTL)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", env.RoomID, err)
	}
	log.Debug().Str("module", "relay").Str("room", string(env.RoomID)).
		Str("type", string(env.Type)).Int64("seq", seq).Msg("published")
	return env, nil
}

// GetMissed returns buffered envelopes with sequence number greater than
// lastSeen, oldest first. resync reports that the buffer no longer covers
// the requested range (TTL expiry or overflow eviction); the caller must
// then fall back to a full room-state resync instead of a partial replay.
func (r *Relay) GetMissed(ctx context.Context, roomID domain.RoomID, lastSeen int64) (missed []domain.Envelope, resync bool, err error) {
	items, err := r.Store.ListRange(ctx, bufferKey(roomID))
	if err != nil {
		return nil, false, fmt.Errorf("get missed %s: %w", roomID, err)
	}
	envs := make([]domain.Envelope, 0, len(items))
	for _, raw := range items {
		var e domain.Envelope
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("room", string(roomID)).Msg("corrupt buffered envelope")
			continue
		}
		if e.SequenceNumber > lastSeen {
			envs = append(envs, e)
		}
	}
	// Concurrent publishers may append slightly out of order; sequence
	// numbers are the authority.
	sort.Slice(envs, func(i, j int) bool { return envs[i].SequenceNumber < envs[j].SequenceNumber })

	cur, err := r.currentSeq(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	if cur <= lastSeen {
		return nil, false, nil // nothing was missed
	}
	// The counter is the authority: a replay must cover every sequence
	// number in (lastSeen, cur] with no holes. Eviction, TTL expiry or an
	// append still in flight all surface as a gap here.
	if int64(len(envs)) != cur-lastSeen {
		return nil, true, nil
	}
	for i := range envs {
		if envs[i].SequenceNumber != lastSeen+1+int64(i) {
			return nil, true, nil
		}
	}
	return envs, false, nil
}

func (r *Relay) currentSeq(ctx context.Context, roomID domain.RoomID) (int64, error) {
	raw, err := r.Store.Get(ctx, seqKey(roomID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, fmt.Errorf("corrupt seq counter for %s: %w", roomID, err)
	}
	return n, nil
}

// ReportQuality stores the latest connection sample for a user. Short TTL,
// monitoring only; nothing reads it on the protocol path.
func (r *Relay) ReportQuality(ctx context.Context, roomID domain.RoomID, q *domain.QualityReport) error {
	q.ReportedAt = time.Now().UTC()
	raw, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return r.Store.Set(ctx, qualityKey(roomID, q.UserID), string(raw), QualityTTL)
}

// QualityOf returns the latest sample for a user, if one is fresh.
func (r *Relay) QualityOf(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.QualityReport, error) {
	raw, err := r.Store.Get(ctx, qualityKey(roomID, userID))
	if err != nil {
		return nil, domain.Errorf(domain.ErrNotFound, "no quality sample for %s", userID)
	}
	var q domain.QualityReport
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil, err
	}
	return &q, nil
}
