package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

// RequestAdmission parks a user in the waiting room until a host or
// moderator decides. Idempotent per user.
func (r *Registry) RequestAdmission(ctx context.Context, roomID domain.RoomID, user *domain.User) (*domain.WaitingEntry, error) {
	entry := domain.WaitingEntry{
		UserID:          user.ID,
		DisplayName:     user.DisplayName,
		JoinedWaitingAt: time.Now().UTC(),
		Status:          domain.AdmissionWaiting,
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return nil, err
	}
	created, err := r.Store.SetNX(ctx, waitingKey(roomID, user.ID), string(raw), domain.RoomTTL)
	if err != nil {
		return nil, fmt.Errorf("request admission %s: %w", roomID, err)
	}
	if !created {
		cur, err := r.waitingEntry(ctx, roomID, user.ID)
		if err != nil {
			return nil, err
		}
		return cur, nil
	}
	log.Info().Str("module", "registry").Str("room", string(roomID)).
		Str("user", string(user.ID)).Msg("waiting for admission")
	r.broadcast(ctx, roomID, user.ID, domain.TypeWaiting, entry)
	return &entry, nil
}

// Admit moves a waiting user to admitted and runs the normal join flow.
// Host/moderator only.
func (r *Registry) Admit(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.UserID) (*JoinResult, error) {
	if err := r.requireModerator(ctx, roomID, actorID); err != nil {
		return nil, err
	}
	entry, err := r.waitingEntry(ctx, roomID, targetID)
	if err != nil {
		return nil, err
	}
	if entry.Status != domain.AdmissionWaiting {
		return nil, domain.Errorf(domain.ErrConflict, "admission already decided: %s", entry.Status)
	}
	entry.Status = domain.AdmissionAdmitted
	if err := r.writeWaiting(ctx, roomID, entry); err != nil {
		return nil, err
	}
	user := &domain.User{ID: entry.UserID, DisplayName: entry.DisplayName}
	res, err := r.Join(ctx, roomID, user)
	if err != nil {
		return nil, err
	}
	_ = r.Store.Delete(ctx, waitingKey(roomID, targetID))
	return res, nil
}

// RejectAdmission marks a waiting user rejected. Host/moderator only.
func (r *Registry) RejectAdmission(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.UserID) error {
	if err := r.requireModerator(ctx, roomID, actorID); err != nil {
		return err
	}
	entry, err := r.waitingEntry(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if entry.Status != domain.AdmissionWaiting {
		return domain.Errorf(domain.ErrConflict, "admission already decided: %s", entry.Status)
	}
	entry.Status = domain.AdmissionRejected
	if err := r.writeWaiting(ctx, roomID, entry); err != nil {
		return err
	}
	r.broadcast(ctx, roomID, actorID, domain.TypeWaiting, entry)
	return nil
}

// ListWaiting returns pending admissions oldest first.
func (r *Registry) ListWaiting(ctx context.Context, roomID domain.RoomID) ([]domain.WaitingEntry, error) {
	keys, err := r.Store.ScanPrefix(ctx, waitingPrefix(roomID))
	if err != nil {
		return nil, fmt.Errorf("list waiting %s: %w", roomID, err)
	}
	out := make([]domain.WaitingEntry, 0, len(keys))
	for _, k := range keys {
		raw, err := r.Store.Get(ctx, k)
		if err != nil {
			continue
		}
		var e domain.WaitingEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedWaitingAt.Before(out[j].JoinedWaitingAt) })
	return out, nil
}

func (r *Registry) waitingEntry(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.WaitingEntry, error) {
	raw, err := r.Store.Get(ctx, waitingKey(roomID, userID))
	if err != nil {
		return nil, domain.Errorf(domain.ErrNotFound, "no waiting entry for %s", userID)
	}
	var e domain.WaitingEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "corrupt waiting entry for %s", userID)
	}
	return &e, nil
}

func (r *Registry) writeWaiting(ctx context.Context, roomID domain.RoomID, e *domain.WaitingEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.Store.Set(ctx, waitingKey(roomID, e.UserID), string(raw), domain.RoomTTL)
}
