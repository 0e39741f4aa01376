package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

// Raise appends the user to the room's hand-raise queue. Idempotent: a
// user already queued keeps their original position.
func (r *Registry) Raise(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if _, err := r.participant(ctx, roomID, userID); err != nil {
		return err
	}
	score := float64(time.Now().UnixNano())
	if err := r.Store.ZAddNX(ctx, handsKey(roomID), string(userID), score); err != nil {
		return fmt.Errorf("raise hand %s: %w", roomID, err)
	}
	_, _ = r.Store.Expire(ctx, handsKey(roomID), domain.RoomTTL)
	r.broadcast(ctx, roomID, userID, domain.TypeHandRaise, map[string]any{"user_id": userID})
	return nil
}

// Lower removes the user from the queue; lowering an unraised hand is a
// no-op.
func (r *Registry) Lower(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if err := r.Store.ZRem(ctx, handsKey(roomID), string(userID)); err != nil {
		return fmt.Errorf("lower hand %s: %w", roomID, err)
	}
	r.broadcast(ctx, roomID, userID, domain.TypeHandLower, map[string]any{"user_id": userID})
	return nil
}

// HandQueue returns the FIFO queue with 1-based positions.
func (r *Registry) HandQueue(ctx context.Context, roomID domain.RoomID) ([]domain.HandRaise, error) {
	members, err := r.Store.ZRange(ctx, handsKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("hand queue %s: %w", roomID, err)
	}
	out := make([]domain.HandRaise, 0, len(members))
	for i, m := range members {
		out = append(out, domain.HandRaise{
			UserID:   domain.UserID(m),
			Position: i + 1,
		})
	}
	return out, nil
}
