package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/relay"
)

func (ctl *Controller) handleJoin(ctx context.Context, sid relay.SessionID, c *wsConn, payload []byte) {
	type joinPayload struct {
		RoomID      string `json:"room_id"`
		DisplayName string `json:"display_name,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "bad join payload"))
		return
	}
	if p.RoomID == "" {
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "room_id required"))
		return
	}
	if p.DisplayName != "" {
		if err := ctl.Orch.Sessions.UpdateDisplayName(sid, p.DisplayName); err != nil {
			ctl.sendError(c, domain.NewError(domain.ErrValidation, "invalid display name"))
			return
		}
	}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	res, err := ctl.Orch.JoinRoom(ctx, sid, domain.RoomID(p.RoomID), user)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, map[string]any{
		"type":              "joined",
		"room_id":           p.RoomID,
		"role":              res.Role,
		"participant_count": res.ParticipantCount,
	})
}

func (ctl *Controller) handleLeave(ctx context.Context, sid relay.SessionID, c *wsConn) {
	ctl.Orch.LeaveRoom(ctx, sid)
	ctl.sendJSON(c, map[string]any{"type": "left"})
}

func (ctl *Controller) handleHeartbeat(ctx context.Context, sid relay.SessionID, c *wsConn) {
	roomID, ok := ctl.Orch.Sessions.RoomOf(sid)
	if !ok {
		return
	}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	if err := ctl.Orch.Registry.Heartbeat(ctx, roomID, user.ID); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("heartbeat")
	}
}

// handleReconnect replays missed envelopes, or tells the client to resync
// from room-state when the buffer no longer covers the gap.
func (ctl *Controller) handleReconnect(ctx context.Context, sid relay.SessionID, c *wsConn, payload []byte) {
	type reconnectPayload struct {
		RoomID           string `json:"room_id"`
		LastSeenSequence int64  `json:"last_seen_sequence"`
	}
	var p reconnectPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "bad reconnect payload"))
		return
	}
	roomID := domain.RoomID(p.RoomID)
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)

	// Re-join is idempotent: presence refreshes, role survives.
	if _, err := ctl.Orch.JoinRoom(ctx, sid, roomID, user); err != nil {
		ctl.sendError(c, err)
		return
	}

	missed, resync, err := ctl.Orch.Relay.GetMissed(ctx, roomID, p.LastSeenSequence)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	if resync {
		parts, err := ctl.Orch.Registry.ListParticipants(ctx, roomID)
		if err != nil {
			ctl.sendError(c, err)
			return
		}
		ctl.sendJSON(c, map[string]any{
			"type":         "resync",
			"room_id":      roomID,
			"participants": parts,
		})
		return
	}
	for i := range missed {
		ctl.sendJSON(c, &missed[i])
	}
}

func (ctl *Controller) handleChat(ctx context.Context, sid relay.SessionID, c *wsConn, frame *clientFrame) {
	if !ctl.limiter(sid).Allow() {
		ctl.sendError(c, domain.NewError(domain.ErrCapacity, "slow down"))
		return
	}
	ctl.requirePermission(ctx, sid, c, domain.PermSendChat, frame)
}

func (ctl *Controller) handleMediaControl(ctx context.Context, sid relay.SessionID, c *wsConn, frame *clientFrame) {
	ctl.requirePermission(ctx, sid, c, domain.PermShareMedia, frame)
}

// requirePermission publishes the frame only when the sender's effective
// permissions allow the action.
func (ctl *Controller) requirePermission(ctx context.Context, sid relay.SessionID, c *wsConn, perm domain.Permission, frame *clientFrame) {
	roomID, ok := ctl.Orch.Sessions.RoomOf(sid)
	if !ok {
		ctl.sendError(c, domain.NewError(domain.ErrNotFound, "not in a room"))
		return
	}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	allowed, err := ctl.Orch.Registry.Can(ctx, roomID, user.ID, perm)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	if !allowed {
		ctl.sendError(c, domain.Errorf(domain.ErrUnauthorized, "missing permission %s", perm))
		return
	}
	ctl.publishFrom(ctx, sid, c, frame)
}

func (ctl *Controller) handleHandRaise(ctx context.Context, sid relay.SessionID, c *wsConn, raise bool) {
	roomID, ok := ctl.Orch.Sessions.RoomOf(sid)
	if !ok {
		ctl.sendError(c, domain.NewError(domain.ErrNotFound, "not in a room"))
		return
	}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	var err error
	if raise {
		err = ctl.Orch.Registry.Raise(ctx, roomID, user.ID)
	} else {
		err = ctl.Orch.Registry.Lower(ctx, roomID, user.ID)
	}
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	queue, err := ctl.Orch.Registry.HandQueue(ctx, roomID)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, map[string]any{"type": domain.TypeHandQueue, "queue": queue})
}

func (ctl *Controller) handleQuality(ctx context.Context, sid relay.SessionID, c *wsConn, payload []byte) {
	roomID, ok := ctl.Orch.Sessions.RoomOf(sid)
	if !ok {
		return
	}
	var q domain.QualityReport
	if err := json.Unmarshal(payload, &q); err != nil {
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "bad quality payload"))
		return
	}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	q.UserID = user.ID
	if err := ctl.Orch.Relay.ReportQuality(ctx, roomID, &q); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("quality report")
	}
}
