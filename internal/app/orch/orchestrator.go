// Package orch wires the coordination core together: registry, relay,
// encryption engine, transfer coordinator and recording orchestrator all
// share the same store and broadcast through the same relay.
package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/e2ee"
	"github.com/dkeye/Huddle/internal/recording"
	"github.com/dkeye/Huddle/internal/registry"
	"github.com/dkeye/Huddle/internal/relay"
	"github.com/dkeye/Huddle/internal/transfer"
)

type Orchestrator struct {
	Sessions   *app.Sessions
	Registry   *registry.Registry
	Relay      *relay.Relay
	Fanout     *relay.Fanout
	E2EE       *e2ee.Engine
	Transfers  *transfer.Coordinator
	Recordings *recording.Orchestrator
}

// Start launches the background machinery: the transfer idle sweep and the
// recording finalizer pool.
func (o *Orchestrator) Start(ctx context.Context, finalizerWorkers int) {
	if finalizerWorkers < 1 {
		finalizerWorkers = 2
	}
	o.Transfers.StartSweeper(ctx, 5*time.Minute)
	o.Recordings.StartWorkers(ctx, finalizerWorkers)
	log.Info().Str("module", "orch").Int("finalizer_workers", finalizerWorkers).Msg("background workers started")
}

// JoinRoom runs the full join flow for a locally connected session: store
// membership first, then attach the socket to the room feed so the client
// starts receiving envelopes published anywhere.
func (o *Orchestrator) JoinRoom(ctx context.Context, sid relay.SessionID, roomID domain.RoomID, user *domain.User) (*registry.JoinResult, error) {
	if cur, ok := o.Sessions.RoomOf(sid); ok && cur != roomID {
		o.LeaveRoom(ctx, sid)
	}
	res, err := o.Registry.Join(ctx, roomID, user)
	if err != nil {
		return nil, err
	}
	conn, ok := o.Sessions.Conn(sid)
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "no connection for session")
	}
	if err := o.Fanout.Attach(ctx, roomID, sid, user.ID, conn); err != nil {
		return nil, err
	}
	o.Sessions.UpdateRoom(sid, roomID)
	return res, nil
}

// LeaveRoom is the explicit removal path: membership goes away now.
func (o *Orchestrator) LeaveRoom(ctx context.Context, sid relay.SessionID) {
	roomID, ok := o.Sessions.RoomOf(sid)
	if !ok {
		return
	}
	user := o.Sessions.GetOrCreateUser(sid)
	o.Fanout.Detach(roomID, sid)
	o.Sessions.ClearRoom(sid)
	if err := o.Registry.Leave(ctx, roomID, user.ID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("leave")
	}
}

// Disconnect tears down local state for a dropped socket without removing
// membership; presence lapses on its own, which is what lets the client
// reconnect and replay the buffer.
func (o *Orchestrator) Disconnect(sid relay.SessionID) {
	if roomID, ok := o.Sessions.RoomOf(sid); ok {
		o.Fanout.Detach(roomID, sid)
	}
	o.Sessions.Cancel(sid)
	o.Sessions.Unbind(sid)
}
