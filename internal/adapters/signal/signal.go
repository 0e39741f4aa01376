// Package signal is the WebSocket transport for signaling envelopes. One
// controller per process; each connection gets a read pump and a write
// pump around a buffered send channel.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/relay"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration

	limiters sync.Map // relay.SessionID -> *RateLimiter
}

func NewController(o *orch.Orchestrator, readLimit int64, pingPeriod time.Duration) *Controller {
	if readLimit <= 0 {
		readLimit = 65536
	}
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Controller{Orch: o, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request and binds the session. The client token set
// by the HTTP middleware is the session id; the auth collaborator's
// identity rides on the same context.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	sid := relay.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{conn: ws, send: make(chan []byte, 64)}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	if name := c.GetString("display_name"); name != "" {
		_ = user.SetDisplayName(name)
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Sessions.Bind(sid, user, conn, cancel)

	go ctl.writePump(ctx, sid, conn)
	go ctl.readPump(ctx, sid, conn)
}

// clientFrame is what arrives on the socket: a partial envelope; room,
// sequence and timestamp are filled in server-side.
type clientFrame struct {
	Type         domain.EnvelopeType `json:"type"`
	Payload      json.RawMessage     `json:"payload,omitempty"`
	TargetUserID domain.UserID       `json:"target_user_id,omitempty"`
}

func (ctl *Controller) dispatch(ctx context.Context, sid relay.SessionID, c *wsConn, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, domain.NewError(domain.ErrValidation, "malformed frame"))
		return
	}

	switch frame.Type {
	case "join":
		ctl.handleJoin(ctx, sid, c, frame.Payload)
	case "leave":
		ctl.handleLeave(ctx, sid, c)
	case "heartbeat":
		ctl.handleHeartbeat(ctx, sid, c)
	case "reconnect":
		ctl.handleReconnect(ctx, sid, c, frame.Payload)
	case domain.TypeChat:
		ctl.handleChat(ctx, sid, c, &frame)
	case domain.TypeMediaControl:
		ctl.handleMediaControl(ctx, sid, c, &frame)
	case domain.TypeHandRaise:
		ctl.handleHandRaise(ctx, sid, c, true)
	case domain.TypeHandLower:
		ctl.handleHandRaise(ctx, sid, c, false)
	case "quality-report":
		ctl.handleQuality(ctx, sid, c, frame.Payload)
	case domain.TypeOffer, domain.TypeAnswer:
		ctl.handleSDP(ctx, sid, c, &frame)
	case domain.TypeICECandidate:
		ctl.handleCandidate(ctx, sid, c, &frame)
	case domain.TypeE2EEMessage:
		ctl.handleSealed(ctx, sid, c, &frame)
	default:
		log.Warn().Str("module", "signal").Str("type", string(frame.Type)).Msg("unknown frame type")
		ctl.sendError(c, domain.Errorf(domain.ErrValidation, "unknown frame type %q", frame.Type))
	}
}

// publishFrom relays a client frame into the room channel after the
// usual envelope validation.
func (ctl *Controller) publishFrom(ctx context.Context, sid relay.SessionID, c *wsConn, frame *clientFrame) {
	roomID, ok := ctl.Orch.Sessions.RoomOf(sid)
	if !ok {
		ctl.sendError(c, domain.NewError(domain.ErrNotFound, "not in a room"))
		return
	}
	user := ctl.Orch.Sessions.GetOrCreateUser(sid)
	env := &domain.Envelope{
		Type:         frame.Type,
		Payload:      frame.Payload,
		SenderID:     user.ID,
		RoomID:       roomID,
		TargetUserID: frame.TargetUserID,
	}
	if _, err := ctl.Orch.Relay.Publish(ctx, env); err != nil {
		ctl.sendError(c, err)
	}
}

func (ctl *Controller) limiter(sid relay.SessionID) *RateLimiter {
	if v, ok := ctl.limiters.Load(sid); ok {
		return v.(*RateLimiter)
	}
	rl := NewRateLimiter(30, 10*time.Second)
	actual, _ := ctl.limiters.LoadOrStore(sid, rl)
	return actual.(*RateLimiter)
}
