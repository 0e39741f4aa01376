package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

type SessionID string

// Conn is a locally attached transport endpoint (a WebSocket, in practice).
// Owned by the adapter; the fanout only ever calls TrySend.
type Conn interface {
	TrySend(data []byte) error
}

type attachment struct {
	userID domain.UserID
	conn   Conn
}

type roomFeed struct {
	cancel context.CancelFunc
	sub    store.Subscription

	mu    sync.RWMutex
	conns map[SessionID]attachment
}

// Fanout keeps one store subscription per room per server process and
// forwards every published envelope to the locally connected sockets of
// that room. Which instance accepted a socket stops mattering.
type Fanout struct {
	Store store.Store

	mu    sync.Mutex
	rooms map[domain.RoomID]*roomFeed
}

func NewFanout(s store.Store) *Fanout {
	return &Fanout{Store: s, rooms: make(map[domain.RoomID]*roomFeed)}
}

// Attach registers a local connection for a room, subscribing to the room
// channel on first attachment.
func (f *Fanout) Attach(ctx context.Context, roomID domain.RoomID, sid SessionID, userID domain.UserID, conn Conn) error {
	f.mu.Lock()
	feed, ok := f.rooms[roomID]
	if !ok {
		// The feed lives as long as the room has local attachments, not as
		// long as the first attacher's socket.
		feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sub, err := f.Store.Subscribe(feedCtx, Channel(roomID))
		if err != nil {
			cancel()
			f.mu.Unlock()
			return err
		}
		feed = &roomFeed{cancel: cancel, sub: sub, conns: make(map[SessionID]attachment)}
		f.rooms[roomID] = feed
		go f.pump(roomID, feed)
		log.Info().Str("module", "relay.fanout").Str("room", string(roomID)).Msg("room feed opened")
	}
	feed.mu.Lock()
	feed.conns[sid] = attachment{userID: userID, conn: conn}
	feed.mu.Unlock()
	f.mu.Unlock()
	return nil
}

// Detach drops a local connection; the last one closes the room feed.
func (f *Fanout) Detach(roomID domain.RoomID, sid SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	feed, ok := f.rooms[roomID]
	if !ok {
		return
	}
	feed.mu.Lock()
	delete(feed.conns, sid)
	empty := len(feed.conns) == 0
	feed.mu.Unlock()
	if empty {
		feed.cancel()
		_ = feed.sub.Close()
		delete(f.rooms, roomID)
		log.Info().Str("module", "relay.fanout").Str("room", string(roomID)).Msg("room feed closed")
	}
}

func (f *Fanout) pump(roomID domain.RoomID, feed *roomFeed) {
	for raw := range feed.sub.Messages() {
		var env domain.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			log.Warn().Err(err).Str("module", "relay.fanout").Str("room", string(roomID)).Msg("corrupt envelope on channel")
			continue
		}
		feed.mu.RLock()
		for sid, at := range feed.conns {
			if env.TargetUserID != "" && env.TargetUserID != at.userID {
				continue
			}
			if err := at.conn.TrySend([]byte(raw)); err != nil {
				// Slow consumer: drop the frame, the reconnection buffer
				// covers the gap on their next resync.
				log.Debug().Str("module", "relay.fanout").Str("sid", string(sid)).Msg("dropped frame on backpressure")
			}
		}
		feed.mu.RUnlock()
	}
}
