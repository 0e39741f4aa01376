package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/relay"
)

type sessionEntry struct {
	RoomID domain.RoomID
	User   *domain.User
	Conn   relay.Conn
	Cancel context.CancelFunc
}

// Sessions tracks the sockets connected to this server process: which
// user and room each session id belongs to. Purely local bookkeeping; the
// coordination store stays the source of truth for membership.
type Sessions struct {
	mu      sync.RWMutex
	entries map[relay.SessionID]*sessionEntry
	users   map[relay.SessionID]*domain.User
}

func NewSessions() *Sessions {
	return &Sessions{
		entries: make(map[relay.SessionID]*sessionEntry),
		users:   make(map[relay.SessionID]*domain.User),
	}
}

// GetOrCreateUser resolves the identity bound to a session, minting a
// guest identity on first sight.
func (s *Sessions) GetOrCreateUser(sid relay.SessionID) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[sid]; ok {
		return u
	}
	u := &domain.User{ID: domain.UserID(sid), DisplayName: "guest"}
	s.users[sid] = u
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Msg("created new user")
	return u
}

func (s *Sessions) UpdateDisplayName(sid relay.SessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[sid]
	if !ok {
		return domain.Errorf(domain.ErrNotFound, "no user for session")
	}
	if err := u.SetDisplayName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Str("name", name).Msg("updated display name")
	return nil
}

// Bind registers a connected socket for a session.
func (s *Sessions) Bind(sid relay.SessionID, user *domain.User, conn relay.Conn, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sid] = &sessionEntry{User: user, Conn: conn, Cancel: cancel}
	s.users[sid] = user
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Msg("bound session")
}

// Unbind drops a session's socket registration.
func (s *Sessions) Unbind(sid relay.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sid)
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Msg("unbind session")
}

// RoomOf reports the room a session is attached to, if any.
func (s *Sessions) RoomOf(sid relay.SessionID) (domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

// Conn returns the socket bound to a session.
func (s *Sessions) Conn(sid relay.SessionID) (relay.Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// UpdateRoom records the room a session joined.
func (s *Sessions) UpdateRoom(sid relay.SessionID, roomID domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sid]
	if !ok {
		return false
	}
	e.RoomID = roomID
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Str("room", string(roomID)).Msg("updated room")
	return true
}

// ClearRoom removes the room association but keeps the socket bound.
func (s *Sessions) ClearRoom(sid relay.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sid]; ok {
		e.RoomID = ""
	}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Msg("removed room association")
}

// Cancel fires the session's cancel func, tearing down its pumps.
func (s *Sessions) Cancel(sid relay.SessionID) bool {
	s.mu.RLock()
	e, ok := s.entries[sid]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.sessions").Str("sid", string(sid)).Msg("canceled session")
	return true
}
