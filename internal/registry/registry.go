// Package registry tracks who is in a room: membership, roles, permission
// overrides and presence. Everything lives in the coordination store so the
// registry on any server instance sees the same room.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

// Publisher is the slice of the relay the registry needs: publishing a
// broadcast envelope to a room's channel.
type Publisher interface {
	Publish(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error)
}

type Registry struct {
	Store store.Store
	Relay Publisher
}

func New(s store.Store, relay Publisher) *Registry {
	return &Registry{Store: s, Relay: relay}
}

type JoinResult struct {
	Role             domain.Role `json:"role"`
	ParticipantCount int         `json:"participant_count"`
}

// RoomState is the broadcast snapshot sent after membership changes.
type RoomState struct {
	RoomID       domain.RoomID        `json:"room_id"`
	Participants []domain.Participant `json:"participants"`
}

// Join adds the user to the room, bootstrapping the first joiner as host.
// Idempotent: a repeated join refreshes presence and returns current state.
// Broadcasts user-joined then room-state, in that order, so the state
// snapshot already reflects the join.
func (r *Registry) Join(ctx context.Context, roomID domain.RoomID, user *domain.User) (*JoinResult, error) {
	if roomID == "" || len(roomID) > domain.MaxRoomIDLen {
		return nil, domain.Errorf(domain.ErrValidation, "invalid room id")
	}
	now := time.Now().UTC()
	p := domain.Participant{
		UserID:         user.ID,
		DisplayName:    user.DisplayName,
		JoinedAt:       now,
		LastPresenceAt: now,
	}
	raw, err := json.Marshal(&p)
	if err != nil {
		return nil, err
	}

	created, err := r.Store.SetNX(ctx, participantKey(roomID, user.ID), string(raw), domain.RoomTTL)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}
	if !created {
		// Already a member: refresh presence and report current role.
		if err := r.Heartbeat(ctx, roomID, user.ID); err != nil {
			return nil, err
		}
		role, err := r.RoleOf(ctx, roomID, user.ID)
		if err != nil {
			return nil, err
		}
		parts, err := r.ListParticipants(ctx, roomID)
		if err != nil {
			return nil, err
		}
		return &JoinResult{Role: role, ParticipantCount: len(parts)}, nil
	}

	count, err := r.Store.Incr(ctx, countKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}
	_, _ = r.Store.Expire(ctx, countKey(roomID), domain.RoomTTL)

	role := domain.RoleParticipant
	if count == 1 {
		role = domain.RoleHost
	}
	p.Role = role
	if err := r.writeParticipant(ctx, roomID, &p); err != nil {
		return nil, err
	}
	if err := r.Store.Set(ctx, roleKey(roomID, user.ID), string(role), domain.RoleTTL); err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}
	if err := r.Store.Set(ctx, presenceKey(roomID, user.ID), now.Format(time.RFC3339Nano), domain.PresenceTTL); err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}

	log.Info().Str("module", "registry").Str("room", string(roomID)).
		Str("user", string(user.ID)).Str("role", string(role)).Msg("joined")

	r.broadcast(ctx, roomID, user.ID, domain.TypeUserJoined, p)
	r.broadcastState(ctx, roomID, user.ID)

	return &JoinResult{Role: role, ParticipantCount: int(count)}, nil
}

// Leave is the immediate-removal path; a plain disconnect just lets
// presence lapse so the user can reconnect.
func (r *Registry) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if _, err := r.participant(ctx, roomID, userID); err != nil {
		return err
	}
	err := r.Store.Delete(ctx,
		participantKey(roomID, userID),
		presenceKey(roomID, userID),
		roleKey(roomID, userID),
		permsKey(roomID, userID),
	)
	if err != nil {
		return fmt.Errorf("leave %s: %w", roomID, err)
	}
	_, _ = r.Store.Decr(ctx, countKey(roomID))
	_ = r.Store.ZRem(ctx, handsKey(roomID), string(userID))

	log.Info().Str("module", "registry").Str("room", string(roomID)).
		Str("user", string(userID)).Msg("left")

	r.broadcast(ctx, roomID, userID, domain.TypeUserLeft, map[string]any{"user_id": userID})
	r.broadcastState(ctx, roomID, userID)
	return nil
}

// Heartbeat refreshes presence without touching membership.
func (r *Registry) Heartbeat(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	p, err := r.participant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := r.Store.Set(ctx, presenceKey(roomID, userID), now.Format(time.RFC3339Nano), domain.PresenceTTL); err != nil {
		return fmt.Errorf("heartbeat %s: %w", roomID, err)
	}
	p.LastPresenceAt = now
	if err := r.writeParticipant(ctx, roomID, p); err != nil {
		return err
	}
	// Activity keeps the room itself alive.
	_, _ = r.Store.Expire(ctx, countKey(roomID), domain.RoomTTL)
	return nil
}

// ListParticipants reads every participant of the room, flagging those
// whose presence key lapsed as disconnected.
func (r *Registry) ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	keys, err := r.Store.ScanPrefix(ctx, participantPrefix(roomID))
	if err != nil {
		return nil, fmt.Errorf("list participants %s: %w", roomID, err)
	}
	out := make([]domain.Participant, 0, len(keys))
	for _, k := range keys {
		raw, err := r.Store.Get(ctx, k)
		if err != nil {
			continue // expired between scan and read
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.Warn().Err(err).Str("module", "registry").Str("key", k).Msg("bad participant record")
			continue
		}
		_, presErr := r.Store.Get(ctx, presenceKey(roomID, p.UserID))
		p.Connected = presErr == nil
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// RoomSummary is the listing view of an active room.
type RoomSummary struct {
	RoomID           domain.RoomID `json:"room_id"`
	ParticipantCount int           `json:"participant_count"`
}

// ListRooms enumerates rooms with at least one member. Derived from the
// per-room counter keys, so an expired room simply stops being listed.
func (r *Registry) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	keys, err := r.Store.ScanPrefix(ctx, "room:")
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]RoomSummary, 0)
	for _, k := range keys {
		if !strings.HasSuffix(k, ":count") {
			continue
		}
		raw, err := r.Store.Get(ctx, k)
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(raw)
		if err != nil || count <= 0 {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "room:"), ":count")
		out = append(out, RoomSummary{RoomID: domain.RoomID(id), ParticipantCount: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

// RoleOf resolves a user's current role, falling back to the participant
// record if the short-lived role key expired.
func (r *Registry) RoleOf(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Role, error) {
	if raw, err := r.Store.Get(ctx, roleKey(roomID, userID)); err == nil {
		return domain.Role(raw), nil
	}
	p, err := r.participant(ctx, roomID, userID)
	if err != nil {
		return "", err
	}
	// Re-warm the role key.
	_ = r.Store.Set(ctx, roleKey(roomID, userID), string(p.Role), domain.RoleTTL)
	return p.Role, nil
}

// SetRole changes a member's role. Only host/moderator may call.
func (r *Registry) SetRole(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.UserID, role domain.Role) error {
	if !role.Valid() {
		return domain.Errorf(domain.ErrValidation, "unknown role %q", role)
	}
	if err := r.requireModerator(ctx, roomID, actorID); err != nil {
		return err
	}
	p, err := r.participant(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	p.Role = role
	if err := r.writeParticipant(ctx, roomID, p); err != nil {
		return err
	}
	if err := r.Store.Set(ctx, roleKey(roomID, targetID), string(role), domain.RoleTTL); err != nil {
		return fmt.Errorf("set role %s: %w", roomID, err)
	}
	log.Info().Str("module", "registry").Str("room", string(roomID)).
		Str("target", string(targetID)).Str("role", string(role)).Msg("role changed")
	r.broadcast(ctx, roomID, actorID, domain.TypeRoleChanged, map[string]any{
		"user_id": targetID,
		"role":    role,
	})
	return nil
}

// SetPermissions stores per-user overrides. Field-level last-write-wins;
// each permission is independently meaningful so no transaction is needed.
func (r *Registry) SetPermissions(ctx context.Context, roomID domain.RoomID, actorID, targetID domain.UserID, overrides domain.PermissionSet) error {
	if err := r.requireModerator(ctx, roomID, actorID); err != nil {
		return err
	}
	p, err := r.participant(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if p.Permissions == nil {
		p.Permissions = domain.PermissionSet{}
	}
	for perm, granted := range overrides {
		p.Permissions[perm] = granted
	}
	raw, err := json.Marshal(p.Permissions)
	if err != nil {
		return err
	}
	if err := r.Store.Set(ctx, permsKey(roomID, targetID), string(raw), domain.SettingsTTL); err != nil {
		return fmt.Errorf("set permissions %s: %w", roomID, err)
	}
	if err := r.writeParticipant(ctx, roomID, p); err != nil {
		return err
	}
	r.broadcast(ctx, roomID, actorID, domain.TypePermChanged, map[string]any{
		"user_id":     targetID,
		"permissions": p.Permissions,
	})
	return nil
}

// PermissionsOf resolves effective overrides for a user (may be empty).
func (r *Registry) PermissionsOf(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.PermissionSet, error) {
	raw, err := r.Store.Get(ctx, permsKey(roomID, userID))
	if err != nil {
		return domain.PermissionSet{}, nil
	}
	var ps domain.PermissionSet
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "corrupt permission record for %s", userID)
	}
	return ps, nil
}

// Can reports whether a user may perform the given action in the room.
func (r *Registry) Can(ctx context.Context, roomID domain.RoomID, userID domain.UserID, perm domain.Permission) (bool, error) {
	role, err := r.RoleOf(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	overrides, err := r.PermissionsOf(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	return domain.Allowed(role, overrides, perm), nil
}

func (r *Registry) requireModerator(ctx context.Context, roomID domain.RoomID, actorID domain.UserID) error {
	role, err := r.RoleOf(ctx, roomID, actorID)
	if err != nil {
		return err
	}
	if !role.CanModerate() {
		return domain.Errorf(domain.ErrUnauthorized, "%s requires host or moderator", actorID)
	}
	return nil
}

func (r *Registry) participant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Participant, error) {
	raw, err := r.Store.Get(ctx, participantKey(roomID, userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrNotFound, "participant %s not in room %s", userID, roomID)
		}
		return nil, err
	}
	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "corrupt participant record for %s", userID)
	}
	return &p, nil
}

func (r *Registry) writeParticipant(ctx context.Context, roomID domain.RoomID, p *domain.Participant) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.Store.Set(ctx, participantKey(roomID, p.UserID), string(raw), domain.RoomTTL); err != nil {
		return fmt.Errorf("write participant %s: %w", p.UserID, err)
	}
	return nil
}

func (r *Registry) broadcast(ctx context.Context, roomID domain.RoomID, sender domain.UserID, t domain.EnvelopeType, payload any) {
	if r.Relay == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "registry").Msg("broadcast marshal")
		return
	}
	_, err = r.Relay.Publish(ctx, &domain.Envelope{
		Type:     t,
		Payload:  raw,
		SenderID: sender,
		RoomID:   roomID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "registry").Str("type", string(t)).Msg("broadcast publish")
	}
}

func (r *Registry) broadcastState(ctx context.Context, roomID domain.RoomID, sender domain.UserID) {
	parts, err := r.ListParticipants(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "registry").Msg("broadcast state list")
		return
	}
	r.broadcast(ctx, roomID, sender, domain.TypeRoomState, RoomState{RoomID: roomID, Participants: parts})
}
