package domain

import "time"

type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleModerator, RoleParticipant, RoleObserver:
		return true
	}
	return false
}

// CanModerate reports whether the role may mutate other participants'
// roles, permissions and waiting-room status.
func (r Role) CanModerate() bool {
	return r == RoleHost || r == RoleModerator
}

type Permission string

const (
	PermSendChat           Permission = "send_chat"
	PermShareMedia         Permission = "share_media"
	PermSendFiles          Permission = "send_files"
	PermRecord             Permission = "record"
	PermManageParticipants Permission = "manage_participants"
)

// PermissionSet maps permission -> granted. Explicit entries win over the
// role defaults; a missing entry falls back to DefaultPermissions.
type PermissionSet map[Permission]bool

// DefaultPermissions returns the role's baseline grants.
func DefaultPermissions(r Role) PermissionSet {
	switch r {
	case RoleHost, RoleModerator:
		return PermissionSet{
			PermSendChat:           true,
			PermShareMedia:         true,
			PermSendFiles:          true,
			PermRecord:             true,
			PermManageParticipants: true,
		}
	case RoleParticipant:
		return PermissionSet{
			PermSendChat:   true,
			PermShareMedia: true,
			PermSendFiles:  true,
		}
	default:
		return PermissionSet{}
	}
}

// Allowed resolves a permission for a role with per-user overrides.
func Allowed(r Role, overrides PermissionSet, p Permission) bool {
	if v, ok := overrides[p]; ok {
		return v
	}
	return DefaultPermissions(r)[p]
}

type Participant struct {
	UserID         UserID        `json:"user_id"`
	DisplayName    string        `json:"display_name"`
	Role           Role          `json:"role"`
	Permissions    PermissionSet `json:"permissions,omitempty"`
	JoinedAt       time.Time     `json:"joined_at"`
	LastPresenceAt time.Time     `json:"last_presence_at"`
	Connected      bool          `json:"connected"`
}

// HandRaise is one entry of a room's FIFO hand-raise queue.
type HandRaise struct {
	UserID   UserID    `json:"user_id"`
	RaisedAt time.Time `json:"raised_at"`
	Position int       `json:"position"` // 1-based
}

type AdmissionStatus string

const (
	AdmissionWaiting  AdmissionStatus = "waiting"
	AdmissionAdmitted AdmissionStatus = "admitted"
	AdmissionRejected AdmissionStatus = "rejected"
)

// WaitingEntry tracks a user parked in the waiting room until a
// host or moderator decides on admission.
type WaitingEntry struct {
	UserID          UserID          `json:"user_id"`
	DisplayName     string          `json:"display_name"`
	JoinedWaitingAt time.Time       `json:"joined_waiting_at"`
	Status          AdmissionStatus `json:"status"`
}
