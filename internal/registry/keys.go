package registry

import (
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

// Key layout under the coordination store. Everything is namespaced by room
// so TTL expiry of an idle room leaves no orphans behind.
func participantKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("room:%s:participant:%s", room, user)
}

func participantPrefix(room domain.RoomID) string {
	return fmt.Sprintf("room:%s:participant:", room)
}

func presenceKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("room:%s:presence:%s", room, user)
}

func roleKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("room:%s:role:%s", room, user)
}

func permsKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("room:%s:perms:%s", room, user)
}

func countKey(room domain.RoomID) string {
	return fmt.Sprintf("room:%s:count", room)
}

func handsKey(room domain.RoomID) string {
	return fmt.Sprintf("room:%s:hands", room)
}

func waitingKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("room:%s:waiting:%s", room, user)
}

func waitingPrefix(room domain.RoomID) string {
	return fmt.Sprintf("room:%s:waiting:", room)
}
