package domain

import "time"

type (
	RoomName string
	RoomID   string
)

const MaxRoomIDLen = 64

type Room struct {
	ID   RoomID
	Name RoomName
}

// TTL windows for room-scoped state in the coordination store. A room with
// no activity for RoomTTL is expired by the store itself, nobody garbage
// collects it explicitly.
const (
	RoomTTL     = 24 * time.Hour
	PresenceTTL = 30 * time.Second
	RoleTTL     = 1 * time.Hour
	SettingsTTL = 24 * time.Hour
)

// QualityReport is the latest connection-quality sample for a participant.
// Informational only, it never changes protocol behavior.
type QualityReport struct {
	UserID     UserID    `json:"user_id"`
	LatencyMS  float64   `json:"latency_ms"`
	PacketLoss float64   `json:"packet_loss"`
	JitterMS   float64   `json:"jitter_ms"`
	ReportedAt time.Time `json:"reported_at"`
}
