package domain

import "time"

type TransferID string

type TransferState string

const (
	TransferOffered    TransferState = "offered"
	TransferAccepted   TransferState = "accepted"
	TransferRejected   TransferState = "rejected"
	TransferInProgress TransferState = "in_progress"
	TransferPaused     TransferState = "paused"
	TransferCompleted  TransferState = "completed"
	TransferCancelled  TransferState = "cancelled"
	TransferExpired    TransferState = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s TransferState) Terminal() bool {
	switch s {
	case TransferRejected, TransferCompleted, TransferCancelled, TransferExpired:
		return true
	}
	return false
}

// transferTransitions is the full legal transition table. Cancel and expire
// are handled separately: any non-terminal state may move to cancelled or
// expired.
var transferTransitions = map[TransferState][]TransferState{
	TransferOffered:    {TransferAccepted, TransferRejected},
	TransferAccepted:   {TransferInProgress},
	TransferInProgress: {TransferPaused, TransferCompleted},
	TransferPaused:     {TransferInProgress},
}

// CanTransition validates a transfer state change against the table.
func (s TransferState) CanTransition(to TransferState) bool {
	if to == TransferCancelled || to == TransferExpired {
		return !s.Terminal()
	}
	for _, next := range transferTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	DefaultChunkSize    = 64 * 1024         // 64 KiB
	MaxTransferFileSize = 500 * 1024 * 1024 // 500 MiB
	MaxLiveTransfers    = 5                 // per sender, non-terminal
	TransferIdleTimeout = 1 * time.Hour
	TransferTTL         = 24 * time.Hour
)

// Transfer is the coordinator's persisted view of one handoff. Chunk
// presence is tracked in per-index store keys, not on this record;
// ChunksReceived is the distinct-index count maintained by an atomic
// counter, so concurrent submitters never overwrite each other.
type Transfer struct {
	ID             TransferID    `json:"transfer_id"`
	SenderID       UserID        `json:"sender_id"`
	ReceiverID     UserID        `json:"receiver_id"`
	RoomID         RoomID        `json:"room_id"`
	FileName       string        `json:"file_name"`
	FileType       string        `json:"file_type,omitempty"`
	FileSize       int64         `json:"file_size"`
	ChunkSize      int64         `json:"chunk_size"`
	TotalChunks    int           `json:"total_chunks"`
	ChunksReceived int           `json:"chunks_received"`
	State          TransferState `json:"state"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}

// Received counts distinct chunk indices recorded so far.
func (t *Transfer) Received() int { return t.ChunksReceived }

// Complete is the derived completion condition: every index present.
func (t *Transfer) Complete() bool {
	return t.TotalChunks > 0 && t.ChunksReceived == t.TotalChunks
}
