package domain

import (
	"encoding/json"
	"time"
)

// EnvelopeType is the closed set of signaling message kinds. Anything
// outside this set is a validation error, never passed through.
type EnvelopeType string

const (
	TypeOffer        EnvelopeType = "offer"
	TypeAnswer       EnvelopeType = "answer"
	TypeICECandidate EnvelopeType = "ice-candidate"
	TypeRoomState    EnvelopeType = "room-state"
	TypeUserJoined   EnvelopeType = "user-joined"
	TypeUserLeft     EnvelopeType = "user-left"
	TypeChat         EnvelopeType = "chat"
	TypeMediaControl EnvelopeType = "media-control"
	TypeRoleChanged  EnvelopeType = "role-changed"
	TypePermChanged  EnvelopeType = "permissions-changed"
	TypeHandRaise    EnvelopeType = "hand-raise"
	TypeHandLower    EnvelopeType = "hand-lower"
	TypeHandQueue    EnvelopeType = "hand-queue"
	TypeWaiting      EnvelopeType = "waiting-room"

	TypeTransferOffer    EnvelopeType = "transfer-offer"
	TypeTransferAccept   EnvelopeType = "transfer-accept"
	TypeTransferReject   EnvelopeType = "transfer-reject"
	TypeTransferProgress EnvelopeType = "transfer-progress"
	TypeTransferComplete EnvelopeType = "transfer-complete"
	TypeTransferCancel   EnvelopeType = "transfer-cancel"
	TypeTransferChunk    EnvelopeType = "transfer-chunk"

	TypeRecordingStarted   EnvelopeType = "recording-started"
	TypeRecordingPaused    EnvelopeType = "recording-paused"
	TypeRecordingResumed   EnvelopeType = "recording-resumed"
	TypeRecordingStopped   EnvelopeType = "recording-stopped"
	TypeRecordingFinalized EnvelopeType = "recording-finalized"
	TypeRecordingFailed    EnvelopeType = "recording-failed"
	TypeRecordingCancelled EnvelopeType = "recording-cancelled"

	TypeE2EEPublicKey EnvelopeType = "e2ee-public-key"
	TypeE2EEMessage   EnvelopeType = "e2ee-message"
	TypeE2EERotated   EnvelopeType = "e2ee-key-rotated"
	TypeE2EERevoked   EnvelopeType = "e2ee-key-revoked"

	TypeError EnvelopeType = "error"
)

var knownTypes = map[EnvelopeType]struct{}{
	TypeOffer: {}, TypeAnswer: {}, TypeICECandidate: {},
	TypeRoomState: {}, TypeUserJoined: {}, TypeUserLeft: {},
	TypeChat: {}, TypeMediaControl: {},
	TypeRoleChanged: {}, TypePermChanged: {},
	TypeHandRaise: {}, TypeHandLower: {}, TypeHandQueue: {}, TypeWaiting: {},
	TypeTransferOffer: {}, TypeTransferAccept: {}, TypeTransferReject: {},
	TypeTransferProgress: {}, TypeTransferComplete: {}, TypeTransferCancel: {},
	TypeTransferChunk: {},
	TypeRecordingStarted: {}, TypeRecordingPaused: {}, TypeRecordingResumed: {},
	TypeRecordingStopped: {}, TypeRecordingFinalized: {}, TypeRecordingFailed: {},
	TypeRecordingCancelled: {},
	TypeE2EEPublicKey: {}, TypeE2EEMessage: {}, TypeE2EERotated: {}, TypeE2EERevoked: {},
	TypeError: {},
}

func (t EnvelopeType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Envelope is a single signaling message as carried on the relay channel.
// SequenceNumber is assigned at publish time, monotonic per room, and is
// unrelated to the cryptographic nonce used by the encryption layer.
type Envelope struct {
	Type           EnvelopeType    `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	SenderID       UserID          `json:"sender_id"`
	RoomID         RoomID          `json:"room_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	TargetUserID   UserID          `json:"target_user_id,omitempty"`
}

// Validate rejects envelopes the relay must not carry.
func (e *Envelope) Validate() error {
	if !e.Type.Valid() {
		return Errorf(ErrValidation, "unknown envelope type %q", e.Type)
	}
	if e.RoomID == "" {
		return Errorf(ErrValidation, "envelope missing room id")
	}
	if e.SenderID == "" {
		return Errorf(ErrValidation, "envelope missing sender id")
	}
	return nil
}
