package domain

import "time"

type RecordingID string

type RecordingState string

const (
	RecordingIdle       RecordingState = "idle"
	RecordingActive     RecordingState = "recording"
	RecordingPaused     RecordingState = "paused"
	RecordingStopped    RecordingState = "stopped"
	RecordingProcessing RecordingState = "processing"
	RecordingFinalized  RecordingState = "finalized"
	RecordingFailed     RecordingState = "failed"
	RecordingCancelled  RecordingState = "cancelled"
)

func (s RecordingState) Terminal() bool {
	switch s {
	case RecordingFinalized, RecordingFailed, RecordingCancelled:
		return true
	}
	return false
}

var recordingTransitions = map[RecordingState][]RecordingState{
	RecordingIdle:       {RecordingActive},
	RecordingActive:     {RecordingPaused, RecordingStopped},
	RecordingPaused:     {RecordingActive, RecordingStopped},
	RecordingStopped:    {RecordingProcessing},
	RecordingProcessing: {RecordingFinalized, RecordingFailed},
}

// CanTransition validates a recording state change. Cancel is legal from
// every state except finalized (and the other terminals).
func (s RecordingState) CanTransition(to RecordingState) bool {
	if to == RecordingCancelled {
		return !s.Terminal()
	}
	for _, next := range recordingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	MaxConcurrentRecordings = 10
	RecordingTTL            = 24 * time.Hour
)

// PausedInterval is one closed pause window; End is zero while paused.
type PausedInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

type Recording struct {
	ID              RecordingID      `json:"recording_id"`
	RoomID          RoomID           `json:"room_id"`
	OwnerID         UserID           `json:"owner_id"`
	QualityPreset   string           `json:"quality_preset"`
	Format          string           `json:"format"`
	StorageBackend  string           `json:"storage_backend"`
	State           RecordingState   `json:"state"`
	StartedAt       time.Time        `json:"started_at"`
	StoppedAt       time.Time        `json:"stopped_at,omitempty"`
	PausedIntervals []PausedInterval `json:"paused_intervals,omitempty"`
	FileLocation    string           `json:"file_location,omitempty"`
	DurationSeconds float64          `json:"duration_seconds,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
}

// Duration is wall time between start and stop minus every closed pause
// window. Call only once StoppedAt is set.
func (r *Recording) Duration() time.Duration {
	if r.StoppedAt.IsZero() {
		return 0
	}
	d := r.StoppedAt.Sub(r.StartedAt)
	for _, p := range r.PausedIntervals {
		if !p.End.IsZero() {
			d -= p.End.Sub(p.Start)
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}
