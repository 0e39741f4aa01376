// Package transfer supervises peer-to-peer file handoffs chunk by chunk.
// The lifecycle is an explicit state machine; every mutating call is
// validated against the transition table instead of trusting callers.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

// Publisher is the slice of the relay the coordinator needs for status
// broadcasts.
type Publisher interface {
	Publish(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error)
}

type Coordinator struct {
	Store store.Store
	Relay Publisher
}

func New(s store.Store, relay Publisher) *Coordinator {
	return &Coordinator{Store: s, Relay: relay}
}

func metaKey(id domain.TransferID) string { return fmt.Sprintf("transfer:meta:%s", id) }

func chunkKey(id domain.TransferID, idx int) string {
	return fmt.Sprintf("transfer:chunk:%s:%d", id, idx)
}

func chunkPrefix(id domain.TransferID) string { return fmt.Sprintf("transfer:chunk:%s:", id) }

func receivedKey(id domain.TransferID) string { return fmt.Sprintf("transfer:received:%s", id) }

func activityKey(id domain.TransferID) string { return fmt.Sprintf("transfer:activity:%s", id) }

func liveKey(sender domain.UserID, id domain.TransferID) string {
	return fmt.Sprintf("transfer:live:%s:%s", sender, id)
}

func livePrefix(sender domain.UserID) string { return fmt.Sprintf("transfer:live:%s:", sender) }

// Offer opens a new transfer in state offered. Rejected with a capacity
// error when the sender already has MaxLiveTransfers non-terminal ones.
func (c *Coordinator) Offer(ctx context.Context, roomID domain.RoomID, senderID, receiverID domain.UserID, fileName, fileType string, fileSize int64) (*domain.Transfer, error) {
	if fileName == "" {
		return nil, domain.Errorf(domain.ErrValidation, "file name required")
	}
	if fileSize <= 0 {
		return nil, domain.Errorf(domain.ErrValidation, "file size must be positive")
	}
	if fileSize > domain.MaxTransferFileSize {
		return nil, domain.Errorf(domain.ErrValidation, "file size %d exceeds %d byte cap", fileSize, int64(domain.MaxTransferFileSize))
	}
	if senderID == receiverID {
		return nil, domain.Errorf(domain.ErrValidation, "sender and receiver must differ")
	}

	live, err := c.Store.ScanPrefix(ctx, livePrefix(senderID))
	if err != nil {
		return nil, fmt.Errorf("count live transfers: %w", err)
	}
	if len(live) >= domain.MaxLiveTransfers {
		return nil, domain.Errorf(domain.ErrCapacity, "sender %s already has %d active transfers", senderID, len(live))
	}

	now := time.Now().UTC()
	t := &domain.Transfer{
		ID:             domain.TransferID(uuid.NewString()),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		RoomID:         roomID,
		FileName:       fileName,
		FileType:       fileType,
		FileSize:       fileSize,
		ChunkSize:      domain.DefaultChunkSize,
		TotalChunks:    int(math.Ceil(float64(fileSize) / float64(domain.DefaultChunkSize))),
		State:          domain.TransferOffered,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := c.write(ctx, t); err != nil {
		return nil, err
	}
	if err := c.Store.Set(ctx, liveKey(senderID, t.ID), "1", domain.TransferTTL); err != nil {
		return nil, fmt.Errorf("index live transfer: %w", err)
	}
	log.Info().Str("module", "transfer").Str("transfer", string(t.ID)).
		Str("room", string(roomID)).Int("total_chunks", t.TotalChunks).Msg("offered")
	c.broadcast(ctx, t, domain.TypeTransferOffer)
	return t, nil
}

// Accept moves an offered transfer forward. Receiver only.
func (c *Coordinator) Accept(ctx context.Context, id domain.TransferID, callerID domain.UserID) (*domain.Transfer, error) {
	return c.decide(ctx, id, callerID, domain.TransferAccepted, domain.TypeTransferAccept)
}

// Reject terminates an offered transfer. Receiver only.
func (c *Coordinator) Reject(ctx context.Context, id domain.TransferID, callerID domain.UserID) (*domain.Transfer, error) {
	return c.decide(ctx, id, callerID, domain.TransferRejected, domain.TypeTransferReject)
}

func (c *Coordinator) decide(ctx context.Context, id domain.TransferID, callerID domain.UserID, to domain.TransferState, evt domain.EnvelopeType) (*domain.Transfer, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != t.ReceiverID {
		return nil, domain.Errorf(domain.ErrUnauthorized, "only the receiver may decide on a transfer")
	}
	if err := c.transition(ctx, t, to); err != nil {
		return nil, err
	}
	if to == domain.TransferRejected {
		c.dropLiveIndex(ctx, t)
	}
	c.broadcast(ctx, t, evt)
	return t, nil
}

// ChunkResult distinguishes "accepted" from "already received" so callers
// always know which branch was taken.
type ChunkResult struct {
	Accepted        bool                 `json:"accepted"`
	AlreadyReceived bool                 `json:"already_received"`
	Received        int                  `json:"received"`
	TotalChunks     int                  `json:"total_chunks"`
	State           domain.TransferState `json:"state"`
}

// SubmitChunk records one chunk. Sender only, valid while in progress (an
// accepted transfer auto-starts on its first chunk). Idempotent per index;
// completion is derived, not commanded.
func (c *Coordinator) SubmitChunk(ctx context.Context, id domain.TransferID, callerID domain.UserID, index int, data []byte, checksum string) (*ChunkResult, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != t.SenderID {
		return nil, domain.Errorf(domain.ErrUnauthorized, "only the sender may submit chunks")
	}
	if t.State == domain.TransferAccepted {
		if err := c.transition(ctx, t, domain.TransferInProgress); err != nil {
			return nil, err
		}
	}
	if t.State != domain.TransferInProgress {
		return nil, domain.Errorf(domain.ErrValidation, "cannot submit chunks in state %q", t.State)
	}
	if index < 0 || index >= t.TotalChunks {
		return nil, domain.Errorf(domain.ErrValidation, "chunk index %d out of range [0,%d)", index, t.TotalChunks)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, domain.Errorf(domain.ErrValidation, "checksum mismatch for chunk %d", index)
	}

	// SetNX makes the first writer of each index win; losers learn the
	// chunk is already there without touching the shared record.
	created, err := c.Store.SetNX(ctx, chunkKey(id, index), base64.StdEncoding.EncodeToString(data), domain.TransferTTL)
	if err != nil {
		return nil, fmt.Errorf("store chunk %d: %w", index, err)
	}
	if !created {
		return &ChunkResult{AlreadyReceived: true, Received: t.Received(), TotalChunks: t.TotalChunks, State: t.State}, nil
	}

	received, err := c.Store.Incr(ctx, receivedKey(id))
	if err != nil {
		return nil, fmt.Errorf("count chunk %d: %w", index, err)
	}
	_, _ = c.Store.Expire(ctx, receivedKey(id), domain.TransferTTL)

	t.ChunksReceived = int(received)
	t.LastActivityAt = time.Now().UTC()

	if t.Complete() {
		if err := c.transition(ctx, t, domain.TransferCompleted); err != nil {
			return nil, err
		}
		c.dropLiveIndex(ctx, t)
		log.Info().Str("module", "transfer").Str("transfer", string(id)).Msg("completed")
		c.broadcast(ctx, t, domain.TypeTransferComplete)
	} else {
		// Activity lives in its own key: a chunk submission never rewrites
		// the shared record, so it cannot race a state transition.
		if err := c.Store.Set(ctx, activityKey(id), t.LastActivityAt.Format(time.RFC3339Nano), domain.TransferTTL); err != nil {
			return nil, fmt.Errorf("touch transfer %s: %w", id, err)
		}
		c.broadcastChunk(ctx, t, index)
	}
	return &ChunkResult{Accepted: true, Received: t.Received(), TotalChunks: t.TotalChunks, State: t.State}, nil
}

// GetChunk hands a stored chunk to the receiver.
func (c *Coordinator) GetChunk(ctx context.Context, id domain.TransferID, callerID domain.UserID, index int) ([]byte, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != t.ReceiverID {
		return nil, domain.Errorf(domain.ErrUnauthorized, "only the receiver may fetch chunks")
	}
	raw, err := c.Store.Get(ctx, chunkKey(id, index))
	if err != nil {
		return nil, domain.Errorf(domain.ErrNotFound, "chunk %d not available", index)
	}
	return base64.StdEncoding.DecodeString(raw)
}

// Pause suspends an in-progress transfer; progress is kept.
func (c *Coordinator) Pause(ctx context.Context, id domain.TransferID, callerID domain.UserID) (*domain.Transfer, error) {
	return c.toggle(ctx, id, callerID, domain.TransferPaused)
}

// Resume continues a paused transfer where it left off.
func (c *Coordinator) Resume(ctx context.Context, id domain.TransferID, callerID domain.UserID) (*domain.Transfer, error) {
	return c.toggle(ctx, id, callerID, domain.TransferInProgress)
}

func (c *Coordinator) toggle(ctx context.Context, id domain.TransferID, callerID domain.UserID, to domain.TransferState) (*domain.Transfer, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != t.SenderID && callerID != t.ReceiverID {
		return nil, domain.Errorf(domain.ErrUnauthorized, "not a party to this transfer")
	}
	if err := c.transition(ctx, t, to); err != nil {
		return nil, err
	}
	c.broadcast(ctx, t, domain.TypeTransferProgress)
	return t, nil
}

// Cancel terminates a non-terminal transfer and deletes partial chunks.
// Either party may cancel.
func (c *Coordinator) Cancel(ctx context.Context, id domain.TransferID, callerID domain.UserID) (*domain.Transfer, error) {
	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != t.SenderID && callerID != t.ReceiverID {
		return nil, domain.Errorf(domain.ErrUnauthorized, "not a party to this transfer")
	}
	if err := c.expireTransfer(ctx, t, domain.TransferCancelled); err != nil {
		return nil, err
	}
	c.broadcast(ctx, t, domain.TypeTransferCancel)
	return t, nil
}

// Get loads a transfer, mapping store misses to not-found/expired.
func (c *Coordinator) Get(ctx context.Context, id domain.TransferID) (*domain.Transfer, error) {
	raw, err := c.Store.Get(ctx, metaKey(id))
	if err != nil {
		return nil, domain.Errorf(domain.ErrNotFound, "transfer %s not found or expired", id)
	}
	var t domain.Transfer
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "corrupt transfer record %s", id)
	}
	// The persisted record can lag concurrent submitters; the counter and
	// activity keys are the authority for progress.
	if n := c.received(ctx, id); n > t.ChunksReceived {
		t.ChunksReceived = n
	}
	if raw, err := c.Store.Get(ctx, activityKey(id)); err == nil {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil && at.After(t.LastActivityAt) {
			t.LastActivityAt = at
		}
	}
	return &t, nil
}

func (c *Coordinator) received(ctx context.Context, id domain.TransferID) int {
	raw, err := c.Store.Get(ctx, receivedKey(id))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func (c *Coordinator) transition(ctx context.Context, t *domain.Transfer, to domain.TransferState) error {
	if !t.State.CanTransition(to) {
		return domain.Errorf(domain.ErrConflict, "illegal transfer transition %s -> %s", t.State, to)
	}
	t.State = to
	t.LastActivityAt = time.Now().UTC()
	return c.write(ctx, t)
}

func (c *Coordinator) expireTransfer(ctx context.Context, t *domain.Transfer, to domain.TransferState) error {
	if err := c.transition(ctx, t, to); err != nil {
		return err
	}
	chunkKeys, err := c.Store.ScanPrefix(ctx, chunkPrefix(t.ID))
	if err != nil {
		return fmt.Errorf("scan chunks %s: %w", t.ID, err)
	}
	keys := append(chunkKeys, receivedKey(t.ID), activityKey(t.ID), liveKey(t.SenderID, t.ID))
	if err := c.Store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("cleanup transfer %s: %w", t.ID, err)
	}
	log.Info().Str("module", "transfer").Str("transfer", string(t.ID)).
		Str("state", string(to)).Msg("terminated with cleanup")
	return nil
}

func (c *Coordinator) dropLiveIndex(ctx context.Context, t *domain.Transfer) {
	_ = c.Store.Delete(ctx, liveKey(t.SenderID, t.ID))
}

func (c *Coordinator) write(ctx context.Context, t *domain.Transfer) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := c.Store.Set(ctx, metaKey(t.ID), string(raw), domain.TransferTTL); err != nil {
		return fmt.Errorf("write transfer %s: %w", t.ID, err)
	}
	return nil
}

// broadcastChunk announces one accepted chunk to the receiver so they can
// fetch it without polling.
func (c *Coordinator) broadcastChunk(ctx context.Context, t *domain.Transfer, index int) {
	if c.Relay == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"transfer_id":  t.ID,
		"chunk_index":  index,
		"received":     t.ChunksReceived,
		"total_chunks": t.TotalChunks,
	})
	if err != nil {
		return
	}
	_, err = c.Relay.Publish(ctx, &domain.Envelope{
		Type:         domain.TypeTransferChunk,
		Payload:      payload,
		SenderID:     t.SenderID,
		RoomID:       t.RoomID,
		TargetUserID: t.ReceiverID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "transfer").Str("transfer", string(t.ID)).Msg("chunk broadcast")
	}
}

func (c *Coordinator) broadcast(ctx context.Context, t *domain.Transfer, evt domain.EnvelopeType) {
	if c.Relay == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	_, err = c.Relay.Publish(ctx, &domain.Envelope{
		Type:     evt,
		Payload:  payload,
		SenderID: t.SenderID,
		RoomID:   t.RoomID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "transfer").Str("type", string(evt)).Msg("status broadcast")
	}
}
