package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

func newTestCoordinator() *Coordinator {
	return New(store.NewMemory(), nil)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// offerAccepted is the common fixture: a 200 KiB offer from alice to bob,
// already accepted. 200 KiB over 64 KiB chunks is 4 chunks.
func offerAccepted(t *testing.T, c *Coordinator, ctx context.Context) *domain.Transfer {
	t.Helper()
	tr, err := c.Offer(ctx, "room-1", "alice", "bob", "slides.pdf", "application/pdf", 200*1024)
	require.NoError(t, err)
	_, err = c.Accept(ctx, tr.ID, "bob")
	require.NoError(t, err)
	return tr
}

func TestOfferChunkMath(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	tr, err := c.Offer(ctx, "room-1", "alice", "bob", "slides.pdf", "application/pdf", 200*1024)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferOffered, tr.State)
	assert.Equal(t, int64(domain.DefaultChunkSize), tr.ChunkSize)
	assert.Equal(t, 4, tr.TotalChunks)

	// A file smaller than one chunk still needs one chunk.
	tr, err = c.Offer(ctx, "room-1", "alice", "bob", "note.txt", "text/plain", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.TotalChunks)
}

func TestOfferValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	_, err := c.Offer(ctx, "room-1", "alice", "bob", "", "", 100)
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	_, err = c.Offer(ctx, "room-1", "alice", "bob", "f", "", 0)
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	_, err = c.Offer(ctx, "room-1", "alice", "bob", "f", "", domain.MaxTransferFileSize+1)
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	_, err = c.Offer(ctx, "room-1", "alice", "alice", "f", "", 100)
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
}

// TestOfferCapacity fills the per-sender live slot budget and expects the
// next offer to bounce with a capacity error until one slot frees up.
func TestOfferCapacity(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	var last *domain.Transfer
	for i := 0; i < domain.MaxLiveTransfers; i++ {
		tr, err := c.Offer(ctx, "room-1", "alice", "bob", fmt.Sprintf("f%d", i), "", 100)
		require.NoError(t, err)
		last = tr
	}

	_, err := c.Offer(ctx, "room-1", "alice", "bob", "overflow", "", 100)
	assert.True(t, domain.IsCode(err, domain.ErrCapacity))

	// A terminal transfer releases its slot.
	_, err = c.Reject(ctx, last.ID, "bob")
	require.NoError(t, err)
	_, err = c.Offer(ctx, "room-1", "alice", "bob", "retry", "", 100)
	assert.NoError(t, err)
}

func TestAcceptReceiverOnly(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	tr, err := c.Offer(ctx, "room-1", "alice", "bob", "f", "", 100)
	require.NoError(t, err)

	_, err = c.Accept(ctx, tr.ID, "alice")
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))

	got, err := c.Accept(ctx, tr.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferAccepted, got.State)
}

func TestRejectTerminates(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	tr, err := c.Offer(ctx, "room-1", "alice", "bob", "f", "", 100)
	require.NoError(t, err)

	got, err := c.Reject(ctx, tr.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferRejected, got.State)

	// Terminal: accepting afterwards is an illegal transition.
	_, err = c.Accept(ctx, tr.ID, "bob")
	assert.True(t, domain.IsCode(err, domain.ErrConflict))
}

// TestFirstChunkAfterAccept walks the full offer/accept/submit path for a
// many-chunk transfer; every record crosses a store round-trip in between.
func TestFirstChunkAfterAccept(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	tr, err := c.Offer(ctx, "room-1", "alice", "bob", "video.mp4", "video/mp4", 4*1024*1024)
	require.NoError(t, err)
	assert.Equal(t, 64, tr.TotalChunks)
	_, err = c.Accept(ctx, tr.ID, "bob")
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte{0x01}, int(tr.ChunkSize))
	res, err := c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, res.Received)
	assert.Equal(t, domain.TransferInProgress, res.State)
}

// TestConcurrentChunkSubmissions releases one goroutine per index at the
// same instant; every chunk must be counted and the transfer must land in
// completed exactly once.
func TestConcurrentChunkSubmissions(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	tr, err := c.Offer(ctx, "room-1", "alice", "bob", "big.bin", "", 64*domain.DefaultChunkSize)
	require.NoError(t, err)
	_, err = c.Accept(ctx, tr.ID, "bob")
	require.NoError(t, err)

	// Prime the in_progress transition so the race is purely over chunks.
	first := []byte("chunk")
	_, err = c.SubmitChunk(ctx, tr.ID, "alice", 0, first, checksum(first))
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for idx := 1; idx < tr.TotalChunks; idx++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			data := []byte(fmt.Sprintf("chunk-%d", i))
			_, err := c.SubmitChunk(ctx, tr.ID, "alice", i, data, checksum(data))
			assert.NoError(t, err)
		}(idx)
	}
	close(start)
	wg.Wait()

	got, err := c.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, got.State)
	assert.Equal(t, tr.TotalChunks, got.Received())
}

// TestSubmitChunksOutOfOrder delivers the four chunks in reverse order;
// completion is derived from coverage, not from arrival order.
func TestSubmitChunksOutOfOrder(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tr := offerAccepted(t, c, ctx)

	chunk := bytes.Repeat([]byte{0xAB}, 1024)
	for _, idx := range []int{3, 2, 1} {
		res, err := c.SubmitChunk(ctx, tr.ID, "alice", idx, chunk, checksum(chunk))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Equal(t, domain.TransferInProgress, res.State)
	}

	res, err := c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Received)
	assert.Equal(t, domain.TransferCompleted, res.State)
}

func TestSubmitChunkIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tr := offerAccepted(t, c, ctx)

	chunk := []byte("chunk zero")
	res, err := c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, res.Received)

	res, err = c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.AlreadyReceived)
	assert.Equal(t, 1, res.Received)
}

func TestSubmitChunkGuards(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tr := offerAccepted(t, c, ctx)
	chunk := []byte("data")

	// Sender only.
	_, err := c.SubmitChunk(ctx, tr.ID, "bob", 0, chunk, checksum(chunk))
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))

	// Index range.
	_, err = c.SubmitChunk(ctx, tr.ID, "alice", 4, chunk, checksum(chunk))
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
	_, err = c.SubmitChunk(ctx, tr.ID, "alice", -1, chunk, checksum(chunk))
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	// Checksum mismatch.
	_, err = c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum([]byte("other")))
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
}

func TestSubmitChunkBeforeAccept(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	tr, err := c.Offer(ctx, "room-1", "alice", "bob", "f", "", 100)
	require.NoError(t, err)

	chunk := []byte("too early")
	_, err = c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
}

func TestGetChunkReceiverOnly(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tr := offerAccepted(t, c, ctx)

	chunk := []byte("payload")
	_, err := c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	require.NoError(t, err)

	_, err = c.GetChunk(ctx, tr.ID, "alice", 0)
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))

	got, err := c.GetChunk(ctx, tr.ID, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, chunk, got)

	_, err = c.GetChunk(ctx, tr.ID, "bob", 1)
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tr := offerAccepted(t, c, ctx)

	chunk := []byte("one")
	_, err := c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	require.NoError(t, err)

	paused, err := c.Pause(ctx, tr.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPaused, paused.State)

	// No chunks while paused.
	_, err = c.SubmitChunk(ctx, tr.ID, "alice", 1, chunk, checksum(chunk))
	assert.True(t, domain.IsCode(err, domain.ErrValidation))

	resumed, err := c.Resume(ctx, tr.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferInProgress, resumed.State)
	assert.Equal(t, 1, resumed.Received()) // progress survived the pause

	// An outsider may not touch the transfer at all.
	_, err = c.Pause(ctx, tr.ID, "eve")
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))
}

func TestCancelCleansUp(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	tr := offerAccepted(t, c, ctx)

	chunk := []byte("partial")
	_, err := c.SubmitChunk(ctx, tr.ID, "alice", 0, chunk, checksum(chunk))
	require.NoError(t, err)

	got, err := c.Cancel(ctx, tr.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCancelled, got.State)

	// Partial chunks are gone and the state is terminal.
	_, err = c.GetChunk(ctx, tr.ID, "bob", 0)
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
	_, err = c.Cancel(ctx, tr.ID, "bob")
	assert.True(t, domain.IsCode(err, domain.ErrConflict))
}

func TestGetUnknownTransfer(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	_, err := c.Get(ctx, "no-such-transfer")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

func TestTransitionTable(t *testing.T) {
	// Spot checks on the table itself; the coordinator trusts it.
	assert.True(t, domain.TransferOffered.CanTransition(domain.TransferAccepted))
	assert.True(t, domain.TransferPaused.CanTransition(domain.TransferInProgress))
	assert.True(t, domain.TransferPaused.CanTransition(domain.TransferCancelled))
	assert.False(t, domain.TransferOffered.CanTransition(domain.TransferInProgress))
	assert.False(t, domain.TransferCompleted.CanTransition(domain.TransferCancelled))
	assert.False(t, domain.TransferRejected.CanTransition(domain.TransferAccepted))
}
