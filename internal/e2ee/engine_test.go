package e2ee

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	return NewEngine(store.NewMemory()), context.Background()
}

func generateBoth(t *testing.T, e *Engine, ctx context.Context, room domain.RoomID) {
	t.Helper()
	_, err := e.GenerateKeyPair(ctx, "alice", room, domain.KeyEphemeral)
	require.NoError(t, err)
	_, err = e.GenerateKeyPair(ctx, "bob", room, domain.KeyEphemeral)
	require.NoError(t, err)
}

func TestGenerateKeyPair(t *testing.T) {
	e, ctx := newTestEngine(t)

	info, err := e.GenerateKeyPair(ctx, "alice", "room-1", domain.KeyEphemeral)
	require.NoError(t, err)
	assert.NotEmpty(t, info.KeyID)
	assert.Equal(t, domain.UserID("alice"), info.OwnerUserID)
	assert.Len(t, info.AgreementKey, 32)
	assert.Len(t, info.SigningKey, 32)
	assert.False(t, info.ExpiresAt.IsZero())

	got, err := e.PublicKeyOf(ctx, "room-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, info.KeyID, got.KeyID)
}

func TestGenerateKeyPairRejectsUnknownType(t *testing.T) {
	e, ctx := newTestEngine(t)

	_, err := e.GenerateKeyPair(ctx, "alice", "room-1", "quantum")
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
}

func TestPublicKeyOfMissing(t *testing.T) {
	e, ctx := newTestEngine(t)

	_, err := e.PublicKeyOf(ctx, "room-1", "nobody")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

// TestExchangeIdempotent verifies that repeated exchanges, in either
// argument order, resolve to the same shared secret.
func TestExchangeIdempotent(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")

	first, err := e.Exchange(ctx, "alice", "bob", "room-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.Fingerprint)

	second, err := e.Exchange(ctx, "alice", "bob", "room-1")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.True(t, first.Derived.Equal(second.Derived))

	reversed, err := e.Exchange(ctx, "bob", "alice", "room-1")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, reversed.Fingerprint)
}

func TestExchangeScopedByRoom(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")
	generateBoth(t, e, ctx, "room-2")

	a, err := e.Exchange(ctx, "alice", "bob", "room-1")
	require.NoError(t, err)
	b, err := e.Exchange(ctx, "alice", "bob", "room-2")
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestExchangeRequiresKeys(t *testing.T) {
	e, ctx := newTestEngine(t)

	_, err := e.Exchange(ctx, "alice", "bob", "room-1")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")

	msg, err := e.Encrypt(ctx, "alice", "bob", "room-1", []byte("hello bob"))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Nonce)
	assert.NotEmpty(t, msg.Signature)
	assert.NotContains(t, string(msg.Ciphertext), "hello")

	plaintext, err := e.Decrypt(ctx, "bob", "room-1", msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello bob"), plaintext)
}

// TestDecryptRejectsReplay feeds the same sealed message twice; the nonce
// is consumed on the first open so the second must fail closed.
func TestDecryptRejectsReplay(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")

	msg, err := e.Encrypt(ctx, "alice", "bob", "room-1", []byte("once only"))
	require.NoError(t, err)

	_, err = e.Decrypt(ctx, "bob", "room-1", msg)
	require.NoError(t, err)

	_, err = e.Decrypt(ctx, "bob", "room-1", msg)
	assert.True(t, domain.IsCode(err, domain.ErrReplay))
}

func TestDecryptRejectsWrongRecipient(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")

	msg, err := e.Encrypt(ctx, "alice", "bob", "room-1", []byte("for bob"))
	require.NoError(t, err)

	_, err = e.Decrypt(ctx, "eve", "room-1", msg)
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))
}

// TestDecryptRejectsTampering flips single bits in the ciphertext and the
// signature; both must surface as integrity failures, and neither may
// consume the nonce for the intact copy.
func TestDecryptRejectsTampering(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")

	msg, err := e.Encrypt(ctx, "alice", "bob", "room-1", []byte("intact"))
	require.NoError(t, err)

	tampered := *msg
	tampered.Ciphertext = append([]byte(nil), msg.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01
	_, err = e.Decrypt(ctx, "bob", "room-1", &tampered)
	assert.True(t, domain.IsCode(err, domain.ErrIntegrity))

	tampered = *msg
	tampered.Signature = append([]byte(nil), msg.Signature...)
	tampered.Signature[0] ^= 0x01
	_, err = e.Decrypt(ctx, "bob", "room-1", &tampered)
	assert.True(t, domain.IsCode(err, domain.ErrIntegrity))

	// The rejected copies must not have burned the nonce.
	plaintext, err := e.Decrypt(ctx, "bob", "room-1", msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("intact"), plaintext)
}

func TestDecryptRejectsForgedSenderKey(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")
	_, err := e.GenerateKeyPair(ctx, "eve", "room-1", domain.KeyEphemeral)
	require.NoError(t, err)
	eveKey, err := e.PublicKeyOf(ctx, "room-1", "eve")
	require.NoError(t, err)

	msg, err := e.Encrypt(ctx, "alice", "bob", "room-1", []byte("real"))
	require.NoError(t, err)

	// Claiming alice's message was sealed under eve's key must fail on the
	// owner check before any signature math.
	forged := *msg
	forged.KeyID = eveKey.KeyID
	_, err = e.Decrypt(ctx, "bob", "room-1", &forged)
	assert.True(t, domain.IsCode(err, domain.ErrIntegrity))
}

// TestRotateKey verifies rotation changes the current key while messages
// sealed under the previous secret still decrypt.
func TestRotateKey(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")

	before, err := e.PublicKeyOf(ctx, "room-1", "alice")
	require.NoError(t, err)

	msg, err := e.Encrypt(ctx, "alice", "bob", "room-1", []byte("pre-rotation"))
	require.NoError(t, err)

	rotated, err := e.RotateKey(ctx, "alice", "room-1")
	require.NoError(t, err)
	assert.NotEqual(t, before.KeyID, rotated.KeyID)

	cur, err := e.PublicKeyOf(ctx, "room-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, rotated.KeyID, cur.KeyID)

	// In-flight traffic under the old secret remains readable.
	plaintext, err := e.Decrypt(ctx, "bob", "room-1", msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-rotation"), plaintext)
}

// TestRevokeKey verifies revocation invalidates the key and every cached
// secret derived from it.
func TestRevokeKey(t *testing.T) {
	e, ctx := newTestEngine(t)
	generateBoth(t, e, ctx, "room-1")

	aliceKey, err := e.PublicKeyOf(ctx, "room-1", "alice")
	require.NoError(t, err)

	msg, err := e.Encrypt(ctx, "alice", "bob", "room-1", []byte("doomed"))
	require.NoError(t, err)

	require.NoError(t, e.RevokeKey(ctx, aliceKey.KeyID))

	_, err = e.PublicKeyOf(ctx, "room-1", "alice")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))

	// The sender key is gone, so the sealed message is dead.
	_, err = e.Decrypt(ctx, "bob", "room-1", msg)
	assert.True(t, domain.IsCode(err, domain.ErrExpired))
}

func TestRevokeUnknownKey(t *testing.T) {
	e, ctx := newTestEngine(t)

	err := e.RevokeKey(ctx, "no-such-key")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}
