package e2ee

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

const hkdfInfo = "huddle/e2ee/v1"

type Engine struct {
	Store store.Store

	// exchange collapses concurrent derivations of the same pair secret
	// into one, keeping Exchange idempotent under racing callers.
	exchange singleflight.Group
}

func NewEngine(s store.Store) *Engine {
	return &Engine{Store: s}
}

// GenerateKeyPair creates an agreement + signing key pair for the user in
// the room and makes it their current key. Only public halves are returned.
func (e *Engine) GenerateKeyPair(ctx context.Context, userID domain.UserID, roomID domain.RoomID, kt domain.KeyType) (*domain.PublicKeyInfo, error) {
	if kt != domain.KeyEphemeral && kt != domain.KeyIdentity {
		return nil, domain.Errorf(domain.ErrValidation, "unknown key type %q", kt)
	}
	rec, err := newKeyRecord(userID, roomID, kt)
	if err != nil {
		return nil, err
	}
	if err := e.writeKey(ctx, rec); err != nil {
		return nil, err
	}
	log.Info().Str("module", "e2ee").Str("room", string(roomID)).
		Str("user", string(userID)).Str("key_id", string(rec.KeyID)).
		Str("key_type", string(kt)).Msg("key pair generated")
	return rec.public(), nil
}

// PublicKeyOf returns the user's current public key info.
func (e *Engine) PublicKeyOf(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.PublicKeyInfo, error) {
	rec, err := e.currentKey(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	return rec.public(), nil
}

type pairSecret struct {
	Secret  []byte       `json:"secret"`
	KeyA    domain.KeyID `json:"key_a"`
	KeyB    domain.KeyID `json:"key_b"`
	Derived time.Time    `json:"derived"`
}

// SecretInfo identifies a derived pair secret without exposing it.
type SecretInfo struct {
	KeyA        domain.KeyID `json:"key_a"`
	KeyB        domain.KeyID `json:"key_b"`
	Fingerprint string       `json:"fingerprint"`
	Derived     time.Time    `json:"derived"`
}

func (ps *pairSecret) info() *SecretInfo {
	sum := sha256.Sum256(ps.Secret)
	return &SecretInfo{
		KeyA:        ps.KeyA,
		KeyB:        ps.KeyB,
		Fingerprint: hex.EncodeToString(sum[:8]),
		Derived:     ps.Derived,
	}
}

// Exchange derives (or returns the cached) pairwise shared secret for the
// two users' most recent keys. Idempotent: identical inputs yield the
// identical secret until keys rotate past their TTL. The secret itself is
// never returned, only its identity.
func (e *Engine) Exchange(ctx context.Context, userA, userB domain.UserID, roomID domain.RoomID) (*SecretInfo, error) {
	cacheKey := secretKey(roomID, userA, userB)
	v, err, _ := e.exchange.Do(cacheKey, func() (any, error) {
		if cached, err := e.loadSecret(ctx, cacheKey); err == nil {
			return cached, nil
		}
		return e.deriveSecret(ctx, cacheKey, userA, userB, roomID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pairSecret).info(), nil
}

func (e *Engine) deriveSecret(ctx context.Context, cacheKey string, userA, userB domain.UserID, roomID domain.RoomID) (*pairSecret, error) {
	recA, err := e.currentKey(ctx, roomID, userA)
	if err != nil {
		return nil, err
	}
	recB, err := e.currentKey(ctx, roomID, userB)
	if err != nil {
		return nil, err
	}
	privA, err := recA.agreementPrivate()
	if err != nil {
		return nil, err
	}
	pubB, err := recB.agreementPublic()
	if err != nil {
		return nil, err
	}
	raw, err := privA.ECDH(pubB)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	// Salt binds the secret to the room and the unordered pair so the same
	// two users in different rooms get independent keys.
	salt := sha256.Sum256([]byte(cacheKey))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, salt[:], []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}

	ps := &pairSecret{Secret: key, KeyA: recA.KeyID, KeyB: recB.KeyID, Derived: time.Now().UTC()}
	buf, err := json.Marshal(ps)
	if err != nil {
		return nil, err
	}
	if err := e.Store.Set(ctx, cacheKey, string(buf), domain.SharedSecretTTL); err != nil {
		return nil, fmt.Errorf("cache secret: %w", err)
	}
	log.Info().Str("module", "e2ee").Str("room", string(roomID)).
		Str("user_a", string(userA)).Str("user_b", string(userB)).Msg("shared secret derived")
	return ps, nil
}

func (e *Engine) loadSecret(ctx context.Context, cacheKey string) (*pairSecret, error) {
	raw, err := e.Store.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	var ps pairSecret
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// Encrypt seals plaintext for the recipient with the pair secret, then
// signs nonce||ciphertext with the sender's signing key.
func (e *Engine) Encrypt(ctx context.Context, senderID, recipientID domain.UserID, roomID domain.RoomID, plaintext []byte) (*domain.SealedMessage, error) {
	if _, err := e.Exchange(ctx, senderID, recipientID, roomID); err != nil {
		return nil, err
	}
	ps, err := e.loadSecret(ctx, secretKey(roomID, senderID, recipientID))
	if err != nil {
		return nil, domain.Errorf(domain.ErrExpired, "no shared secret for %s/%s", senderID, recipientID)
	}
	sender, err := e.currentKey(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(ps.Secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	aad := sealAAD(roomID, senderID, recipientID, sender.KeyID)
	ct := aead.Seal(nil, nonce, plaintext, aad)

	sig := ed25519.Sign(ed25519.PrivateKey(sender.SigningPrv), signedBytes(nonce, ct))

	return &domain.SealedMessage{
		KeyID:       sender.KeyID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Nonce:       nonce,
		Ciphertext:  ct,
		Signature:   sig,
	}, nil
}

// Decrypt opens a sealed message for the caller. Gates run in a fixed
// order, each failing closed: recipient check, signature, replay, then the
// AEAD open. The nonce is recorded only after a successful open.
func (e *Engine) Decrypt(ctx context.Context, callerID domain.UserID, roomID domain.RoomID, msg *domain.SealedMessage) ([]byte, error) {
	if msg.RecipientID != callerID {
		return nil, domain.Errorf(domain.ErrUnauthorized, "message is not addressed to %s", callerID)
	}

	sender, err := e.keyByID(ctx, msg.KeyID)
	if err != nil {
		return nil, domain.Errorf(domain.ErrExpired, "sender key %s unknown or revoked", msg.KeyID)
	}
	if sender.OwnerUserID != msg.SenderID {
		e.securityEvent(roomID, msg, "key owner mismatch")
		return nil, domain.Errorf(domain.ErrIntegrity, "signature verification failed")
	}
	if !ed25519.Verify(ed25519.PublicKey(sender.SigningPub), signedBytes(msg.Nonce, msg.Ciphertext), msg.Signature) {
		e.securityEvent(roomID, msg, "bad signature")
		return nil, domain.Errorf(domain.ErrIntegrity, "signature verification failed")
	}

	nk := nonceKey(roomID, msg.SenderID, hex.EncodeToString(msg.Nonce))
	if _, err := e.Store.Get(ctx, nk); err == nil {
		e.securityEvent(roomID, msg, "nonce reuse")
		return nil, domain.Errorf(domain.ErrReplay, "nonce already consumed")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ps, err := e.loadSecret(ctx, secretKey(roomID, msg.SenderID, msg.RecipientID))
	if err != nil {
		return nil, domain.Errorf(domain.ErrExpired, "no shared secret; re-run exchange")
	}
	aead, err := chacha20poly1305.NewX(ps.Secret)
	if err != nil {
		return nil, err
	}
	aad := sealAAD(roomID, msg.SenderID, msg.RecipientID, msg.KeyID)
	plaintext, err := aead.Open(nil, msg.Nonce, msg.Ciphertext, aad)
	if err != nil {
		e.securityEvent(roomID, msg, "aead open failed")
		return nil, domain.Errorf(domain.ErrIntegrity, "decryption failed")
	}

	created, err := e.Store.SetNX(ctx, nk, "1", domain.NonceTTL)
	if err != nil {
		return nil, err
	}
	if !created {
		// A racing duplicate recorded it first; treat this copy as replayed.
		e.securityEvent(roomID, msg, "nonce reuse")
		return nil, domain.Errorf(domain.ErrReplay, "nonce already consumed")
	}
	return plaintext, nil
}

// RotateKey installs a fresh ephemeral key pair as the user's current key.
// Secrets derived from the previous key stay valid until their own TTL so
// in-flight messages still decrypt.
func (e *Engine) RotateKey(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (*domain.PublicKeyInfo, error) {
	info, err := e.GenerateKeyPair(ctx, userID, roomID, domain.KeyEphemeral)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "e2ee").Str("room", string(roomID)).
		Str("user", string(userID)).Str("key_id", string(info.KeyID)).Msg("key rotated")
	return info, nil
}

// RevokeKey deletes a key pair immediately and invalidates every cached
// secret derived from it; the next lookup misses and forces a re-exchange.
func (e *Engine) RevokeKey(ctx context.Context, keyID domain.KeyID) error {
	rec, err := e.keyByID(ctx, keyID)
	if err != nil {
		return domain.Errorf(domain.ErrNotFound, "key %s not found", keyID)
	}
	if err := e.Store.Delete(ctx, keyKey(keyID)); err != nil {
		return err
	}
	if cur, err := e.Store.Get(ctx, currentKeyKey(rec.RoomID, rec.OwnerUserID)); err == nil && cur == string(keyID) {
		_ = e.Store.Delete(ctx, currentKeyKey(rec.RoomID, rec.OwnerUserID))
	}
	// Drop cached secrets that were derived from this key.
	keys, err := e.Store.ScanPrefix(ctx, secretPrefix(rec.RoomID))
	if err != nil {
		return err
	}
	for _, k := range keys {
		ps, err := e.loadSecret(ctx, k)
		if err != nil {
			continue
		}
		if ps.KeyA == keyID || ps.KeyB == keyID {
			_ = e.Store.Delete(ctx, k)
		}
	}
	log.Warn().Str("module", "e2ee").Str("key_id", string(keyID)).
		Str("user", string(rec.OwnerUserID)).Msg("key revoked")
	return nil
}

func (e *Engine) writeKey(ctx context.Context, rec *keyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.Duration(0)
	if rec.KeyType == domain.KeyEphemeral {
		ttl = domain.EphemeralKeyTTL
	}
	if err := e.Store.Set(ctx, keyKey(rec.KeyID), string(raw), ttl); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := e.Store.Set(ctx, currentKeyKey(rec.RoomID, rec.OwnerUserID), string(rec.KeyID), ttl); err != nil {
		return fmt.Errorf("write current key pointer: %w", err)
	}
	return nil
}

func (e *Engine) currentKey(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*keyRecord, error) {
	id, err := e.Store.Get(ctx, currentKeyKey(roomID, userID))
	if err != nil {
		return nil, domain.Errorf(domain.ErrNotFound, "no key pair for %s in %s", userID, roomID)
	}
	return e.keyByID(ctx, domain.KeyID(id))
}

func (e *Engine) keyByID(ctx context.Context, id domain.KeyID) (*keyRecord, error) {
	raw, err := e.Store.Get(ctx, keyKey(id))
	if err != nil {
		return nil, err
	}
	var rec keyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (e *Engine) securityEvent(roomID domain.RoomID, msg *domain.SealedMessage, reason string) {
	log.Warn().Str("module", "e2ee").Str("event", "security").
		Str("room", string(roomID)).Str("sender", string(msg.SenderID)).
		Str("recipient", string(msg.RecipientID)).Str("reason", reason).
		Msg("rejected encrypted envelope")
}

func sealAAD(roomID domain.RoomID, sender, recipient domain.UserID, keyID domain.KeyID) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s", roomID, sender, recipient, keyID))
}

func signedBytes(nonce, ciphertext []byte) []byte {
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out
}
