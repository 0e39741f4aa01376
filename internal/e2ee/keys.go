// Package e2ee orchestrates pairwise end-to-end encryption for relay
// payloads: X25519 key agreement, HKDF-derived symmetric keys,
// XChaCha20-Poly1305 sealing and Ed25519 envelope signatures. Private key
// material lives only in the coordination store, never in responses.
package e2ee

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Huddle/internal/domain"
)

// keyRecord is the stored form of a key pair, private halves included.
type keyRecord struct {
	KeyID        domain.KeyID   `json:"key_id"`
	OwnerUserID  domain.UserID  `json:"owner_user_id"`
	RoomID       domain.RoomID  `json:"room_id"`
	KeyType      domain.KeyType `json:"key_type"`
	AgreementPub []byte         `json:"agreement_pub"`
	AgreementPrv []byte         `json:"agreement_prv"`
	SigningPub   []byte         `json:"signing_pub"`
	SigningPrv   []byte         `json:"signing_prv"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at,omitempty"`
}

func newKeyRecord(owner domain.UserID, room domain.RoomID, kt domain.KeyType) (*keyRecord, error) {
	dhPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate agreement key: %w", err)
	}
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	now := time.Now().UTC()
	rec := &keyRecord{
		KeyID:        domain.KeyID(uuid.NewString()),
		OwnerUserID:  owner,
		RoomID:       room,
		KeyType:      kt,
		AgreementPub: dhPriv.PublicKey().Bytes(),
		AgreementPrv: dhPriv.Bytes(),
		SigningPub:   sigPub,
		SigningPrv:   sigPriv,
		CreatedAt:    now,
	}
	if kt == domain.KeyEphemeral {
		rec.ExpiresAt = now.Add(domain.EphemeralKeyTTL)
	}
	return rec, nil
}

// public strips private material for anything that leaves the engine.
func (k *keyRecord) public() *domain.PublicKeyInfo {
	return &domain.PublicKeyInfo{
		KeyID:        k.KeyID,
		OwnerUserID:  k.OwnerUserID,
		KeyType:      k.KeyType,
		AgreementKey: k.AgreementPub,
		SigningKey:   k.SigningPub,
		CreatedAt:    k.CreatedAt,
		ExpiresAt:    k.ExpiresAt,
	}
}

func (k *keyRecord) agreementPrivate() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().NewPrivateKey(k.AgreementPrv)
}

func (k *keyRecord) agreementPublic() (*ecdh.PublicKey, error) {
	return ecdh.X25519().NewPublicKey(k.AgreementPub)
}

func keyKey(id domain.KeyID) string { return fmt.Sprintf("e2ee:key:%s", id) }

func currentKeyKey(room domain.RoomID, user domain.UserID) string {
	return fmt.Sprintf("e2ee:current:%s:%s", room, user)
}

func secretKey(room domain.RoomID, a, b domain.UserID) string {
	// Unordered pair: lexicographic ordering makes both directions hit the
	// same cache entry.
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("e2ee:secret:%s:%s:%s", room, a, b)
}

func secretPrefix(room domain.RoomID) string {
	return fmt.Sprintf("e2ee:secret:%s:", room)
}

func nonceKey(room domain.RoomID, user domain.UserID, nonceHex string) string {
	return fmt.Sprintf("e2ee:nonce:%s:%s:%s", room, user, nonceHex)
}
