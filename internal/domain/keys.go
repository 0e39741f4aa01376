package domain

import "time"

type KeyID string

type KeyType string

const (
	KeyEphemeral KeyType = "ephemeral"
	KeyIdentity  KeyType = "identity"
)

const (
	EphemeralKeyTTL = 24 * time.Hour
	SharedSecretTTL = 24 * time.Hour
	NonceTTL        = 5 * time.Minute
)

// PublicKeyInfo is the externally visible half of a key pair. Private
// material never leaves the encryption engine.
type PublicKeyInfo struct {
	KeyID        KeyID     `json:"key_id"`
	OwnerUserID  UserID    `json:"owner_user_id"`
	KeyType      KeyType   `json:"key_type"`
	AgreementKey []byte    `json:"agreement_key"`
	SigningKey   []byte    `json:"signing_key"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// SealedMessage is an encrypted relay payload. The nonce here belongs to
// the AEAD layer and has nothing to do with relay sequence numbers.
type SealedMessage struct {
	KeyID       KeyID  `json:"key_id"`
	SenderID    UserID `json:"sender_id"`
	RecipientID UserID `json:"recipient_id"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
	Signature   []byte `json:"signature"`
}
