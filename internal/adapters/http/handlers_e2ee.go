package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Huddle/internal/domain"
)

func (h *Handlers) GenerateKeyPair(c *gin.Context) {
	var req struct {
		KeyType domain.KeyType `json:"key_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	if req.KeyType == "" {
		req.KeyType = domain.KeyEphemeral
	}
	user := h.identity(c)
	info, err := h.Orch.E2EE.GenerateKeyPair(c.Request.Context(), user.ID, roomID(c), req.KeyType)
	if err != nil {
		respondErr(c, err)
		return
	}
	h.broadcastKeyEvent(c, domain.TypeE2EEPublicKey, user.ID, info)
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) PublicKeyOf(c *gin.Context) {
	info, err := h.Orch.E2EE.PublicKeyOf(c.Request.Context(), roomID(c), domain.UserID(c.Param("user")))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) Exchange(c *gin.Context) {
	var req struct {
		PeerUserID domain.UserID `json:"peer_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	user := h.identity(c)
	info, err := h.Orch.E2EE.Exchange(c.Request.Context(), user.ID, req.PeerUserID, roomID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) Encrypt(c *gin.Context) {
	var req struct {
		RecipientID domain.UserID   `json:"recipient_id" binding:"required"`
		Message     json.RawMessage `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	user := h.identity(c)
	sealed, err := h.Orch.E2EE.Encrypt(c.Request.Context(), user.ID, req.RecipientID, roomID(c), req.Message)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sealed)
}

func (h *Handlers) Decrypt(c *gin.Context) {
	var sealed domain.SealedMessage
	if err := c.ShouldBindJSON(&sealed); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	user := h.identity(c)
	plaintext, err := h.Orch.E2EE.Decrypt(c.Request.Context(), user.ID, roomID(c), &sealed)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": json.RawMessage(plaintext)})
}

func (h *Handlers) RotateKey(c *gin.Context) {
	user := h.identity(c)
	info, err := h.Orch.E2EE.RotateKey(c.Request.Context(), user.ID, roomID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	h.broadcastKeyEvent(c, domain.TypeE2EERotated, user.ID, info)
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) RevokeKey(c *gin.Context) {
	keyID := domain.KeyID(c.Param("key_id"))
	if err := h.Orch.E2EE.RevokeKey(c.Request.Context(), keyID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key_id": keyID, "revoked": true})
}

// broadcastKeyEvent announces public-key changes on the room channel so
// peers know to re-exchange.
func (h *Handlers) broadcastKeyEvent(c *gin.Context, t domain.EnvelopeType, sender domain.UserID, info *domain.PublicKeyInfo) {
	payload, err := json.Marshal(info)
	if err != nil {
		return
	}
	_, _ = h.Orch.Relay.Publish(c.Request.Context(), &domain.Envelope{
		Type:     t,
		Payload:  payload,
		SenderID: sender,
		RoomID:   roomID(c),
	})
}
