package http

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Huddle/internal/domain"
)

func (h *Handlers) OfferTransfer(c *gin.Context) {
	var req struct {
		ReceiverID domain.UserID `json:"receiver_id" binding:"required"`
		FileName   string        `json:"file_name" binding:"required"`
		FileType   string        `json:"file_type"`
		FileSize   int64         `json:"file_size" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	user := h.identity(c)
	room := roomID(c)

	allowed, err := h.Orch.Registry.Can(c.Request.Context(), room, user.ID, domain.PermSendFiles)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !allowed {
		respondErr(c, domain.NewError(domain.ErrUnauthorized, "file transfer not permitted"))
		return
	}

	t, err := h.Orch.Transfers.Offer(c.Request.Context(), room, user.ID, req.ReceiverID, req.FileName, req.FileType, req.FileSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handlers) GetTransfer(c *gin.Context) {
	t, err := h.Orch.Transfers.Get(c.Request.Context(), domain.TransferID(c.Param("id")))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) AcceptTransfer(c *gin.Context)  { h.transferDecision(c, "accept") }
func (h *Handlers) RejectTransfer(c *gin.Context)  { h.transferDecision(c, "reject") }
func (h *Handlers) PauseTransfer(c *gin.Context)   { h.transferDecision(c, "pause") }
func (h *Handlers) ResumeTransfer(c *gin.Context)  { h.transferDecision(c, "resume") }
func (h *Handlers) CancelTransfer(c *gin.Context)  { h.transferDecision(c, "cancel") }

func (h *Handlers) transferDecision(c *gin.Context, op string) {
	user := h.identity(c)
	id := domain.TransferID(c.Param("id"))
	ctx := c.Request.Context()

	var (
		t   *domain.Transfer
		err error
	)
	switch op {
	case "accept":
		t, err = h.Orch.Transfers.Accept(ctx, id, user.ID)
	case "reject":
		t, err = h.Orch.Transfers.Reject(ctx, id, user.ID)
	case "pause":
		t, err = h.Orch.Transfers.Pause(ctx, id, user.ID)
	case "resume":
		t, err = h.Orch.Transfers.Resume(ctx, id, user.ID)
	case "cancel":
		t, err = h.Orch.Transfers.Cancel(ctx, id, user.ID)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) SubmitChunk(c *gin.Context) {
	var req struct {
		Index    int    `json:"index"`
		Data     string `json:"data" binding:"required"` // base64
		Checksum string `json:"checksum" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, "chunk data is not valid base64"))
		return
	}
	user := h.identity(c)
	res, err := h.Orch.Transfers.SubmitChunk(c.Request.Context(), domain.TransferID(c.Param("id")), user.ID, req.Index, data, req.Checksum)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) GetChunk(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, "chunk index must be an integer"))
		return
	}
	user := h.identity(c)
	data, err := h.Orch.Transfers.GetChunk(c.Request.Context(), domain.TransferID(c.Param("id")), user.ID, index)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "data": base64.StdEncoding.EncodeToString(data)})
}
