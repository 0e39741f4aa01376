package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Huddle/internal/domain"
)

func (h *Handlers) ListRooms(c *gin.Context) {
	rooms, err := h.Orch.Registry.ListRooms(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handlers) ListParticipants(c *gin.Context) {
	parts, err := h.Orch.Registry.ListParticipants(c.Request.Context(), roomID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": parts})
}

func (h *Handlers) HandQueue(c *gin.Context) {
	queue, err := h.Orch.Registry.HandQueue(c.Request.Context(), roomID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": queue})
}

func (h *Handlers) SetRole(c *gin.Context) {
	var req struct {
		TargetUserID domain.UserID `json:"target_user_id" binding:"required"`
		Role         domain.Role   `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	actor := h.identity(c)
	if err := h.Orch.Registry.SetRole(c.Request.Context(), roomID(c), actor.ID, req.TargetUserID, req.Role); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.TargetUserID, "role": req.Role})
}

func (h *Handlers) SetPermissions(c *gin.Context) {
	var req struct {
		TargetUserID domain.UserID        `json:"target_user_id" binding:"required"`
		Overrides    domain.PermissionSet `json:"overrides" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	actor := h.identity(c)
	if err := h.Orch.Registry.SetPermissions(c.Request.Context(), roomID(c), actor.ID, req.TargetUserID, req.Overrides); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.TargetUserID, "overrides": req.Overrides})
}

func (h *Handlers) RequestAdmission(c *gin.Context) {
	user := h.identity(c)
	entry, err := h.Orch.Registry.RequestAdmission(c.Request.Context(), roomID(c), user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handlers) ListWaiting(c *gin.Context) {
	entries, err := h.Orch.Registry.ListWaiting(c.Request.Context(), roomID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waiting": entries})
}

func (h *Handlers) Admit(c *gin.Context) {
	actor := h.identity(c)
	target := domain.UserID(c.Param("user"))
	res, err := h.Orch.Registry.Admit(c.Request.Context(), roomID(c), actor.ID, target)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) RejectAdmission(c *gin.Context) {
	actor := h.identity(c)
	target := domain.UserID(c.Param("user"))
	if err := h.Orch.Registry.RejectAdmission(c.Request.Context(), roomID(c), actor.ID, target); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": target, "status": domain.AdmissionRejected})
}
