package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Huddle/internal/domain"
)

func (h *Handlers) StartRecording(c *gin.Context) {
	var req struct {
		QualityPreset  string `json:"quality_preset" binding:"required"`
		Format         string `json:"format" binding:"required"`
		StorageBackend string `json:"storage_backend"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, domain.NewError(domain.ErrValidation, err.Error()))
		return
	}
	if req.StorageBackend == "" {
		req.StorageBackend = "local"
	}
	user := h.identity(c)
	room := roomID(c)

	allowed, err := h.Orch.Registry.Can(c.Request.Context(), room, user.ID, domain.PermRecord)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !allowed {
		respondErr(c, domain.NewError(domain.ErrUnauthorized, "recording not permitted"))
		return
	}

	rec, err := h.Orch.Recordings.Start(c.Request.Context(), room, user.ID, req.QualityPreset, req.Format, req.StorageBackend)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handlers) GetRecording(c *gin.Context) {
	rec, err := h.Orch.Recordings.Get(c.Request.Context(), domain.RecordingID(c.Param("id")))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) PauseRecording(c *gin.Context)  { h.recordingOp(c, "pause") }
func (h *Handlers) ResumeRecording(c *gin.Context) { h.recordingOp(c, "resume") }
func (h *Handlers) StopRecording(c *gin.Context)   { h.recordingOp(c, "stop") }
func (h *Handlers) CancelRecording(c *gin.Context) { h.recordingOp(c, "cancel") }

func (h *Handlers) recordingOp(c *gin.Context, op string) {
	user := h.identity(c)
	id := domain.RecordingID(c.Param("id"))
	ctx := c.Request.Context()

	var (
		rec *domain.Recording
		err error
	)
	switch op {
	case "pause":
		rec, err = h.Orch.Recordings.Pause(ctx, id, user.ID)
	case "resume":
		rec, err = h.Orch.Recordings.Resume(ctx, id, user.ID)
	case "stop":
		rec, err = h.Orch.Recordings.Stop(ctx, id, user.ID)
	case "cancel":
		rec, err = h.Orch.Recordings.Cancel(ctx, id, user.ID)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
