package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/relay"
)

type Handlers struct {
	Orch *orch.Orchestrator
}

// identity resolves the caller from the client-token middleware.
func (h *Handlers) identity(c *gin.Context) *domain.User {
	sid := relay.SessionID(c.GetString("client_token"))
	user := h.Orch.Sessions.GetOrCreateUser(sid)
	if name := c.GetString("display_name"); name != "" {
		_ = user.SetDisplayName(name)
	}
	return user
}

func roomID(c *gin.Context) domain.RoomID {
	return domain.RoomID(c.Param("room"))
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(code domain.ErrCode) int {
	switch code {
	case domain.ErrUnauthorized:
		return http.StatusForbidden
	case domain.ErrCapacity:
		return http.StatusTooManyRequests
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrReplay, domain.ErrIntegrity, domain.ErrConflict:
		return http.StatusConflict
	case domain.ErrNotFound, domain.ErrExpired:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

func respondErr(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.NewError(domain.ErrUnavailable, err.Error())
	}
	c.JSON(statusFor(de.Code), gin.H{"error": de})
}
