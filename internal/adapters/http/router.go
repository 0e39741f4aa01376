package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a stable session id to each browser. The
// external auth collaborator may also set X-Display-Name; the core trusts
// whatever identity arrives.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		if name := c.GetHeader("X-Display-Name"); name != "" {
			c.Set("display_name", name)
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	h := &Handlers{Orch: o}
	api := r.Group("/api")

	ctrl := signal.NewController(o, cfg.ReadLimit, cfg.PingPeriod)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.Handle(ctx, c)
	})

	api.GET("/rooms", h.ListRooms)

	rooms := api.Group("/rooms/:room")
	{
		rooms.GET("/participants", h.ListParticipants)
		rooms.GET("/hands", h.HandQueue)
		rooms.POST("/role", h.SetRole)
		rooms.POST("/permissions", h.SetPermissions)
		rooms.POST("/waiting", h.RequestAdmission)
		rooms.GET("/waiting", h.ListWaiting)
		rooms.POST("/waiting/:user/admit", h.Admit)
		rooms.POST("/waiting/:user/reject", h.RejectAdmission)

		rooms.POST("/keys", h.GenerateKeyPair)
		rooms.GET("/keys/:user", h.PublicKeyOf)
		rooms.POST("/keys/rotate", h.RotateKey)
		rooms.POST("/exchange", h.Exchange)
		rooms.POST("/encrypt", h.Encrypt)
		rooms.POST("/decrypt", h.Decrypt)

		rooms.POST("/transfers", h.OfferTransfer)
		rooms.POST("/recordings", h.StartRecording)
	}

	api.DELETE("/keys/:key_id", h.RevokeKey)

	transfers := api.Group("/transfers/:id")
	{
		transfers.GET("", h.GetTransfer)
		transfers.POST("/accept", h.AcceptTransfer)
		transfers.POST("/reject", h.RejectTransfer)
		transfers.POST("/pause", h.PauseTransfer)
		transfers.POST("/resume", h.ResumeTransfer)
		transfers.POST("/cancel", h.CancelTransfer)
		transfers.POST("/chunks", h.SubmitChunk)
		transfers.GET("/chunks/:index", h.GetChunk)
	}

	recordings := api.Group("/recordings/:id")
	{
		recordings.GET("", h.GetRecording)
		recordings.POST("/pause", h.PauseRecording)
		recordings.POST("/resume", h.ResumeRecording)
		recordings.POST("/stop", h.StopRecording)
		recordings.POST("/cancel", h.CancelRecording)
	}

	return r
}
