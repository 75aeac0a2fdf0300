package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Gopher0727/TimeChat/internal/handler"
	"github.com/Gopher0727/TimeChat/internal/pkg/gateway"
	"github.com/Gopher0727/TimeChat/internal/pkg/metrics"
	"github.com/Gopher0727/TimeChat/utils/ratelimit"
)

// Handlers groups everything RegisterRoutes mounts. Socket may be nil.
type Handlers struct {
	Auth    *handler.AuthHandler
	User    *handler.UserHandler
	Chat    *handler.ChatHandler
	Invite  *handler.InviteHandler
	Message *handler.MessageHandler
	Socket  *gateway.Handler
}

// Uploads serves stored attachments from Dir under Prefix.
type Uploads struct {
	Dir    string
	Prefix string
}

// NewEngine builds the gin engine with global middleware and every route.
func NewEngine(m *MiddlewareManager, h Handlers, uploads Uploads) *gin.Engine {
	r := gin.New()
	r.Use(
		m.Recovery(),
		m.TraceID(),
		m.Logger(),
		m.CORS(),
		metrics.GinMiddleware(),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if uploads.Dir != "" && uploads.Prefix != "" {
		r.Static(uploads.Prefix, uploads.Dir)
	}
	if h.Socket != nil {
		r.GET("/ws", h.Socket.ServeWS)
	}

	RegisterRoutes(r, m, h)
	return r
}

// RegisterRoutes registers all API routes
func RegisterRoutes(r *gin.Engine, m *MiddlewareManager, h Handlers) {
	api := r.Group("/api/v1")

	// Public routes
	auth := api.Group("/auth")
	{
		auth.POST("/register", m.RateLimit(ratelimit.EndpointRegister), h.Auth.Register)
		auth.POST("/login", m.RateLimit(ratelimit.EndpointLogin), h.Auth.Login)
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(m.JWTAuth(), m.RateLimit(ratelimit.EndpointAPI))
	{
		protected.POST("/auth/logout", h.Auth.Logout)
		protected.GET("/auth/profile", h.Auth.Profile)
		protected.PUT("/auth/profile", h.Auth.UpdateProfile)

		users := protected.Group("/users")
		{
			users.GET("", h.User.Search)
			users.GET("/:id", h.User.Get)
		}

		chats := protected.Group("/chats")
		{
			chats.POST("", h.Chat.CreateDirect)
			chats.POST("/group", h.Chat.CreateGroup)
			chats.POST("/global", h.Chat.JoinGlobal)
			chats.GET("", h.Chat.List)
			chats.GET("/:id", h.Chat.Get)
			chats.POST("/:id/leave", h.Chat.Leave)
			chats.PUT("/:id", h.Chat.Rename)
			chats.PUT("/:id/add", h.Chat.Add)
			chats.PUT("/:id/remove", h.Chat.Remove)
			chats.GET("/:id/export", h.Chat.Export)
		}

		invites := protected.Group("/invite-codes")
		invites.Use(m.RateLimit(ratelimit.EndpointInvite))
		{
			invites.POST("", h.Invite.Generate)
			invites.POST("/regenerate", h.Invite.Regenerate)
			invites.POST("/redeem", h.Invite.Redeem)
			invites.GET("", h.Invite.List)
			invites.DELETE("/:id", h.Invite.Deactivate)
		}

		messages := protected.Group("/messages")
		{
			messages.POST("", m.RateLimit(ratelimit.EndpointMessage), h.Message.Send)
			messages.POST("/file", m.RateLimit(ratelimit.EndpointMessage), h.Message.SendFile)
			messages.GET("/:chatId", h.Message.List)
			messages.PUT("/:chatId/read", h.Message.MarkRead)
		}
	}
}
