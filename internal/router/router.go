package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"

	"github.com/mbeoliero/amora/internal/gateway"
	"github.com/mbeoliero/amora/internal/handler"
	"github.com/mbeoliero/amora/internal/middleware"
)

// SetupRouter sets up all routes
func SetupRouter(h *server.Hertz, handlers *Handlers, auth middleware.TokenValidator, wsServer *gateway.WsServer, allowedOrigins []string) {
	// CORS middleware
	h.Use(middleware.CORS(allowedOrigins))

	// Health check
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
	})

	// Auth routes (no auth required)
	authGroup := h.Group("/auth")
	{
		authGroup.POST("/register", handlers.Auth.Register)
		authGroup.POST("/login", handlers.Auth.Login)
		authGroup.POST("/logout", middleware.JWTAuth(auth), handlers.Auth.Logout)
	}

	// User routes (auth required)
	userGroup := h.Group("/user", middleware.JWTAuth(auth))
	{
		userGroup.GET("/info", handlers.User.GetUserInfo)
		userGroup.GET("/profile/:user_id", handlers.User.GetUserInfoById)
		userGroup.PUT("/update", handlers.User.UpdateUserInfo)
		userGroup.POST("/photo", handlers.User.UploadPhoto)
	}

	// Conversation routes (auth required)
	convGroup := h.Group("/conversation", middleware.JWTAuth(auth))
	{
		convGroup.GET("/list", handlers.Conversation.GetConversationList)
		convGroup.POST("/open", handlers.Conversation.OpenChat)
		convGroup.GET("/info", handlers.Conversation.GetConversation)
		convGroup.GET("/messages", handlers.Message.GetHistory)
		convGroup.POST("/mark_read", handlers.Message.MarkRead)
	}

	// WebSocket route using hertz-contrib/websocket with proper origin validation
	upgrader := &websocket.HertzUpgrader{
		CheckOrigin: func(ctx *app.RequestContext) bool {
			return checkOrigin(ctx, allowedOrigins)
		},
	}

	h.GET("/ws", func(ctx context.Context, c *app.RequestContext) {
		wsServer.HandleHertzConnection(ctx, c, upgrader)
	})
}

// checkOrigin lets native clients without an Origin header through and
// holds browsers to the CORS allow list.
func checkOrigin(ctx *app.RequestContext, allowedOrigins []string) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	return origin == "" || middleware.OriginAllowed(origin, allowedOrigins)
}

// Handlers holds all HTTP handlers
type Handlers struct {
	Auth         *handler.AuthHandler
	User         *handler.UserHandler
	Message      *handler.MessageHandler
	Conversation *handler.ConversationHandler
}
