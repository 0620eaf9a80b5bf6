package server

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/zapdesk/zapdesk-backend/internal/handlers"
	"github.com/zapdesk/zapdesk-backend/internal/middleware"
	"github.com/zapdesk/zapdesk-backend/internal/platform/envutil"
)

type RouterConfig struct {
	WebhookHandler    *handlers.WebhookHandler
	ChatHandler       *handlers.ChatHandler
	SSEHandler        *handlers.SSEHandler
	ConnectionHandler *handlers.ConnectionHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	// The provider expects 405 on anything but POST to the webhook.
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	origins := strings.Split(envutil.String("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware("zapdesk-backend"))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/webhook", cfg.WebhookHandler.Receive)

	api := router.Group("/api")
	{
		api.GET("/chats", cfg.ChatHandler.ListChats)
		api.GET("/chats/:id/messages", cfg.ChatHandler.ListMessages)
		api.POST("/chats/:id/messages", cfg.ChatHandler.SendMessage)
		api.POST("/chats/:id/read", cfg.ChatHandler.MarkRead)

		api.GET("/sse/stream", cfg.SSEHandler.Stream)
		api.POST("/sse/subscribe", cfg.SSEHandler.Subscribe)
		api.POST("/sse/unsubscribe", cfg.SSEHandler.Unsubscribe)

		api.GET("/connection", cfg.ConnectionHandler.GetState)
		api.DELETE("/connection", cfg.ConnectionHandler.Logout)
	}

	return router
}
