package router

import (
	"github.com/gin-gonic/gin"

	"jobforge.io/notify/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, webhooks *handler.WebhookHandler, receivers *handler.ReceiverHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		WebhookRouter(v1.Group("/webhooks"), webhooks)
		v1.GET("/deliveries/recent", webhooks.RecentDeliveries)
	}

	// Receive URLs live outside the API prefix; they are handed out verbatim
	// to external callers.
	ReceiverRouter(router.Group("/test-receivers"), receivers)
}

func WebhookRouter(rg *gin.RouterGroup, h *handler.WebhookHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.PUT("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
	rg.GET("/:id/stats", h.Stats)
	rg.GET("/:id/deliveries", h.History)
}

func ReceiverRouter(rg *gin.RouterGroup, h *handler.ReceiverHandler) {
	rg.POST("", h.Create)
	rg.GET("/:id/requests", h.ListRequests)
	rg.Any("/:id/receive", h.Receive)
}
