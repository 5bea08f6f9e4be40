package routes

import (
	"stocklens_backend/config"
	"stocklens_backend/controllers"
	"stocklens_backend/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers all API routes
func SetupRoutes(router *gin.Engine, cfg *config.Config, mc *controllers.MarketController) {
	// WebSocket endpoint authenticates inside the upgrade handshake
	router.GET("/ws/prices", mc.HandleWebSocket)

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	{
		api.GET("/quote/:symbol", mc.GetQuote)
		api.GET("/quotes", mc.GetQuotes)
		api.GET("/search", mc.SearchCompanies)
		api.GET("/stats", mc.GetStats)
		api.DELETE("/cache", mc.ClearCache)
	}
}
