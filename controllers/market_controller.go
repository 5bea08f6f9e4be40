package controllers

import (
	"net/http"
	"strings"
	"time"

	"stocklens_backend/services"

	"github.com/gin-gonic/gin"
)

// MarketController exposes the market-data core over REST.
type MarketController struct {
	market  *services.MarketDataService
	fetcher *services.PriceFetcher
	cache   *services.CacheService
	quota   *services.QuotaTracker
	hub     *services.RealtimePriceService
}

// NewMarketController wires the controller.
func NewMarketController(market *services.MarketDataService, fetcher *services.PriceFetcher,
	cache *services.CacheService, quota *services.QuotaTracker,
	hub *services.RealtimePriceService) *MarketController {
	return &MarketController{
		market:  market,
		fetcher: fetcher,
		cache:   cache,
		quota:   quota,
		hub:     hub,
	}
}

// GetQuote handles GET /api/v1/quote/:symbol
func (mc *MarketController) GetQuote(c *gin.Context) {
	symbol := c.Param("symbol")

	fc := services.DefaultFetchConfig()
	if source := c.Query("source"); source != "" {
		fc.PreferredSource = source
	}

	snapshot := mc.market.GetFinancialData(c.Request.Context(), symbol, fc)
	if snapshot == nil {
		// Upstream outage or quota exhaustion both surface as "no data".
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No data available for " + strings.ToUpper(symbol),
		})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetQuotes handles GET /api/v1/quotes?symbols=AAA,BBB
func (mc *MarketController) GetQuotes(c *gin.Context) {
	raw := c.Query("symbols")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": "symbols query parameter is required",
		})
		return
	}

	symbols := strings.Split(raw, ",")
	updates := mc.fetcher.GetMultiplePriceUpdates(c.Request.Context(), symbols)

	c.JSON(http.StatusOK, gin.H{
		"count":   len(updates),
		"updates": updates,
	})
}

// SearchCompanies handles GET /api/v1/search?q=
func (mc *MarketController) SearchCompanies(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": "q query parameter is required",
		})
		return
	}

	companies := mc.market.SearchCompanies(c.Request.Context(), query, services.DefaultFetchConfig())
	c.JSON(http.StatusOK, gin.H{
		"count":   len(companies),
		"results": companies,
	})
}

// GetStats handles GET /api/v1/stats
func (mc *MarketController) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hub":       mc.hub.Stats(),
		"cache":     mc.cache.Stats(),
		"quota":     mc.quota.UsageStats(),
		"providers": mc.quota.AvailableProviders(),
		"alerts":    mc.quota.RecentAlerts(24 * time.Hour),
	})
}

// ClearCache handles DELETE /api/v1/cache?category=
func (mc *MarketController) ClearCache(c *gin.Context) {
	category := c.Query("category")
	tag := c.Query("tag")

	switch {
	case category != "":
		mc.cache.ClearCategory(category)
	case tag != "":
		mc.cache.ClearByTag(tag)
	default:
		mc.cache.ClearCategory(services.CacheCategoryQuotes)
		mc.cache.ClearCategory(services.CacheCategorySearch)
	}
	mc.fetcher.ClearCache()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleWebSocket handles GET /ws/prices
func (mc *MarketController) HandleWebSocket(c *gin.Context) {
	mc.hub.HandleWebSocket(c.Writer, c.Request)
}
