package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stocklens_backend/config"
	"stocklens_backend/controllers"
	"stocklens_backend/middleware"
	"stocklens_backend/routes"
	"stocklens_backend/scheduler"
	"stocklens_backend/services"
	"stocklens_backend/services/providers"

	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("==============================================")
	log.Println("  StockLens Market Data Core - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	setupHealthEndpoints(router)

	// Durable cache tier: MongoDB when configured, local SQLite otherwise.
	// A store failure degrades the cache to volatile-only operation.
	var store services.PersistentStore
	if cfg.MongoURI != "" {
		if mongoStore, err := services.NewMongoStore(cfg.MongoURI); err != nil {
			log.Printf("MongoDB store unavailable, falling back to SQLite: %v", err)
		} else {
			store = mongoStore
		}
	}
	if store == nil {
		if sqliteStore, err := services.NewSQLiteStore(cfg.CacheDBPath); err != nil {
			log.Printf("SQLite store unavailable, cache runs volatile-only: %v", err)
		} else {
			store = sqliteStore
		}
	}

	quota := services.NewQuotaTracker(cfg.ProviderQuotas)
	quota.OnAlert(func(alert services.QuotaAlert) {
		log.Printf("API quota alert [%s] %s: %s (remaining: %d, resets: %s)",
			alert.Level, alert.Provider, alert.Message,
			alert.RemainingCalls, alert.ResetTime.Format(time.RFC3339))
	})

	cache := services.NewCacheService(cfg.CacheMaxEntries, store)

	simulated := providers.NewSimProvider(providers.SimOptions{
		SimulateNetworkDelay: cfg.SimulateNetworkDelay,
		SimulateFailures:     cfg.SimulateFailures,
	})
	live := providers.NewVNDirectProvider(cfg.LiveAPIBaseURL, cfg.LiveCallTimeout)

	market := services.NewMarketDataService(cfg, quota, cache, simulated, live)
	fetcher := services.NewPriceFetcher(market, cfg.PriceFreshness)

	hub := services.NewRealtimePriceService(fetcher,
		middleware.TokenVerifier(cfg.JWTSecret),
		cfg.BroadcastInterval, cfg.ClientIdleTimeout, cfg.MaxClients)
	hub.Start()

	mc := controllers.NewMarketController(market, fetcher, cache, quota, hub)
	routes.SetupRoutes(router, cfg, mc)

	jobScheduler := scheduler.NewScheduler(hub, cache, quota)
	go jobScheduler.Start()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, jobScheduler, hub, store)
}

// setupHealthEndpoints sets up liveness/readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "StockLens Market Data Core",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler,
	hub *services.RealtimePriceService, store services.PersistentStore) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	jobScheduler.Stop()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if store != nil {
		if err := store.Close(); err != nil {
			log.Printf("Error closing cache store: %v", err)
		} else {
			log.Println("Cache store closed")
		}
	}

	log.Println("Server shutdown completed")
}
