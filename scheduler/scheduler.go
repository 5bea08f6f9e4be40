package scheduler

import (
	"log"
	"time"

	"stocklens_backend/services"

	"github.com/go-co-op/gocron"
)

// Scheduler manages background maintenance jobs
type Scheduler struct {
	cron  *gocron.Scheduler
	hub   *services.RealtimePriceService
	cache *services.CacheService
	quota *services.QuotaTracker
}

// NewScheduler creates a new scheduler instance
func NewScheduler(hub *services.RealtimePriceService, cache *services.CacheService,
	quota *services.QuotaTracker) *Scheduler {
	return &Scheduler{
		cron:  gocron.NewScheduler(time.UTC),
		hub:   hub,
		cache: cache,
		quota: quota,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Reap idle WebSocket clients every minute
	s.cron.Every(1).Minute().Do(func() {
		if removed := s.hub.CleanupInactiveClients(); removed > 0 {
			log.Printf("Removed %d inactive WebSocket clients", removed)
		}
	})

	// Purge expired durable cache entries every 10 minutes
	s.cron.Every(10).Minutes().Do(func() {
		if purged := s.cache.PurgeExpired(); purged > 0 {
			log.Printf("Purged %d expired cache entries", purged)
		}
	})

	// Prune the quota alert log daily at 01:00
	s.cron.Every(1).Day().At("01:00").Do(func() {
		s.quota.PruneAlerts(7 * 24 * time.Hour)
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}
