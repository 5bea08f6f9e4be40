package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stocklens_backend/config"
	"stocklens_backend/models"
	"stocklens_backend/services/providers"

	"github.com/shopspring/decimal"
)

// Source preferences recognized in FetchConfig.
const (
	SourceAuto = "auto"

	CacheCategoryQuotes = "quotes"
	CacheCategorySearch = "search"

	quoteCacheTTL  = time.Minute
	searchCacheTTL = 10 * time.Minute
)

// FetchConfig controls source selection for a single request.
type FetchConfig struct {
	Provider        string // upstream provider name for quota accounting
	PreferredSource string // "simulated", "live" or "auto"
	FallbackEnabled bool
	MaxRetries      int
}

func (fc *FetchConfig) applyDefaults(liveProvider string) {
	if fc.Provider == "" {
		fc.Provider = liveProvider
	}
	if fc.PreferredSource == "" {
		fc.PreferredSource = SourceAuto
	}
	if fc.MaxRetries <= 0 {
		fc.MaxRetries = 1
	}
}

// DefaultFetchConfig returns the configuration used by callers that have no
// per-request preference.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{PreferredSource: SourceAuto, FallbackEnabled: true, MaxRetries: 1}
}

// MarketDataService selects between the simulated and live upstream providers,
// applies quota admission to live calls and falls back to the alternate source
// once on failure. Total failure yields nil/empty results, never errors.
type MarketDataService struct {
	cfg         *config.Config
	quota       *QuotaTracker
	cache       *CacheService
	simulated   providers.Provider
	live        providers.Provider
	callTimeout time.Duration
}

// NewMarketDataService wires the source selector.
func NewMarketDataService(cfg *config.Config, quota *QuotaTracker, cache *CacheService,
	simulated, live providers.Provider) *MarketDataService {
	return &MarketDataService{
		cfg:         cfg,
		quota:       quota,
		cache:       cache,
		simulated:   simulated,
		live:        live,
		callTimeout: cfg.LiveCallTimeout,
	}
}

// shouldUseSimulated applies the source-selection policy in order; the first
// matching rule wins.
func (s *MarketDataService) shouldUseSimulated(fc FetchConfig) bool {
	switch fc.PreferredSource {
	case models.SourceSimulated, "mock":
		return true
	case models.SourceLive, "real":
		return false
	}
	if s.cfg.UseSimulatedProviders {
		return true
	}
	if !s.cfg.EnableLiveCalls {
		return true
	}
	if !s.quota.CanMakeRequest(fc.Provider).Allowed {
		return true
	}
	return false
}

// GetFinancialData returns a normalized snapshot for symbol, or nil when both
// the chosen and (if fallback is enabled) the alternate source fail.
func (s *MarketDataService) GetFinancialData(ctx context.Context, symbol string, fc FetchConfig) *models.PriceSnapshot {
	fc.applyDefaults(s.live.Name())
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil
	}

	cacheKey := "quote:" + symbol
	var cached models.PriceSnapshot
	if s.cache.Get(cacheKey, &cached) {
		return &cached
	}

	useSimulated := s.shouldUseSimulated(fc)

	snapshot, err := s.fetchQuote(ctx, symbol, useSimulated, fc)
	if err != nil {
		log.Printf("Quote fetch failed for %s (simulated=%v): %v", symbol, useSimulated, err)
		if !fc.FallbackEnabled {
			return nil
		}
		// One swap to the alternate source, never more.
		snapshot, err = s.fetchQuote(ctx, symbol, !useSimulated, fc)
		if err != nil {
			log.Printf("Fallback quote fetch failed for %s: %v", symbol, err)
			return nil
		}
	}

	s.cache.SetWithOptions(cacheKey, snapshot, quoteCacheTTL, CacheOptions{
		Category: CacheCategoryQuotes,
		Tags:     []string{snapshot.Source, fc.Provider},
	})
	return snapshot
}

// SearchCompanies returns companies matching the query. Total failure yields
// an empty slice, never nil.
func (s *MarketDataService) SearchCompanies(ctx context.Context, query string, fc FetchConfig) []models.Company {
	fc.applyDefaults(s.live.Name())
	query = strings.TrimSpace(query)

	cacheKey := "search:" + strings.ToUpper(query)
	var cached []models.Company
	if s.cache.Get(cacheKey, &cached) {
		return cached
	}

	useSimulated := s.shouldUseSimulated(fc)

	companies, err := s.search(ctx, query, useSimulated, fc)
	if err != nil {
		log.Printf("Company search failed for %q (simulated=%v): %v", query, useSimulated, err)
		if fc.FallbackEnabled {
			companies, err = s.search(ctx, query, !useSimulated, fc)
		}
		if err != nil {
			log.Printf("Fallback company search failed for %q: %v", query, err)
			return []models.Company{}
		}
	}

	if companies == nil {
		companies = []models.Company{}
	}
	s.cache.SetWithOptions(cacheKey, companies, searchCacheTTL, CacheOptions{
		Category: CacheCategorySearch,
		Tags:     []string{fc.Provider},
	})
	return companies
}

// fetchQuote attempts one source path. Live calls pass quota admission and
// are recorded against the quota whether they succeed or fail.
func (s *MarketDataService) fetchQuote(ctx context.Context, symbol string, useSimulated bool, fc FetchConfig) (*models.PriceSnapshot, error) {
	if useSimulated {
		quote, err := s.simulated.GetQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return normalizeQuote(quote, models.SourceSimulated), nil
	}

	var lastErr error
	for attempt := 0; attempt < fc.MaxRetries; attempt++ {
		decision := s.quota.CanMakeRequest(fc.Provider)
		if !decision.Allowed {
			return nil, fmt.Errorf("quota denied for %s: %s (retry in %v)",
				fc.Provider, decision.Reason, decision.WaitTime)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		quote, err := s.live.GetQuote(callCtx, symbol)
		cancel()

		s.quota.RecordCall(fc.Provider, err == nil)
		if err == nil {
			return normalizeQuote(quote, models.SourceLive), nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *MarketDataService) search(ctx context.Context, query string, useSimulated bool, fc FetchConfig) ([]models.Company, error) {
	if useSimulated {
		return s.simulated.Search(ctx, query)
	}

	decision := s.quota.CanMakeRequest(fc.Provider)
	if !decision.Allowed {
		return nil, fmt.Errorf("quota denied for %s: %s (retry in %v)",
			fc.Provider, decision.Reason, decision.WaitTime)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	companies, err := s.live.Search(callCtx, query)
	s.quota.RecordCall(fc.Provider, err == nil)
	return companies, err
}

// normalizeQuote converts a raw provider quote into the snapshot shape the
// rest of the system consumes.
func normalizeQuote(q *providers.Quote, source string) *models.PriceSnapshot {
	return &models.PriceSnapshot{
		Symbol:        strings.ToUpper(q.Symbol),
		Price:         decimal.NewFromFloat(q.Price),
		Change:        decimal.NewFromFloat(q.Change),
		ChangePercent: decimal.NewFromFloat(q.ChangePercent),
		Volume:        q.Volume,
		Timestamp:     q.Timestamp,
		Source:        source,
	}
}
