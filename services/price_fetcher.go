package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"stocklens_backend/models"
)

// financialDataSource is the slice of the source selector the fetcher needs.
type financialDataSource interface {
	GetFinancialData(ctx context.Context, symbol string, fc FetchConfig) *models.PriceSnapshot
}

// PriceFetcher keeps a per-symbol staleness-aware cache of normalized
// snapshots in front of the source selector.
type PriceFetcher struct {
	mu        sync.Mutex
	data      map[string]fetchedPrice
	market    financialDataSource
	freshness time.Duration
	fetchCfg  FetchConfig
	now       func() time.Time
}

type fetchedPrice struct {
	snapshot  models.PriceSnapshot
	fetchedAt time.Time
}

// NewPriceFetcher creates a fetcher with the given freshness window.
func NewPriceFetcher(market financialDataSource, freshness time.Duration) *PriceFetcher {
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	return &PriceFetcher{
		data:      make(map[string]fetchedPrice),
		market:    market,
		freshness: freshness,
		fetchCfg:  DefaultFetchConfig(),
		now:       time.Now,
	}
}

// isFresh reports whether a fetch made at fetchedAt is still usable at now.
func (f *PriceFetcher) isFresh(fetchedAt, now time.Time) bool {
	return now.Sub(fetchedAt) < f.freshness
}

// GetPriceUpdate returns a snapshot for symbol, served from the per-symbol
// cache while fresh. A failed upstream fetch returns nil and leaves any
// still-valid cached entry untouched.
func (f *PriceFetcher) GetPriceUpdate(ctx context.Context, symbol string) *models.PriceSnapshot {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil
	}

	now := f.now()

	f.mu.Lock()
	if cached, ok := f.data[symbol]; ok && f.isFresh(cached.fetchedAt, now) {
		snapshot := cached.snapshot
		f.mu.Unlock()
		return &snapshot
	}
	f.mu.Unlock()

	snapshot := f.market.GetFinancialData(ctx, symbol, f.fetchCfg)
	if snapshot == nil {
		return nil
	}

	f.mu.Lock()
	f.data[symbol] = fetchedPrice{snapshot: *snapshot, fetchedAt: f.now()}
	f.mu.Unlock()

	return snapshot
}

// GetMultiplePriceUpdates fetches each symbol independently and returns only
// the successes.
func (f *PriceFetcher) GetMultiplePriceUpdates(ctx context.Context, symbols []string) []models.PriceSnapshot {
	updates := make([]models.PriceSnapshot, 0, len(symbols))
	for _, symbol := range symbols {
		if snapshot := f.GetPriceUpdate(ctx, symbol); snapshot != nil {
			updates = append(updates, *snapshot)
		}
	}
	return updates
}

// ClearCache drops all cached snapshots.
func (f *PriceFetcher) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string]fetchedPrice)
}

// CachedSymbolCount reports how many symbols currently have a cached snapshot.
func (f *PriceFetcher) CachedSymbolCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}
