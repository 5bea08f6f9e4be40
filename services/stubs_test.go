package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"stocklens_backend/models"
	"stocklens_backend/services/providers"

	"github.com/shopspring/decimal"
)

// stubProvider is a scriptable upstream used in place of the real providers.
type stubProvider struct {
	mu        sync.Mutex
	name      string
	price     float64
	err       error
	companies []models.Company
	calls     int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) GetQuote(ctx context.Context, symbol string) (*providers.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &providers.Quote{
		Symbol:    symbol,
		Price:     p.price,
		Volume:    1000,
		Timestamp: time.Now(),
	}, nil
}

func (p *stubProvider) Search(ctx context.Context, query string) ([]models.Company, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.companies, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// memStore is an in-memory PersistentStore for cache tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]StoredEntry
	puts    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]StoredEntry)}
}

func (s *memStore) Put(entry StoredEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	s.puts++
	return nil
}

func (s *memStore) Get(key string) (*StoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memStore) DeleteByCategory(category string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for k, e := range s.entries {
		if e.Category == category {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) DeleteByTag(tag string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for k, e := range s.entries {
		for _, t := range e.Tags {
			if t == tag {
				delete(s.entries, k)
				removed++
				break
			}
		}
	}
	return removed, nil
}

func (s *memStore) PurgeExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var removed int64
	for k, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// brokenStore fails every operation, exercising volatile-only degradation.
type brokenStore struct{}

var errStoreDown = errors.New("store unavailable")

func (brokenStore) Put(StoredEntry) error                  { return errStoreDown }
func (brokenStore) Get(string) (*StoredEntry, error)       { return nil, errStoreDown }
func (brokenStore) Delete(string) error                    { return errStoreDown }
func (brokenStore) DeleteByCategory(string) (int64, error) { return 0, errStoreDown }
func (brokenStore) DeleteByTag(string) (int64, error)      { return 0, errStoreDown }
func (brokenStore) PurgeExpired() (int64, error)           { return 0, errStoreDown }
func (brokenStore) Close() error                           { return nil }

// stubDataSource replaces the source selector under the price fetcher.
type stubDataSource struct {
	mu        sync.Mutex
	snapshots map[string]*models.PriceSnapshot
	calls     map[string]int
}

func newStubDataSource() *stubDataSource {
	return &stubDataSource{
		snapshots: make(map[string]*models.PriceSnapshot),
		calls:     make(map[string]int),
	}
}

func (s *stubDataSource) set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[symbol] = &models.PriceSnapshot{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Volume:    500,
		Timestamp: time.Now(),
		Source:    models.SourceSimulated,
	}
}

func (s *stubDataSource) fail(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[symbol] = nil
}

func (s *stubDataSource) GetFinancialData(ctx context.Context, symbol string, fc FetchConfig) *models.PriceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[symbol]++
	snapshot := s.snapshots[symbol]
	if snapshot == nil {
		return nil
	}
	copied := *snapshot
	return &copied
}

func (s *stubDataSource) callCount(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

// stubPriceSource feeds the broadcast hub fixed snapshots per tick.
type stubPriceSource struct {
	mu        sync.Mutex
	snapshots map[string]models.PriceSnapshot
	batches   [][]string
}

func newStubPriceSource(symbols ...string) *stubPriceSource {
	s := &stubPriceSource{snapshots: make(map[string]models.PriceSnapshot)}
	for i, sym := range symbols {
		s.snapshots[sym] = models.PriceSnapshot{
			Symbol:    sym,
			Price:     decimal.NewFromInt(int64(100 * (i + 1))),
			Timestamp: time.Now(),
			Source:    models.SourceSimulated,
		}
	}
	return s
}

func (s *stubPriceSource) GetMultiplePriceUpdates(ctx context.Context, symbols []string) []models.PriceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]string(nil), symbols...))
	updates := make([]models.PriceSnapshot, 0, len(symbols))
	for _, sym := range symbols {
		if snapshot, ok := s.snapshots[sym]; ok {
			updates = append(updates, snapshot)
		}
	}
	return updates
}

func (s *stubPriceSource) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}
