package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"stocklens_backend/config"
	"stocklens_backend/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type marketFixture struct {
	service *MarketDataService
	quota   *QuotaTracker
	cache   *CacheService
	sim     *stubProvider
	live    *stubProvider
}

func newMarketFixture(cfg *config.Config) *marketFixture {
	if cfg.LiveCallTimeout == 0 {
		cfg.LiveCallTimeout = time.Second
	}
	if cfg.ProviderQuotas == nil {
		cfg.ProviderQuotas = map[string]config.ProviderLimits{
			"live-stub": {PerMinute: 100, PerHour: 100, PerDay: 100},
		}
	}

	quota := NewQuotaTracker(cfg.ProviderQuotas)
	cache := NewCacheService(100, nil)
	sim := &stubProvider{name: "simulated", price: 42.0}
	live := &stubProvider{name: "live-stub", price: 99.5}

	return &marketFixture{
		service: NewMarketDataService(cfg, quota, cache, sim, live),
		quota:   quota,
		cache:   cache,
		sim:     sim,
		live:    live,
	}
}

func TestSourceSelectionPolicy(t *testing.T) {
	cases := []struct {
		name          string
		cfg           config.Config
		preferred     string
		wantSimulated bool
	}{
		{
			name:          "explicit simulated preference wins",
			cfg:           config.Config{EnableLiveCalls: true},
			preferred:     models.SourceSimulated,
			wantSimulated: true,
		},
		{
			name:          "mock alias selects simulated",
			cfg:           config.Config{EnableLiveCalls: true},
			preferred:     "mock",
			wantSimulated: true,
		},
		{
			name:          "explicit live preference wins over global flag",
			cfg:           config.Config{UseSimulatedProviders: true},
			preferred:     models.SourceLive,
			wantSimulated: false,
		},
		{
			name:          "real alias selects live",
			cfg:           config.Config{UseSimulatedProviders: true},
			preferred:     "real",
			wantSimulated: false,
		},
		{
			name:          "global simulated flag",
			cfg:           config.Config{UseSimulatedProviders: true, EnableLiveCalls: true},
			preferred:     SourceAuto,
			wantSimulated: true,
		},
		{
			name:          "live calls disabled",
			cfg:           config.Config{EnableLiveCalls: false},
			preferred:     SourceAuto,
			wantSimulated: true,
		},
		{
			name:          "auto with live enabled and quota available",
			cfg:           config.Config{EnableLiveCalls: true},
			preferred:     SourceAuto,
			wantSimulated: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newMarketFixture(&tc.cfg)
			fc := FetchConfig{Provider: "live-stub", PreferredSource: tc.preferred}
			assert.Equal(t, tc.wantSimulated, f.service.shouldUseSimulated(fc))
		})
	}
}

func TestSourceSelectionFallsBackToSimulatedWhenQuotaDenied(t *testing.T) {
	f := newMarketFixture(&config.Config{
		EnableLiveCalls: true,
		ProviderQuotas: map[string]config.ProviderLimits{
			"live-stub": {PerMinute: 1, PerHour: 10, PerDay: 10},
		},
	})
	f.quota.RecordCall("live-stub", true)

	snapshot := f.service.GetFinancialData(context.Background(), "VNM", DefaultFetchConfig())

	require.NotNil(t, snapshot)
	assert.Equal(t, models.SourceSimulated, snapshot.Source)
	assert.Equal(t, 0, f.live.callCount())
}

func TestGetFinancialDataFromLiveProvider(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})

	snapshot := f.service.GetFinancialData(context.Background(), "vnm", DefaultFetchConfig())

	require.NotNil(t, snapshot)
	assert.Equal(t, "VNM", snapshot.Symbol)
	assert.Equal(t, models.SourceLive, snapshot.Source)
	assert.True(t, snapshot.Price.Equal(decimal.NewFromFloat(99.5)))
	assert.Equal(t, 1, f.live.callCount())
	assert.Equal(t, 0, f.sim.callCount())

	// The successful live call was recorded against the quota.
	assert.Equal(t, int64(1), f.quota.UsageStats()["live-stub"].TotalCalls)
}

func TestGetFinancialDataFallsBackOnceOnLiveFailure(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})
	f.live.setErr(errors.New("upstream 500"))

	snapshot := f.service.GetFinancialData(context.Background(), "VNM", DefaultFetchConfig())

	require.NotNil(t, snapshot)
	assert.Equal(t, models.SourceSimulated, snapshot.Source)
	assert.Equal(t, 1, f.live.callCount(), "exactly one live attempt before the swap")
	assert.Equal(t, 1, f.sim.callCount(), "exactly one fallback attempt")

	// The failed live call still consumed quota.
	usage := f.quota.UsageStats()["live-stub"]
	assert.Equal(t, int64(1), usage.TotalCalls)
	assert.Equal(t, int64(1), usage.FailedCalls)
}

func TestGetFinancialDataNilWhenFallbackDisabled(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})
	f.live.setErr(errors.New("upstream 500"))

	fc := DefaultFetchConfig()
	fc.FallbackEnabled = false
	snapshot := f.service.GetFinancialData(context.Background(), "VNM", fc)

	assert.Nil(t, snapshot)
	assert.Equal(t, 0, f.sim.callCount())
}

func TestGetFinancialDataNilWhenBothSourcesFail(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})
	f.live.setErr(errors.New("upstream 500"))
	f.sim.setErr(errors.New("sim broken"))

	snapshot := f.service.GetFinancialData(context.Background(), "VNM", DefaultFetchConfig())

	assert.Nil(t, snapshot)
	assert.Equal(t, 1, f.live.callCount())
	assert.Equal(t, 1, f.sim.callCount())
}

func TestGetFinancialDataRetriesLivePath(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})
	f.live.setErr(errors.New("flaky"))

	fc := DefaultFetchConfig()
	fc.MaxRetries = 3
	fc.FallbackEnabled = false
	snapshot := f.service.GetFinancialData(context.Background(), "VNM", fc)

	assert.Nil(t, snapshot)
	assert.Equal(t, 3, f.live.callCount())
	assert.Equal(t, int64(3), f.quota.UsageStats()["live-stub"].TotalCalls)
}

func TestGetFinancialDataEmptySymbol(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})

	assert.Nil(t, f.service.GetFinancialData(context.Background(), "  ", DefaultFetchConfig()))
	assert.Equal(t, 0, f.live.callCount())
}

func TestGetFinancialDataServedFromCacheOnRepeat(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})

	first := f.service.GetFinancialData(context.Background(), "VNM", DefaultFetchConfig())
	require.NotNil(t, first)
	second := f.service.GetFinancialData(context.Background(), "VNM", DefaultFetchConfig())
	require.NotNil(t, second)

	assert.Equal(t, 1, f.live.callCount(), "second lookup should hit the cache")
	assert.True(t, first.Price.Equal(second.Price))
}

func TestSearchCompaniesNeverNil(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})
	f.live.setErr(errors.New("down"))
	f.sim.setErr(errors.New("down"))

	companies := f.service.SearchCompanies(context.Background(), "VN", DefaultFetchConfig())

	assert.NotNil(t, companies)
	assert.Empty(t, companies)
}

func TestSearchCompaniesFromLiveProvider(t *testing.T) {
	f := newMarketFixture(&config.Config{EnableLiveCalls: true})
	f.live.companies = []models.Company{{Symbol: "VNM", Name: "Vinamilk", Exchange: "HOSE"}}

	companies := f.service.SearchCompanies(context.Background(), "vinamilk", DefaultFetchConfig())

	require.Len(t, companies, 1)
	assert.Equal(t, "VNM", companies[0].Symbol)
}
