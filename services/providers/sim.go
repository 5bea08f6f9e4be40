package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"stocklens_backend/models"
)

// SimProvider generates random-walk quotes without touching the network.
// Any symbol is accepted; unknown symbols get a base price derived from the
// symbol itself so repeated runs stay in the same price neighborhood.
type SimProvider struct {
	mu             sync.Mutex
	random         *rand.Rand
	lastPrices     map[string]float64
	simulateDelay  bool
	failureRate    float64
	knownCompanies []models.Company
}

type SimOptions struct {
	SimulateNetworkDelay bool
	SimulateFailures     bool
}

// NewSimProvider creates a simulated provider.
func NewSimProvider(opts SimOptions) *SimProvider {
	failureRate := 0.0
	if opts.SimulateFailures {
		failureRate = 0.2
	}

	return &SimProvider{
		random:        rand.New(rand.NewSource(time.Now().UnixNano())),
		lastPrices:    make(map[string]float64),
		simulateDelay: opts.SimulateNetworkDelay,
		failureRate:   failureRate,
		knownCompanies: []models.Company{
			{Symbol: "VNM", Name: "Vinamilk", Exchange: "HOSE", Industry: "Consumer Goods"},
			{Symbol: "VIC", Name: "Vingroup", Exchange: "HOSE", Industry: "Real Estate"},
			{Symbol: "HPG", Name: "Hoa Phat Group", Exchange: "HOSE", Industry: "Steel"},
			{Symbol: "VCB", Name: "Vietcombank", Exchange: "HOSE", Industry: "Banking"},
			{Symbol: "TCB", Name: "Techcombank", Exchange: "HOSE", Industry: "Banking"},
			{Symbol: "FPT", Name: "FPT Corporation", Exchange: "HOSE", Industry: "Technology"},
			{Symbol: "GAS", Name: "PetroVietnam Gas", Exchange: "HOSE", Industry: "Oil & Gas"},
			{Symbol: "MSN", Name: "Masan Group", Exchange: "HOSE", Industry: "Consumer Goods"},
		},
	}
}

func (p *SimProvider) Name() string { return "simulated" }

// GetQuote generates a quote with a small random walk around the last price.
func (p *SimProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if err := p.maybeDelay(ctx); err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failureRate > 0 && p.random.Float64() < p.failureRate {
		return nil, fmt.Errorf("simulated upstream failure for %s", symbol)
	}

	ref, ok := p.lastPrices[symbol]
	if !ok {
		ref = basePriceFor(symbol)
	}

	// Random walk, capped at +-2% per tick
	move := (p.random.Float64() - 0.5) * 0.04
	price := math.Round(ref*(1+move)*100) / 100
	if price <= 0 {
		price = 0.01
	}
	p.lastPrices[symbol] = price

	change := math.Round((price-ref)*100) / 100
	changePct := 0.0
	if ref > 0 {
		changePct = math.Round(change/ref*100*100) / 100
	}

	volume := int64(100000 + p.random.Intn(5000000))

	return &Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePct,
		Volume:        volume,
		Open:          ref,
		High:          math.Max(ref, price),
		Low:           math.Min(ref, price),
		RefPrice:      ref,
		Timestamp:     time.Now(),
	}, nil
}

// Search matches the query against the built-in company table.
func (p *SimProvider) Search(ctx context.Context, query string) ([]models.Company, error) {
	if err := p.maybeDelay(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failureRate > 0 && p.random.Float64() < p.failureRate {
		return nil, fmt.Errorf("simulated upstream failure for query %q", query)
	}

	query = strings.ToUpper(strings.TrimSpace(query))
	results := make([]models.Company, 0, len(p.knownCompanies))
	for _, c := range p.knownCompanies {
		if query == "" ||
			strings.Contains(c.Symbol, query) ||
			strings.Contains(strings.ToUpper(c.Name), query) {
			results = append(results, c)
		}
	}
	return results, nil
}

func (p *SimProvider) maybeDelay(ctx context.Context) error {
	if p.simulateDelay {
		p.mu.Lock()
		latency := time.Duration(10+p.random.Intn(40)) * time.Millisecond
		p.mu.Unlock()

		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// basePriceFor derives a stable starting price from the symbol name.
func basePriceFor(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 10.0 + float64(h.Sum32()%99000)/100.0
}
