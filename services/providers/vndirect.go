package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stocklens_backend/models"
)

// VNDirectProvider fetches quotes and company listings from the VNDirect
// finfo API.
type VNDirectProvider struct {
	baseURL    string
	httpClient *http.Client
}

// VNDirectPriceResponse represents the stock_prices API response
type VNDirectPriceResponse struct {
	Data          []VNDirectPriceData `json:"data"`
	CurrentPage   int                 `json:"currentPage"`
	Size          int                 `json:"size"`
	TotalElements int                 `json:"totalElements"`
	TotalPages    int                 `json:"totalPages"`
}

// VNDirectPriceData represents daily price data from VNDirect
type VNDirectPriceData struct {
	Code       string  `json:"code"`
	Date       string  `json:"date"`
	Floor      string  `json:"floor"`
	BasicPrice float64 `json:"basicPrice"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	NmVolume   float64 `json:"nmVolume"`
	Change     float64 `json:"change"`
	PctChange  float64 `json:"pctChange"`
}

// VNDirectStockResponse represents the stocks listing API response
type VNDirectStockResponse struct {
	Data []VNDirectStock `json:"data"`
}

// VNDirectStock represents one listed company
type VNDirectStock struct {
	Code        string `json:"code"`
	Type        string `json:"type"`
	Floor       string `json:"floor"`
	Status      string `json:"status"`
	CompanyName string `json:"companyName"`
	ShortName   string `json:"shortName"`
}

// NewVNDirectProvider creates a live provider against the given base URL.
func NewVNDirectProvider(baseURL string, timeout time.Duration) *VNDirectProvider {
	return &VNDirectProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *VNDirectProvider) Name() string { return "vndirect" }

// GetQuote fetches the most recent price record for a symbol.
func (p *VNDirectProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	endpoint := fmt.Sprintf("%s/stock_prices?sort=date&q=code:%s&size=1", p.baseURL, url.QueryEscape(symbol))

	var priceResp VNDirectPriceResponse
	if err := p.getJSON(ctx, endpoint, &priceResp); err != nil {
		return nil, err
	}

	if len(priceResp.Data) == 0 {
		return nil, fmt.Errorf("no price data for %s", symbol)
	}

	data := priceResp.Data[0]
	return &Quote{
		Symbol:        symbol,
		Price:         data.Close,
		Change:        data.Change,
		ChangePercent: data.PctChange,
		Volume:        int64(data.NmVolume),
		Open:          data.Open,
		High:          data.High,
		Low:           data.Low,
		RefPrice:      data.BasicPrice,
		Timestamp:     time.Now(),
	}, nil
}

// Search fetches listed companies matching the query.
func (p *VNDirectProvider) Search(ctx context.Context, query string) ([]models.Company, error) {
	query = strings.ToUpper(strings.TrimSpace(query))
	endpoint := fmt.Sprintf("%s/stocks?q=type:stock~status:listed~code:%s&size=50", p.baseURL, url.QueryEscape(query))

	var stockResp VNDirectStockResponse
	if err := p.getJSON(ctx, endpoint, &stockResp); err != nil {
		return nil, err
	}

	companies := make([]models.Company, 0, len(stockResp.Data))
	for _, s := range stockResp.Data {
		companies = append(companies, models.Company{
			Symbol:   s.Code,
			Name:     s.CompanyName,
			Exchange: s.Floor,
		})
	}
	return companies, nil
}

func (p *VNDirectProvider) getJSON(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; stocklens/1.0)")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch from VNDirect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("VNDirect API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
