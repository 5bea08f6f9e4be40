package providers

import (
	"context"
	"time"

	"stocklens_backend/models"
)

// Quote is a raw, provider-shaped price record before normalization.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	RefPrice      float64   `json:"ref_price"`
	Timestamp     time.Time `json:"timestamp"`
}

// Provider is an upstream market-data source.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	Search(ctx context.Context, query string) ([]models.Company, error)
}
