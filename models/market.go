package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price source tags
const (
	SourceLive      = "live"
	SourceSimulated = "simulated"
)

// PriceSnapshot is a normalized price record, superseded on every successful fetch.
type PriceSnapshot struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
}

// Company is a search result from an upstream provider.
type Company struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Industry string `json:"industry,omitempty"`
}

// WebSocket event types emitted to clients
const (
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPriceUpdate  = "priceUpdate"
	EventError        = "error"
	EventPong         = "pong"
)

// WebSocket actions accepted from clients
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// ClientCommand is an inbound frame from a WebSocket client.
type ClientCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
}

// ServerEvent is an outbound frame to a WebSocket client.
type ServerEvent struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Time    string      `json:"time"`
}

// PriceUpdatePayload carries one broadcast tick's updates for a single client.
type PriceUpdatePayload struct {
	Updates   []PriceSnapshot `json:"updates"`
	Timestamp string          `json:"timestamp"`
}
